// ABOUTME: Per-output source reading chunks from the shared pipe
// ABOUTME: Runs the filter chain: replay gain, cross-fade mix, software volume, format conversion
package outputs

import (
	"fmt"

	"github.com/Resonate-Protocol/playd/pkg/audio"
	"github.com/Resonate-Protocol/playd/pkg/audio/pcm"
	"github.com/Resonate-Protocol/playd/pkg/music"
	"github.com/Resonate-Protocol/playd/pkg/replaygain"
	"github.com/Resonate-Protocol/playd/pkg/tag"
)

// gainFilter applies the replay gain of the chunks of one song
type gainFilter struct {
	serial uint32
	info   replaygain.Info
	volume *pcm.Volume
}

func newGainFilter() gainFilter {
	return gainFilter{info: replaygain.NewInfo(), volume: pcm.NewVolume()}
}

func (g *gainFilter) reset() {
	g.serial = 0
	g.info = replaygain.NewInfo()
}

func (g *gainFilter) apply(c *music.Chunk, mode replaygain.Mode, cfg replaygain.Config) []byte {
	data := c.Data()
	if len(data) == 0 || mode == replaygain.ModeOff {
		return data
	}

	if c.ReplayGainSerial != g.serial {
		if c.ReplayGainSerial != 0 {
			g.info = c.ReplayGainInfo
		} else {
			g.info = replaygain.NewInfo()
		}
		g.serial = c.ReplayGainSerial
	}

	g.volume.SetVolume(pcm.FloatToVolume(g.info.Get(mode).CalculateScale(cfg)))
	return g.volume.Apply(data)
}

// source is guarded by the owning Control's lock
type source struct {
	inFormat audio.Format
	consumer music.PipeConsumer

	// current is the chunk being played; pending is its filtered data not
	// yet accepted by the device
	current    *music.Chunk
	pending    []byte
	pendingTag *tag.Tag

	replayGainMode   replaygain.Mode
	replayGainConfig replaygain.Config
	gain             gainFilter
	otherGain        gainFilter

	crossFade []byte

	// volume is nil unless the output uses the software mixer
	volume  *pcm.Volume
	convert *pcm.Converter
}

func newSource(cfg replaygain.Config, softwareMixer bool) *source {
	s := &source{
		replayGainConfig: cfg,
		gain:             newGainFilter(),
		otherGain:        newGainFilter(),
	}
	if softwareMixer {
		s.volume = pcm.NewVolume()
	}
	return s
}

func (s *source) isOpen() bool {
	return s.inFormat.IsDefined()
}

// open attaches the source to a pipe and returns the format leaving the
// filters, which is the input format; conversion happens last. Reopening
// on the same pipe keeps the position.
func (s *source) open(f audio.Format, p *music.Pipe) (audio.Format, error) {
	if !s.isOpen() || f != s.inFormat {
		for _, v := range []*pcm.Volume{s.gain.volume, s.otherGain.volume, s.volume} {
			if v == nil {
				continue
			}
			if err := v.Open(f.Format); err != nil {
				return f, err
			}
		}
		s.convert = nil
	}

	if !s.isOpen() || p != s.consumer.Pipe() {
		s.consumer.Init(p)
		s.current, s.pending, s.pendingTag = nil, nil, nil
		s.gain.reset()
		s.otherGain.reset()
	}
	s.inFormat = f
	return f, nil
}

// setOutput installs the conversion to the format the device accepted
func (s *source) setOutput(out audio.Format) error {
	if !out.IsValid() {
		return fmt.Errorf("device returned invalid format %s", out)
	}
	if s.convert != nil && s.convert.OutFormat() == out {
		return nil
	}
	conv, err := pcm.NewConverter(s.inFormat, out)
	if err != nil {
		return err
	}
	s.convert = conv
	return nil
}

func (s *source) close() {
	s.inFormat = audio.Format{}
	s.consumer.Init(nil)
	s.current, s.pending, s.pendingTag = nil, nil, nil
	s.convert = nil
}

func (s *source) cancel() {
	s.current, s.pending, s.pendingTag = nil, nil, nil
	s.consumer.Cancel()
	if s.convert != nil {
		s.convert.Reset()
	}
}

func (s *source) setSoftwareVolume(percent int) {
	if s.volume != nil {
		s.volume.SetVolume(pcm.PercentToSoftwareVolume(percent))
	}
}

// dropCurrent marks the current chunk as played
func (s *source) dropCurrent() {
	s.consumer.Consume(s.current)
	s.current = nil
}

// fill makes sure there is a current chunk; false means the pipe has
// nothing new
func (s *source) fill() (bool, error) {
	if s.current != nil && s.pendingTag == nil && len(s.pending) == 0 {
		s.dropCurrent()
	}
	if s.current != nil {
		return true, nil
	}

	c := s.consumer.Get()
	if c == nil {
		return false, nil
	}

	data, err := s.filterChunk(c)
	if err != nil {
		return false, err
	}
	s.current = c
	s.pendingTag = c.Tag
	s.pending = data
	return true, nil
}

func (s *source) filterChunk(c *music.Chunk) ([]byte, error) {
	data := s.gain.apply(c, s.replayGainMode, s.replayGainConfig)
	if len(data) == 0 {
		return data, nil
	}

	if c.Other != nil {
		other := s.otherGain.apply(c.Other, s.replayGainMode, s.replayGainConfig)
		if len(other) > 0 {
			// the rest of a longer partner is the faded-in song on its own
			if len(data) > len(other) {
				data = data[:len(other)]
			}

			ratio := c.MixRatio
			if ratio >= 0 {
				ratio = 1 - ratio
			}

			s.crossFade = append(s.crossFade[:0], other...)
			if err := pcm.Mix(s.crossFade, data, s.inFormat.Format, ratio); err != nil {
				return nil, fmt.Errorf("cannot cross-fade: %w", err)
			}
			data = s.crossFade
		}
	}

	if s.volume != nil {
		data = s.volume.Apply(data)
	}

	if s.convert != nil {
		converted, err := s.convert.Convert(data)
		if err != nil {
			return nil, fmt.Errorf("failed to convert %s: %w", s.convert.InFormat(), err)
		}
		data = converted
	}
	return data, nil
}

// readTag returns the tag of the current chunk once
func (s *source) readTag() *tag.Tag {
	t := s.pendingTag
	s.pendingTag = nil
	return t
}

// consumeData drops n bytes the device accepted; it reports whether the
// chunk is finished
func (s *source) consumeData(n int) bool {
	s.pending = s.pending[n:]
	if len(s.pending) == 0 {
		s.dropCurrent()
		return true
	}
	return false
}

func (s *source) isChunkConsumed(c *music.Chunk) bool {
	return s.consumer.IsConsumed(c)
}

func (s *source) clearTailChunk(c *music.Chunk) {
	s.consumer.ClearTail(c)
}
