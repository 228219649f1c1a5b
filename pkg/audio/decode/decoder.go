// ABOUTME: Shared plugin plumbing: the registry of built-in plugins and the decode loop
// ABOUTME: Translates decoder commands into seek and submit calls for every codec
package decode

import (
	"errors"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/playd/pkg/decoder"
	"github.com/Resonate-Protocol/playd/pkg/input"
	"github.com/Resonate-Protocol/playd/pkg/replaygain"
	"github.com/Resonate-Protocol/playd/pkg/tag"
)

// DefaultRegistry returns a registry with every built-in plugin
func DefaultRegistry() *decoder.Registry {
	return decoder.NewRegistry(
		FLAC{},
		MP3{},
		Vorbis{},
		Opus{},
		WAV{},
		PCM{},
	)
}

// source produces PCM in the format announced with Ready
type source interface {
	// read returns the next block of PCM and its bit rate in kbit/s
	read() ([]byte, uint16, error)
	// seek positions the source at an absolute frame
	seek(frame uint64) error
}

// run feeds src to the client until the end of the stream or a stop
func run(c decoder.Client, is input.Stream, src source, seekable bool) error {
	for {
		switch c.GetCommand() {
		case decoder.CommandStop:
			return nil
		case decoder.CommandSeek:
			if !seekable {
				c.SeekError()
				continue
			}
			if err := src.seek(c.SeekFrame()); err != nil {
				log.Debug().Err(err).Str("uri", is.URI()).Msg("seek failed")
				c.SeekError()
			} else {
				c.CommandFinished()
			}
			continue
		}

		data, bitRate, err := src.read()
		if len(data) > 0 {
			if c.SubmitData(is, data, bitRate) == decoder.CommandStop {
				return nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			// a pending command interrupted the read; handle it next iteration
			if c.GetCommand() != decoder.CommandNone {
				continue
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				log.Debug().Str("uri", is.URI()).Msg("truncated stream")
				return nil
			}
			return err
		}
	}
}

// commentScanner collects vorbis-comment style metadata
type commentScanner struct {
	tag       *tag.Tag
	gain      replaygain.Info
	mixRamp   tag.MixRamp
	foundGain bool
}

func newCommentScanner() *commentScanner {
	return &commentScanner{tag: tag.New(), gain: replaygain.NewInfo()}
}

func (s *commentScanner) add(name, value string) {
	if replaygain.ParseTag(name, value, &s.gain) {
		s.foundGain = true
		return
	}
	if tag.ParseMixRamp(name, value, &s.mixRamp) {
		return
	}
	if t, ok := tag.ParseType(name); ok {
		s.tag.Add(t, value)
	}
}

// addComment parses a "NAME=value" string
func (s *commentScanner) addComment(comment string) {
	name, value, ok := strings.Cut(comment, "=")
	if !ok {
		return
	}
	s.add(name, value)
}

// submit forwards everything found to the client
func (s *commentScanner) submit(c decoder.Client, is input.Stream) decoder.Command {
	if s.foundGain {
		info := s.gain
		c.SubmitReplayGain(&info)
	}
	if s.mixRamp.IsDefined() {
		c.SubmitMixRamp(s.mixRamp)
	}
	if s.tag.IsEmpty() {
		return decoder.CommandNone
	}
	return c.SubmitTag(is, s.tag)
}
