// ABOUTME: FLAC decoder plugin
// ABOUTME: Decodes FLAC frames with mewkiz/flac and forwards vorbis comments
package decode

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/meta"

	"github.com/Resonate-Protocol/playd/pkg/audio"
	"github.com/Resonate-Protocol/playd/pkg/decoder"
	"github.com/Resonate-Protocol/playd/pkg/input"
)

// FLAC decodes native FLAC streams
type FLAC struct{}

func (FLAC) Name() string        { return "flac" }
func (FLAC) Suffixes() []string  { return []string{"flac"} }
func (FLAC) MimeTypes() []string { return []string{"audio/flac", "audio/x-flac"} }

// flacSampleFormat picks the container for a bit depth and the shift that
// scales samples into it
func flacSampleFormat(bits int) (audio.SampleFormat, uint, error) {
	switch {
	case bits <= 0:
		return audio.SampleFormatUndefined, 0, fmt.Errorf("flac: invalid bit depth %d", bits)
	case bits <= 8:
		return audio.SampleFormatS8, uint(8 - bits), nil
	case bits <= 16:
		return audio.SampleFormatS16, uint(16 - bits), nil
	case bits <= 24:
		return audio.SampleFormatS24P32, uint(24 - bits), nil
	case bits <= 32:
		return audio.SampleFormatS32, uint(32 - bits), nil
	}
	return audio.SampleFormatUndefined, 0, fmt.Errorf("flac: unsupported bit depth %d", bits)
}

type flacSource struct {
	stream   *flac.Stream
	format   audio.Format
	shift    uint
	channels int
	buf      []byte
	// skip drops leading frames of the next block after a seek
	skip uint64
	// bitRate is derived from the block size of each frame
	bitRate uint16
}

func (s *flacSource) read() ([]byte, uint16, error) {
	fr, err := s.stream.ParseNext()
	if err != nil {
		return nil, s.bitRate, err
	}

	n := int(fr.BlockSize)
	start := 0
	if s.skip > 0 {
		start = int(min(s.skip, uint64(n)))
		s.skip -= uint64(start)
	}
	if len(fr.Subframes) < s.channels {
		return nil, s.bitRate, fmt.Errorf("flac: frame with %d channels", len(fr.Subframes))
	}

	sampleSize := s.format.Format.Size()
	need := (n - start) * s.channels * sampleSize
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	out := s.buf[:need]
	off := 0
	for i := start; i < n; i++ {
		for ch := 0; ch < s.channels; ch++ {
			v := fr.Subframes[ch].Samples[i] << s.shift
			switch s.format.Format {
			case audio.SampleFormatS8:
				out[off] = byte(int8(v))
			case audio.SampleFormatS16:
				binary.LittleEndian.PutUint16(out[off:], uint16(int16(v)))
			default:
				binary.LittleEndian.PutUint32(out[off:], uint32(v))
			}
			off += sampleSize
		}
	}
	return out, s.bitRate, nil
}

func (s *flacSource) seek(frame uint64) error {
	got, err := s.stream.Seek(frame)
	if err != nil {
		return err
	}
	if got < frame {
		s.skip = frame - got
	} else {
		s.skip = 0
	}
	return nil
}

// StreamDecode implements decoder.StreamDecoder
func (FLAC) StreamDecode(c decoder.Client, is input.Stream) error {
	seekable := is.IsSeekable()

	var (
		stream   *flac.Stream
		err      error
		comments *meta.VorbisComment
	)
	if seekable {
		// the seeking parser skips metadata, so read the comments in a first pass
		rs := decoder.NewReadSeeker(c, is)
		if md, perr := flac.Parse(rs); perr == nil {
			comments = findVorbisComment(md.Blocks)
		}
		if err := input.Rewind(is); err != nil {
			return fmt.Errorf("flac: %w", err)
		}
		stream, err = flac.NewSeek(rs)
	} else {
		stream, err = flac.Parse(decoder.NewReader(c, is))
		if err == nil {
			comments = findVorbisComment(stream.Blocks)
		}
	}
	if err != nil {
		return fmt.Errorf("flac: %w", err)
	}

	info := stream.Info
	sf, shift, err := flacSampleFormat(int(info.BitsPerSample))
	if err != nil {
		return err
	}
	f := audio.Format{SampleRate: int(info.SampleRate), Format: sf, Channels: int(info.NChannels)}
	if !f.IsValid() {
		return fmt.Errorf("flac: invalid format %s", f)
	}

	duration := time.Duration(-1)
	var bitRate uint16
	if info.NSamples > 0 {
		duration = f.FramesToTime(info.NSamples)
		if size := is.Size(); size > 0 && duration > 0 {
			bitRate = uint16(float64(size) * 8 / duration.Seconds() / 1000)
		}
	}

	c.Ready(f, seekable, duration)

	if comments != nil {
		sc := newCommentScanner()
		for _, kv := range comments.Tags {
			sc.add(kv[0], kv[1])
		}
		sc.tag.Duration = duration
		if sc.submit(c, is) == decoder.CommandStop {
			return nil
		}
	}

	src := &flacSource{stream: stream, format: f, shift: shift, channels: f.Channels, bitRate: bitRate}
	return run(c, is, src, seekable)
}

func findVorbisComment(blocks []*meta.Block) *meta.VorbisComment {
	for _, b := range blocks {
		if vc, ok := b.Body.(*meta.VorbisComment); ok {
			return vc
		}
	}
	return nil
}
