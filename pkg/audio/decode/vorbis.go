// ABOUTME: Ogg Vorbis decoder plugin
// ABOUTME: Decodes to 32-bit float PCM with jfreymuth/oggvorbis
package decode

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/jfreymuth/oggvorbis"

	"github.com/Resonate-Protocol/playd/pkg/audio"
	"github.com/Resonate-Protocol/playd/pkg/decoder"
	"github.com/Resonate-Protocol/playd/pkg/input"
)

// Vorbis decodes Ogg Vorbis
type Vorbis struct{}

func (Vorbis) Name() string       { return "vorbis" }
func (Vorbis) Suffixes() []string { return []string{"ogg", "oga"} }
func (Vorbis) MimeTypes() []string {
	return []string{"audio/ogg", "audio/vorbis", "application/ogg", "audio/x-vorbis+ogg"}
}

type vorbisSource struct {
	dec     *oggvorbis.Reader
	samples []float32
	buf     []byte
	bitRate uint16
}

func (s *vorbisSource) read() ([]byte, uint16, error) {
	n, err := s.dec.Read(s.samples)
	out := s.buf[:n*4]
	for i, v := range s.samples[:n] {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out, s.bitRate, err
}

func (s *vorbisSource) seek(frame uint64) error {
	return s.dec.SetPosition(int64(frame))
}

// StreamDecode implements decoder.StreamDecoder
func (Vorbis) StreamDecode(c decoder.Client, is input.Stream) error {
	var r io.Reader
	seekable := is.IsSeekable()
	if seekable {
		r = decoder.NewReadSeeker(c, is)
	} else {
		r = decoder.NewReader(c, is)
	}

	dec, err := oggvorbis.NewReader(r)
	if err != nil {
		return fmt.Errorf("vorbis: %w", err)
	}

	f := audio.Format{SampleRate: dec.SampleRate(), Format: audio.SampleFormatFloat, Channels: dec.Channels()}
	if !f.IsValid() {
		return fmt.Errorf("vorbis: invalid format %s", f)
	}

	duration := time.Duration(-1)
	var bitRate uint16
	if length := dec.Length(); length > 0 {
		duration = f.FramesToTime(uint64(length))
		if size := is.Size(); size > 0 {
			bitRate = uint16(float64(size) * 8 / duration.Seconds() / 1000)
		}
	} else {
		seekable = false
	}

	c.Ready(f, seekable, duration)

	sc := newCommentScanner()
	for _, comment := range dec.CommentHeader().Comments {
		sc.addComment(comment)
	}
	sc.tag.Duration = duration
	if sc.submit(c, is) == decoder.CommandStop {
		return nil
	}

	// a whole number of frames per read
	n := 1024 * f.Channels
	src := &vorbisSource{dec: dec, samples: make([]float32, n), buf: make([]byte, n*4), bitRate: bitRate}
	return run(c, is, src, seekable)
}
