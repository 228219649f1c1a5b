// ABOUTME: MP3 decoder plugin
// ABOUTME: Decodes MPEG audio to 16-bit stereo PCM with go-mp3
package decode

import (
	"fmt"
	"io"
	"time"

	"github.com/hajimehoshi/go-mp3"

	"github.com/Resonate-Protocol/playd/pkg/audio"
	"github.com/Resonate-Protocol/playd/pkg/decoder"
	"github.com/Resonate-Protocol/playd/pkg/input"
)

// go-mp3 always produces interleaved stereo int16
const mp3FrameSize = 4

// MP3 decodes MPEG-1/2 layer III
type MP3 struct{}

func (MP3) Name() string       { return "mp3" }
func (MP3) Suffixes() []string { return []string{"mp3"} }
func (MP3) MimeTypes() []string {
	return []string{"audio/mpeg", "audio/mp3", "audio/x-mpeg"}
}

type mp3Source struct {
	dec     *mp3.Decoder
	buf     []byte
	bitRate uint16
}

func (s *mp3Source) read() ([]byte, uint16, error) {
	n, err := s.dec.Read(s.buf)
	n -= n % mp3FrameSize
	return s.buf[:n], s.bitRate, err
}

func (s *mp3Source) seek(frame uint64) error {
	_, err := s.dec.Seek(int64(frame)*mp3FrameSize, io.SeekStart)
	return err
}

// StreamDecode implements decoder.StreamDecoder
func (MP3) StreamDecode(c decoder.Client, is input.Stream) error {
	// go-mp3 scans the whole file up front when it can seek, which gives
	// it an exact length
	var r io.Reader
	seekable := is.IsSeekable()
	if seekable {
		r = decoder.NewReadSeeker(c, is)
	} else {
		r = decoder.NewReader(c, is)
	}

	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return fmt.Errorf("mp3: %w", err)
	}

	f := audio.Format{SampleRate: dec.SampleRate(), Format: audio.SampleFormatS16, Channels: 2}
	duration := time.Duration(-1)
	var bitRate uint16
	if length := dec.Length(); length > 0 {
		duration = f.SizeToTime(int(length))
		if size := is.Size(); size > 0 && duration > 0 {
			bitRate = uint16(float64(size) * 8 / duration.Seconds() / 1000)
		}
	} else {
		seekable = false
	}

	c.Ready(f, seekable, duration)
	return run(c, is, &mp3Source{dec: dec, buf: make([]byte, 8192), bitRate: bitRate}, seekable)
}
