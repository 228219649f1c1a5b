// ABOUTME: Raw PCM decoder plugin for streams that announce their format by MIME type
// ABOUTME: Handles audio/L16 (big-endian), CD audio and the native float stream type
package decode

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"strconv"
	"time"

	"github.com/Resonate-Protocol/playd/pkg/audio"
	"github.com/Resonate-Protocol/playd/pkg/decoder"
	"github.com/Resonate-Protocol/playd/pkg/input"
)

const (
	mimeL16        = "audio/l16"
	mimeCDDA       = "audio/x-mpd-cdda-pcm"
	mimeCDDASwap   = "audio/x-mpd-cdda-pcm-reverse"
	mimeNativeFlt  = "audio/x-mpd-float"
	defaultPCMRate = 44100
)

// PCM decodes headerless PCM
type PCM struct{}

func (PCM) Name() string       { return "pcm" }
func (PCM) Suffixes() []string { return nil }
func (PCM) MimeTypes() []string {
	return []string{mimeL16, mimeCDDA, mimeCDDASwap, mimeNativeFlt}
}

// pcmFormat derives the format and byte order from a MIME type
func pcmFormat(mimeType string) (audio.Format, bool, error) {
	mt, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return audio.Format{}, false, fmt.Errorf("pcm: %w", err)
	}

	f := audio.Format{SampleRate: defaultPCMRate, Format: audio.SampleFormatS16, Channels: 2}
	swap := false
	switch mt {
	case mimeL16:
		swap = true
		// RFC 2586 defaults to mono
		f.Channels = 1
	case mimeCDDA:
	case mimeCDDASwap:
		swap = true
	case mimeNativeFlt:
		f.Format = audio.SampleFormatFloat
	default:
		return audio.Format{}, false, fmt.Errorf("pcm: unsupported type %q", mt)
	}

	if v, ok := params["rate"]; ok {
		rate, err := strconv.Atoi(v)
		if err != nil {
			return audio.Format{}, false, fmt.Errorf("pcm: invalid rate %q", v)
		}
		f.SampleRate = rate
	}
	if v, ok := params["channels"]; ok {
		ch, err := strconv.Atoi(v)
		if err != nil {
			return audio.Format{}, false, fmt.Errorf("pcm: invalid channels %q", v)
		}
		f.Channels = ch
	}
	if !f.IsValid() {
		return audio.Format{}, false, fmt.Errorf("pcm: invalid format %s", f)
	}
	return f, swap, nil
}

type pcmSource struct {
	is      input.Stream
	r       io.Reader
	frame   int
	swap    bool
	buf     []byte
	carry   int
	bitRate uint16
}

func (s *pcmSource) read() ([]byte, uint16, error) {
	n, err := s.r.Read(s.buf[s.carry:])
	n += s.carry
	whole := n - n%s.frame
	out := make([]byte, whole)
	copy(out, s.buf[:whole])
	// keep a partial frame for the next read
	s.carry = copy(s.buf, s.buf[whole:n])

	if s.swap {
		for i := 0; i+1 < len(out); i += 2 {
			out[i], out[i+1] = out[i+1], out[i]
		}
	}
	return out, s.bitRate, err
}

func (s *pcmSource) seek(frame uint64) error {
	if err := s.is.Seek(int64(frame) * int64(s.frame)); err != nil {
		return err
	}
	s.carry = 0
	return nil
}

// StreamDecode implements decoder.StreamDecoder
func (PCM) StreamDecode(c decoder.Client, is input.Stream) error {
	if is.MimeType() == "" {
		return errors.New("pcm: stream has no MIME type")
	}
	f, swap, err := pcmFormat(is.MimeType())
	if err != nil {
		return err
	}

	seekable := is.IsSeekable()
	duration := time.Duration(-1)
	if size := is.Size(); size > 0 {
		duration = f.SizeToTime(int(size))
	}
	c.Ready(f, seekable, duration)

	bitRate := f.SampleRate * f.FrameSize() * 8 / 1000
	src := &pcmSource{
		is:      is,
		r:       decoder.NewReader(c, is),
		frame:   f.FrameSize(),
		swap:    swap,
		buf:     make([]byte, 1024*f.FrameSize()),
		bitRate: uint16(min(bitRate, 65535)),
	}
	return run(c, is, src, seekable)
}
