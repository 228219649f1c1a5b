// ABOUTME: WAV decoder plugin
// ABOUTME: Reads RIFF headers with go-audio/wav and passes the PCM payload through
package decode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-audio/wav"

	"github.com/Resonate-Protocol/playd/pkg/audio"
	"github.com/Resonate-Protocol/playd/pkg/decoder"
	"github.com/Resonate-Protocol/playd/pkg/input"
)

const (
	wavFormatPCM  = 1
	wavFormatIEEE = 3
	wavExtensible = 0xfffe
)

// WAV decodes uncompressed RIFF/WAVE files
type WAV struct{}

func (WAV) Name() string       { return "wav" }
func (WAV) Suffixes() []string { return []string{"wav", "wave"} }
func (WAV) MimeTypes() []string {
	return []string{"audio/wav", "audio/x-wav", "audio/wave"}
}

type wavSource struct {
	is        input.Stream
	r         io.Reader
	dataStart int64
	// size of the payload, negative when the header gives none
	size      int64
	remaining int64
	inSize    int
	format    audio.Format
	frameIn   int
	in, out   []byte
}

func (s *wavSource) read() ([]byte, uint16, error) {
	want := len(s.in)
	if s.remaining >= 0 && int64(want) > s.remaining {
		want = int(s.remaining)
	}
	want -= want % s.frameIn
	if want == 0 {
		return nil, 0, io.EOF
	}
	n, err := io.ReadFull(s.r, s.in[:want])
	n -= n % s.frameIn
	if s.remaining >= 0 {
		s.remaining -= int64(n)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return s.unpack(s.in[:n]), 0, err
}

// unpack widens packed samples to the pipeline formats
func (s *wavSource) unpack(in []byte) []byte {
	switch s.inSize {
	case 1:
		// 8-bit WAV is unsigned
		out := s.out[:len(in)]
		for i, b := range in {
			out[i] = b ^ 0x80
		}
		return out
	case 3:
		n := len(in) / 3
		out := s.out[:n*4]
		for i := 0; i < n; i++ {
			v := audio.SampleFrom24Bit([3]byte{in[i*3], in[i*3+1], in[i*3+2]})
			binary.LittleEndian.PutUint32(out[i*4:], uint32(v))
		}
		return out
	}
	return in
}

func (s *wavSource) seek(frame uint64) error {
	off := int64(frame) * int64(s.frameIn)
	if err := s.is.Seek(s.dataStart + off); err != nil {
		return err
	}
	if s.size >= 0 {
		s.remaining = max(s.size-off, 0)
	}
	return nil
}

func wavSampleFormat(audioFormat, bits int) (audio.SampleFormat, error) {
	if audioFormat == wavFormatIEEE {
		if bits == 32 {
			return audio.SampleFormatFloat, nil
		}
		return audio.SampleFormatUndefined, fmt.Errorf("wav: unsupported float width %d", bits)
	}
	switch bits {
	case 8:
		return audio.SampleFormatS8, nil
	case 16:
		return audio.SampleFormatS16, nil
	case 24:
		return audio.SampleFormatS24P32, nil
	case 32:
		return audio.SampleFormatS32, nil
	}
	return audio.SampleFormatUndefined, fmt.Errorf("wav: unsupported bit depth %d", bits)
}

// StreamDecode implements decoder.StreamDecoder
func (WAV) StreamDecode(c decoder.Client, is input.Stream) error {
	if !is.IsSeekable() {
		return errors.New("wav: stream is not seekable")
	}
	rs := decoder.NewReadSeeker(c, is)
	d := wav.NewDecoder(rs)
	if !d.IsValidFile() {
		return errors.New("wav: invalid file")
	}
	if err := d.FwdToPCM(); err != nil {
		return fmt.Errorf("wav: %w", err)
	}

	audioFormat := int(d.WavAudioFormat)
	if audioFormat == wavExtensible {
		audioFormat = wavFormatPCM
	}
	if audioFormat != wavFormatPCM && audioFormat != wavFormatIEEE {
		return fmt.Errorf("wav: unsupported encoding %d", d.WavAudioFormat)
	}
	sf, err := wavSampleFormat(audioFormat, int(d.BitDepth))
	if err != nil {
		return err
	}
	f := audio.Format{SampleRate: int(d.SampleRate), Format: sf, Channels: int(d.NumChans)}
	if !f.IsValid() {
		return fmt.Errorf("wav: invalid format %s", f)
	}

	inSize := int(d.BitDepth) / 8
	frameIn := inSize * f.Channels
	size := int64(-1)
	duration := time.Duration(-1)
	if d.PCMSize > 0 {
		size = int64(d.PCMSize)
		duration = f.FramesToTime(uint64(size) / uint64(frameIn))
	}

	c.Ready(f, true, duration)

	const frames = 2048
	src := &wavSource{
		is:        is,
		r:         rs,
		dataStart: is.Offset(),
		size:      size,
		remaining: size,
		inSize:    inSize,
		format:    f,
		frameIn:   frameIn,
		in:        make([]byte, frames*frameIn),
		out:       make([]byte, frames*f.FrameSize()),
	}
	return run(c, is, src, true)
}
