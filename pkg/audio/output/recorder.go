// ABOUTME: Recorder output that writes the played audio to a WAV file
// ABOUTME: Uses the go-audio WAV encoder with 16 or 24 bit integer samples
package output

import (
	"errors"
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/Resonate-Protocol/playd/pkg/audio"
	"github.com/Resonate-Protocol/playd/pkg/audio/pcm"
)

const wavFormatPCM = 1

// Recorder writes WAV files. Every Open truncates the file.
type Recorder struct {
	path string

	file    *os.File
	enc     *wav.Encoder
	format  audio.Format
	samples []int32
	ints    []int
}

// NewRecorder creates a recorder for the "path" parameter
func NewRecorder(p Params) (*Recorder, error) {
	path := p.String("path", "")
	if path == "" {
		return nil, errors.New("no path configured")
	}
	return &Recorder{path: path}, nil
}

// Open accepts 16-bit audio and records everything else as 24-bit
func (r *Recorder) Open(f audio.Format) (audio.Format, error) {
	switch f.Format {
	case audio.SampleFormatS8, audio.SampleFormatS16:
		f.Format = audio.SampleFormatS16
	case audio.SampleFormatDSD:
		return f, fmt.Errorf("%w: %s", pcm.ErrUnsupportedFormat, f.Format)
	default:
		f.Format = audio.SampleFormatS24P32
	}

	file, err := os.Create(r.path)
	if err != nil {
		return f, fmt.Errorf("failed to create %s: %w", r.path, err)
	}

	r.file = file
	r.format = f
	r.enc = wav.NewEncoder(file, f.SampleRate, f.Format.Bits(), f.Channels, wavFormatPCM)
	return f, nil
}

func (r *Recorder) Play(p []byte) (int, error) {
	if r.enc == nil {
		return 0, fmt.Errorf("output not opened")
	}

	n := len(p) - len(p)%r.format.FrameSize()
	var err error
	r.samples, err = pcm.DecodeSamples(r.samples[:0], p[:n], r.format.Format)
	if err != nil {
		return 0, err
	}

	shift := 0
	if r.format.Format == audio.SampleFormatS16 {
		shift = 8
	}
	r.ints = r.ints[:0]
	for _, s := range r.samples {
		r.ints = append(r.ints, int(s>>shift))
	}

	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: r.format.Channels, SampleRate: r.format.SampleRate},
		Data:           r.ints,
		SourceBitDepth: r.format.Format.Bits(),
	}
	if err := r.enc.Write(buf); err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", r.path, err)
	}
	return n, nil
}

func (r *Recorder) Drain() error { return nil }

func (r *Recorder) Cancel() {}

// Pause closes the file; a recording has no notion of a gap
func (r *Recorder) Pause() error { return ErrPauseUnsupported }

// Close finalizes the WAV header
func (r *Recorder) Close() error {
	if r.enc == nil {
		return nil
	}
	err := r.enc.Close()
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	r.enc, r.file = nil, nil
	if err != nil {
		return fmt.Errorf("failed to finish %s: %w", r.path, err)
	}
	return nil
}
