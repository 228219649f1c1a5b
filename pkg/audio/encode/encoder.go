// ABOUTME: Encoder interface definition
// ABOUTME: Turns pipeline PCM into wire packets for network outputs
package encode

import (
	"fmt"

	"github.com/Resonate-Protocol/playd/pkg/audio"
)

// Encoder encodes PCM bytes of its input format
type Encoder interface {
	// Name is the codec name announced to listeners
	Name() string

	// Format is the PCM layout Encode expects
	Format() audio.Format

	// Encode consumes PCM and returns the packets completed so far
	Encode(pcm []byte) ([][]byte, error)

	// Close releases encoder resources
	Close() error
}

// New returns the encoder for a codec name and the input format it needs,
// adjusted from the requested one
func New(codec string, requested audio.Format) (Encoder, error) {
	switch codec {
	case "opus":
		return NewOpus(OpusFormat(requested))
	case "pcm", "":
		return NewPCM(PCMFormat(requested))
	}
	return nil, errUnknownCodec(codec)
}

func errUnknownCodec(codec string) error {
	return fmt.Errorf("unknown codec %q", codec)
}
