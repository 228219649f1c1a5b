// ABOUTME: Minimal Ogg page demuxer used by the Opus plugin
// ABOUTME: Reassembles packets of the first logical bitstream from lacing values
package decode

import (
	"encoding/binary"
	"errors"
	"io"
)

var errOggCapture = errors.New("ogg: missing capture pattern")

const oggHeaderSize = 27

// oggPacketReader returns the packets of the first logical stream in r
type oggPacketReader struct {
	r       io.Reader
	serial  uint32
	started bool
	packets [][]byte
	partial []byte
	// granule is the granule position of the last page read
	granule int64
}

func newOggPacketReader(r io.Reader) *oggPacketReader {
	return &oggPacketReader{r: r}
}

// NextPacket returns the next complete packet
func (o *oggPacketReader) NextPacket() ([]byte, error) {
	for len(o.packets) == 0 {
		if err := o.readPage(); err != nil {
			return nil, err
		}
	}
	p := o.packets[0]
	o.packets = o.packets[1:]
	return p, nil
}

func (o *oggPacketReader) readPage() error {
	var hdr [oggHeaderSize]byte
	if _, err := io.ReadFull(o.r, hdr[:]); err != nil {
		return err
	}
	if string(hdr[:4]) != "OggS" {
		return errOggCapture
	}

	serial := binary.LittleEndian.Uint32(hdr[14:18])
	segments := make([]byte, hdr[26])
	if _, err := io.ReadFull(o.r, segments); err != nil {
		return noEOF(err)
	}
	total := 0
	for _, s := range segments {
		total += int(s)
	}
	body := make([]byte, total)
	if _, err := io.ReadFull(o.r, body); err != nil {
		return noEOF(err)
	}

	if !o.started {
		o.started = true
		o.serial = serial
	} else if serial != o.serial {
		// multiplexed streams: ignore everything but the first
		return nil
	}
	o.granule = int64(binary.LittleEndian.Uint64(hdr[6:14]))

	off := 0
	for _, s := range segments {
		o.partial = append(o.partial, body[off:off+int(s)]...)
		off += int(s)
		if s < 255 {
			o.packets = append(o.packets, o.partial)
			o.partial = nil
		}
	}
	return nil
}

func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
