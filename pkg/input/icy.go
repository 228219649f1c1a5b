// ABOUTME: Shoutcast/Icecast inline metadata demultiplexer
// ABOUTME: Strips ICY metadata blocks from the audio and turns StreamTitle into tags
package input

import (
	"io"
	"strings"

	"github.com/Resonate-Protocol/playd/pkg/tag"
)

// icyReader removes metadata blocks inserted every metaint bytes
type icyReader struct {
	r         io.ReadCloser
	metaint   int
	remaining int
	onTag     func(*tag.Tag)
}

func newIcyReader(r io.ReadCloser, metaint int) *icyReader {
	return &icyReader{r: r, metaint: metaint, remaining: metaint}
}

func (ir *icyReader) Read(p []byte) (int, error) {
	for ir.remaining == 0 {
		if err := ir.readMetadata(); err != nil {
			return 0, err
		}
		ir.remaining = ir.metaint
	}

	if len(p) > ir.remaining {
		p = p[:ir.remaining]
	}
	n, err := ir.r.Read(p)
	ir.remaining -= n
	return n, err
}

func (ir *icyReader) readMetadata() error {
	var length [1]byte
	if _, err := io.ReadFull(ir.r, length[:]); err != nil {
		return err
	}

	size := int(length[0]) * 16
	if size == 0 {
		return nil
	}

	meta := make([]byte, size)
	if _, err := io.ReadFull(ir.r, meta); err != nil {
		if err == io.ErrUnexpectedEOF {
			return io.EOF
		}
		return err
	}

	if t := ParseIcyMetadata(string(meta)); t != nil && ir.onTag != nil {
		ir.onTag(t)
	}
	return nil
}

func (ir *icyReader) Close() error {
	return ir.r.Close()
}

// ParseIcyMetadata extracts StreamTitle from a metadata block such as
// "StreamTitle='Artist - Title';StreamUrl='';"
func ParseIcyMetadata(meta string) *tag.Tag {
	meta = strings.TrimRight(meta, "\x00")

	const key = "StreamTitle='"
	start := strings.Index(meta, key)
	if start < 0 {
		return nil
	}
	rest := meta[start+len(key):]
	end := strings.Index(rest, "';")
	if end < 0 {
		end = strings.LastIndex(rest, "'")
		if end < 0 {
			return nil
		}
	}

	title := rest[:end]
	if strings.TrimSpace(title) == "" {
		return nil
	}

	t := tag.New()
	t.Add(tag.Title, title)
	return t
}
