// ABOUTME: The interface decoder plugins use to talk to the pipeline
// ABOUTME: Includes io.Reader adapters so codec libraries can read through the bridge
package decoder

import (
	"errors"
	"io"
	"time"

	"github.com/Resonate-Protocol/playd/pkg/audio"
	"github.com/Resonate-Protocol/playd/pkg/input"
	"github.com/Resonate-Protocol/playd/pkg/replaygain"
	"github.com/Resonate-Protocol/playd/pkg/tag"
)

// ErrReadCancelled is returned by the reader adapters when a command
// interrupted a read
var ErrReadCancelled = errors.New("read cancelled by decoder command")

// Client is what a plugin sees of the decoder
type Client interface {
	// Ready reports the decoded format. It must be called once before SubmitData.
	Ready(f audio.Format, seekable bool, duration time.Duration)
	// GetCommand returns the command the plugin should act on
	GetCommand() Command
	// CommandFinished acknowledges the command returned by GetCommand
	CommandFinished()
	// SeekTime returns the seek target; call only while handling CommandSeek
	SeekTime() time.Duration
	// SeekFrame is SeekTime expressed in frames of the input format
	SeekFrame() uint64
	// SeekError reports that the requested seek failed
	SeekError()
	// Read reads from is, returning 0 on end of stream, error or command
	Read(is input.Stream, p []byte) int
	// SubmitTimestamp sets the position of the next submitted frame
	SubmitTimestamp(t time.Duration)
	// SubmitData pushes PCM in the input format; bitRate is in kbit/s
	SubmitData(is input.Stream, data []byte, bitRate uint16) Command
	// SubmitTag sends a tag from the codec's own metadata
	SubmitTag(is input.Stream, t *tag.Tag) Command
	// SubmitReplayGain announces gain values for the following samples; nil clears them
	SubmitReplayGain(info *replaygain.Info)
	SubmitMixRamp(m tag.MixRamp)
}

// reader adapts a Client and Stream to io.Reader
type reader struct {
	c  Client
	is input.Stream
}

// NewReader returns an io.Reader reading is through c
func NewReader(c Client, is input.Stream) io.Reader {
	return &reader{c: c, is: is}
}

func (r *reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n := r.c.Read(r.is, p)
	if n > 0 {
		return n, nil
	}
	if r.is.IsEOF() {
		return 0, io.EOF
	}
	return 0, ErrReadCancelled
}

// readSeeker adds seeking for seekable streams
type readSeeker struct {
	reader
}

// NewReadSeeker returns an io.ReadSeeker reading is through c. Seek fails
// with input.ErrNotSeekable when the stream cannot seek.
func NewReadSeeker(c Client, is input.Stream) io.ReadSeeker {
	return &readSeeker{reader{c: c, is: is}}
}

func (r *readSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.is.Offset() + offset
	case io.SeekEnd:
		size := r.is.Size()
		if size < 0 {
			return 0, input.ErrNotSeekable
		}
		abs = size + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("negative position")
	}
	// io.Seeker callers often probe the position with Seek(0, SeekCurrent)
	if abs == r.is.Offset() {
		return abs, nil
	}
	if err := r.is.Seek(abs); err != nil {
		return 0, err
	}
	return abs, nil
}
