// ABOUTME: Input stream abstraction used by decoder plugins
// ABOUTME: Byte sources with availability notification, optional seeking and inline tags
package input

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/Resonate-Protocol/playd/pkg/tag"
)

// ErrNotSeekable is returned by Seek on streams that cannot seek
var ErrNotSeekable = errors.New("stream is not seekable")

// Stream is a readable source of encoded audio
type Stream interface {
	URI() string
	// MimeType returns the content type if known
	MimeType() string
	// Size returns the total size in bytes or -1
	Size() int64
	Offset() int64
	IsSeekable() bool
	Seek(offset int64) error
	// Read blocks until at least one byte, end of stream or an error
	Read(p []byte) (int, error)
	IsEOF() bool
	// IsAvailable reports whether Read would return without blocking
	IsAvailable() bool
	// ReadTag returns a tag that arrived inline since the last call, or nil
	ReadTag() *tag.Tag
	// SetHandler registers a callback run whenever IsAvailable may have changed
	SetHandler(func())
	Close() error
}

// Opener opens a stream for a URI of one scheme
type Opener func(uri string) (Stream, error)

var (
	openersMu sync.RWMutex
	openers   = map[string]Opener{
		"":      OpenFile,
		"file":  OpenFile,
		"http":  OpenHTTP,
		"https": OpenHTTP,
	}
)

// RegisterScheme installs an opener for a URI scheme
func RegisterScheme(scheme string, o Opener) {
	openersMu.Lock()
	defer openersMu.Unlock()
	openers[strings.ToLower(scheme)] = o
}

// Open opens a local path or URL
func Open(uri string) (Stream, error) {
	scheme := ""
	if u, err := url.Parse(uri); err == nil && len(u.Scheme) > 1 {
		scheme = strings.ToLower(u.Scheme)
	}

	openersMu.RLock()
	o, ok := openers[scheme]
	openersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported URI scheme %q", scheme)
	}
	return o(uri)
}

// Rewind seeks to the start if the stream allows it
func Rewind(s Stream) error {
	if s.Offset() == 0 {
		return nil
	}
	if !s.IsSeekable() {
		return ErrNotSeekable
	}
	return s.Seek(0)
}
