// ABOUTME: Buffered input stream filled by a background goroutine
// ABOUTME: Decouples slow network reads from the decoder goroutine
package input

import (
	"io"
	"sync"

	"github.com/Resonate-Protocol/playd/pkg/tag"
)

// DefaultAsyncBuffer is the read-ahead of network streams
const DefaultAsyncBuffer = 256 * 1024

// AsyncStream reads an io.ReadCloser ahead into a bounded buffer
type AsyncStream struct {
	uri      string
	mimeType string
	size     int64

	src io.ReadCloser

	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	max     int
	offset  int64
	eof     bool
	err     error
	closed  bool
	handler func()
	tag     *tag.Tag
}

// NewAsync starts reading src in the background
func NewAsync(uri, mimeType string, size int64, src io.ReadCloser, bufferSize int) *AsyncStream {
	s := newAsync(uri, mimeType, size, src, bufferSize)
	go s.fill()
	return s
}

func newAsync(uri, mimeType string, size int64, src io.ReadCloser, bufferSize int) *AsyncStream {
	if bufferSize <= 0 {
		bufferSize = DefaultAsyncBuffer
	}
	s := &AsyncStream{
		uri:      uri,
		mimeType: mimeType,
		size:     size,
		src:      src,
		max:      bufferSize,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *AsyncStream) fill() {
	chunk := make([]byte, 16*1024)
	for {
		s.mu.Lock()
		for len(s.buf) >= s.max && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		n, err := s.src.Read(chunk)

		s.mu.Lock()
		s.buf = append(s.buf, chunk[:n]...)
		if err == io.EOF {
			s.eof = true
		} else if err != nil {
			s.err = err
		}
		done := s.eof || s.err != nil
		handler := s.handler
		s.cond.Broadcast()
		s.mu.Unlock()

		if handler != nil {
			handler()
		}
		if done {
			return
		}
	}
}

// SetTag makes a tag available to the next ReadTag
func (s *AsyncStream) SetTag(t *tag.Tag) {
	s.mu.Lock()
	s.tag = t
	s.mu.Unlock()
}

func (s *AsyncStream) URI() string {
	return s.uri
}

func (s *AsyncStream) MimeType() string {
	return s.mimeType
}

func (s *AsyncStream) Size() int64 {
	return s.size
}

func (s *AsyncStream) Offset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

func (s *AsyncStream) IsSeekable() bool {
	return false
}

func (s *AsyncStream) Seek(int64) error {
	return ErrNotSeekable
}

func (s *AsyncStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) == 0 && !s.eof && s.err == nil && !s.closed {
		s.cond.Wait()
	}

	if len(s.buf) == 0 {
		if s.err != nil {
			return 0, s.err
		}
		return 0, io.EOF
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	if len(s.buf) == 0 {
		s.buf = nil
	}
	s.offset += int64(n)
	s.cond.Broadcast()
	return n, nil
}

func (s *AsyncStream) IsEOF() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf) == 0 && (s.eof || s.err != nil || s.closed)
}

func (s *AsyncStream) IsAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf) > 0 || s.eof || s.err != nil || s.closed
}

func (s *AsyncStream) ReadTag() *tag.Tag {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tag
	s.tag = nil
	return t
}

func (s *AsyncStream) SetHandler(h func()) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *AsyncStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	return s.src.Close()
}
