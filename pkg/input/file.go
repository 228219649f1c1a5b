// ABOUTME: Local file input stream
// ABOUTME: Always available and seekable
package input

import (
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/Resonate-Protocol/playd/pkg/tag"
)

// FileStream reads a local file
type FileStream struct {
	uri    string
	path   string
	file   *os.File
	size   int64
	offset int64
	eof    bool
}

// OpenFile opens a path or file:// URI
func OpenFile(uri string) (Stream, error) {
	path := uri
	if strings.HasPrefix(uri, "file://") {
		u, err := url.Parse(uri)
		if err != nil {
			return nil, fmt.Errorf("invalid file URI: %w", err)
		}
		path = u.Path
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}

	return &FileStream{uri: uri, path: path, file: f, size: info.Size()}, nil
}

// Path returns the local file name
func (s *FileStream) Path() string {
	return s.path
}

func (s *FileStream) URI() string {
	return s.uri
}

func (s *FileStream) MimeType() string {
	return mime.TypeByExtension(filepath.Ext(s.path))
}

func (s *FileStream) Size() int64 {
	return s.size
}

func (s *FileStream) Offset() int64 {
	return s.offset
}

func (s *FileStream) IsSeekable() bool {
	return true
}

func (s *FileStream) Seek(offset int64) error {
	pos, err := s.file.Seek(offset, io.SeekStart)
	if err != nil {
		return fmt.Errorf("seek failed: %w", err)
	}
	s.offset = pos
	s.eof = false
	return nil
}

func (s *FileStream) Read(p []byte) (int, error) {
	n, err := s.file.Read(p)
	s.offset += int64(n)
	if err == io.EOF {
		s.eof = true
	}
	return n, err
}

func (s *FileStream) IsEOF() bool {
	return s.eof || s.offset >= s.size
}

func (s *FileStream) IsAvailable() bool {
	return true
}

func (s *FileStream) ReadTag() *tag.Tag {
	return nil
}

func (s *FileStream) SetHandler(func()) {}

func (s *FileStream) Close() error {
	return s.file.Close()
}
