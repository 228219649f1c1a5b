// ABOUTME: Detached song description handed between queue, player and decoder
// ABOUTME: A URI plus tag and optional start/end trim for CUE-style sub-tracks
package song

import (
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/Resonate-Protocol/playd/pkg/tag"
)

// Song is a playable item. It is copied, never shared, between goroutines.
type Song struct {
	// URI as the queue knows it: a relative path, absolute path or URL
	URI string
	// RealURI overrides URI for opening, e.g. a path resolved against the music directory
	RealURI string
	Tag     *tag.Tag
	// StartTime trims the beginning of the song
	StartTime time.Duration
	// EndTime trims the end; zero means "play to the end"
	EndTime time.Duration
}

// New returns a song for the given URI with an empty tag
func New(uri string) *Song {
	return &Song{URI: uri, Tag: tag.New()}
}

// OpenURI returns the URI used to open the input stream
func (s *Song) OpenURI() string {
	if s.RealURI != "" {
		return s.RealURI
	}
	return s.URI
}

// IsRemote reports whether the song is fetched through a URL scheme
func (s *Song) IsRemote() bool {
	u, err := url.Parse(s.OpenURI())
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Scheme != "file" && len(u.Scheme) > 1
}

// IsFile reports whether the song is a local file
func (s *Song) IsFile() bool {
	return !s.IsRemote()
}

// Suffix returns the lower-case file extension without the dot
func (s *Song) Suffix() string {
	p := s.OpenURI()
	if u, err := url.Parse(p); err == nil && u.Scheme != "" {
		p = u.Path
	}
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(p)), ".")
}

// IsSame reports whether two songs refer to the same playable range
func IsSame(a, b *Song) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.URI == b.URI && a.StartTime == b.StartTime && a.EndTime == b.EndTime
}

// Clone returns a deep copy
func (s *Song) Clone() *Song {
	if s == nil {
		return nil
	}
	c := *s
	c.Tag = s.Tag.Clone()
	return &c
}

// SetTag replaces the tag with a copy of t
func (s *Song) SetTag(t *tag.Tag) {
	s.Tag = t.Clone()
}

// Duration returns the playable duration known from the tag and trim, or a
// negative value when unknown
func (s *Song) Duration() time.Duration {
	if s.EndTime > 0 && s.EndTime > s.StartTime {
		return s.EndTime - s.StartTime
	}
	if s.Tag == nil || s.Tag.Duration < 0 {
		return -1
	}
	d := s.Tag.Duration - s.StartTime
	if d < 0 {
		return -1
	}
	return d
}

// RealDuration combines the trim with the duration the decoder reported
func (s *Song) RealDuration(decoderDuration time.Duration) time.Duration {
	if decoderDuration < 0 {
		return -1
	}
	if s.EndTime > 0 && s.EndTime > s.StartTime && s.EndTime < decoderDuration {
		return s.EndTime - s.StartTime
	}
	if d := decoderDuration - s.StartTime; d > 0 {
		return d
	}
	return 0
}

// String returns the URI for log lines
func (s *Song) String() string {
	if s == nil {
		return "<none>"
	}
	return s.URI
}
