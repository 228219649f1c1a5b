// ABOUTME: Decoder plugin interfaces and the registry used to pick one per song
// ABOUTME: Plugins are matched by file suffix first, then by MIME type
package decoder

import (
	"strings"
	"sync"

	"github.com/Resonate-Protocol/playd/pkg/input"
)

// Plugin describes a codec implementation
type Plugin interface {
	Name() string
	Suffixes() []string
	MimeTypes() []string
}

// StreamDecoder decodes from an input stream
type StreamDecoder interface {
	Plugin
	StreamDecode(c Client, is input.Stream) error
}

// FileDecoder decodes a local file by path. It is used only for plugins
// that cannot decode from a stream.
type FileDecoder interface {
	Plugin
	FileDecode(c Client, path string) error
}

// Registry holds the available plugins in priority order
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
}

// NewRegistry returns a registry containing plugins
func NewRegistry(plugins ...Plugin) *Registry {
	r := &Registry{}
	for _, p := range plugins {
		r.Register(p)
	}
	return r
}

// Register appends p after the existing plugins
func (r *Registry) Register(p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = append(r.plugins, p)
}

// Plugins returns a snapshot of the registered plugins
func (r *Registry) Plugins() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Plugin(nil), r.plugins...)
}

// Lookup finds a plugin by name
func (r *Registry) Lookup(name string) Plugin {
	for _, p := range r.Plugins() {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// SupportsSuffix reports whether any plugin claims the suffix
func (r *Registry) SupportsSuffix(suffix string) bool {
	suffix = strings.ToLower(suffix)
	for _, p := range r.Plugins() {
		if contains(p.Suffixes(), suffix) {
			return true
		}
	}
	return false
}

// Candidates returns the plugins to try for a song: suffix matches, then
// MIME matches, each in registration order and without duplicates
func (r *Registry) Candidates(suffix, mimeType string) []Plugin {
	suffix = strings.ToLower(suffix)
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))

	plugins := r.Plugins()
	var out []Plugin
	seen := make(map[string]bool)
	add := func(match func(Plugin) bool) {
		for _, p := range plugins {
			if !seen[p.Name()] && match(p) {
				seen[p.Name()] = true
				out = append(out, p)
			}
		}
	}
	if suffix != "" {
		add(func(p Plugin) bool { return contains(p.Suffixes(), suffix) })
	}
	if mimeType != "" {
		add(func(p Plugin) bool { return contains(p.MimeTypes(), mimeType) })
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
