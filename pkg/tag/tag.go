// ABOUTME: Song metadata tags
// ABOUTME: Typed tag items, merging, and the MixRamp profile attached to songs
package tag

import (
	"strings"
	"time"
)

// Type identifies what a tag item describes
type Type uint8

const (
	Artist Type = iota
	AlbumArtist
	Album
	Title
	Track
	Name
	Genre
	Date
	Composer
	Disc
	Comment
	numTypes
)

var typeNames = [numTypes]string{
	Artist:      "Artist",
	AlbumArtist: "AlbumArtist",
	Album:       "Album",
	Title:       "Title",
	Track:       "Track",
	Name:        "Name",
	Genre:       "Genre",
	Date:        "Date",
	Composer:    "Composer",
	Disc:        "Disc",
	Comment:     "Comment",
}

// aliases used by Vorbis comments and ID3 frames
var typeAliases = map[string]Type{
	"album artist": AlbumArtist,
	"tracknumber":  Track,
	"discnumber":   Disc,
	"description":  Comment,
	"year":         Date,
}

func (t Type) String() string {
	if t < numTypes {
		return typeNames[t]
	}
	return "Unknown"
}

// ParseType maps a tag name (case-insensitive) to its Type
func ParseType(name string) (Type, bool) {
	lower := strings.ToLower(strings.TrimSpace(name))
	for i, n := range typeNames {
		if strings.ToLower(n) == lower {
			return Type(i), true
		}
	}
	t, ok := typeAliases[lower]
	return t, ok
}

// Item is one tag value
type Item struct {
	Type  Type
	Value string
}

// Tag is an ordered list of items plus the song duration
type Tag struct {
	// Duration is negative when unknown
	Duration time.Duration
	Items    []Item
}

// New returns an empty tag with unknown duration
func New() *Tag {
	return &Tag{Duration: -1}
}

// Add appends a value; blank values are ignored
func (t *Tag) Add(typ Type, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	t.Items = append(t.Items, Item{Type: typ, Value: value})
}

// Get returns the first value of the given type
func (t *Tag) Get(typ Type) string {
	if t == nil {
		return ""
	}
	for _, item := range t.Items {
		if item.Type == typ {
			return item.Value
		}
	}
	return ""
}

// Has reports whether an item of this type exists
func (t *Tag) Has(typ Type) bool {
	return t.Get(typ) != ""
}

// IsEmpty reports whether the tag carries no items
func (t *Tag) IsEmpty() bool {
	return t == nil || len(t.Items) == 0
}

// Clone returns a deep copy (nil stays nil)
func (t *Tag) Clone() *Tag {
	if t == nil {
		return nil
	}
	c := &Tag{Duration: t.Duration, Items: make([]Item, len(t.Items))}
	copy(c.Items, t.Items)
	return c
}

// Merge returns a new tag with every item of add, plus the items of base whose
// type add does not carry. Either argument may be nil.
func Merge(base, add *Tag) *Tag {
	if base == nil {
		return add.Clone()
	}
	if add == nil {
		return base.Clone()
	}

	var present [numTypes]bool
	for _, item := range add.Items {
		if item.Type < numTypes {
			present[item.Type] = true
		}
	}

	merged := &Tag{Duration: add.Duration}
	if merged.Duration < 0 {
		merged.Duration = base.Duration
	}
	for _, item := range base.Items {
		if item.Type < numTypes && present[item.Type] {
			continue
		}
		merged.Items = append(merged.Items, item)
	}
	merged.Items = append(merged.Items, add.Items...)
	return merged
}

// String renders "Artist - Title" for log lines
func (t *Tag) String() string {
	if t.IsEmpty() {
		return ""
	}
	title := t.Get(Title)
	if title == "" {
		title = t.Get(Name)
	}
	if artist := t.Get(Artist); artist != "" && title != "" {
		return artist + " - " + title
	}
	return title
}

// MixRamp holds the loudness profiles used for MixRamp cross-fading. Each
// profile is a list of "dB seconds" pairs separated by semicolons.
type MixRamp struct {
	Start string
	End   string
}

// IsDefined reports whether at least one profile is present
func (m MixRamp) IsDefined() bool {
	return m.Start != "" || m.End != ""
}

// ParseMixRamp recognizes MIXRAMP_START and MIXRAMP_END comments
func ParseMixRamp(name, value string, m *MixRamp) bool {
	switch strings.ToUpper(name) {
	case "MIXRAMP_START":
		m.Start = value
		return true
	case "MIXRAMP_END":
		m.End = value
		return true
	}
	return false
}

// Map returns the first value of each type keyed by type name
func (t *Tag) Map() map[string]string {
	if t.IsEmpty() {
		return nil
	}
	m := make(map[string]string, len(t.Items))
	for _, item := range t.Items {
		name := item.Type.String()
		if _, ok := m[name]; !ok {
			m[name] = item.Value
		}
	}
	return m
}
