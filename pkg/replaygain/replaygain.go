// ABOUTME: Replay gain metadata and scale computation
// ABOUTME: Parses gain/peak tags and turns them into a linear volume factor
package replaygain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Mode selects which gain tuple is applied
type Mode uint8

const (
	ModeOff Mode = iota
	ModeTrack
	ModeAlbum
	// ModeAuto behaves like ModeTrack; there is no shuffle state in this daemon
	ModeAuto
)

func (m Mode) String() string {
	switch m {
	case ModeTrack:
		return "track"
	case ModeAlbum:
		return "album"
	case ModeAuto:
		return "auto"
	}
	return "off"
}

// ParseMode parses "off", "track", "album" or "auto"
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "off", "":
		return ModeOff, nil
	case "track":
		return ModeTrack, nil
	case "album":
		return ModeAlbum, nil
	case "auto":
		return ModeAuto, nil
	}
	return ModeOff, fmt.Errorf("invalid replay gain mode %q", s)
}

// Config holds the user adjustments applied on top of the tags
type Config struct {
	// Preamp in dB added to tagged gains
	Preamp float32
	// MissingPreamp in dB used for songs without replay gain tags
	MissingPreamp float32
	// Limit prevents the scaled peak from exceeding full scale
	Limit bool
}

// DefaultConfig returns the settings used when nothing is configured
func DefaultConfig() Config {
	return Config{Limit: true}
}

const undefinedGain = -200

// Tuple is one gain/peak pair
type Tuple struct {
	Gain float32
	Peak float32
}

// UndefinedTuple returns a tuple with no gain information
func UndefinedTuple() Tuple {
	return Tuple{Gain: undefinedGain}
}

// IsDefined reports whether the tuple carries a usable gain
func (t Tuple) IsDefined() bool {
	return t.Gain > -100
}

// CalculateScale returns the linear factor to apply to samples
func (t Tuple) CalculateScale(c Config) float32 {
	if !t.IsDefined() {
		return float32(math.Pow(10, float64(c.MissingPreamp)/20))
	}

	scale := float32(math.Pow(10, float64(t.Gain+c.Preamp)/20))
	if c.Limit && t.Peak > 0 && scale*t.Peak > 1 {
		scale = 1 / t.Peak
	}
	return scale
}

// Info is the track and album replay gain of one song
type Info struct {
	Track Tuple
	Album Tuple
}

// NewInfo returns an Info with both tuples undefined
func NewInfo() Info {
	return Info{Track: UndefinedTuple(), Album: UndefinedTuple()}
}

// IsDefined reports whether either tuple is usable
func (i Info) IsDefined() bool {
	return i.Track.IsDefined() || i.Album.IsDefined()
}

// Get returns the tuple for the mode, falling back to the other one
func (i Info) Get(mode Mode) Tuple {
	if mode == ModeAlbum {
		if i.Album.IsDefined() {
			return i.Album
		}
		return i.Track
	}
	if i.Track.IsDefined() {
		return i.Track
	}
	return i.Album
}

// ScaleToDB converts a linear factor to decibels
func ScaleToDB(scale float32) float32 {
	if scale <= 0 {
		return undefinedGain
	}
	return float32(20 * math.Log10(float64(scale)))
}

// ParseTag recognizes REPLAYGAIN_* comments and stores them in info
func ParseTag(name, value string, info *Info) bool {
	var target *float32
	switch strings.ToUpper(name) {
	case "REPLAYGAIN_TRACK_GAIN":
		target = &info.Track.Gain
	case "REPLAYGAIN_TRACK_PEAK":
		target = &info.Track.Peak
	case "REPLAYGAIN_ALBUM_GAIN":
		target = &info.Album.Gain
	case "REPLAYGAIN_ALBUM_PEAK":
		target = &info.Album.Peak
	default:
		return false
	}

	v, ok := parseLeadingFloat(value)
	if !ok {
		return false
	}
	*target = v
	return true
}

// parseLeadingFloat parses values such as "-6.48 dB" or "+1.2dB"
func parseLeadingFloat(s string) (float32, bool) {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) {
		c := s[end]
		if (c >= '0' && c <= '9') || c == '.' || c == '-' || c == '+' || c == 'e' || c == 'E' {
			end++
			continue
		}
		break
	}
	v, err := strconv.ParseFloat(s[:end], 32)
	if err != nil {
		return 0, false
	}
	return float32(v), true
}
