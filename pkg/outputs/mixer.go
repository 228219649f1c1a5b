// ABOUTME: Output mixers: software volume in the filter chain or the device's own control
// ABOUTME: Aggregate volume is the average over enabled, open outputs with a mixer
package outputs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/playd/pkg/audio/output"
)

// ErrNoMixer is returned by SetVolume when no output has a usable mixer
var ErrNoMixer = errors.New("no mixer available")

// MixerType selects how an output's volume is controlled
type MixerType uint8

const (
	// MixerDefault picks hardware when the device has a mixer, else software
	MixerDefault MixerType = iota
	MixerNone
	MixerSoftware
	MixerHardware
)

func (m MixerType) String() string {
	switch m {
	case MixerNone:
		return "none"
	case MixerSoftware:
		return "software"
	case MixerHardware:
		return "hardware"
	}
	return "default"
}

// ParseMixerType parses "none", "software", "hardware" or "" for the default
func ParseMixerType(s string) (MixerType, error) {
	switch strings.ToLower(s) {
	case "":
		return MixerDefault, nil
	case "none", "null":
		return MixerNone, nil
	case "software":
		return MixerSoftware, nil
	case "hardware":
		return MixerHardware, nil
	}
	return MixerDefault, fmt.Errorf("invalid mixer type %q", s)
}

// LockVolume returns the volume in percent, or -1 if the output is
// disabled, closed or has no mixer
func (c *Control) LockVolume() int {
	c.mu.Lock()
	usable := c.enabled && c.open
	mixerType := c.mixerType
	software := c.softwareVolume
	c.mu.Unlock()

	if !usable {
		return -1
	}

	switch mixerType {
	case MixerSoftware:
		return software
	case MixerHardware:
		v, err := c.device.(output.Mixer).Volume()
		if err != nil {
			log.Warn().Err(err).Str("output", c.name).Msg("failed to read volume")
			return -1
		}
		return v
	}
	return -1
}

// LockSetVolume changes the volume of this output's mixer
func (c *Control) LockSetVolume(percent int) error {
	percent = max(0, min(100, percent))

	c.mu.Lock()
	enabled := c.enabled
	open := c.open
	mixerType := c.mixerType
	if enabled && mixerType == MixerSoftware {
		c.softwareVolume = percent
		c.source.setSoftwareVolume(percent)
	}
	c.mu.Unlock()

	if !enabled {
		return ErrNoMixer
	}

	switch mixerType {
	case MixerSoftware:
		return nil
	case MixerHardware:
		if !open {
			return ErrNoMixer
		}
		if err := c.device.(output.Mixer).SetVolume(percent); err != nil {
			return fmt.Errorf("failed to set volume on %q: %w", c.name, err)
		}
		return nil
	}
	return ErrNoMixer
}

// GetVolume returns the average volume, or -1 when no output has one
func (m *MultipleOutputs) GetVolume() int {
	total, ok := 0, 0
	for _, c := range m.outputs {
		if v := c.LockVolume(); v >= 0 {
			total += v
			ok++
		}
	}
	if ok == 0 {
		return -1
	}
	return total / ok
}

// SetVolume sets every mixer; it fails only if no mixer took the value
func (m *MultipleOutputs) SetVolume(percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("volume %d out of range", percent)
	}

	var firstErr error
	success := false
	for _, c := range m.outputs {
		err := c.LockSetVolume(percent)
		if err == nil {
			success = true
			continue
		}
		if !errors.Is(err, ErrNoMixer) {
			log.Warn().Err(err).Str("output", c.name).Msg("volume change failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if success {
		return nil
	}
	if firstErr != nil {
		return firstErr
	}
	return ErrNoMixer
}
