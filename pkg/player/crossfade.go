// ABOUTME: Cross-fade length calculation from a fixed duration or MixRamp profiles
// ABOUTME: The result is a number of chunks the two songs overlap
package player

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Resonate-Protocol/playd/pkg/audio"
	"github.com/Resonate-Protocol/playd/pkg/music"
	"github.com/rs/zerolog/log"
)

// CrossFadeSettings holds the user's cross-fade options
type CrossFadeSettings struct {
	// Duration of a plain cross-fade; zero disables it
	Duration time.Duration
	// MixRampDB is the loudness at which the songs meet
	MixRampDB float32
	// MixRampDelay is subtracted from the MixRamp overlap; zero or negative
	// disables MixRamp
	MixRampDelay time.Duration
}

// DefaultCrossFade returns settings with cross-fading and MixRamp off
func DefaultCrossFade() CrossFadeSettings {
	return CrossFadeSettings{MixRampDelay: -1}
}

// IsEnabled reports whether any overlap can happen
func (s CrossFadeSettings) IsEnabled() bool {
	return s.Duration > 0
}

// Calculate returns the number of chunks to overlap the next song with the
// current one. It returns 0 when the formats differ, the song is too short
// or cross-fading is off.
func (s CrossFadeSettings) Calculate(totalTime time.Duration, replayGainDB, replayGainPrevDB float32,
	mixRampStart, mixRampPrevEnd string, f, oldFormat audio.Format, maxChunks int) int {

	if totalTime < 0 || s.Duration <= 0 || s.Duration >= totalTime || f != oldFormat || !f.IsValid() {
		return 0
	}

	chunkDuration := f.SizeToTime(music.ChunkSize).Seconds()

	chunks := 0
	if s.MixRampDelay <= 0 || mixRampStart == "" || mixRampPrevEnd == "" {
		chunks = int(math.Round(s.Duration.Seconds() / chunkDuration))
	} else {
		current := mixRampInterpolate(mixRampStart, s.MixRampDB-replayGainDB)
		prev := mixRampInterpolate(mixRampPrevEnd, s.MixRampDB-replayGainPrevDB)
		overlap := current + prev
		delay := s.MixRampDelay.Seconds()
		if current >= 0 && prev >= 0 && delay <= overlap {
			chunks = int(math.Round((overlap - delay) / chunkDuration))
			log.Debug().Int("chunks", chunks).Float64("seconds", overlap-delay).Msg("mixramp overlap")
		}
	}

	if chunks > maxChunks {
		chunks = maxChunks
		log.Warn().Msg("audio buffer too small for the computed MixRamp overlap")
	}
	return chunks
}

// mixRampInterpolate finds the time at which a profile reaches db. The
// profile is a list of "dB seconds" pairs separated by semicolons with dB
// increasing. It returns -1 when the profile is unusable.
func mixRampInterpolate(ramp string, db float32) float64 {
	required := float64(db)
	var lastDB, lastSecs float64
	haveLast := false

	for _, pair := range strings.Split(ramp, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			break
		}
		fields := strings.Fields(pair)
		if len(fields) != 2 {
			break
		}
		d, err := strconv.ParseFloat(fields[0], 32)
		if err != nil {
			break
		}
		secs, err := strconv.ParseFloat(fields[1], 32)
		if err != nil {
			break
		}

		if d == required {
			return secs
		}
		if d < required {
			lastDB, lastSecs, haveLast = d, secs, true
			continue
		}
		if !haveLast {
			// quieter than every stored value
			return secs
		}
		return lastSecs + (secs-lastSecs)*(required-lastDB)/(d-lastDB)
	}
	return -1
}
