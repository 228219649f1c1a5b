// ABOUTME: Output goroutine: command handling and the playback loop
// ABOUTME: Device calls are made with the output lock released
package outputs

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/playd/pkg/audio"
	"github.com/Resonate-Protocol/playd/pkg/audio/output"
	"github.com/Resonate-Protocol/playd/pkg/music"
)

// chunksPerWakeup is how often a long playback loop wakes the player
const chunksPerWakeup = 64

func (c *Control) failure(err error) {
	c.lastError = err
	c.failTime = c.now()
	c.failures++
}

func (c *Control) internalEnable() bool {
	if c.reallyEnabled {
		return true
	}

	c.lastError = nil
	if e, ok := c.device.(output.Enabler); ok {
		c.mu.Unlock()
		err := e.Enable()
		c.mu.Lock()
		if err != nil {
			err = fmt.Errorf("failed to enable output %q: %w", c.name, err)
			log.Error().Err(err).Str("output", c.name).Msg("enable failed")
			c.failure(err)
			return false
		}
	}
	c.reallyEnabled = true
	return true
}

func (c *Control) internalDisable() {
	if !c.reallyEnabled {
		return
	}
	if c.open {
		c.internalClose(false)
	}
	c.reallyEnabled = false

	if e, ok := c.device.(output.Enabler); ok {
		c.mu.Unlock()
		e.Disable()
		c.mu.Lock()
	}
}

func (c *Control) internalOpen(in audio.Format, p *music.Pipe) {
	if !c.internalEnable() {
		return
	}

	c.lastError = nil

	f, err := c.source.open(in, p)
	if err != nil {
		err = fmt.Errorf("failed to open filter for %q: %w", c.name, err)
		log.Error().Err(err).Str("output", c.name).Msg("open failed")
		c.failure(err)
		return
	}

	if c.open && f == c.filterFormat {
		return
	}
	if c.open {
		// the format changed under an open device
		c.internalCloseOutput(true)
	}

	want := f.ApplyMask(c.format)
	c.mu.Unlock()
	actual, err := c.device.Open(want)
	c.mu.Lock()
	if err != nil {
		err = fmt.Errorf("failed to open %q: %w", c.name, err)
		log.Error().Err(err).Str("output", c.name).Str("format", want.String()).Msg("open failed")
		c.source.close()
		c.failure(err)
		return
	}

	if err := c.source.setOutput(actual); err != nil {
		c.mu.Unlock()
		c.device.Close()
		c.mu.Lock()
		err = fmt.Errorf("failed to convert for %q: %w", c.name, err)
		log.Error().Err(err).Str("output", c.name).Msg("open failed")
		c.source.close()
		c.failure(err)
		return
	}

	c.open = true
	c.filterFormat = f
	c.outFormat = actual
	c.source.setSoftwareVolume(c.softwareVolume)

	if actual != in {
		log.Debug().Str("output", c.name).Str("in", in.String()).Str("out", actual.String()).Msg("converting")
	}
	log.Info().Str("output", c.name).Str("format", actual.String()).Msg("opened audio output")
}

// internalCloseOutput closes the device but keeps the source
func (c *Control) internalCloseOutput(drain bool) {
	c.open = false
	c.outFormat = audio.Format{}

	c.mu.Unlock()
	if drain {
		if err := c.device.Drain(); err != nil {
			log.Warn().Err(err).Str("output", c.name).Msg("drain failed")
		}
	} else {
		c.device.Cancel()
	}
	if err := c.device.Close(); err != nil {
		log.Warn().Err(err).Str("output", c.name).Msg("close failed")
	}
	c.mu.Lock()
}

func (c *Control) internalClose(drain bool) {
	c.internalCloseOutput(drain)
	c.filterFormat = audio.Format{}
	c.source.close()
	log.Debug().Str("output", c.name).Msg("closed audio output")
}

func (c *Control) internalCloseError(err error) {
	c.failure(err)
	c.internalClose(false)
}

func (c *Control) internalDrain() {
	c.mu.Unlock()
	err := c.device.Drain()
	c.mu.Lock()
	if err != nil {
		log.Warn().Err(err).Str("output", c.name).Msg("drain failed")
	}
}

// internalPause pauses the device and waits for the next command. Devices
// that cannot pause are closed instead.
func (c *Control) internalPause() {
	c.pause = true
	c.commandFinished()

	c.mu.Unlock()
	err := c.device.Pause()
	c.mu.Lock()

	if err != nil {
		if !errors.Is(err, output.ErrPauseUnsupported) {
			log.Warn().Err(err).Str("output", c.name).Msg("pause failed")
		}
		c.internalClose(false)
	} else {
		for c.command == CommandNone {
			c.wake.Wait()
		}
	}
	c.pause = false
}

func (c *Control) fillSourceOrClose() bool {
	ok, err := c.source.fill()
	if err != nil {
		err = fmt.Errorf("failed to filter for %q: %w", c.name, err)
		log.Error().Err(err).Str("output", c.name).Msg("filter failed")
		c.internalCloseError(err)
		return false
	}
	return ok
}

// playChunk hands the current chunk to the device; false means the
// device failed and was closed
func (c *Control) playChunk() bool {
	if t := c.source.readTag(); t != nil {
		if tagger, ok := c.device.(output.Tagger); ok {
			c.mu.Unlock()
			tagger.SendTag(t)
			c.mu.Lock()
		}
	}

	for c.command == CommandNone {
		data := c.source.pending
		if len(data) == 0 {
			break
		}

		c.mu.Unlock()
		n, err := c.device.Play(data)
		c.mu.Lock()
		if err != nil {
			err = fmt.Errorf("failed to play on %q: %w", c.name, err)
			log.Error().Err(err).Str("output", c.name).Msg("play failed")
			c.internalCloseError(err)
			return false
		}
		if n <= 0 || n > len(data) {
			err := fmt.Errorf("output %q consumed %d of %d bytes", c.name, n, len(data))
			c.internalCloseError(err)
			return false
		}

		if c.source.consumeData(n) {
			c.chunksPlayed++
		}
	}
	return true
}

func (c *Control) chunksConsumed() {
	c.mu.Unlock()
	c.client.ChunksConsumed()
	c.mu.Lock()
}

// internalPlay plays until the pipe runs dry or a command arrives. It
// returns false if there was nothing to play.
func (c *Control) internalPlay() bool {
	if !c.fillSourceOrClose() {
		return false
	}

	c.inPlaybackLoop = true
	defer func() { c.inPlaybackLoop = false }()

	n := 0
	for {
		if c.command != CommandNone {
			return true
		}

		n++
		if n >= chunksPerWakeup {
			// let the player refill the pipe before it runs empty
			c.chunksConsumed()
			n = 0
		}

		if !c.playChunk() || !c.fillSourceOrClose() {
			break
		}
	}

	c.chunksConsumed()
	return true
}

func (c *Control) task() {
	defer close(c.done)

	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		switch c.command {
		case CommandNone:

		case CommandEnable:
			c.internalEnable()
			c.commandFinished()

		case CommandDisable:
			c.internalDisable()
			c.commandFinished()

		case CommandOpen:
			c.internalOpen(c.request.format, c.request.pipe)
			c.commandFinished()

		case CommandClose:
			if c.open {
				c.internalClose(false)
			}
			c.commandFinished()

		case CommandPause:
			if !c.open {
				// failed after the command was sent
				c.commandFinished()
				break
			}
			c.internalPause()
			// check the next command before playing
			continue

		case CommandRelease:
			if !c.open {
				c.commandFinished()
				break
			}
			if c.alwaysOn {
				c.internalPause()
			} else {
				c.internalClose(false)
				c.commandFinished()
			}
			continue

		case CommandDrain:
			if c.open {
				c.internalDrain()
			}
			c.commandFinished()
			continue

		case CommandCancel:
			c.source.cancel()
			if c.open {
				c.mu.Unlock()
				c.device.Cancel()
				c.mu.Lock()
			}
			c.commandFinished()
			continue

		case CommandKill:
			c.internalDisable()
			c.source.cancel()
			c.commandFinished()
			return
		}

		if c.open && c.allowPlay && c.internalPlay() {
			// more chunks may be waiting
			continue
		}

		if c.command == CommandNone {
			c.wokenForPlay = false
			c.wake.Wait()
		}
	}
}
