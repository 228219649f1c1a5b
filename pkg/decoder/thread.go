// ABOUTME: The decoder goroutine: waits for commands and runs plugins on songs
// ABOUTME: Opens the input, tries candidate plugins in order and records the outcome
package decoder

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/playd/pkg/input"
	"github.com/Resonate-Protocol/playd/pkg/tag"
)

func (dc *Control) run() {
	defer close(dc.done)

	dc.mu.Lock()
	defer dc.mu.Unlock()

	for {
		switch dc.command {
		case CommandStart:
			dc.cycleMixRamp()
			dc.replayGainPrevDB = dc.replayGainDB
			dc.replayGainDB = 0
			dc.runSong()

		case CommandSeek:
			// the seek arrived after the decoder had finished; nobody else
			// knows the pipe is stale, so clear it and restart at the target
			dc.pipe.Clear()
			dc.startTime = dc.seekTime
			dc.runSong()

		case CommandStop:
			dc.commandFinished()

		case CommandNone:
			if dc.quit {
				return
			}
			dc.wait()
		}
	}
}

// runSong decodes dc.song; called and returns with the lock held
func (dc *Control) runSong() {
	dc.ClearError()

	s := dc.song
	uri := s.OpenURI()

	// only a local file's tag is authoritative; remote tags are stale guesses
	var songTag *tag.Tag
	if s.IsFile() && s.Tag != nil && !s.Tag.IsEmpty() {
		songTag = s.Tag
	}
	b := newBridge(dc, dc.startTime > 0, songTag)

	dc.state = StateStart
	dc.commandFinished()

	dc.mu.Unlock()
	err := dc.decodeURI(b, uri, s.Suffix())
	b.finish()
	dc.mu.Lock()

	// plugins often fail on the interrupted read after a stop
	stopped := dc.command == CommandStop
	if stopped {
		err = nil
	}
	if b.err != nil {
		err = b.err
	}

	switch {
	case err != nil:
		dc.state = StateError
		dc.err = err
	case dc.state == StateStart && !stopped:
		dc.state = StateError
		dc.err = fmt.Errorf("failed to decode %s", uri)
	default:
		dc.state = StateStop
	}
	if dc.err != nil {
		log.Error().Err(dc.err).Str("uri", uri).Msg("decoder failed")
	}

	dc.signalClient()
}

// decodeURI runs candidate plugins until one has reported a format; the lock is not held
func (dc *Control) decodeURI(b *Bridge, uri, suffix string) error {
	is, err := input.Open(uri)
	if err != nil {
		return err
	}
	defer is.Close()

	is.SetHandler(func() {
		dc.mu.Lock()
		dc.cond.Broadcast()
		dc.mu.Unlock()
	})

	var path string
	if fs, ok := is.(*input.FileStream); ok {
		path = fs.Path()
	}

	candidates := dc.registry.Candidates(suffix, is.MimeType())
	if len(candidates) == 0 {
		return fmt.Errorf("no decoder plugin for %s", uri)
	}

	for i, p := range candidates {
		if b.lockCommand() == CommandStop {
			return nil
		}
		if i > 0 {
			if err := input.Rewind(is); err != nil {
				log.Debug().Err(err).Str("uri", uri).Msg("cannot rewind for the next plugin")
				break
			}
		}

		var perr error
		switch d := p.(type) {
		case StreamDecoder:
			perr = d.StreamDecode(b, is)
		case FileDecoder:
			if path == "" {
				continue
			}
			perr = d.FileDecode(b, path)
		default:
			continue
		}

		dc.mu.Lock()
		started := dc.state != StateStart
		dc.mu.Unlock()
		if started {
			log.Debug().Str("plugin", p.Name()).Str("uri", uri).Msg("decoded")
			return perr
		}
		if perr != nil {
			log.Debug().Err(perr).Str("plugin", p.Name()).Str("uri", uri).Msg("plugin rejected song")
			if b.err != nil {
				return b.err
			}
		}
	}
	return nil
}
