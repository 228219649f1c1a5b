// ABOUTME: The player goroutine: moves chunks from the decoder pipe to the outputs
// ABOUTME: Handles song borders, cross-fading, seeking and error forwarding
package player

import (
	"fmt"
	"time"

	"github.com/Resonate-Protocol/playd/pkg/audio"
	"github.com/Resonate-Protocol/playd/pkg/decoder"
	"github.com/Resonate-Protocol/playd/pkg/music"
	"github.com/Resonate-Protocol/playd/pkg/song"
	"github.com/Resonate-Protocol/playd/pkg/tag"
	"github.com/rs/zerolog/log"
)

// outputThreshold is the number of chunks kept queued in the outputs
const outputThreshold = 64

type crossFadeState uint8

const (
	// crossFadeUnknown means the overlap has not been calculated for the next song
	crossFadeUnknown crossFadeState = iota
	crossFadeDisabled
	crossFadeEnabled
	// crossFadeActive means chunks of both songs are being mixed
	crossFadeActive
)

// run is the player goroutine. It idles until a SEEK starts playback.
func (c *Control) run() {
	defer close(c.done)
	c.dc.StartThread()

	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		switch c.command {
		case CommandSeek:
			p := newPlayback(c)
			p.run()
			c.listener.OnPlayerSync()

		case CommandStop:
			c.mu.Unlock()
			c.outputs.Cancel()
			c.mu.Lock()
			fallthrough

		case CommandCloseAudio:
			c.mu.Unlock()
			c.outputs.Release()
			c.mu.Lock()
			c.commandFinished()
			if !c.buffer.IsEmpty() {
				log.Warn().Int("outstanding", c.buffer.Outstanding()).Msg("chunks leaked after stop")
			}

		case CommandUpdateAudio:
			c.mu.Unlock()
			c.outputs.EnableDisable()
			c.mu.Lock()
			c.commandFinished()

		case CommandExit:
			c.mu.Unlock()
			c.dc.Quit()
			c.outputs.Close()
			c.mu.Lock()
			c.commandFinished()
			return

		case CommandCancel:
			c.nextSong = nil
			c.commandFinished()

		case CommandPause, CommandQueue, CommandRefresh:
			// nothing is playing; a queued song waits for the next SEEK
			c.commandFinished()

		case CommandNone:
			c.wait()
		}
	}
}

// playback is the state of one run from SEEK until the player stops
type playback struct {
	c  *Control
	dc *decoder.Control

	pipe *music.Pipe

	// buffering waits for enough decoded chunks before playing
	buffering bool
	// decoderStarting waits for the decoder to report the format
	decoderStarting bool
	// decoderWoken avoids waking the decoder after every chunk
	decoderWoken bool
	paused       bool
	// queued means the next song will be played after the current one
	queued     bool
	outputOpen bool

	song *song.Song

	// pendingSeek is applied once the starting decoder is ready
	pendingSeek time.Duration

	playFormat audio.Format

	xfade           crossFadeState
	crossFadeChunks int
	// crossFadeTag holds tags of the song fading in until the fade ends
	crossFadeTag *tag.Tag

	elapsedTime time.Duration
}

func newPlayback(c *Control) *playback {
	return &playback{c: c, dc: c.dc, buffering: true}
}

func (p *playback) isDecoderAtCurrentSong() bool {
	return p.dc.Pipe() == p.pipe
}

func (p *playback) isDecoderAtNextSong() bool {
	return p.dc.Pipe() != nil && !p.isDecoderAtCurrentSong()
}

func (p *playback) resetCrossFade() {
	p.xfade = crossFadeUnknown
}

func (p *playback) replacePipe(next *music.Pipe) {
	p.resetCrossFade()
	p.pipe = next
}

// startDecoder starts decoding the next song into pipe
func (p *playback) startDecoder(pipe *music.Pipe) {
	next := p.c.nextSong
	p.dc.Start(next.Clone(), next.StartTime+p.c.seekTime, next.EndTime, p.c.buffer, pipe)
}

// stopDecoder stops the decoder and drops what it decoded so far
func (p *playback) stopDecoder() {
	p.c.occupied = true
	p.dc.Stop()
	p.c.occupied = false

	if pipe := p.dc.Pipe(); pipe != nil {
		pipe.Clear()
		p.dc.ClearPipe()
		if p.xfade == crossFadeActive {
			p.xfade = crossFadeDisabled
		}
	}
}

// activateDecoder makes the decoder's song the current one
func (p *playback) activateDecoder() {
	p.queued = false
	p.c.taggedSong = nil
	p.song = p.c.nextSong
	p.c.nextSong = nil
	p.elapsedTime = p.c.seekTime
	p.decoderStarting = true
	p.pendingSeek = 0

	p.c.listener.OnPlayerSync()
}

// forwardDecoderError moves a decoder failure to the player error
func (p *playback) forwardDecoderError() bool {
	if err := p.dc.Err(); err != nil {
		p.c.setError(ErrorDecoder, err)
		return false
	}
	return true
}

func (p *playback) cancelPendingSeek() {
	p.pendingSeek = 0
	p.c.cancelPendingSeek()
}

// openOutput opens the outputs with the play format; a failure pauses so
// the user can resume once an output is available
func (p *playback) openOutput() bool {
	p.c.mu.Unlock()
	err := p.c.outputs.Open(p.playFormat)
	p.c.mu.Lock()

	if err != nil {
		log.Error().Err(err).Msg("failed to open audio outputs")
		p.outputOpen = false
		p.paused = true
		p.c.setOutputError(err)
		p.c.listener.OnPlayerIdle(IdlePlayer)
		return false
	}

	p.outputOpen = true
	p.paused = false
	p.c.state = StatePlay
	p.c.listener.OnPlayerIdle(IdlePlayer)
	return true
}

// checkDecoderStartup waits for the decoder to become ready and then opens
// the outputs; false means the decoder failed
func (p *playback) checkDecoderStartup() bool {
	if !p.forwardDecoderError() {
		return false
	}

	if p.dc.IsStarting() {
		p.dc.WaitForDecoder()
		return true
	}

	if p.outputOpen && !p.waitOutputConsumed(1) {
		// the outputs are still playing the previous song
		return true
	}

	p.c.totalTime = p.dc.Song().RealDuration(p.dc.TotalTime())
	p.c.audioFormat = p.dc.InFormat()
	p.playFormat = p.dc.OutFormat()
	p.decoderStarting = false
	p.c.listener.OnPlayerIdle(IdlePlayer)

	if p.pendingSeek > 0 {
		ok := p.seekDecoderTo(p.pendingSeek)
		p.c.seeking = false
		p.c.clientSignal()
		if !ok {
			return false
		}
		p.buffering = true
	} else if p.c.seeking {
		p.c.seeking = false
		p.c.clientSignal()
		p.buffering = true
	}

	if !p.paused && !p.openOutput() {
		log.Error().Str("uri", p.dc.Song().URI).Msg("problems opening audio device")
	}
	return true
}

func (p *playback) waitOutputConsumed(threshold int) bool {
	return p.c.waitOutputConsumed(threshold)
}

// seekDecoderTo seeks within the song the decoder is working on
func (p *playback) seekDecoderTo(t time.Duration) bool {
	if p.c.totalTime >= 0 && t > p.c.totalTime {
		t = p.c.totalTime
	}

	p.c.occupied = true
	err := p.dc.Seek(p.song.StartTime + t)
	p.c.occupied = false
	if err != nil {
		p.c.setError(ErrorDecoder, err)
		return false
	}

	p.elapsedTime = t
	return true
}

// seekDecoder handles SEEK: seek within the current song or restart the
// decoder on the requested one
func (p *playback) seekDecoder() bool {
	next := p.c.nextSong

	if p.c.seekTime > 0 && p.dc.IsUnseekableCurrentSong(next) {
		// restarting would not help either
		p.c.nextSong = nil
		p.c.setError(ErrorDecoder, decoder.ErrNotSeekable)
		p.c.commandFinished()
		return true
	}

	p.cancelPendingSeek()

	p.c.mu.Unlock()
	p.c.outputs.Cancel()
	p.c.mu.Lock()

	p.c.listener.OnPlayerIdle(IdlePlayer)

	if !p.dc.IsSeekableCurrentSong(next) {
		// the decoder is busy with another song: start over
		p.stopDecoder()
		p.pipe.Clear()

		p.startDecoder(p.pipe)
		p.activateDecoder()

		p.c.seeking = true
		p.c.commandFinished()
		return true
	}

	if !p.isDecoderAtCurrentSong() {
		// the queued song is the same file; take its pipe
		p.replacePipe(p.dc.Pipe())
	}

	p.c.nextSong = nil
	p.queued = false

	if p.decoderStarting {
		// seek once the decoder is ready
		p.pendingSeek = p.c.seekTime
		p.c.seeking = true
		p.c.commandFinished()
		return true
	}

	if !p.seekDecoderTo(p.c.seekTime) {
		p.c.commandFinished()
		return false
	}

	p.c.commandFinished()
	p.buffering = true
	return true
}

// processCommand runs the command posted while playing
func (p *playback) processCommand() {
	c := p.c
	switch c.command {
	case CommandNone, CommandStop, CommandExit, CommandCloseAudio:

	case CommandUpdateAudio:
		c.mu.Unlock()
		c.outputs.EnableDisable()
		c.mu.Lock()
		c.commandFinished()

	case CommandQueue:
		if c.nextSong == nil || p.queued || p.isDecoderAtNextSong() {
			panic("player: QUEUE while a song is already queued")
		}
		p.queued = true
		c.commandFinished()

		if p.dc.IsIdle() {
			p.startDecoder(music.NewPipe())
		}

	case CommandPause:
		p.paused = !p.paused
		if p.paused {
			c.state = StatePause
			c.mu.Unlock()
			c.outputs.Pause()
			c.mu.Lock()
		} else if !p.playFormat.IsDefined() {
			// the outputs open once the decoder reports a format
			c.state = StatePlay
		} else {
			p.openOutput()
		}
		c.commandFinished()

	case CommandSeek:
		p.seekDecoder()

	case CommandCancel:
		if c.nextSong == nil {
			// too late: the queued song is already playing
			c.command = CommandStop
			return
		}
		if p.isDecoderAtNextSong() {
			p.stopDecoder()
		}
		c.nextSong = nil
		p.queued = false
		c.commandFinished()

	case CommandRefresh:
		if p.outputOpen && !p.paused {
			c.mu.Unlock()
			c.outputs.CheckPipe()
			c.mu.Lock()
		}
		if e := c.outputs.ElapsedTime(); e >= 0 {
			c.elapsedTime = e
		} else {
			c.elapsedTime = p.elapsedTime
		}
		c.commandFinished()
	}
}

func (p *playback) stopRequested() bool {
	switch p.c.command {
	case CommandStop, CommandExit, CommandCloseAudio:
		return true
	}
	return false
}

// updateSongTag applies a tag that arrived inside a remote stream
func (p *playback) updateSongTag(t *tag.Tag) {
	if p.song.IsFile() {
		// files do not change their tags while playing
		return
	}
	p.song.SetTag(t)
	p.c.lockSetTaggedSong(p.song)
	p.c.listener.OnPlayerTagModified()
	p.c.listener.OnPlayerIdle(IdlePlayer)
}

// playChunk sends one chunk to the outputs. Called without the lock.
func (p *playback) playChunk(chunk *music.Chunk) error {
	if chunk.Tag != nil {
		p.updateSongTag(chunk.Tag)
	}
	if chunk.IsEmpty() {
		chunk.Release()
		return nil
	}
	if !chunk.CheckFormat(p.playFormat) {
		panic(fmt.Sprintf("player: %s chunk while playing %s", chunk.Format(), p.playFormat))
	}

	n := chunk.Len()
	p.c.mu.Lock()
	p.c.bitRate = chunk.BitRate
	p.c.mu.Unlock()

	if err := p.c.outputs.Play(chunk); err != nil {
		return fmt.Errorf("failed to play %q: %w", p.song.URI, err)
	}

	p.c.mu.Lock()
	p.c.totalPlayTime += p.playFormat.SizeToTime(n)
	p.c.mu.Unlock()
	return nil
}

// playNextChunk moves one chunk to the outputs, mixing in the next song
// while cross-fading. Called without the lock; false means the outputs
// failed.
func (p *playback) playNextChunk() bool {
	if !p.c.lockWaitOutputConsumed(outputThreshold) {
		// the outputs have enough to play
		return true
	}

	p.c.mu.Lock()
	if p.xfade == crossFadeEnabled && p.isDecoderAtNextSong() && p.pipe.Size() <= p.crossFadeChunks {
		// the fade may be shorter than planned if the song ends early
		p.crossFadeChunks = p.pipe.Size()
		p.xfade = crossFadeActive
	}

	var chunk *music.Chunk
	if p.xfade == crossFadeActive {
		position := p.pipe.Size()
		other := p.dc.Pipe().Shift()
		if other != nil {
			chunk = p.pipe.Shift()

			// the incoming song's tags wait until the old song is gone
			p.crossFadeTag = tag.Merge(p.crossFadeTag, other.Tag)
			other.Tag = nil

			if p.c.crossFade.MixRampDelay <= 0 {
				chunk.MixRatio = float32(position) / float32(p.crossFadeChunks)
			} else {
				chunk.MixRatio = -1
			}

			if other.IsEmpty() {
				// a tag-only chunk at the start of the song cannot be mixed
				other.Release()
				other = nil
			}
			chunk.Other = other
		} else if p.dc.IsIdle() {
			// the next song ended before the fade did
			p.xfade = crossFadeDisabled
		} else {
			p.dc.Signal()
			p.dc.WaitForDecoder()
			p.c.mu.Unlock()
			return true
		}
	}

	if chunk == nil {
		chunk = p.pipe.Shift()
	}

	if p.xfade != crossFadeActive && p.crossFadeTag != nil {
		chunk.Tag = tag.Merge(chunk.Tag, p.crossFadeTag)
		p.crossFadeTag = nil
	}
	p.c.mu.Unlock()

	if err := p.playChunk(chunk); err != nil {
		log.Error().Err(err).Msg("output failed")
		// the user may resume once an output is available again
		p.c.mu.Lock()
		p.paused = true
		p.c.setOutputError(err)
		p.c.mu.Unlock()
		p.c.listener.OnPlayerIdle(IdlePlayer)
		return false
	}

	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	// wake the decoder in batches rather than for each chunk
	if !p.dc.IsIdle() && p.dc.Pipe() != nil && p.dc.Pipe().Size() <= p.c.buffer.Size()*3/4 {
		if !p.decoderWoken {
			p.decoderWoken = true
			p.dc.Signal()
		}
	} else {
		p.decoderWoken = false
	}
	return true
}

// songBorder switches to the pipe of the song that was queued
func (p *playback) songBorder() {
	log.Info().Str("uri", p.song.URI).Msg("played")

	p.replacePipe(p.dc.Pipe())

	p.c.mu.Unlock()
	p.c.outputs.SongBorder()
	p.c.mu.Lock()

	p.activateDecoder()

	if p.c.applyBorderPause() {
		p.paused = true
		p.c.listener.OnBorderPause()

		// let the old song finish before the outputs drop their buffers
		p.c.mu.Unlock()
		p.c.outputs.Drain()
		p.c.outputs.Pause()
		p.c.mu.Lock()

		p.c.listener.OnPlayerIdle(IdlePlayer)
	}
}

// checkOutputs returns the number of chunks the outputs still hold
func (p *playback) checkOutputs() int {
	p.c.mu.Unlock()
	defer p.c.mu.Lock()
	return p.c.outputs.CheckPipe()
}

// run plays until the queue runs dry or a stop command arrives. The caller
// holds the lock and has posted SEEK.
func (p *playback) run() {
	c := p.c
	p.pipe = music.NewPipe()

	p.startDecoder(p.pipe)
	p.activateDecoder()
	c.state = StatePlay
	c.seeking = true
	c.commandFinished()

loop:
	for {
		p.processCommand()
		if p.stopRequested() {
			c.mu.Unlock()
			c.outputs.Cancel()
			c.mu.Lock()
			break
		}

		if p.decoderStarting {
			if !p.checkDecoderStartup() {
				break
			}
			continue
		}

		if p.buffering {
			if p.pipe.Size() < c.bufferedBeforePlay && !p.dc.IsIdle() && c.buffer.Available() > 0 {
				p.dc.WaitForDecoder()
				continue
			}
			p.buffering = false
		}

		if p.dc.IsIdle() && p.queued && p.isDecoderAtCurrentSong() {
			// the current song is fully decoded; start the next one
			p.startDecoder(music.NewPipe())
		}

		if !c.borderPause && p.isDecoderAtNextSong() && p.xfade == crossFadeUnknown && !p.dc.IsStarting() {
			p.crossFadeChunks = c.crossFade.Calculate(p.dc.TotalTime(),
				p.dc.ReplayGainDB(), p.dc.ReplayGainPrevDB(),
				p.dc.MixRampStart(), p.dc.MixRampPrevEnd(),
				p.dc.OutFormat(), p.playFormat,
				c.buffer.Size()-c.bufferedBeforePlay)
			if p.crossFadeChunks > 0 {
				p.xfade = crossFadeEnabled
			} else {
				p.xfade = crossFadeDisabled
			}
		}

		switch {
		case p.paused:
			if c.command == CommandNone {
				c.wait()
			}

		case !p.pipe.IsEmpty():
			c.mu.Unlock()
			p.playNextChunk()
			c.mu.Lock()

		case p.checkOutputs() > 0:
			// the outputs are busy; give the decoder a chance to refill
			p.dc.Signal()
			p.dc.WaitForDecoder()

		case p.isDecoderAtNextSong():
			p.songBorder()

		case p.dc.IsIdle():
			// the decoder may have pushed something since the last check
			if p.pipe.IsEmpty() {
				p.forwardDecoderError()
				c.mu.Unlock()
				c.outputs.Drain()
				c.mu.Lock()
				break loop
			}

		default:
			// the decoder is late
			p.dc.Signal()
			p.dc.WaitForDecoder()
		}
	}

	p.finish()
}

// finish stops decoding and resets the player to STOP
func (p *playback) finish() {
	c := p.c
	p.cancelPendingSeek()
	p.stopDecoder()

	if p.pipe != nil {
		p.pipe.Clear()
		p.pipe = nil
	}
	p.crossFadeTag = nil

	if p.song != nil {
		log.Info().Str("uri", p.song.URI).Msg("played")
		p.song = nil
	}
	c.taggedSong = nil

	if p.queued {
		c.nextSong = nil
	}
	c.state = StateStop
}
