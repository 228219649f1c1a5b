// ABOUTME: Shared state between the player goroutine and the decoder goroutine
// ABOUTME: Command handshake, decoder lifecycle queries and per-song parameters
package decoder

import (
	"errors"
	"sync"
	"time"

	"github.com/Resonate-Protocol/playd/pkg/audio"
	"github.com/Resonate-Protocol/playd/pkg/music"
	"github.com/Resonate-Protocol/playd/pkg/replaygain"
	"github.com/Resonate-Protocol/playd/pkg/song"
	"github.com/Resonate-Protocol/playd/pkg/tag"
)

var (
	// ErrDecoderDead is returned by Seek when no song is being decoded
	ErrDecoderDead = errors.New("decoder is dead")
	// ErrNotSeekable is returned by Seek when the current song cannot seek
	ErrNotSeekable = errors.New("not seekable")
	// ErrSeekFailed is returned by Seek when the plugin reported a seek error
	ErrSeekFailed = errors.New("decoder failed to seek")
)

// Config holds the parameters fixed for the lifetime of a Control
type Config struct {
	// ConfiguredFormat is a mask applied to every decoded format
	ConfiguredFormat audio.Format
	ReplayGain       replaygain.Config
	Registry         *Registry
}

// Control is the decoder half of the pipeline. It shares its mutex with the
// player; methods whose name starts with Lock acquire it, all others expect
// the caller to hold it.
type Control struct {
	mu *sync.Mutex
	// cond wakes the decoder goroutine
	cond *sync.Cond
	// clientCond wakes the player goroutine
	clientCond *sync.Cond

	configuredFormat audio.Format
	replayGainConfig replaygain.Config
	registry         *Registry

	done chan struct{}
	quit bool

	state           State
	command         Command
	err             error
	clientIsWaiting bool

	seekError bool
	seekable  bool
	seekTime  time.Duration

	inFormat  audio.Format
	outFormat audio.Format

	song      *song.Song
	startTime time.Duration
	endTime   time.Duration
	totalTime time.Duration

	buffer *music.Buffer
	pipe   *music.Pipe

	replayGainMode   replaygain.Mode
	replayGainDB     float32
	replayGainPrevDB float32

	mixRamp         tag.MixRamp
	previousMixRamp tag.MixRamp
}

// NewControl creates a decoder control sharing mu and clientCond with the player
func NewControl(mu *sync.Mutex, clientCond *sync.Cond, cfg Config) *Control {
	reg := cfg.Registry
	if reg == nil {
		reg = NewRegistry()
	}
	return &Control{
		mu:               mu,
		cond:             sync.NewCond(mu),
		clientCond:       clientCond,
		configuredFormat: cfg.ConfiguredFormat,
		replayGainConfig: cfg.ReplayGain,
		registry:         reg,
		totalTime:        -1,
	}
}

// StartThread launches the decoder goroutine
func (dc *Control) StartThread() {
	dc.done = make(chan struct{})
	go dc.run()
}

// Quit stops the decoder goroutine and waits for it to exit
func (dc *Control) Quit() {
	dc.mu.Lock()
	dc.quit = true
	dc.asynchronousCommand(CommandStop)
	dc.mu.Unlock()
	<-dc.done
}

// Signal wakes the decoder goroutine
func (dc *Control) Signal() {
	dc.cond.Signal()
}

// wait blocks the decoder goroutine until Signal
func (dc *Control) wait() {
	dc.cond.Wait()
}

// WaitForDecoder blocks the player until the decoder signals progress
func (dc *Control) WaitForDecoder() {
	dc.clientIsWaiting = true
	dc.clientCond.Wait()
	dc.clientIsWaiting = false
}

func (dc *Control) signalClient() {
	dc.clientCond.Broadcast()
}

func (dc *Control) asynchronousCommand(cmd Command) {
	dc.command = cmd
	dc.Signal()
}

func (dc *Control) synchronousCommand(cmd Command) {
	dc.asynchronousCommand(cmd)
	for dc.command != CommandNone {
		dc.WaitForDecoder()
	}
}

// commandFinished acknowledges the pending command; runs on the decoder goroutine
func (dc *Control) commandFinished() {
	dc.command = CommandNone
	dc.signalClient()
}

// Start begins decoding s into pipe and returns once the decoder has taken the song
func (dc *Control) Start(s *song.Song, startTime, endTime time.Duration, buffer *music.Buffer, pipe *music.Pipe) {
	if !pipe.IsEmpty() {
		panic("decoder: start with a non-empty pipe")
	}
	dc.song = s
	dc.startTime = startTime
	dc.endTime = endTime
	dc.buffer = buffer
	dc.pipe = pipe
	dc.ClearError()
	dc.synchronousCommand(CommandStart)
}

// Stop cancels the current song. A command that is still pending is replaced.
func (dc *Control) Stop() {
	if dc.command != CommandNone {
		// the decoder may already be executing the old command; we check
		// the state and stop again below in that case
		dc.synchronousCommand(CommandStop)
	}
	if dc.state != StateStop && dc.state != StateError {
		dc.synchronousCommand(CommandStop)
	}
}

// Seek moves decoding of the current song to t, measured from the start of the file
func (dc *Control) Seek(t time.Duration) error {
	if dc.state != StateDecode {
		return ErrDecoderDead
	}
	if !dc.seekable {
		return ErrNotSeekable
	}
	dc.seekTime = t
	dc.seekError = false
	dc.synchronousCommand(CommandSeek)

	// a seek that arrived after the decoder went idle restarts the song;
	// wait until the plugin is ready again
	for dc.state == StateStart {
		dc.WaitForDecoder()
	}
	if dc.seekError {
		return ErrSeekFailed
	}
	return nil
}

// setReady is called by the bridge once the plugin knows the format
func (dc *Control) setReady(in, out audio.Format, seekable bool, duration time.Duration) {
	dc.inFormat = in
	dc.outFormat = out
	dc.seekable = seekable
	dc.totalTime = duration
	dc.state = StateDecode
	dc.signalClient()
}

// ClearError resets a failed decoder to the stopped state
func (dc *Control) ClearError() {
	if dc.state == StateError {
		dc.err = nil
		dc.state = StateStop
	}
}

// Err returns the error of a failed song
func (dc *Control) Err() error {
	if dc.state == StateError {
		return dc.err
	}
	return nil
}

// LockErr is Err with the lock acquired
func (dc *Control) LockErr() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.Err()
}

// State returns the current decoder state
func (dc *Control) State() State {
	return dc.state
}

// Command returns the pending command
func (dc *Control) Command() Command {
	return dc.command
}

// IsIdle reports whether the decoder has nothing to do
func (dc *Control) IsIdle() bool {
	return dc.state == StateStop || dc.state == StateError
}

// LockIsIdle is IsIdle with the lock acquired
func (dc *Control) LockIsIdle() bool {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.IsIdle()
}

// IsStarting reports whether a plugin has not yet reported the format
func (dc *Control) IsStarting() bool {
	return dc.state == StateStart
}

// HasFailed reports whether the last song failed to decode
func (dc *Control) HasFailed() bool {
	return dc.state == StateError
}

// IsCurrentSong reports whether s is the song being decoded
func (dc *Control) IsCurrentSong(s *song.Song) bool {
	switch dc.state {
	case StateStart, StateDecode:
		return song.IsSame(dc.song, s)
	}
	return false
}

// IsSeekableCurrentSong reports whether s is current and can seek
func (dc *Control) IsSeekableCurrentSong(s *song.Song) bool {
	return dc.seekable && dc.IsCurrentSong(s)
}

// IsUnseekableCurrentSong reports whether s is current and cannot seek
func (dc *Control) IsUnseekableCurrentSong(s *song.Song) bool {
	return !dc.seekable && dc.IsCurrentSong(s)
}

// Song returns the song handed to the last Start
func (dc *Control) Song() *song.Song {
	return dc.song
}

// Pipe returns the pipe the decoder writes into, nil after ClearPipe
func (dc *Control) Pipe() *music.Pipe {
	return dc.pipe
}

// ClearPipe detaches the pipe once the player has taken it over
func (dc *Control) ClearPipe() {
	dc.pipe = nil
}

// InFormat is the format reported by the plugin
func (dc *Control) InFormat() audio.Format {
	return dc.inFormat
}

// OutFormat is the format of the chunks written to the pipe
func (dc *Control) OutFormat() audio.Format {
	return dc.outFormat
}

// TotalTime is the decoded duration, negative when unknown
func (dc *Control) TotalTime() time.Duration {
	return dc.totalTime
}

// SetReplayGainMode selects which replay gain tuple feeds ReplayGainDB
func (dc *Control) SetReplayGainMode(m replaygain.Mode) {
	dc.replayGainMode = m
}

// ReplayGainDB is the gain applied to the current song
func (dc *Control) ReplayGainDB() float32 {
	return dc.replayGainDB
}

// ReplayGainPrevDB is the gain applied to the previous song
func (dc *Control) ReplayGainPrevDB() float32 {
	return dc.replayGainPrevDB
}

// MixRampStart returns the mixramp start profile of the current song
func (dc *Control) MixRampStart() string {
	return dc.mixRamp.Start
}

// MixRampPrevEnd returns the mixramp end profile of the previous song
func (dc *Control) MixRampPrevEnd() string {
	return dc.previousMixRamp.End
}

func (dc *Control) setMixRamp(m tag.MixRamp) {
	dc.mixRamp = m
}

// cycleMixRamp moves the current profile to previous before a new song
func (dc *Control) cycleMixRamp() {
	dc.previousMixRamp = dc.mixRamp
	dc.mixRamp = tag.MixRamp{}
}
