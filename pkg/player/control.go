// ABOUTME: Client side of the player: a one-slot command mailbox and status
// ABOUTME: Commands block until the player goroutine acknowledges them
package player

import (
	"sync"
	"time"

	"github.com/Resonate-Protocol/playd/pkg/audio"
	"github.com/Resonate-Protocol/playd/pkg/decoder"
	"github.com/Resonate-Protocol/playd/pkg/music"
	"github.com/Resonate-Protocol/playd/pkg/replaygain"
	"github.com/Resonate-Protocol/playd/pkg/song"
)

// State is the playback state
type State uint8

const (
	StateStop State = iota
	StatePlay
	StatePause
)

func (s State) String() string {
	switch s {
	case StateStop:
		return "stop"
	case StatePlay:
		return "play"
	case StatePause:
		return "pause"
	}
	return "unknown"
}

// Command is a request to the player goroutine
type Command uint8

const (
	CommandNone Command = iota
	CommandExit
	CommandStop
	CommandPause
	CommandSeek
	CommandCloseAudio
	CommandUpdateAudio
	CommandQueue
	CommandCancel
	CommandRefresh
)

var commandNames = [...]string{
	CommandNone:        "none",
	CommandExit:        "exit",
	CommandStop:        "stop",
	CommandPause:       "pause",
	CommandSeek:        "seek",
	CommandCloseAudio:  "close_audio",
	CommandUpdateAudio: "update_audio",
	CommandQueue:       "queue",
	CommandCancel:      "cancel",
	CommandRefresh:     "refresh",
}

func (c Command) String() string {
	if int(c) < len(commandNames) {
		return commandNames[c]
	}
	return "unknown"
}

// Outputs is the audio output fan-out the player feeds
type Outputs interface {
	Open(audio.Format) error
	Play(*music.Chunk) error
	CheckPipe() int
	Pause()
	Drain()
	Cancel()
	Close()
	Release()
	SongBorder()
	ElapsedTime() time.Duration
	EnableDisable()
	SetReplayGainMode(replaygain.Mode)
}

// Config holds the parameters fixed for the lifetime of a Control
type Config struct {
	// BufferChunks is the size of the chunk pool
	BufferChunks int
	// BufferedBeforePlay is the number of chunks decoded before playback starts
	BufferedBeforePlay int
	// ConfiguredFormat is a mask applied to every decoded format
	ConfiguredFormat audio.Format
	ReplayGain       replaygain.Config
	ReplayGainMode   replaygain.Mode
	CrossFade        CrossFadeSettings
	Registry         *decoder.Registry
}

// Status is a snapshot for clients
type Status struct {
	State       State
	BitRate     uint16
	Format      audio.Format
	TotalTime   time.Duration
	ElapsedTime time.Duration
	// TotalPlayTime is the audio handed to the outputs since startup
	TotalPlayTime time.Duration
}

// SyncInfo is what the queue needs to follow the player
type SyncInfo struct {
	State       State
	HasNextSong bool
}

// Control is the player. All fields below mu are guarded by the pipeline
// lock, which is shared with the decoder.
type Control struct {
	listener Listener
	outputs  Outputs
	buffer   *music.Buffer
	dc       *decoder.Control

	bufferedBeforePlay int

	mu sync.Mutex
	// cond wakes the player goroutine; the decoder and outputs signal it
	cond *sync.Cond
	// clientCond wakes callers waiting for a command to finish
	clientCond *sync.Cond

	started bool
	done    chan struct{}

	command  Command
	state    State
	errKind  ErrorKind
	err      error
	occupied bool
	seeking  bool

	nextSong   *song.Song
	taggedSong *song.Song
	seekTime   time.Duration

	borderPause bool
	crossFade   CrossFadeSettings

	bitRate       uint16
	audioFormat   audio.Format
	totalTime     time.Duration
	elapsedTime   time.Duration
	totalPlayTime time.Duration
}

// New creates a stopped player; the goroutine starts with the first Play
func New(l Listener, outputs Outputs, cfg Config) *Control {
	if l == nil {
		l = NopListener{}
	}
	chunks := cfg.BufferChunks
	if chunks <= 0 {
		chunks = DefaultBufferChunks
	}
	before := min(max(cfg.BufferedBeforePlay, 0), chunks)

	c := &Control{
		listener:           l,
		outputs:            outputs,
		buffer:             music.NewBuffer(chunks),
		bufferedBeforePlay: before,
		crossFade:          cfg.CrossFade,
		totalTime:          -1,
	}
	c.cond = sync.NewCond(&c.mu)
	c.clientCond = sync.NewCond(&c.mu)
	c.dc = decoder.NewControl(&c.mu, c.cond, decoder.Config{
		ConfiguredFormat: cfg.ConfiguredFormat,
		ReplayGain:       cfg.ReplayGain,
		Registry:         cfg.Registry,
	})
	c.dc.SetReplayGainMode(cfg.ReplayGainMode)
	outputs.SetReplayGainMode(cfg.ReplayGainMode)
	return c
}

// DefaultBufferChunks is used when the configuration leaves the pool size open
const DefaultBufferChunks = 1024

// Buffer returns the chunk pool, for metrics
func (c *Control) Buffer() *music.Buffer {
	return c.buffer
}

func (c *Control) startThread() {
	if c.started {
		return
	}
	c.started = true
	c.done = make(chan struct{})
	go c.run()
}

// signal wakes the player goroutine
func (c *Control) signal() {
	c.cond.Signal()
}

func (c *Control) lockSignal() {
	c.mu.Lock()
	c.signal()
	c.mu.Unlock()
}

// wait blocks the player goroutine until signal
func (c *Control) wait() {
	c.cond.Wait()
}

func (c *Control) clientSignal() {
	c.clientCond.Broadcast()
}

func (c *Control) commandFinished() {
	c.command = CommandNone
	c.clientSignal()
}

// synchronousCommand waits for the mailbox to be free, posts cmd and waits
// until the player acknowledged it. The caller holds mu.
func (c *Control) synchronousCommand(cmd Command) {
	for c.command != CommandNone {
		c.clientCond.Wait()
	}
	c.command = cmd
	c.signal()
	for c.command != CommandNone {
		c.clientCond.Wait()
	}
}

func (c *Control) lockSynchronousCommand(cmd Command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.synchronousCommand(cmd)
}

// waitOutputConsumed reports whether fewer than threshold chunks are queued
// in the outputs, waiting once for them to make progress. The caller holds mu.
func (c *Control) waitOutputConsumed(threshold int) bool {
	result := c.outputs.CheckPipe() < threshold
	if !result && c.command == CommandNone {
		c.wait()
		result = c.outputs.CheckPipe() < threshold
	}
	return result
}

func (c *Control) lockWaitOutputConsumed(threshold int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waitOutputConsumed(threshold)
}

// ChunksConsumed is called by the outputs when they finished chunks
func (c *Control) ChunksConsumed() {
	c.lockSignal()
}

// ApplyEnabled is called by the outputs when an output was toggled
func (c *Control) ApplyEnabled() {
	c.UpdateAudio()
}

// Play starts s from the beginning and resumes a paused player
func (c *Control) Play(s *song.Song) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startThread()

	if err := c.seekLocked(s, 0); err != nil {
		return err
	}
	if c.state == StatePause {
		c.pauseLocked()
	}
	return nil
}

// Seek starts s at t, which is relative to the song's start time. It
// returns once the decoder is ready or failed.
func (c *Control) Seek(s *song.Song, t time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startThread()
	return c.seekLocked(s, t)
}

func (c *Control) seekLocked(s *song.Song, t time.Duration) error {
	// the SEEK command needs the next song slot
	if c.nextSong != nil {
		c.synchronousCommand(CommandCancel)
	}

	c.clearError()
	c.nextSong = s.Clone()
	c.seekTime = t
	c.synchronousCommand(CommandSeek)

	for c.seeking {
		c.clientCond.Wait()
	}
	return c.errorLocked()
}

// EnqueueSong stages s to follow the current song
func (c *Control) EnqueueSong(s *song.Song) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nextSong != nil {
		return ErrNextSongQueued
	}
	c.startThread()

	c.nextSong = s.Clone()
	c.seekTime = 0
	c.synchronousCommand(CommandQueue)
	return nil
}

// Cancel drops the queued song
func (c *Control) Cancel() {
	if !c.isStarted() {
		return
	}
	c.lockSynchronousCommand(CommandCancel)
}

// Stop ends playback and releases the outputs
func (c *Control) Stop() {
	if !c.isStarted() {
		return
	}
	c.lockSynchronousCommand(CommandCloseAudio)
	c.listener.OnPlayerIdle(IdlePlayer)
}

// UpdateAudio applies changed output enable flags
func (c *Control) UpdateAudio() {
	if !c.isStarted() {
		return
	}
	c.lockSynchronousCommand(CommandUpdateAudio)
}

// Kill stops the player goroutine, the decoder and all outputs
func (c *Control) Kill() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.synchronousCommand(CommandExit)
	done := c.done
	c.mu.Unlock()

	<-done
	c.listener.OnPlayerIdle(IdlePlayer)
}

func (c *Control) isStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

func (c *Control) pauseLocked() {
	if c.state != StateStop {
		c.synchronousCommand(CommandPause)
		c.listener.OnPlayerIdle(IdlePlayer)
	}
}

// Pause toggles between play and pause
func (c *Control) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pauseLocked()
}

// SetPause pauses or resumes; it does nothing when stopped
func (c *Control) SetPause(pause bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	switch c.state {
	case StatePlay:
		if pause {
			c.pauseLocked()
		}
	case StatePause:
		if !pause {
			c.pauseLocked()
		}
	}
}

// SetBorderPause makes the player pause at the next song border
func (c *Control) SetBorderPause(pause bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.borderPause = pause
}

// applyBorderPause switches to pause if the border pause flag is set
func (c *Control) applyBorderPause() bool {
	if c.borderPause {
		c.state = StatePause
	}
	return c.borderPause
}

// Status refreshes and returns the playback position
func (c *Control) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.occupied && c.started {
		c.synchronousCommand(CommandRefresh)
	}

	st := Status{State: c.state, TotalPlayTime: c.totalPlayTime, TotalTime: -1, ElapsedTime: -1}
	if c.state != StateStop {
		st.BitRate = c.bitRate
		st.Format = c.audioFormat
		st.TotalTime = c.totalTime
		st.ElapsedTime = c.elapsedTime
	}
	return st
}

// State returns the playback state without refreshing
func (c *Control) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SyncInfo returns the state and whether a queued song is still waiting
func (c *Control) SyncInfo() SyncInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return SyncInfo{State: c.state, HasNextSong: c.nextSong != nil}
}

func (c *Control) setError(kind ErrorKind, err error) {
	c.errKind = kind
	c.err = err
}

// setOutputError records an output failure; the player pauses so it can be
// resumed once an output works again
func (c *Control) setOutputError(err error) {
	c.setError(ErrorOutput, err)
	c.state = StatePause
}

func (c *Control) clearError() {
	c.errKind = ErrorNone
	c.err = nil
}

func (c *Control) errorLocked() error {
	if c.errKind == ErrorNone {
		return nil
	}
	return &Error{Kind: c.errKind, Err: c.err}
}

// Error returns the pending error, if any; it stays until ClearError
func (c *Control) Error() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errorLocked()
}

// ClearError acknowledges the pending error
func (c *Control) ClearError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearError()
}

// SetCrossFade sets the cross-fade duration; negative values disable it
func (c *Control) SetCrossFade(d time.Duration) {
	c.mu.Lock()
	c.crossFade.Duration = max(d, 0)
	c.mu.Unlock()
	c.listener.OnPlayerIdle(IdleOptions)
}

// SetMixRampDB sets the loudness at which MixRamp overlaps songs
func (c *Control) SetMixRampDB(db float32) {
	c.mu.Lock()
	c.crossFade.MixRampDB = db
	c.mu.Unlock()
	c.listener.OnPlayerIdle(IdleOptions)
}

// SetMixRampDelay sets the MixRamp delay; zero or negative disables MixRamp
func (c *Control) SetMixRampDelay(d time.Duration) {
	c.mu.Lock()
	c.crossFade.MixRampDelay = d
	c.mu.Unlock()
	c.listener.OnPlayerIdle(IdleOptions)
}

// CrossFadeSettings returns the current cross-fade options
func (c *Control) CrossFadeSettings() CrossFadeSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.crossFade
}

// SetReplayGainMode switches replay gain for the decoder and every output
func (c *Control) SetReplayGainMode(m replaygain.Mode) {
	c.mu.Lock()
	c.dc.SetReplayGainMode(m)
	c.mu.Unlock()
	c.outputs.SetReplayGainMode(m)
}

// ReplayGainDB returns the gain applied to the current song
func (c *Control) ReplayGainDB() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dc.ReplayGainDB()
}

func (c *Control) setTaggedSong(s *song.Song) {
	c.taggedSong = s.Clone()
}

func (c *Control) lockSetTaggedSong(s *song.Song) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setTaggedSong(s)
}

// ReadTaggedSong returns the current song with the latest stream tag once
// after it changed, then nil
func (c *Control) ReadTaggedSong() *song.Song {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.taggedSong
	c.taggedSong = nil
	return s
}

func (c *Control) cancelPendingSeek() {
	if c.seeking {
		c.seeking = false
		c.clientSignal()
	}
}
