// ABOUTME: Control of one audio output and its goroutine
// ABOUTME: A one-slot command mailbox guarded by the output lock with a wake and a completion condition
package outputs

import (
	"fmt"
	"sync"
	"time"

	"github.com/Resonate-Protocol/playd/pkg/audio"
	"github.com/Resonate-Protocol/playd/pkg/audio/output"
	"github.com/Resonate-Protocol/playd/pkg/music"
	"github.com/Resonate-Protocol/playd/pkg/replaygain"
)

// reopenAfter is how long a failed output is left alone before Update
// tries to open it again
const reopenAfter = 10 * time.Second

// Command is sent to the output goroutine
type Command uint8

const (
	CommandNone Command = iota
	CommandEnable
	CommandDisable
	// CommandOpen opens the device, or reopens it with a new format
	CommandOpen
	CommandClose
	CommandPause
	CommandDrain
	// CommandCancel drops everything queued in the device and rewinds the source
	CommandCancel
	// CommandRelease closes the output, or pauses it if it is always on
	CommandRelease
	// CommandKill ends the goroutine
	CommandKill
)

var commandNames = [...]string{"none", "enable", "disable", "open", "close", "pause", "drain", "cancel", "release", "kill"}

func (c Command) String() string {
	if int(c) < len(commandNames) {
		return commandNames[c]
	}
	return "unknown"
}

// Client is notified by the output goroutines
type Client interface {
	// ChunksConsumed is called when chunks were played, so the player can
	// free them and refill the pipe
	ChunksConsumed()
	// ApplyEnabled is called after an output was enabled or disabled
	ApplyEnabled()
}

// Config describes one configured output
type Config struct {
	Name string
	// Type is the backend name, for status only
	Type      string
	Device    output.Output
	MixerType MixerType
	// Format is a mask applied to the pipe format before opening the device
	Format     audio.Format
	AlwaysOn   bool
	Enabled    bool
	ReplayGain replaygain.Config
}

// Control owns one output device. Methods named Lock* or exported take the
// output lock; the others expect the caller to hold it.
type Control struct {
	name      string
	typ       string
	device    output.Output
	mixerType MixerType
	format    audio.Format
	alwaysOn  bool
	client    Client

	mu sync.Mutex
	// wake is signalled for the output goroutine
	wake *sync.Cond
	// clientCond is signalled when a command is finished
	clientCond *sync.Cond

	started bool
	done    chan struct{}
	killed  bool
	command Command

	request struct {
		format audio.Format
		pipe   *music.Pipe
	}

	// enabled is what the user asked for; reallyEnabled what the goroutine did
	enabled       bool
	reallyEnabled bool
	open          bool
	pause         bool
	// allowPlay is cleared while a cancel is in flight
	allowPlay      bool
	inPlaybackLoop bool
	wokenForPlay   bool

	source       *source
	filterFormat audio.Format
	outFormat    audio.Format

	softwareVolume int

	// failTime is set when the last open failed; zero otherwise
	failTime  time.Time
	lastError error

	chunksPlayed uint64
	failures     uint64

	// now is replaced in tests
	now func() time.Time
}

// NewControl creates the control for a device; the goroutine starts on
// the first command that needs it
func NewControl(cfg Config) *Control {
	mixerType := cfg.MixerType
	if mixerType == MixerDefault {
		mixerType = MixerSoftware
		if _, ok := cfg.Device.(output.Mixer); ok {
			mixerType = MixerHardware
		}
	}
	if mixerType == MixerHardware {
		if _, ok := cfg.Device.(output.Mixer); !ok {
			mixerType = MixerNone
		}
	}

	c := &Control{
		name:           cfg.Name,
		typ:            cfg.Type,
		device:         cfg.Device,
		mixerType:      mixerType,
		format:         cfg.Format,
		alwaysOn:       cfg.AlwaysOn,
		enabled:        cfg.Enabled,
		allowPlay:      true,
		source:         newSource(cfg.ReplayGain, mixerType == MixerSoftware),
		softwareVolume: 100,
		client:         noClient{},
		now:            time.Now,
	}
	c.wake = sync.NewCond(&c.mu)
	c.clientCond = sync.NewCond(&c.mu)
	return c
}

type noClient struct{}

func (noClient) ChunksConsumed() {}
func (noClient) ApplyEnabled()   {}

// Name returns the configured name
func (c *Control) Name() string {
	return c.name
}

// Device returns the device, e.g. to mount a stream output's HTTP handler
func (c *Control) Device() output.Output {
	return c.device
}

func (c *Control) supportsEnableDisable() bool {
	_, ok := c.device.(output.Enabler)
	return ok
}

func (c *Control) startThread() {
	c.started = true
	c.done = make(chan struct{})
	go c.task()
}

func (c *Control) isCommandFinished() bool {
	return c.command == CommandNone
}

func (c *Control) waitForCommand() {
	for !c.isCommandFinished() {
		c.clientCond.Wait()
	}
}

// commandAsync puts cmd into the mailbox, waiting for a previous command
// to finish first
func (c *Control) commandAsync(cmd Command) {
	c.waitForCommand()
	c.command = cmd
	c.wake.Signal()
}

func (c *Control) commandWait(cmd Command) {
	c.commandAsync(cmd)
	c.waitForCommand()
}

func (c *Control) commandFinished() {
	if c.command == CommandNone {
		panic("outputs: finishing without a command")
	}
	c.command = CommandNone
	c.clientCond.Broadcast()
}

// IsEnabled reports the configured enabled flag
func (c *Control) IsEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// IsOpen reports whether the device is open
func (c *Control) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// LastError returns the error of the last failed open or play
func (c *Control) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// LockSetEnabled changes the enabled flag and reports whether it changed;
// the change is applied by the next EnableDisable
func (c *Control) LockSetEnabled(enabled bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled == enabled {
		return false
	}
	c.enabled = enabled
	return true
}

// LockToggleEnabled flips the enabled flag and returns the new value
func (c *Control) LockToggleEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = !c.enabled
	return c.enabled
}

func (c *Control) enableAsync() {
	if !c.started {
		if !c.supportsEnableDisable() {
			// nothing to do in the goroutine for devices without Enable
			c.reallyEnabled = true
			return
		}
		c.startThread()
	}
	c.commandAsync(CommandEnable)
}

func (c *Control) disableAsync() {
	if !c.started {
		if !c.supportsEnableDisable() {
			c.reallyEnabled = false
		}
		return
	}
	c.commandAsync(CommandDisable)
}

func (c *Control) enableDisableAsync() {
	if c.enabled == c.reallyEnabled {
		return
	}
	if c.enabled {
		c.enableAsync()
	} else {
		c.disableAsync()
	}
}

// beginOpen issues OPEN unless the device is already playing this format
// from this pipe; it reports whether a command was sent
func (c *Control) beginOpen(f audio.Format, p *music.Pipe) bool {
	c.failTime = time.Time{}

	if c.open && f == c.request.format && p == c.request.pipe && !c.pause {
		return false
	}

	c.request.format = f
	c.request.pipe = p

	if !c.started {
		c.startThread()
	}
	c.commandAsync(CommandOpen)
	return true
}

func (c *Control) beginClose() bool {
	if c.open {
		c.commandAsync(CommandClose)
		return true
	}
	c.failTime = time.Time{}
	return false
}

// beginUpdate brings the device in line with the enabled flag. A failed
// output is retried only after reopenAfter unless forced.
func (c *Control) beginUpdate(f audio.Format, p *music.Pipe, force bool) {
	if c.enabled && c.reallyEnabled {
		if force || c.failTime.IsZero() || c.now().Sub(c.failTime) >= reopenAfter {
			c.beginOpen(f, p)
		}
	} else if c.open {
		c.beginClose()
	}
}

// isPlayable reports whether the output takes part in playback
func (c *Control) isPlayable() bool {
	return c.enabled && c.reallyEnabled && c.open
}

// LockUpdate opens or closes the device as needed and reports whether it
// is open for playback
func (c *Control) LockUpdate(f audio.Format, p *music.Pipe, force bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beginUpdate(f, p, force)
	c.waitForCommand()
	return c.isPlayable()
}

// LockIsChunkConsumed reports whether this output is done with c; a closed
// output never holds a chunk
func (c *Control) LockIsChunkConsumed(ch *music.Chunk) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isChunkConsumed(ch)
}

func (c *Control) isChunkConsumed(ch *music.Chunk) bool {
	if !c.open {
		return true
	}
	return c.source.isChunkConsumed(ch)
}

func (c *Control) clearTailChunk(ch *music.Chunk) {
	if !c.open {
		return
	}
	c.source.clearTailChunk(ch)
}

// LockPlay wakes the goroutine for new chunks
func (c *Control) LockPlay() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open && !c.inPlaybackLoop && !c.wokenForPlay {
		c.wokenForPlay = true
		c.wake.Signal()
	}
}

func (c *Control) LockPauseAsync() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		c.commandAsync(CommandPause)
	}
}

func (c *Control) LockDrainAsync() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		c.commandAsync(CommandDrain)
	}
}

// LockCancelAsync stops playback until LockAllowPlay
func (c *Control) LockCancelAsync() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		c.allowPlay = false
		c.commandAsync(CommandCancel)
	}
}

func (c *Control) LockAllowPlay() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allowPlay = true
	if c.open {
		c.wake.Signal()
	}
}

// LockRelease closes the device, or pauses it when always on
func (c *Control) LockRelease() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		c.commandWait(CommandRelease)
	} else {
		c.failTime = time.Time{}
	}
}

func (c *Control) LockCloseWait() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.beginClose() {
		c.waitForCommand()
	}
}

// LockWaitForCommand blocks until the mailbox is empty
func (c *Control) LockWaitForCommand() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waitForCommand()
}

// LockSetReplayGainMode selects the gain tuple applied from now on
func (c *Control) LockSetReplayGainMode(mode replaygain.Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.source.replayGainMode = mode
}

// beginKill asks the goroutine to disable the device and exit
func (c *Control) beginKill() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started && !c.killed {
		c.killed = true
		c.commandAsync(CommandKill)
	}
}

// Kill stops the goroutine; the control cannot be used afterwards
func (c *Control) Kill() {
	c.beginKill()
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Info is a status snapshot of one output
type Info struct {
	Name      string
	Type      string
	Enabled   bool
	Open      bool
	Format    audio.Format
	MixerType MixerType
	// Volume is -1 without a usable mixer
	Volume       int
	Err          error
	ChunksPlayed uint64
	Failures     uint64
}

// Info returns a status snapshot
func (c *Control) Info() Info {
	volume := c.LockVolume()

	c.mu.Lock()
	defer c.mu.Unlock()
	return Info{
		Name:         c.name,
		Type:         c.typ,
		Enabled:      c.enabled,
		Open:         c.open,
		Format:       c.outFormat,
		MixerType:    c.mixerType,
		Volume:       volume,
		Err:          c.lastError,
		ChunksPlayed: c.chunksPlayed,
		Failures:     c.failures,
	}
}

func (c *Control) String() string {
	return fmt.Sprintf("%q (%s)", c.name, c.typ)
}
