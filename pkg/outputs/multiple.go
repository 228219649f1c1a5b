// ABOUTME: Fan-out of one pipe to all configured outputs
// ABOUTME: Tracks which chunks every output has played and frees them back to the pool
package outputs

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/playd/pkg/audio"
	"github.com/Resonate-Protocol/playd/pkg/music"
	"github.com/Resonate-Protocol/playd/pkg/replaygain"
)

var (
	// ErrAllDisabled is returned by Open when no output is enabled
	ErrAllDisabled = errors.New("all audio outputs are disabled")
	// ErrNotUpdated is returned when no output could be opened
	ErrNotUpdated = errors.New("failed to open audio output")
)

// clientProxy lets the player register itself after the outputs exist
type clientProxy struct {
	v atomic.Value
}

type clientHolder struct{ Client }

func (p *clientProxy) get() Client {
	if h, ok := p.v.Load().(clientHolder); ok && h.Client != nil {
		return h.Client
	}
	return noClient{}
}

func (p *clientProxy) ChunksConsumed() { p.get().ChunksConsumed() }
func (p *clientProxy) ApplyEnabled()   { p.get().ApplyEnabled() }

// MultipleOutputs drives all outputs from one pipe. Only the player calls
// the playback methods; they are serialized by the outputs' own lock,
// which is taken before any output lock.
type MultipleOutputs struct {
	client  clientProxy
	outputs []*Control

	mu          sync.Mutex
	pipe        *music.Pipe
	inputFormat audio.Format
	// elapsed is the song position of the last freed chunk; negative when unknown
	elapsed time.Duration
}

// New creates the fan-out for a set of controls
func New(controls []*Control) *MultipleOutputs {
	m := &MultipleOutputs{
		outputs: controls,
		elapsed: -1,
	}
	for _, c := range controls {
		c.client = &m.client
	}
	return m
}

// SetClient registers the player
func (m *MultipleOutputs) SetClient(c Client) {
	m.client.v.Store(clientHolder{c})
}

// Len returns the number of outputs
func (m *MultipleOutputs) Len() int {
	return len(m.outputs)
}

// Get returns the output at index i
func (m *MultipleOutputs) Get(i int) *Control {
	return m.outputs[i]
}

// FindByName returns the output with that name, or nil
func (m *MultipleOutputs) FindByName(name string) *Control {
	for _, c := range m.outputs {
		if c.name == name {
			return c
		}
	}
	return nil
}

// Outputs returns a status snapshot of every output in configuration order
func (m *MultipleOutputs) Outputs() []Info {
	infos := make([]Info, 0, len(m.outputs))
	for _, c := range m.outputs {
		infos = append(infos, c.Info())
	}
	return infos
}

// EnableDisable applies changed enabled flags, in parallel
func (m *MultipleOutputs) EnableDisable() {
	for _, c := range m.outputs {
		c.mu.Lock()
		c.enableDisableAsync()
		c.mu.Unlock()
	}
	m.WaitAll()
}

// WaitAll blocks until every output finished its command
func (m *MultipleOutputs) WaitAll() {
	for _, c := range m.outputs {
		c.LockWaitForCommand()
	}
}

func (m *MultipleOutputs) allowPlay() {
	for _, c := range m.outputs {
		c.LockAllowPlay()
	}
}

// update opens enabled and closes disabled outputs, in parallel. It
// reports whether at least one output is ready to play.
func (m *MultipleOutputs) update(force bool) bool {
	if !m.inputFormat.IsDefined() {
		return false
	}

	for _, c := range m.outputs {
		c.mu.Lock()
		c.beginUpdate(m.inputFormat, m.pipe, force)
		c.mu.Unlock()
	}

	ret := false
	for _, c := range m.outputs {
		c.mu.Lock()
		c.waitForCommand()
		if c.isPlayable() {
			ret = true
		}
		c.mu.Unlock()
	}
	return ret
}

// Update is the locked form of update
func (m *MultipleOutputs) Update(force bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.update(force)
}

// SetReplayGainMode selects the replay gain mode of every output
func (m *MultipleOutputs) SetReplayGainMode(mode replaygain.Mode) {
	for _, c := range m.outputs {
		c.LockSetReplayGainMode(mode)
	}
}

// Open prepares every output for audio of format f. It succeeds if at
// least one enabled output could be opened.
func (m *MultipleOutputs) Open(f audio.Format) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pipe == nil {
		m.pipe = music.NewPipe()
	} else if !m.pipe.IsEmpty() && f != m.inputFormat {
		return fmt.Errorf("cannot open outputs for %s while the pipe carries %s", f, m.inputFormat)
	}

	m.inputFormat = f

	m.EnableDisable()
	m.update(true)

	enabled, ret := false, false
	var firstErr error
	for _, c := range m.outputs {
		c.mu.Lock()
		if c.enabled {
			enabled = true
		}
		if c.open {
			ret = true
		} else if firstErr == nil {
			firstErr = c.lastError
		}
		c.mu.Unlock()
	}

	switch {
	case !enabled:
		m.close()
		return ErrAllDisabled
	case !ret:
		m.close()
		if firstErr != nil {
			return firstErr
		}
		return ErrNotUpdated
	}
	return nil
}

// Play queues a chunk for all outputs, taking over the reference even on
// failure
func (m *MultipleOutputs) Play(c *music.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pipe == nil {
		c.Release()
		return ErrNotUpdated
	}
	if c.Len() > 0 && c.Format() != m.inputFormat {
		panic(fmt.Sprintf("outputs: playing %s chunk on %s outputs", c.Format(), m.inputFormat))
	}

	if !m.update(false) {
		c.Release()
		return ErrNotUpdated
	}

	m.pipe.Push(c)

	for _, o := range m.outputs {
		o.LockPlay()
	}
	return nil
}

func (m *MultipleOutputs) isChunkConsumed(c *music.Chunk) bool {
	for _, o := range m.outputs {
		if !o.LockIsChunkConsumed(c) {
			return false
		}
	}
	return true
}

// IsChunkConsumed reports whether every output is done with c
func (m *MultipleOutputs) IsChunkConsumed(c *music.Chunk) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isChunkConsumed(c)
}

// clearTailChunk makes every open output forget the tail chunk. The
// output locks stay held until the caller has removed the chunk; locked
// records which ones.
func (m *MultipleOutputs) clearTailChunk(c *music.Chunk, locked []bool) {
	for i, o := range m.outputs {
		o.mu.Lock()
		locked[i] = o.open
		if !locked[i] {
			o.mu.Unlock()
			continue
		}
		o.clearTailChunk(c)
	}
}

// ClearTailChunk is clearTailChunk releasing the locks right away
func (m *MultipleOutputs) ClearTailChunk(c *music.Chunk) {
	locked := make([]bool, len(m.outputs))
	m.clearTailChunk(c, locked)
	for i, o := range m.outputs {
		if locked[i] {
			o.mu.Unlock()
		}
	}
}

// CheckPipe frees the chunks every output has played and returns the
// number of chunks still queued
func (m *MultipleOutputs) CheckPipe() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pipe == nil {
		return 0
	}

	locked := make([]bool, len(m.outputs))
	for {
		c := m.pipe.Peek()
		if c == nil {
			return 0
		}
		if !m.isChunkConsumed(c) {
			return m.pipe.Size()
		}

		if c.Len() > 0 && c.Time >= 0 {
			m.elapsed = c.Time
		}

		isTail := m.pipe.Next(c) == nil
		if isTail {
			m.clearTailChunk(c, locked)
		}

		shifted := m.pipe.Shift()

		if isTail {
			for i, o := range m.outputs {
				if locked[i] {
					o.mu.Unlock()
				}
			}
		}

		shifted.Release()
	}
}

// Pause pauses every open output
func (m *MultipleOutputs) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.update(false)
	for _, c := range m.outputs {
		c.LockPauseAsync()
	}
	m.WaitAll()
}

// Drain waits until every device has played its queue
func (m *MultipleOutputs) Drain() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.outputs {
		c.LockDrainAsync()
	}
	m.WaitAll()
}

// Cancel drops all queued audio in the devices and the pipe
func (m *MultipleOutputs) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.outputs {
		c.LockCancelAsync()
	}
	m.WaitAll()

	if m.pipe != nil {
		m.pipe.Clear()
	}

	// the outputs wait for this before looking at the cleared pipe
	m.allowPlay()

	m.elapsed = -1
}

func (m *MultipleOutputs) dropPipe() {
	if m.pipe != nil {
		m.pipe.Clear()
		m.pipe = nil
	}
	m.inputFormat = audio.Format{}
	m.elapsed = -1
}

func (m *MultipleOutputs) close() {
	for _, c := range m.outputs {
		c.LockCloseWait()
	}
	m.dropPipe()
}

// Close closes all outputs
func (m *MultipleOutputs) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.close()
}

// Release closes all outputs except the always-on ones, which are paused
func (m *MultipleOutputs) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.outputs {
		c.LockRelease()
	}
	m.dropPipe()
}

// SongBorder resets the elapsed time at the start of a new song
func (m *MultipleOutputs) SongBorder() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.elapsed = 0
}

// ElapsedTime returns the position of the last played chunk, or a
// negative value when unknown
func (m *MultipleOutputs) ElapsedTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.elapsed
}

// InputFormat returns the format the outputs were opened with
func (m *MultipleOutputs) InputFormat() audio.Format {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inputFormat
}

// EnableOutput enables output i and lets the player apply it
func (m *MultipleOutputs) EnableOutput(i int) error {
	return m.setEnabled(i, true)
}

// DisableOutput disables output i and lets the player apply it
func (m *MultipleOutputs) DisableOutput(i int) error {
	return m.setEnabled(i, false)
}

func (m *MultipleOutputs) setEnabled(i int, enabled bool) error {
	if i < 0 || i >= len(m.outputs) {
		return fmt.Errorf("no such audio output: %d", i)
	}
	c := m.outputs[i]
	if c.LockSetEnabled(enabled) {
		log.Info().Str("output", c.name).Bool("enabled", enabled).Msg("output toggled")
		m.client.ApplyEnabled()
	}
	return nil
}

// ToggleOutput flips output i and returns its new state
func (m *MultipleOutputs) ToggleOutput(i int) (bool, error) {
	if i < 0 || i >= len(m.outputs) {
		return false, fmt.Errorf("no such audio output: %d", i)
	}
	c := m.outputs[i]
	enabled := c.LockToggleEnabled()
	log.Info().Str("output", c.name).Bool("enabled", enabled).Msg("output toggled")
	m.client.ApplyEnabled()
	return enabled, nil
}

// Kill stops every output goroutine
func (m *MultipleOutputs) Kill() {
	for _, c := range m.outputs {
		c.beginKill()
	}
	for _, c := range m.outputs {
		c.Kill()
	}
}
