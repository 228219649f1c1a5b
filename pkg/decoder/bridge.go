// ABOUTME: Bridge between one decoder plugin run and the shared decoder control
// ABOUTME: Converts and chunks PCM, handles initial and user seeks, tags and replay gain
package decoder

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/playd/pkg/audio"
	"github.com/Resonate-Protocol/playd/pkg/audio/pcm"
	"github.com/Resonate-Protocol/playd/pkg/input"
	"github.com/Resonate-Protocol/playd/pkg/music"
	"github.com/Resonate-Protocol/playd/pkg/replaygain"
	"github.com/Resonate-Protocol/playd/pkg/tag"
)

// replayGainSerial numbers replay gain changes across all songs; 0 means "none"
var replayGainSerial atomic.Uint32

func nextReplayGainSerial() uint32 {
	for {
		if s := replayGainSerial.Add(1); s != 0 {
			return s
		}
	}
}

// Bridge implements Client for one song. All methods run on the decoder
// goroutine without the control lock held.
type Bridge struct {
	dc      *Control
	convert *pcm.Converter

	initialSeekPending bool
	initialSeekRunning bool
	seeking            bool

	// timestamp of the next submitted frame, relative to the file start
	timestamp     time.Duration
	absoluteFrame uint64

	// songTag is sent before the first stream tag for local files
	songTag    *tag.Tag
	streamTag  *tag.Tag
	decoderTag *tag.Tag

	current *music.Chunk

	replayGainInfo   replaygain.Info
	replayGainSerial uint32

	// err stops the plugin; it becomes the song's error
	err error
}

func newBridge(dc *Control, initialSeek bool, songTag *tag.Tag) *Bridge {
	return &Bridge{
		dc:                 dc,
		initialSeekPending: initialSeek,
		songTag:            songTag,
		replayGainInfo:     replaygain.NewInfo(),
	}
}

// checkCancelRead reports whether a blocking read should give up; lock held
func (b *Bridge) checkCancelRead() bool {
	if b.err != nil {
		return true
	}
	dc := b.dc
	if dc.command == CommandNone {
		return false
	}
	// a seek is postponed until the plugin has finished initialising
	if dc.command == CommandSeek && (dc.state == StateStart || b.seeking || b.initialSeekRunning) {
		return false
	}
	return true
}

// getChunk returns the chunk being filled, allocating one if needed. It
// returns nil when a command interrupts the wait for a free slot.
func (b *Bridge) getChunk() *music.Chunk {
	if b.current != nil {
		return b.current
	}
	dc := b.dc
	for {
		if c := dc.buffer.Allocate(); c != nil {
			c.ReplayGainSerial = b.replayGainSerial
			if b.replayGainSerial != 0 {
				c.ReplayGainInfo = b.replayGainInfo
			}
			b.current = c
			return c
		}

		dc.mu.Lock()
		if dc.command == CommandNone {
			dc.wait()
		}
		cmd := dc.command
		dc.mu.Unlock()
		if cmd != CommandNone {
			return nil
		}
	}
}

// flushChunk pushes the current chunk to the pipe
func (b *Bridge) flushChunk() {
	c := b.current
	b.current = nil
	if c.IsEmpty() {
		c.Release()
	} else {
		b.dc.pipe.Push(c)
	}

	b.dc.mu.Lock()
	if b.dc.clientIsWaiting {
		b.dc.signalClient()
	}
	b.dc.mu.Unlock()
}

// prepareInitialSeek decides whether to emit a virtual seek; lock held
func (b *Bridge) prepareInitialSeek() bool {
	dc := b.dc
	if dc.state != StateDecode {
		return false
	}
	if b.initialSeekRunning {
		return true
	}
	if b.initialSeekPending {
		if !dc.seekable {
			b.initialSeekPending = false
			log.Warn().Str("song", dc.song.String()).Msg("cannot seek to the start position of an unseekable song")
			return false
		}
		if dc.command == CommandNone {
			b.initialSeekPending = false
			b.initialSeekRunning = true
			return true
		}
		// another command such as stop wins over the initial seek
		b.initialSeekPending = false
	}
	return false
}

func (b *Bridge) virtualCommand() Command {
	if b.err != nil {
		return CommandStop
	}
	if b.prepareInitialSeek() {
		return CommandSeek
	}
	return b.dc.command
}

func (b *Bridge) lockVirtualCommand() Command {
	b.dc.mu.Lock()
	defer b.dc.mu.Unlock()
	return b.virtualCommand()
}

// sendTag starts a new chunk carrying t
func (b *Bridge) sendTag(t *tag.Tag) Command {
	if b.current != nil {
		// the tag belongs at a chunk boundary
		b.flushChunk()
	}
	c := b.getChunk()
	if c == nil {
		return b.lockCommand()
	}
	c.Tag = t.Clone()
	return CommandNone
}

func (b *Bridge) lockCommand() Command {
	b.dc.mu.Lock()
	defer b.dc.mu.Unlock()
	return b.dc.command
}

// updateStreamTag picks up a new tag from the input stream or, failing that,
// the song's own tag. It reports whether streamTag changed.
func (b *Bridge) updateStreamTag(is input.Stream) bool {
	var t *tag.Tag
	if is != nil {
		t = is.ReadTag()
	}
	if t == nil {
		t = b.songTag
		if t == nil {
			return false
		}
	}
	b.songTag = nil
	b.streamTag = t
	return true
}

// Ready implements Client
func (b *Bridge) Ready(f audio.Format, seekable bool, duration time.Duration) {
	dc := b.dc
	out := f.ApplyMask(dc.configuredFormat)
	log.Debug().Str("format", f.String()).Bool("seekable", seekable).Msg("audio format")

	if out != f {
		log.Debug().Str("format", out.String()).Msg("converting")
		conv, err := pcm.NewConverter(f, out)
		if err != nil {
			b.err = fmt.Errorf("convert %s to %s: %w", f, out, err)
		}
		b.convert = conv
	}

	dc.mu.Lock()
	dc.setReady(f, out, seekable, duration)
	dc.mu.Unlock()
}

// GetCommand implements Client
func (b *Bridge) GetCommand() Command {
	return b.lockVirtualCommand()
}

// CommandFinished implements Client
func (b *Bridge) CommandFinished() {
	dc := b.dc
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if b.initialSeekRunning {
		b.initialSeekRunning = false
		b.timestamp = dc.startTime
		b.absoluteFrame = uint64(dc.inFormat.TimeToFrames(dc.startTime))
		return
	}

	if b.seeking {
		b.seeking = false
		// drop everything decoded from the old position
		if b.current != nil {
			b.current.Release()
			b.current = nil
		}
		dc.pipe.Clear()
		if b.convert != nil {
			b.convert.Reset()
		}
		b.timestamp = dc.seekTime
		b.absoluteFrame = uint64(dc.inFormat.TimeToFrames(dc.seekTime))
	}

	dc.commandFinished()
}

// SeekTime implements Client
func (b *Bridge) SeekTime() time.Duration {
	dc := b.dc
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if b.initialSeekRunning {
		return dc.startTime
	}
	b.seeking = true
	return dc.seekTime
}

// SeekFrame implements Client
func (b *Bridge) SeekFrame() uint64 {
	t := b.SeekTime()
	return uint64(b.dc.inFormat.TimeToFrames(t))
}

// SeekError implements Client
func (b *Bridge) SeekError() {
	dc := b.dc
	dc.mu.Lock()
	if b.initialSeekRunning {
		// nothing sensible to do; play from the beginning
		b.initialSeekRunning = false
		dc.mu.Unlock()
		return
	}
	dc.seekError = true
	b.seeking = false
	dc.mu.Unlock()
	b.CommandFinished()
}

// Read implements Client
func (b *Bridge) Read(is input.Stream, p []byte) int {
	if len(p) == 0 {
		return 0
	}
	dc := b.dc
	dc.mu.Lock()
	for {
		if b.checkCancelRead() {
			dc.mu.Unlock()
			return 0
		}
		if is.IsAvailable() {
			break
		}
		dc.wait()
	}
	dc.mu.Unlock()

	n, err := is.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && n == 0 {
		b.err = fmt.Errorf("read %s: %w", is.URI(), err)
	}
	return n
}

// SubmitTimestamp implements Client
func (b *Bridge) SubmitTimestamp(t time.Duration) {
	if t < 0 {
		t = 0
	}
	b.timestamp = t
	b.absoluteFrame = uint64(b.dc.inFormat.TimeToFrames(t))
}

// SubmitData implements Client
func (b *Bridge) SubmitData(is input.Stream, data []byte, bitRate uint16) Command {
	dc := b.dc
	cmd := b.lockVirtualCommand()
	if cmd == CommandStop || cmd == CommandSeek || len(data) == 0 {
		return cmd
	}

	if b.updateStreamTag(is) {
		t := b.streamTag
		if b.decoderTag != nil {
			t = tag.Merge(b.decoderTag, b.streamTag)
		}
		if cmd = b.sendTag(t); cmd != CommandNone {
			return cmd
		}
	}

	cmd = CommandNone
	frameSize := dc.inFormat.FrameSize()
	frames := uint64(len(data) / frameSize)
	// a trailing partial frame is dropped so chunks stay frame aligned
	data = data[:int(frames)*frameSize]
	if frames == 0 {
		return cmd
	}
	if dc.endTime > 0 {
		endFrame := uint64(dc.inFormat.TimeToFrames(dc.endTime))
		if b.absoluteFrame >= endFrame {
			return CommandStop
		}
		if remaining := endFrame - b.absoluteFrame; frames >= remaining {
			frames = remaining
			data = data[:int(frames)*frameSize]
			cmd = CommandStop
		}
	}

	if b.convert != nil {
		out, err := b.convert.Convert(data)
		if err != nil {
			b.err = fmt.Errorf("convert: %w", err)
			return CommandStop
		}
		data = out
	}

	var songStart time.Duration
	if dc.song != nil {
		songStart = dc.song.StartTime
	}
	for len(data) > 0 {
		c := b.getChunk()
		if c == nil {
			return b.lockCommand()
		}
		dest := c.Write(dc.outFormat, b.timestamp-songStart, bitRate)
		if len(dest) == 0 {
			b.flushChunk()
			continue
		}
		n := copy(dest, data)
		if c.Expand(dc.outFormat, n) {
			b.flushChunk()
		}
		data = data[n:]
		b.timestamp += dc.outFormat.SizeToTime(n)
	}
	b.absoluteFrame += frames
	return cmd
}

// SubmitTag implements Client
func (b *Bridge) SubmitTag(is input.Stream, t *tag.Tag) Command {
	b.decoderTag = t.Clone()
	b.updateStreamTag(is)

	b.dc.mu.Lock()
	seek := b.prepareInitialSeek()
	b.dc.mu.Unlock()
	if seek {
		// no chunk may be created until the initial seek is done
		return CommandSeek
	}

	if b.streamTag != nil {
		return b.sendTag(tag.Merge(b.streamTag, b.decoderTag))
	}
	return b.sendTag(b.decoderTag)
}

// SubmitReplayGain implements Client
func (b *Bridge) SubmitReplayGain(info *replaygain.Info) {
	if info == nil {
		b.replayGainSerial = 0
		return
	}

	serial := nextReplayGainSerial()
	dc := b.dc
	dc.mu.Lock()
	if dc.replayGainMode != replaygain.ModeOff {
		mode := dc.replayGainMode
		if mode != replaygain.ModeAlbum {
			mode = replaygain.ModeTrack
		}
		scale := info.Get(mode).CalculateScale(dc.replayGainConfig)
		dc.replayGainDB = replaygain.ScaleToDB(scale)
	}
	dc.mu.Unlock()

	b.replayGainInfo = *info
	b.replayGainSerial = serial
	if b.current != nil {
		// the new values apply to the following samples only
		b.flushChunk()
	}
}

// SubmitMixRamp implements Client
func (b *Bridge) SubmitMixRamp(m tag.MixRamp) {
	b.dc.mu.Lock()
	b.dc.setMixRamp(m)
	b.dc.mu.Unlock()
}

// finish flushes a partially filled chunk after the plugin returned
func (b *Bridge) finish() {
	if b.current == nil {
		return
	}
	if b.seeking || b.initialSeekRunning {
		b.current.Release()
		b.current = nil
		return
	}
	b.flushChunk()
}
