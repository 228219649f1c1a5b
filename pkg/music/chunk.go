// ABOUTME: Music chunk, the unit of decoded PCM moving through the pipeline
// ABOUTME: Fixed-capacity byte storage plus tag, replay gain and timing metadata
package music

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/playd/pkg/audio"
	"github.com/Resonate-Protocol/playd/pkg/replaygain"
	"github.com/Resonate-Protocol/playd/pkg/tag"
)

// ChunkSize is the PCM capacity of one chunk in bytes
const ChunkSize = 4096

// Chunk is a slot of a Buffer. A chunk is filled by exactly one writer and is
// read-only once pushed onto a Pipe.
type Chunk struct {
	pool  *Buffer
	index int
	refs  atomic.Int32

	// next is owned by the Pipe the chunk is queued on
	next *Chunk

	// Other is the chunk of the next song mixed into this one while cross-fading
	Other *Chunk
	// MixRatio is the share of this chunk in the mix; negative means "add both"
	MixRatio float32

	length int
	data   [ChunkSize]byte
	format audio.Format

	// Tag is attached to the start of this chunk
	Tag *tag.Tag

	// ReplayGainSerial identifies ReplayGainInfo; 0 means the song has none
	ReplayGainSerial uint32
	ReplayGainInfo   replaygain.Info

	// Time is the position of the first frame within the song; negative when undefined
	Time time.Duration
	// BitRate in kbit/s
	BitRate uint16
}

func (c *Chunk) reset() {
	c.next = nil
	c.Other = nil
	c.MixRatio = 0
	c.length = 0
	c.format = audio.Format{}
	c.Tag = nil
	c.ReplayGainSerial = 0
	c.ReplayGainInfo = replaygain.NewInfo()
	c.Time = -1
	c.BitRate = 0
}

// Retain adds an owner
func (c *Chunk) Retain() {
	if c.refs.Add(1) <= 1 {
		panic("music: retain of a free chunk")
	}
}

// Release drops an owner; the last release returns the slot (and its
// cross-fade partner) to the pool
func (c *Chunk) Release() {
	n := c.refs.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		panic("music: chunk released twice")
	}

	other := c.Other
	c.reset()
	c.pool.put(c.index)

	if other != nil {
		other.Release()
	}
}

// Data returns the PCM bytes written so far
func (c *Chunk) Data() []byte {
	return c.data[:c.length]
}

// Len returns the number of PCM bytes
func (c *Chunk) Len() int {
	return c.length
}

// Format returns the audio format of the data; undefined for tag-only chunks
func (c *Chunk) Format() audio.Format {
	return c.format
}

// IsEmpty reports whether the chunk carries neither data nor a tag
func (c *Chunk) IsEmpty() bool {
	return c.length == 0 && c.Tag == nil
}

// CheckFormat reports whether data of the given format may be appended
func (c *Chunk) CheckFormat(f audio.Format) bool {
	return c.length == 0 || c.format == f
}

// Write returns the free region of the chunk, in whole frames of f. The time
// and bit rate are taken from the first write into an empty chunk. An empty
// slice means the chunk is full for this format.
func (c *Chunk) Write(f audio.Format, t time.Duration, bitRate uint16) []byte {
	if c.length == 0 {
		c.format = f
		c.Time = t
		c.BitRate = bitRate
	} else if c.format != f {
		panic(fmt.Sprintf("music: writing %s into a %s chunk", f, c.format))
	}

	frameSize := f.FrameSize()
	if frameSize == 0 {
		return nil
	}
	n := (ChunkSize - c.length) / frameSize * frameSize
	return c.data[c.length : c.length+n]
}

// Expand commits n bytes written into the slice returned by Write and reports
// whether no further frame fits
func (c *Chunk) Expand(f audio.Format, n int) bool {
	if c.length+n > ChunkSize {
		panic("music: chunk overflow")
	}
	c.length += n
	return c.length+f.FrameSize() > ChunkSize
}

// Append copies as much of p as fits and returns the number of bytes taken
func (c *Chunk) Append(f audio.Format, t time.Duration, bitRate uint16, p []byte) (int, bool) {
	dst := c.Write(f, t, bitRate)
	n := copy(dst, p)
	n -= n % f.FrameSize()
	return n, c.Expand(f, n)
}
