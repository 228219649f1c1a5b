// ABOUTME: Fixed-size chunk pool shared by the decoder and the outputs
// ABOUTME: An arena of chunk slots with a free list; never grows at runtime
package music

import "sync"

// Buffer is a fixed arena of chunks. Allocation fails instead of growing,
// which bounds pipeline memory and gives the decoder its backpressure.
type Buffer struct {
	mu    sync.Mutex
	slots []Chunk
	free  []int
}

// NewBuffer creates a pool of n chunks
func NewBuffer(n int) *Buffer {
	if n <= 0 {
		panic("music: buffer needs at least one chunk")
	}

	b := &Buffer{
		slots: make([]Chunk, n),
		free:  make([]int, 0, n),
	}
	for i := n - 1; i >= 0; i-- {
		c := &b.slots[i]
		c.pool = b
		c.index = i
		c.reset()
		b.free = append(b.free, i)
	}
	return b
}

// Allocate takes a free chunk with one reference, or returns nil when every
// chunk is in use
func (b *Buffer) Allocate() *Chunk {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.free) == 0 {
		return nil
	}

	i := b.free[len(b.free)-1]
	b.free = b.free[:len(b.free)-1]

	c := &b.slots[i]
	c.refs.Store(1)
	return c
}

func (b *Buffer) put(i int) {
	b.mu.Lock()
	b.free = append(b.free, i)
	b.mu.Unlock()
}

// Size returns the capacity in chunks
func (b *Buffer) Size() int {
	return len(b.slots)
}

// Available returns the number of free chunks
func (b *Buffer) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.free)
}

// Outstanding returns the number of allocated chunks
func (b *Buffer) Outstanding() int {
	return b.Size() - b.Available()
}

// IsEmpty reports whether every chunk has been returned
func (b *Buffer) IsEmpty() bool {
	return b.Available() == b.Size()
}
