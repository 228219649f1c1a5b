// ABOUTME: FIFO of chunks between a producer and its consumers
// ABOUTME: Enforces a single audio format per non-empty pipe
package music

import (
	"fmt"
	"sync"

	"github.com/Resonate-Protocol/playd/pkg/audio"
)

// Pipe is an ordered list of chunks. The pipe owns one reference of every
// chunk it holds.
type Pipe struct {
	mu     sync.Mutex
	head   *Chunk
	tail   *Chunk
	size   int
	format audio.Format
}

// NewPipe creates an empty pipe
func NewPipe() *Pipe {
	return &Pipe{}
}

// Push appends a chunk, taking over the caller's reference. Pushing audio of a
// different format into a non-empty pipe is a programming error.
func (p *Pipe) Push(c *Chunk) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c.length > 0 {
		if p.format.IsDefined() && p.format != c.format {
			panic(fmt.Sprintf("music: pushing %s chunk into %s pipe", c.format, p.format))
		}
		p.format = c.format
	}

	c.next = nil
	if p.tail != nil {
		p.tail.next = c
	} else {
		p.head = c
	}
	p.tail = c
	p.size++
}

// Peek returns the head without removing it
func (p *Pipe) Peek() *Chunk {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.head
}

// Shift removes the head and hands its reference to the caller
func (p *Pipe) Shift() *Chunk {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := p.head
	if c == nil {
		return nil
	}

	p.head = c.next
	if p.head == nil {
		p.tail = nil
		p.format = audio.Format{}
	}
	c.next = nil
	p.size--
	return c
}

// Clear releases every chunk
func (p *Pipe) Clear() {
	p.mu.Lock()
	c := p.head
	p.head = nil
	p.tail = nil
	p.size = 0
	p.format = audio.Format{}
	p.mu.Unlock()

	for c != nil {
		next := c.next
		c.next = nil
		c.Release()
		c = next
	}
}

// Next returns the chunk queued after c
func (p *Pipe) Next(c *Chunk) *Chunk {
	p.mu.Lock()
	defer p.mu.Unlock()
	return c.next
}

// IsEmpty reports whether the pipe holds no chunks
func (p *Pipe) IsEmpty() bool {
	return p.Size() == 0
}

// Size returns the number of chunks
func (p *Pipe) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Format returns the format of the queued audio; undefined when empty
func (p *Pipe) Format() audio.Format {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.format
}

// CheckFormat reports whether chunks of format f may be pushed
func (p *Pipe) CheckFormat(f audio.Format) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.format.IsDefined() || p.format == f
}

// Contains reports whether c is queued on this pipe
func (p *Pipe) Contains(c *Chunk) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := p.head; i != nil; i = i.next {
		if i == c {
			return true
		}
	}
	return false
}
