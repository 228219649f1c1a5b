// ABOUTME: Per-consumer cursor over a shared pipe
// ABOUTME: Tracks which chunk an output is playing and whether it is done with it
package music

// PipeConsumer is one output's position in a shared Pipe. It is not safe for
// concurrent use; the owning output guards it with its own lock.
type PipeConsumer struct {
	pipe     *Pipe
	chunk    *Chunk
	consumed bool
}

// Init attaches the consumer to a pipe and rewinds it
func (pc *PipeConsumer) Init(p *Pipe) {
	pc.pipe = p
	pc.chunk = nil
	pc.consumed = false
}

// Pipe returns the pipe being consumed
func (pc *PipeConsumer) Pipe() *Pipe {
	return pc.pipe
}

// IsInitial reports whether no chunk has been taken yet
func (pc *PipeConsumer) IsInitial() bool {
	return pc.chunk == nil
}

// Get returns the chunk to play: the current one until it is consumed, then
// the one after it. Nil means the pipe has nothing new.
func (pc *PipeConsumer) Get() *Chunk {
	if pc.pipe == nil {
		return nil
	}

	if pc.chunk != nil {
		if !pc.consumed {
			return pc.chunk
		}
		next := pc.pipe.Next(pc.chunk)
		if next == nil {
			return nil
		}
		pc.chunk = next
		pc.consumed = false
		return pc.chunk
	}

	pc.chunk = pc.pipe.Peek()
	pc.consumed = false
	return pc.chunk
}

// Consume marks the current chunk as fully played
func (pc *PipeConsumer) Consume(c *Chunk) {
	if c != pc.chunk {
		panic("music: consuming a chunk that is not current")
	}
	pc.consumed = true
}

// IsConsumed reports whether the consumer is done with c, which must be the
// pipe head. A consumed tail still counts as in use until ClearTail.
func (pc *PipeConsumer) IsConsumed(c *Chunk) bool {
	if pc.chunk == nil {
		return false
	}
	if c != pc.chunk {
		return true
	}
	return pc.consumed && pc.pipe.Next(c) == nil
}

// ClearTail forgets the current chunk, which is about to be removed
func (pc *PipeConsumer) ClearTail(c *Chunk) {
	if pc.chunk == c {
		pc.chunk = nil
		pc.consumed = false
	}
}

// Cancel rewinds the consumer to the pipe head
func (pc *PipeConsumer) Cancel() {
	pc.chunk = nil
	pc.consumed = false
}
