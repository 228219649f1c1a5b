// ABOUTME: Tests for the chunk pool and pipes
// ABOUTME: Covers pool bounds, chunk writes and consumer cursors
package music

import (
	"testing"
	"time"

	"github.com/Resonate-Protocol/playd/pkg/audio"
	"github.com/Resonate-Protocol/playd/pkg/tag"
)

var cd = audio.Format{SampleRate: 44100, Format: audio.SampleFormatS16, Channels: 2}

func filled(t *testing.T, b *Buffer, f audio.Format, n int) *Chunk {
	t.Helper()
	c := b.Allocate()
	if c == nil {
		t.Fatal("pool exhausted")
	}
	data := make([]byte, n)
	if taken, _ := c.Append(f, 0, 320, data); taken != n {
		t.Fatalf("appended %d of %d bytes", taken, n)
	}
	return c
}

func TestPoolBound(t *testing.T) {
	b := NewBuffer(4)

	var chunks []*Chunk
	for i := 0; i < 4; i++ {
		c := b.Allocate()
		if c == nil {
			t.Fatalf("allocation %d failed", i)
		}
		chunks = append(chunks, c)
	}

	if c := b.Allocate(); c != nil {
		t.Fatal("expected exhausted pool to deny allocation")
	}
	if b.Outstanding() != 4 {
		t.Errorf("expected 4 outstanding, got %d", b.Outstanding())
	}

	chunks[0].Release()
	c := b.Allocate()
	if c == nil {
		t.Fatal("expected allocation after release")
	}
	if c != chunks[0] {
		t.Error("expected the released slot to be reused")
	}
}

func TestPoolRandomSequence(t *testing.T) {
	const capacity = 8
	b := NewBuffer(capacity)
	var live []*Chunk

	// deterministic interleaving of allocations and releases
	for i := 0; i < 200; i++ {
		if i%3 == 2 && len(live) > 0 {
			live[0].Release()
			live = live[1:]
			continue
		}
		if c := b.Allocate(); c != nil {
			live = append(live, c)
		}
		if b.Outstanding() > capacity {
			t.Fatalf("outstanding %d exceeds capacity", b.Outstanding())
		}
		if b.Outstanding() != len(live) {
			t.Fatalf("outstanding %d, tracked %d", b.Outstanding(), len(live))
		}
	}
}

func TestReleaseClearsChunk(t *testing.T) {
	b := NewBuffer(2)
	c := filled(t, b, cd, 400)
	c.Tag = tag.New()
	c.ReplayGainSerial = 7

	other := filled(t, b, cd, 40)
	c.Other = other

	c.Release()
	if !b.IsEmpty() {
		t.Fatalf("expected partner to be released too, outstanding %d", b.Outstanding())
	}

	again := b.Allocate()
	if again.Len() != 0 || again.Tag != nil || again.ReplayGainSerial != 0 || again.Time >= 0 || again.Other != nil {
		t.Errorf("recycled chunk not cleared: len=%d tag=%v serial=%d time=%v",
			again.Len(), again.Tag, again.ReplayGainSerial, again.Time)
	}
}

func TestRetain(t *testing.T) {
	b := NewBuffer(1)
	c := b.Allocate()
	c.Retain()
	c.Release()
	if b.Available() != 0 {
		t.Fatal("chunk freed while a reference is held")
	}
	c.Release()
	if b.Available() != 1 {
		t.Fatal("chunk not freed after the last release")
	}
}

func TestChunkWriteBoundary(t *testing.T) {
	b := NewBuffer(1)
	c := b.Allocate()

	// 6 channels of S32 => 24 byte frames, 4096 is not a multiple
	f := audio.Format{SampleRate: 48000, Format: audio.SampleFormatS32, Channels: 6}
	w := c.Write(f, time.Second, 1000)
	if len(w)%24 != 0 || len(w) != 4080 {
		t.Fatalf("expected 4080 writable bytes, got %d", len(w))
	}
	if full := c.Expand(f, len(w)); !full {
		t.Error("expected chunk to be full")
	}
	if len(c.Write(f, 0, 0)) != 0 {
		t.Error("expected no room left")
	}
	if c.Time != time.Second || c.BitRate != 1000 {
		t.Errorf("metadata taken from later write: %v %d", c.Time, c.BitRate)
	}
}

func TestPipeFIFO(t *testing.T) {
	b := NewBuffer(3)
	p := NewPipe()

	c1 := filled(t, b, cd, 4)
	c2 := filled(t, b, cd, 8)
	c3 := filled(t, b, cd, 12)
	p.Push(c1)
	p.Push(c2)
	p.Push(c3)

	if p.Size() != 3 || p.Peek() != c1 {
		t.Fatalf("unexpected head or size %d", p.Size())
	}
	for i, want := range []*Chunk{c1, c2, c3} {
		if got := p.Shift(); got != want {
			t.Fatalf("shift %d returned wrong chunk", i)
		}
	}
	if p.Shift() != nil || !p.IsEmpty() {
		t.Error("expected empty pipe")
	}
}

func TestPipeClear(t *testing.T) {
	b := NewBuffer(3)
	p := NewPipe()
	p.Push(filled(t, b, cd, 4))
	p.Push(filled(t, b, cd, 4))

	p.Clear()
	if p.Shift() != nil {
		t.Error("shift after clear returned a chunk")
	}
	if !b.IsEmpty() {
		t.Errorf("clear leaked %d chunks", b.Outstanding())
	}
	if !p.CheckFormat(audio.Format{SampleRate: 96000, Format: audio.SampleFormatFloat, Channels: 2}) {
		t.Error("empty pipe must accept any format")
	}
}

func TestPipeFormatIntegrity(t *testing.T) {
	b := NewBuffer(2)
	p := NewPipe()
	p.Push(filled(t, b, cd, 4))

	hires := audio.Format{SampleRate: 96000, Format: audio.SampleFormatS24P32, Channels: 2}
	if p.CheckFormat(hires) {
		t.Error("expected CheckFormat to reject a different format")
	}
	if !p.CheckFormat(cd) {
		t.Error("expected CheckFormat to accept the pipe format")
	}

	defer func() {
		if recover() == nil {
			t.Error("expected push of mismatched format to panic")
		}
	}()
	p.Push(filled(t, b, hires, 8))
}

func TestPipeTagOnlyChunk(t *testing.T) {
	b := NewBuffer(2)
	p := NewPipe()

	c := b.Allocate()
	c.Tag = tag.New()
	p.Push(c)
	if p.Format().IsDefined() {
		t.Error("tag-only chunk must not define the pipe format")
	}
	if !p.Contains(c) {
		t.Error("expected Contains")
	}
}

func TestPipeConsumer(t *testing.T) {
	b := NewBuffer(2)
	p := NewPipe()
	var pc PipeConsumer
	pc.Init(p)

	if pc.Get() != nil {
		t.Fatal("expected nothing on an empty pipe")
	}

	c1 := filled(t, b, cd, 4)
	p.Push(c1)
	if pc.IsConsumed(c1) {
		t.Error("chunk not taken yet must not be consumed")
	}
	if pc.Get() != c1 {
		t.Fatal("expected head")
	}
	pc.Consume(c1)

	// consumed tail: done, but still referenced until ClearTail
	if !pc.IsConsumed(c1) {
		t.Error("expected consumed tail")
	}

	c2 := filled(t, b, cd, 4)
	p.Push(c2)
	if pc.IsConsumed(c1) {
		t.Error("consumed chunk with a successor stays current until the consumer advances")
	}
	if pc.Get() != c2 {
		t.Fatal("expected consumer to advance")
	}
	if !pc.IsConsumed(c1) {
		t.Error("chunk behind the cursor must be consumed")
	}

	pc.ClearTail(c1)
	if pc.IsInitial() {
		t.Error("ClearTail of a non-current chunk must not rewind")
	}
	pc.Cancel()
	if !pc.IsInitial() {
		t.Error("expected Cancel to rewind")
	}
}
