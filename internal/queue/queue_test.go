// ABOUTME: Tests for the play queue
// ABOUTME: Drives queue advancing, modes and error recovery with a fake player
package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/playd/pkg/player"
	"github.com/Resonate-Protocol/playd/pkg/song"
	"github.com/Resonate-Protocol/playd/pkg/tag"
)

// fakePlayer mimics the player's next-song slot
type fakePlayer struct {
	mu      sync.Mutex
	state   player.State
	current *song.Song
	next    *song.Song
	tagged  *song.Song
	err     error
	seeks   []string
	stops   int
	cancels int
}

func (p *fakePlayer) Play(s *song.Song) error { return p.Seek(s, 0) }

func (p *fakePlayer) Seek(s *song.Song, t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seeks = append(p.seeks, s.URI)
	p.current = s
	p.next = nil
	p.state = player.StatePlay
	p.err = nil
	return nil
}

func (p *fakePlayer) EnqueueSong(s *song.Song) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next != nil {
		return player.ErrNextSongQueued
	}
	p.next = s
	return nil
}

func (p *fakePlayer) Cancel() {
	p.mu.Lock()
	p.cancels++
	p.next = nil
	p.mu.Unlock()
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	p.stops++
	p.state = player.StateStop
	p.next = nil
	p.mu.Unlock()
}

func (p *fakePlayer) SyncInfo() player.SyncInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return player.SyncInfo{State: p.state, HasNextSong: p.next != nil}
}

func (p *fakePlayer) Error() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *fakePlayer) ReadTaggedSong() *song.Song {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.tagged
	p.tagged = nil
	return s
}

// advance plays the queued song as the player thread would at a border
func (p *fakePlayer) advance() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next == nil {
		p.state = player.StateStop
		p.current = nil
		return
	}
	p.current = p.next
	p.next = nil
}

func (p *fakePlayer) fail(kind player.ErrorKind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = player.StateStop
	p.next = nil
	p.err = &player.Error{Kind: kind, Err: errors.New("boom")}
}

func (p *fakePlayer) queuedURI() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next == nil {
		return ""
	}
	return p.next.URI
}

func newQueue(t *testing.T, uris ...string) (*Queue, *fakePlayer) {
	t.Helper()
	p := &fakePlayer{}
	q := New(nil)
	q.Attach(p)
	for _, u := range uris {
		q.Add(song.New(u))
	}
	return q, p
}

func TestPlayQueuesFollowingSong(t *testing.T) {
	q, p := newQueue(t, "a.flac", "b.flac", "c.flac")

	if err := q.Play(0); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if got := p.queuedURI(); got != "b.flac" {
		t.Errorf("expected b.flac queued, got %q", got)
	}

	p.advance()
	q.Sync()

	if i, s := q.Current(); i != 1 || s.URI != "b.flac" {
		t.Errorf("expected current 1 b.flac, got %d %v", i, s)
	}
	if got := p.queuedURI(); got != "c.flac" {
		t.Errorf("expected c.flac queued, got %q", got)
	}
}

func TestEndOfQueueStopsPlayer(t *testing.T) {
	q, p := newQueue(t, "a.flac", "b.flac")
	if err := q.Play(1); err != nil {
		t.Fatal(err)
	}
	if got := p.queuedURI(); got != "" {
		t.Errorf("nothing should be queued after the last song, got %q", got)
	}

	p.advance()
	q.Sync()

	if q.IsPlaying() {
		t.Error("queue still playing after the last song")
	}
	if p.stops != 1 {
		t.Errorf("expected one Stop to release the outputs, got %d", p.stops)
	}
}

func TestRepeatWraps(t *testing.T) {
	q, p := newQueue(t, "a.flac", "b.flac")
	q.SetRepeat(true)
	if err := q.Play(1); err != nil {
		t.Fatal(err)
	}
	if got := p.queuedURI(); got != "a.flac" {
		t.Errorf("expected a.flac queued with repeat, got %q", got)
	}
}

func TestSingleMode(t *testing.T) {
	tests := []struct {
		name   string
		repeat bool
		want   string
	}{
		{"single stops", false, ""},
		{"single repeat loops the song", true, "a.flac"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, p := newQueue(t, "a.flac", "b.flac")
			q.SetRepeat(tt.repeat)
			q.SetSingle(true)
			if err := q.Play(0); err != nil {
				t.Fatal(err)
			}
			if got := p.queuedURI(); got != tt.want {
				t.Errorf("queued %q, want %q", got, tt.want)
			}
		})
	}
}

func TestModeChangeReplacesQueuedSong(t *testing.T) {
	q, p := newQueue(t, "a.flac", "b.flac")
	if err := q.Play(0); err != nil {
		t.Fatal(err)
	}
	q.SetSingle(true)

	if p.cancels != 1 {
		t.Errorf("expected the queued song to be cancelled, got %d cancels", p.cancels)
	}
	if got := p.queuedURI(); got != "" {
		t.Errorf("single mode should leave nothing queued, got %q", got)
	}
}

func TestNextPrevious(t *testing.T) {
	q, p := newQueue(t, "a.flac", "b.flac", "c.flac")

	if err := q.Next(); !errors.Is(err, ErrNotPlaying) {
		t.Errorf("expected ErrNotPlaying, got %v", err)
	}

	if err := q.Play(0); err != nil {
		t.Fatal(err)
	}
	if err := q.Next(); err != nil {
		t.Fatal(err)
	}
	if err := q.Next(); err != nil {
		t.Fatal(err)
	}
	if err := q.Previous(); err != nil {
		t.Fatal(err)
	}

	want := []string{"a.flac", "b.flac", "c.flac", "b.flac"}
	if len(p.seeks) != len(want) {
		t.Fatalf("seeks %v, want %v", p.seeks, want)
	}
	for i := range want {
		if p.seeks[i] != want[i] {
			t.Errorf("seek %d: got %s, want %s", i, p.seeks[i], want[i])
		}
	}

	if err := q.Next(); err != nil {
		t.Fatal(err)
	}
	// past the end without repeat
	if err := q.Next(); err != nil {
		t.Fatal(err)
	}
	if q.IsPlaying() {
		t.Error("Next past the end should stop")
	}
}

func TestPlayBadPosition(t *testing.T) {
	q, _ := newQueue(t, "a.flac")
	if err := q.Play(3); !errors.Is(err, ErrBadPosition) {
		t.Errorf("expected ErrBadPosition, got %v", err)
	}
}

func TestDecoderErrorSkipsToNextSong(t *testing.T) {
	q, p := newQueue(t, "a.flac", "b.flac", "c.flac")
	if err := q.Play(0); err != nil {
		t.Fatal(err)
	}

	p.fail(player.ErrorDecoder)
	q.Sync()

	if i, _ := q.Current(); i != 1 {
		t.Errorf("expected to continue at 1, got %d", i)
	}
	if !q.IsPlaying() {
		t.Error("queue should keep playing after a decoder error")
	}
}

func TestOutputErrorStops(t *testing.T) {
	q, p := newQueue(t, "a.flac", "b.flac")
	if err := q.Play(0); err != nil {
		t.Fatal(err)
	}

	p.fail(player.ErrorOutput)
	q.Sync()

	if q.IsPlaying() {
		t.Error("an output error should stop the queue")
	}
}

func TestErrorOnEverySongStops(t *testing.T) {
	q, p := newQueue(t, "a.flac", "b.flac")
	q.SetRepeat(true)
	if err := q.Play(0); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2 && q.IsPlaying(); i++ {
		p.fail(player.ErrorDecoder)
		q.Sync()
	}
	if q.IsPlaying() {
		t.Error("queue should give up once every song failed")
	}
}

func TestAddWhilePlayingQueues(t *testing.T) {
	q, p := newQueue(t, "a.flac")
	if err := q.Play(0); err != nil {
		t.Fatal(err)
	}
	q.Add(song.New("b.flac"))
	if got := p.queuedURI(); got != "b.flac" {
		t.Errorf("expected b.flac queued after Add, got %q", got)
	}
}

func TestRunHandlesSyncEvents(t *testing.T) {
	q, p := newQueue(t, "a.flac", "b.flac", "c.flac")
	if err := q.Play(0); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	p.advance()
	q.OnPlayerSync()
	q.OnPlayerSync()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if i, _ := q.Current(); i == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("sync event not handled")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
}

func TestNotify(t *testing.T) {
	var mu sync.Mutex
	var events []string
	q := New(func(s string) {
		mu.Lock()
		events = append(events, s)
		mu.Unlock()
	})
	q.Attach(&fakePlayer{})
	q.Add(song.New("a.flac"))
	q.SetRepeat(true)

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || events[0] != IdlePlaylist || events[1] != player.IdleOptions {
		t.Errorf("unexpected events %v", events)
	}
}

func TestUpdateTagFromStream(t *testing.T) {
	q, p := newQueue(t, "http://radio/stream")
	if err := q.Play(0); err != nil {
		t.Fatal(err)
	}

	tagged := song.New("http://radio/stream")
	tagged.Tag = tag.New()
	tagged.Tag.Add(tag.Title, "Now On Air")
	p.tagged = tagged

	q.UpdateTag()
	if _, cur := q.Current(); cur.Tag.Get(tag.Title) != "Now On Air" {
		t.Errorf("tag not applied: %v", cur.Tag)
	}

	// a tag for another song is ignored
	p.tagged = song.New("http://other/stream")
	q.UpdateTag()
	if _, cur := q.Current(); cur.URI != "http://radio/stream" {
		t.Errorf("current song replaced by %s", cur.URI)
	}
}
