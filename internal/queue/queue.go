// ABOUTME: Play queue that keeps the player fed with the next song
// ABOUTME: Follows the player through its sync events and restarts after failures
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/playd/pkg/player"
	"github.com/Resonate-Protocol/playd/pkg/song"
)

// IdlePlaylist is reported whenever the song list or the current song changes
const IdlePlaylist = "playlist"

var (
	// ErrBadPosition is returned for an index outside the queue
	ErrBadPosition = errors.New("bad song index")
	// ErrNotPlaying is returned by Next and Previous while stopped
	ErrNotPlaying = errors.New("not playing")
)

// Player is the part of player.Control the queue drives
type Player interface {
	Play(s *song.Song) error
	Seek(s *song.Song, t time.Duration) error
	EnqueueSong(s *song.Song) error
	Cancel()
	Stop()
	SyncInfo() player.SyncInfo
	Error() error
	ReadTaggedSong() *song.Song
}

// Queue is an ordered song list with a current position. It implements
// player.Listener; sync events are handled on the Run goroutine.
type Queue struct {
	player.NopListener

	mu     sync.Mutex
	player Player
	notify func(subsystem string)

	songs []*song.Song
	// current is the song the player plays, -1 when none
	current int
	// queued is the song handed to EnqueueSong, -1 when none
	queued  int
	playing bool
	repeat  bool
	single  bool
	// errors counts consecutive songs that failed to play
	errors int

	events chan struct{}
	tags   chan struct{}
}

// New creates an empty queue; notify may be nil
func New(notify func(subsystem string)) *Queue {
	if notify == nil {
		notify = func(string) {}
	}
	return &Queue{
		notify:  notify,
		current: -1,
		queued:  -1,
		events:  make(chan struct{}, 1),
		tags:    make(chan struct{}, 1),
	}
}

// Attach sets the player. It is separate from New because the player needs
// the queue as its listener.
func (q *Queue) Attach(p Player) {
	q.mu.Lock()
	q.player = p
	q.mu.Unlock()
}

// OnPlayerSync schedules a resync without blocking the player
func (q *Queue) OnPlayerSync() {
	select {
	case q.events <- struct{}{}:
	default:
	}
}

// OnPlayerTagModified schedules a tag refresh of the current song
func (q *Queue) OnPlayerTagModified() {
	select {
	case q.tags <- struct{}{}:
	default:
	}
}

// Run processes player events until ctx is done
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-q.events:
			q.Sync()
		case <-q.tags:
			q.UpdateTag()
		}
	}
}

// UpdateTag copies a tag the player received from a stream into the
// current song
func (q *Queue) UpdateTag() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.player == nil || q.current < 0 || q.current >= len(q.songs) {
		return
	}

	s := q.player.ReadTaggedSong()
	if s == nil || s.URI != q.songs[q.current].URI {
		return
	}
	q.songs[q.current] = s
	q.notify(IdlePlaylist)
}

// Add appends songs to the queue
func (q *Queue) Add(songs ...*song.Song) {
	q.mu.Lock()
	q.songs = append(q.songs, songs...)
	if q.playing && q.queued < 0 {
		q.updateQueuedLocked()
	}
	q.mu.Unlock()
	q.notify(IdlePlaylist)
}

// Clear stops playback and empties the queue
func (q *Queue) Clear() {
	q.Stop()
	q.mu.Lock()
	q.songs = nil
	q.current = -1
	q.mu.Unlock()
	q.notify(IdlePlaylist)
}

// Songs returns a copy of the song list
func (q *Queue) Songs() []*song.Song {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*song.Song, len(q.songs))
	copy(out, q.songs)
	return out
}

// Len returns the number of songs
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.songs)
}

// Current returns the position and song being played, or -1 and nil
func (q *Queue) Current() (int, *song.Song) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current < 0 || q.current >= len(q.songs) {
		return -1, nil
	}
	return q.current, q.songs[q.current]
}

// IsPlaying reports whether the queue is driving the player
func (q *Queue) IsPlaying() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing
}

// SetRepeat loops the queue (or the song, with single) at its end
func (q *Queue) SetRepeat(on bool) {
	q.mu.Lock()
	q.repeat = on
	q.requeueLocked()
	q.mu.Unlock()
	q.notify(player.IdleOptions)
}

// SetSingle stops after the current song
func (q *Queue) SetSingle(on bool) {
	q.mu.Lock()
	q.single = on
	q.requeueLocked()
	q.mu.Unlock()
	q.notify(player.IdleOptions)
}

// Modes returns the repeat and single flags
func (q *Queue) Modes() (repeat, single bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.repeat, q.single
}

// Play starts the song at position i
func (q *Queue) Play(i int) error {
	return q.SeekTo(i, 0)
}

// SeekTo starts the song at position i at offset t
func (q *Queue) SeekTo(i int, t time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.seekLocked(i, t)
}

// Next skips to the following song, stopping at the end of the queue
func (q *Queue) Next() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.playing {
		return ErrNotPlaying
	}

	next := q.nextIndex(false)
	if next < 0 {
		q.stopLocked()
		return nil
	}
	return q.seekLocked(next, 0)
}

// Previous goes back one song; the first song restarts unless repeat wraps
func (q *Queue) Previous() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.playing {
		return ErrNotPlaying
	}

	prev := q.current - 1
	if prev < 0 {
		if q.repeat {
			prev = len(q.songs) - 1
		} else {
			prev = 0
		}
	}
	return q.seekLocked(prev, 0)
}

// Stop stops the player
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopLocked()
}

// Sync brings the queue in line with the player
func (q *Queue) Sync() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.playing || q.player == nil {
		return
	}

	info := q.player.SyncInfo()
	if info.State == player.StateStop {
		// the player ran out of songs or failed
		q.resumeLocked()
		return
	}

	if !info.HasNextSong && q.queued >= 0 {
		// the queued song started
		q.current = q.queued
		q.queued = -1
		q.errors = 0
		q.notify(IdlePlaylist)
	}
	if !info.HasNextSong && q.queued < 0 {
		q.updateQueuedLocked()
	}
}

func (q *Queue) seekLocked(i int, t time.Duration) error {
	if i < 0 || i >= len(q.songs) {
		return fmt.Errorf("%w: %d", ErrBadPosition, i)
	}
	if q.player == nil {
		return errors.New("queue has no player")
	}

	q.queued = -1
	q.current = i
	q.playing = true
	defer q.notify(IdlePlaylist)

	if err := q.player.Seek(q.songs[i], t); err != nil {
		return err
	}
	q.updateQueuedLocked()
	return nil
}

func (q *Queue) stopLocked() {
	if q.player == nil {
		return
	}
	q.playing = false
	q.queued = -1
	q.errors = 0
	q.player.Stop()
}

// resumeLocked continues after the player stopped on its own
func (q *Queue) resumeLocked() {
	var pe *player.Error
	failed := errors.As(q.player.Error(), &pe)
	if failed {
		q.errors++
	} else {
		q.errors = 0
	}
	q.queued = -1

	if (failed && pe.Kind == player.ErrorOutput) || q.errors >= len(q.songs) {
		log.Warn().Int("errors", q.errors).Msg("queue stopped after playback errors")
		q.stopLocked()
		return
	}

	next := q.nextIndex(false)
	if next < 0 {
		q.stopLocked()
		q.notify(IdlePlaylist)
		return
	}
	if err := q.seekLocked(next, 0); err != nil {
		log.Warn().Err(err).Str("uri", q.songs[next].URI).Msg("failed to start next song")
	}
}

// nextIndex returns the song after the current one, or -1. With forQueue
// set it honours single mode, which never queues a different song.
func (q *Queue) nextIndex(forQueue bool) int {
	if len(q.songs) == 0 || q.current < 0 {
		return -1
	}
	if q.single && forQueue {
		if q.repeat {
			return q.current
		}
		return -1
	}

	next := q.current + 1
	if next >= len(q.songs) {
		if !q.repeat {
			return -1
		}
		next = 0
	}
	return next
}

func (q *Queue) updateQueuedLocked() {
	next := q.nextIndex(true)
	if next < 0 {
		return
	}
	if err := q.player.EnqueueSong(q.songs[next]); err != nil {
		log.Debug().Err(err).Msg("next song not queued")
		return
	}
	q.queued = next
}

// requeueLocked replaces the queued song after a mode change
func (q *Queue) requeueLocked() {
	if !q.playing || q.player == nil {
		return
	}
	if q.queued >= 0 {
		q.player.Cancel()
		q.queued = -1
	}
	q.updateQueuedLocked()
}
