// ABOUTME: Player error kinds and the error value kept until cleared
// ABOUTME: Decoder and output failures are reported with their cause wrapped
package player

import (
	"errors"
	"fmt"
)

// ErrNextSongQueued is returned by EnqueueSong while another song is waiting
var ErrNextSongQueued = errors.New("next song already queued")

// ErrorKind says which part of the pipeline failed
type ErrorKind uint8

const (
	ErrorNone ErrorKind = iota
	ErrorDecoder
	ErrorOutput
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorNone:
		return "none"
	case ErrorDecoder:
		return "decoder"
	case ErrorOutput:
		return "output"
	}
	return "unknown"
}

// Error is the error the player stopped or paused with
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
