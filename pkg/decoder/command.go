// ABOUTME: Decoder states and commands exchanged with the player
// ABOUTME: One command is outstanding at a time; the decoder acknowledges it by resetting to None
package decoder

// State is the lifecycle state of the decoder goroutine
type State uint8

const (
	// StateStop means no song is being decoded
	StateStop State = iota
	// StateStart means a plugin is reading headers and has not reported the format yet
	StateStart
	// StateDecode means PCM is flowing into the pipe
	StateDecode
	// StateError means the last song failed; the error is kept until cleared
	StateError
)

func (s State) String() string {
	switch s {
	case StateStop:
		return "stop"
	case StateStart:
		return "start"
	case StateDecode:
		return "decode"
	case StateError:
		return "error"
	}
	return "unknown"
}

// Command is a request from the player to the decoder
type Command uint8

const (
	CommandNone Command = iota
	CommandStart
	CommandStop
	CommandSeek
)

func (c Command) String() string {
	switch c {
	case CommandNone:
		return "none"
	case CommandStart:
		return "start"
	case CommandStop:
		return "stop"
	case CommandSeek:
		return "seek"
	}
	return "unknown"
}
