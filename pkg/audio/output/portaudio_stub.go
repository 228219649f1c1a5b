//go:build !portaudio

// ABOUTME: PortAudio stub when library not available
// ABOUTME: Lets configurations name the backend and fail with a clear error
package output

import "fmt"

// NewPortAudio fails unless built with the portaudio tag
func NewPortAudio(Params) (Output, error) {
	return nil, fmt.Errorf("PortAudio support not enabled (build with -tags portaudio)")
}
