// ABOUTME: Audio output device package
// ABOUTME: Provides the Output interface, the backend registry and the bundled backends
// Package output provides audio playback devices.
//
// Backends are created by type name from configuration parameters:
//
//	out, err := output.New("malgo", "speakers", output.Params{"buffer_time": "250ms"})
//	actual, err := out.Open(audio.Format{SampleRate: 44100, Format: audio.SampleFormatS16, Channels: 2})
//	n, err := out.Play(pcm)
//
// Open may change the format; callers convert to the returned one. The
// bundled types are "null", "oto", "malgo", "portaudio" (with the portaudio
// build tag), "pipe", "recorder" and "stream".
package output
