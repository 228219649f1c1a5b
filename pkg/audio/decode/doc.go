// ABOUTME: Decoder plugins for the playback pipeline
// ABOUTME: MP3, FLAC, Ogg Vorbis, Ogg Opus, WAV and raw PCM
// Package decode provides the codec plugins registered with the decoder.
//
// Each plugin reads through a decoder.Client so that blocking reads can be
// interrupted by player commands, reports its format with Ready and submits
// PCM in that format. Seeking, tags, replay gain and mixramp values are
// forwarded where the container carries them.
//
// Example:
//
//	reg := decode.DefaultRegistry()
//	dc := decoder.NewControl(mu, cond, decoder.Config{Registry: reg})
package decode
