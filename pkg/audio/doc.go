// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format, SampleFormat and sample conversion helpers
// Package audio provides the PCM format types shared by every pipeline stage.
//
// A Format is what a decoder announces and what a chunk carries:
//   - SampleRate in Hz
//   - Format, the in-memory sample layout (S16, S24_P32, Float, DSD, ...)
//   - Channels, interleaved
//
// Formats parse from and render to the "rate:bits:channels" notation used in
// the configuration file, where "*" marks a field the output accepts as-is:
//
//	mask, err := audio.ParseFormat("48000:*:2", true)
//	out := in.ApplyMask(mask)
//
// The 24-bit helpers convert between int16, packed 24-bit and the int32
// working representation used by the converters.
package audio
