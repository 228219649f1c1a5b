// ABOUTME: Audio encoder package for network outputs
// ABOUTME: Provides the Encoder interface with PCM and Opus implementations
// Package encode provides audio encoders for the stream output.
//
// Supports: PCM (16-bit and 24-bit), Opus
//
// Encoders accept PCM bytes in the format returned by Format and produce
// wire packets. Use PCMFormat or OpusFormat to find the input format an
// encoder needs for a given source format.
//
// Example:
//
//	enc, err := encode.New("opus", format)
//	packets, err := enc.Encode(pcm)
package encode
