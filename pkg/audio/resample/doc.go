// ABOUTME: Audio resampling package using linear interpolation
// ABOUTME: Converts audio between different sample rates
// Package resample provides audio sample rate conversion.
//
// Uses linear interpolation for converting between sample rates. The
// resampler is stateful: the last frame of each buffer is kept so a stream
// split into chunks resamples the same as one long buffer.
//
// Example:
//
//	r := resample.New(44100, 48000, 2)
//	out := r.Resample(inputSamples)
package resample
