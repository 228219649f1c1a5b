// ABOUTME: Simple linear resampler for converting audio sample rates
// ABOUTME: Keeps the last input frame so consecutive buffers interpolate seamlessly
package resample

// Resampler performs linear interpolation to convert between sample rates.
// Samples are interleaved int32 in any fixed-point scale.
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	ratio      float64

	// position of the next output frame in input frames; -1 addresses lastSample
	position   float64
	lastSample []int32 // one sample per channel

	out []int32
}

// New creates a new resampler
func New(inputRate, outputRate, channels int) *Resampler {
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		ratio:      float64(inputRate) / float64(outputRate),
		lastSample: make([]int32, channels),
	}
}

// InputRate returns the source rate
func (r *Resampler) InputRate() int {
	return r.inputRate
}

// OutputRate returns the target rate
func (r *Resampler) OutputRate() int {
	return r.outputRate
}

func (r *Resampler) sample(input []int32, frame, ch int) int32 {
	if frame < 0 {
		return r.lastSample[ch]
	}
	return input[frame*r.channels+ch]
}

// Resample converts a buffer of whole frames. The returned slice is owned by
// the resampler and valid until the next call.
func (r *Resampler) Resample(input []int32) []int32 {
	inputFrames := len(input) / r.channels
	if inputFrames == 0 {
		return r.out[:0]
	}

	r.out = r.out[:0]
	if cap(r.out) < r.OutputSamplesNeeded(len(input))+r.channels {
		r.out = make([]int32, 0, r.OutputSamplesNeeded(len(input))+2*r.channels)
	}

	for {
		idx := int(r.position)
		if r.position < 0 {
			idx = -1
		}
		if idx+1 >= inputFrames {
			break
		}

		frac := r.position - float64(idx)
		for ch := 0; ch < r.channels; ch++ {
			s1 := float64(r.sample(input, idx, ch))
			s2 := float64(r.sample(input, idx+1, ch))
			r.out = append(r.out, int32(s1*(1.0-frac)+s2*frac))
		}
		r.position += r.ratio
	}

	// continue relative to the next buffer, whose frame -1 is our last frame
	r.position -= float64(inputFrames)
	copy(r.lastSample, input[(inputFrames-1)*r.channels:])

	return r.out
}

// Reset forgets the interpolation state, e.g. after a seek
func (r *Resampler) Reset() {
	r.position = 0.0
	for i := range r.lastSample {
		r.lastSample[i] = 0
	}
}

// OutputSamplesNeeded calculates how many output samples will be produced from input samples
func (r *Resampler) OutputSamplesNeeded(inputSamples int) int {
	inputFrames := inputSamples / r.channels
	outputFrames := int(float64(inputFrames)/r.ratio) + 1
	return outputFrames * r.channels
}

// InputSamplesNeeded calculates how many input samples are needed to produce output samples
func (r *Resampler) InputSamplesNeeded(outputSamples int) int {
	outputFrames := outputSamples / r.channels
	inputFrames := int(float64(outputFrames) * r.ratio)
	return inputFrames * r.channels
}
