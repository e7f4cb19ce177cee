// Package pcm holds helpers for 16-bit little-endian mono PCM, the audio
// format frames carry between stages.
package pcm

// Resample converts audio from one sample rate to another using linear
// interpolation. Good enough for speech.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 || fromRate <= 0 || toRate <= 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	newLen := int(float64(len(samples)) / ratio)
	if newLen == 0 {
		return []int16{}
	}

	result := make([]int16, newLen)
	for i := 0; i < newLen; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		if srcIdx >= len(samples)-1 {
			result[i] = samples[len(samples)-1]
			continue
		}
		s1 := float64(samples[srcIdx])
		s2 := float64(samples[srcIdx+1])
		result[i] = int16(s1 + frac*(s2-s1))
	}
	return result
}

// ResampleBytes resamples raw PCM16 bytes.
func ResampleBytes(data []byte, fromRate, toRate int) []byte {
	if fromRate == toRate {
		return data
	}
	return SamplesToBytes(Resample(BytesToSamples(data), fromRate, toRate))
}

// BytesToSamples converts PCM16LE bytes to samples. A trailing odd byte is
// dropped.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// SamplesToBytes converts samples to PCM16LE bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}

// Framer cuts a sample stream into fixed-size frames, carrying the
// remainder over to the next Write.
type Framer struct {
	size int
	buf  []int16
}

// NewFramer creates a framer emitting frames of size samples.
func NewFramer(size int) *Framer {
	return &Framer{size: size, buf: make([]int16, 0, size*2)}
}

// Write appends samples and returns every complete frame.
func (f *Framer) Write(samples []int16) [][]int16 {
	f.buf = append(f.buf, samples...)

	var frames [][]int16
	for len(f.buf) >= f.size {
		frame := make([]int16, f.size)
		copy(frame, f.buf[:f.size])
		frames = append(frames, frame)
		f.buf = f.buf[f.size:]
	}
	// Compact so the backing array does not grow without bound.
	f.buf = append(f.buf[:0:0], f.buf...)
	return frames
}

// Flush returns the buffered remainder padded with silence to a full
// frame, or nil when nothing is buffered.
func (f *Framer) Flush() []int16 {
	if len(f.buf) == 0 {
		return nil
	}
	frame := make([]int16, f.size)
	copy(frame, f.buf)
	f.buf = f.buf[:0]
	return frame
}

// Buffered returns how many samples are waiting for a full frame.
func (f *Framer) Buffered() int {
	return len(f.buf)
}
