// Package resample converts 16-bit PCM between the audio hardware's sample
// rate and a codec's clock rate (spec §2, "Sample-rate converter").
package resample

// Converter performs linear-interpolation sample-rate conversion between a
// fixed input and output rate. It is stateless between calls except for the
// fractional-sample carry needed to keep conversions click-free across
// consecutive buffers.
type Converter struct {
	inRate, outRate uint32
	carry           float64 // fractional input-sample position carried to next call
}

// New returns a Converter from inRate to outRate, both in Hz.
func New(inRate, outRate uint32) *Converter {
	return &Converter{inRate: inRate, outRate: outRate}
}

// Identity reports whether this converter is a no-op (equal rates), letting
// callers skip the conversion step entirely as spec §4.5 step 2 requires.
func (c *Converter) Identity() bool {
	return c.inRate == c.outRate
}

// Convert resamples in (16-bit little-endian mono PCM) to the output rate
// and returns the converted samples.
func (c *Converter) Convert(in []int16) []int16 {
	if c.Identity() || len(in) == 0 {
		out := make([]int16, len(in))
		copy(out, in)
		return out
	}

	ratio := float64(c.inRate) / float64(c.outRate)
	// Number of output samples this call produces, given leftover phase.
	n := int((float64(len(in)) - c.carry) / ratio)
	if n < 0 {
		n = 0
	}
	out := make([]int16, n)
	pos := c.carry
	for i := 0; i < n; i++ {
		idx := int(pos)
		frac := pos - float64(idx)
		var s0, s1 int16
		if idx < len(in) {
			s0 = in[idx]
		} else if len(in) > 0 {
			s0 = in[len(in)-1]
		}
		if idx+1 < len(in) {
			s1 = in[idx+1]
		} else {
			s1 = s0
		}
		out[i] = int16(float64(s0) + (float64(s1)-float64(s0))*frac)
		pos += ratio
	}
	c.carry = pos - float64(len(in))
	if c.carry < 0 {
		c.carry = 0
	}
	return out
}

// PCMBytesToSamples reinterprets a 16-bit little-endian byte slice as
// samples.
func PCMBytesToSamples(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(b[2*i]) | int16(b[2*i+1])<<8
	}
	return out
}

// SamplesToPCMBytes serializes samples back to 16-bit little-endian bytes.
func SamplesToPCMBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}
