package resample

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentityPassesThrough(t *testing.T) {
	c := New(8000, 8000)
	assert.True(t, c.Identity())
	in := []int16{1, 2, 3, 4}
	out := c.Convert(in)
	assert.Equal(t, in, out)
}

func TestUpsampleProducesMoreSamples(t *testing.T) {
	c := New(8000, 16000)
	in := make([]int16, 160) // 20ms @ 8kHz
	out := c.Convert(in)
	assert.InDelta(t, 320, len(out), 2)
}

func TestDownsampleProducesFewerSamples(t *testing.T) {
	c := New(16000, 8000)
	in := make([]int16, 320) // 20ms @ 16kHz
	out := c.Convert(in)
	assert.InDelta(t, 160, len(out), 2)
}

func TestPCMByteRoundTrip(t *testing.T) {
	samples := []int16{-32768, -1, 0, 1, 32767}
	b := SamplesToPCMBytes(samples)
	back := PCMBytesToSamples(b)
	assert.Equal(t, samples, back)
}
