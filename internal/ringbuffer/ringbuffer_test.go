package ringbuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	b := New(16)
	n := b.Put([]byte{1, 2, 3, 4})
	require.Equal(t, 4, n)
	assert.Equal(t, 4, b.AvailForGet())
	assert.Equal(t, 12, b.AvailForPut())

	out := make([]byte, 4)
	got := b.Get(out)
	assert.Equal(t, 4, got)
	assert.Equal(t, []byte{1, 2, 3, 4}, out)
	assert.Equal(t, 0, b.AvailForGet())
}

func TestPutTruncatesInsteadOfBlocking(t *testing.T) {
	b := New(4)
	n := b.Put([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	assert.Equal(t, 4, n)
	assert.Equal(t, 0, b.AvailForPut())
}

func TestAvailInvariant(t *testing.T) {
	b := New(10)
	b.Put([]byte{1, 2, 3})
	assert.LessOrEqual(t, b.AvailForPut()+b.AvailForGet(), b.Capacity())
}

func TestVolumeScalesSamples(t *testing.T) {
	b := New(16)
	b.SetVolume(0)
	b.Put([]byte{0xFF, 0x7F}) // max positive int16 sample
	out := make([]byte, 2)
	b.Get(out)
	assert.Equal(t, []byte{0, 0}, out)
}

func TestDiscard(t *testing.T) {
	b := New(16)
	b.Put([]byte{1, 2, 3, 4})
	d := b.Discard(2)
	assert.Equal(t, 2, d)
	assert.Equal(t, 2, b.AvailForGet())
}
