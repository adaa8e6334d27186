package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithoutListenAddrSkipsServing(t *testing.T) {
	r, err := New(Config{UserAgent: "voiplink-test/0.0"}, Handlers{}, nil)
	require.NoError(t, err)
	defer r.Close()

	assert.NotNil(t, r.UserAgent())
	assert.NotNil(t, r.Server())
	assert.NotNil(t, r.Client())
	assert.NotNil(t, r.Registration)
	assert.Equal(t, "voiplink-test/0.0", r.Name())
}

func TestCloseIsIdempotent(t *testing.T) {
	r, err := New(Config{UserAgent: "voiplink-test/0.0"}, Handlers{}, nil)
	require.NoError(t, err)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
}
