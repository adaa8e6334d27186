package rtpsession

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voiplink/core/internal/codec"
	"github.com/voiplink/core/internal/ringbuffer"
)

func newLoopbackSession(t *testing.T, remotePort int) *Session {
	t.Helper()
	reg := codec.Default()
	c, ok := reg.Lookup("PCMU")
	require.True(t, ok)

	s, err := New(Config{
		LocalIP: "127.0.0.1", LocalPort: 0,
		RemoteIP: "127.0.0.1", RemotePort: remotePort,
		Codec: c, LayerRate: 8000,
		Mic:   ringbuffer.New(8000),
		Voice: ringbuffer.New(8000),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.conn.Close() })
	return s
}

func TestSendNowIncrementsTimestampByFrameSize(t *testing.T) {
	// Bind a throwaway listener to get a real port to aim at.
	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer listener.Close()

	s := newLoopbackSession(t, listener.LocalAddr().(*net.UDPAddr).Port)
	startTS := s.timestamp

	require.NoError(t, s.sendNow(make([]byte, 160)))
	assert.Equal(t, startTS+160, s.timestamp)

	require.NoError(t, s.sendNow(make([]byte, 160)))
	assert.Equal(t, startTS+320, s.timestamp)
}

func TestTickSkipsReceiveWhenNothingArrived(t *testing.T) {
	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer listener.Close()

	s := newLoopbackSession(t, listener.LocalAddr().(*net.UDPAddr).Port)
	err = s.tick(320, 160)
	assert.NoError(t, err, "missing audio/codec input must not terminate the loop")
}

func TestRoundTripBetweenTwoSessions(t *testing.T) {
	reg := codec.Default()
	c, _ := reg.Lookup("PCMU")

	a, err := New(Config{LocalIP: "127.0.0.1", LocalPort: 0, RemoteIP: "127.0.0.1", RemotePort: 1, Codec: c, LayerRate: 8000})
	require.NoError(t, err)
	defer a.conn.Close()

	b, err := New(Config{LocalIP: "127.0.0.1", LocalPort: 0, RemoteIP: "127.0.0.1",
		RemotePort: a.conn.LocalAddr().(*net.UDPAddr).Port, Codec: c, LayerRate: 8000})
	require.NoError(t, err)
	defer b.conn.Close()

	a.remoteAddr = &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: b.conn.LocalAddr().(*net.UDPAddr).Port}

	require.NoError(t, a.sendNow([]byte{1, 2, 3, 4}))

	pkt, ok := b.tryReceive()
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3, 4}, pkt.Payload)
	assert.Equal(t, uint8(2), pkt.Version)
}
