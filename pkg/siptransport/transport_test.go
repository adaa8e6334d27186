package siptransport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voiplink/core/pkg/icetransport"
)

func TestConfigURIUsesStandardPortOmission(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, "sip:alice@127.0.0.1", c.URI("alice"))
}

func TestConfigURINonStandardPort(t *testing.T) {
	c := Config{Protocol: "udp", Address: "0.0.0.0", Port: 6060}
	assert.Equal(t, "sip:alice@127.0.0.1:6060", c.URI("alice"))
}

func TestConfigValidateRejectsMissingTLSConfig(t *testing.T) {
	c := Config{Protocol: "tls", Address: "10.0.0.1", Port: 5061}
	assert.Error(t, c.Validate())
}

func TestConfigValidateAcceptsDefault(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestIsIPSizedAcceptsIPv4AndIPv6(t *testing.T) {
	assert.True(t, isIPSized(&net.UDPAddr{IP: net.ParseIP("127.0.0.1")}))
	assert.True(t, isIPSized(&net.UDPAddr{IP: net.ParseIP("::1")}))
}

func TestIsIPSizedRejectsMalformedUDPAddr(t *testing.T) {
	assert.False(t, isIPSized(&net.UDPAddr{IP: []byte{1, 2, 3}}))
}

func TestSendRejectsMalformedAddress(t *testing.T) {
	tr := &SipIceTransport{txByKey: make(map[string]*txRecord)}
	err := tr.Send("k1", []byte("hi"), &net.UDPAddr{IP: []byte{1, 2, 3}})
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestSendOnUnnominatedComponentFails(t *testing.T) {
	ice, err := icetransport.New(icetransport.Config{Components: 1, Role: icetransport.Controlling})
	require.NoError(t, err)
	defer ice.Destroy()

	tr := &SipIceTransport{ice: ice, component: 0, txByKey: make(map[string]*txRecord)}
	err = tr.Send("k1", []byte("hi"), &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5060})
	assert.Error(t, err, "component was never nominated")
}

func TestOnRecvShiftsUnconsumedRemainder(t *testing.T) {
	tr := &SipIceTransport{
		txByKey: make(map[string]*txRecord),
		rxBuf:   make([]byte, 16),
	}
	var seen []byte
	tr.onParse = func(buf []byte, _ time.Time) int {
		seen = append([]byte(nil), buf...)
		return 3 // consume first 3 bytes, leave the rest
	}

	tr.onRecv([]byte{1, 2, 3, 4, 5})
	require.Equal(t, []byte{1, 2, 3, 4, 5}, seen)
	assert.Equal(t, 2, tr.rxLen)
	assert.Equal(t, byte(4), tr.rxBuf[0])
	assert.Equal(t, byte(5), tr.rxBuf[1])
}

func TestOnRecvDropsOversizedPacketBeyondCapacity(t *testing.T) {
	tr := &SipIceTransport{
		txByKey: make(map[string]*txRecord),
		rxBuf:   make([]byte, 4),
		rxLen:   4, // already full
	}
	called := false
	tr.onParse = func([]byte, time.Time) int { called = true; return 0 }
	tr.onRecv([]byte{9, 9})
	assert.False(t, called)
}

func TestDestroyRunsCallbackOnceAtZeroRefcount(t *testing.T) {
	ice, err := icetransport.New(icetransport.Config{Components: 1, Role: icetransport.Controlling})
	require.NoError(t, err)
	defer ice.Destroy()

	var calls int
	tr := &SipIceTransport{
		ice:       ice,
		component: 0,
		txByKey:   make(map[string]*txRecord),
		refCount:  2,
		destroyFn: func() { calls++ },
	}

	tr.Destroy()
	assert.Equal(t, 0, calls, "refcount still positive, destroy must not fire")

	tr.Destroy()
	assert.Equal(t, 1, calls)

	tr.refCount = 0
	tr.Destroy()
	assert.Equal(t, 1, calls, "destroy callback must run at most once")
}
