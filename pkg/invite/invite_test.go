package invite

import (
	"context"
	"testing"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voiplink/core/pkg/call"
)

func newOutboundSession() (*Session, *[]State) {
	var entered []State
	c := call.New(call.Outgoing, call.Classic)
	s := New(c, Callbacks{
		OnRinging:      func(*Session) { entered = append(entered, Early) },
		OnConfirmed:    func(*Session) { entered = append(entered, Confirmed) },
		OnDisconnected: func(*Session, ReasonClass, sip.StatusCode) { entered = append(entered, Disconnected) },
	}, nil)
	return s, &entered
}

func TestOutboundHappyPath(t *testing.T) {
	s, _ := newOutboundSession()
	ctx := context.Background()

	require.NoError(t, s.StartOutbound(ctx, nil, nil))
	assert.Equal(t, Calling, s.State())

	require.NoError(t, s.HandleProvisional(ctx, &sip.Response{StatusCode: 180}))
	assert.Equal(t, Early, s.State())

	require.NoError(t, s.HandleFinalResponse(ctx, &sip.Response{StatusCode: 200}, []byte("v=0")))
	assert.Equal(t, Connecting, s.State())

	require.NoError(t, s.ConfirmByAck(ctx))
	assert.Equal(t, Confirmed, s.State())
}

func TestOutboundRejectedClassifiesServerFailure(t *testing.T) {
	s, _ := newOutboundSession()
	ctx := context.Background()
	require.NoError(t, s.StartOutbound(ctx, nil, nil))

	require.NoError(t, s.HandleFinalResponse(ctx, &sip.Response{StatusCode: 404}, nil))
	assert.Equal(t, Disconnected, s.State())
	assert.Equal(t, ServerFailure, ClassifyReason(s.lastReasonCode))
}

func TestInboundAcceptAdvancesToConfirmed(t *testing.T) {
	c := call.New(call.Incoming, call.Classic)
	var mediaUpdates int
	s := New(c, Callbacks{OnMediaUpdate: func(*Session, MediaUpdate) { mediaUpdates++ }}, nil)
	ctx := context.Background()

	require.NoError(t, s.StartInbound(ctx, nil, nil))
	assert.Equal(t, Incoming, s.State())

	require.NoError(t, s.Accept(ctx, true, []byte("v=0")))
	assert.Equal(t, Confirmed, s.State())
	assert.Equal(t, 1, mediaUpdates)
}

func TestInboundAcceptSdpFailureSends488(t *testing.T) {
	c := call.New(call.Incoming, call.Classic)
	s := New(c, Callbacks{}, nil)
	ctx := context.Background()
	require.NoError(t, s.StartInbound(ctx, nil, nil))

	require.NoError(t, s.Accept(ctx, false, nil))
	assert.Equal(t, Disconnected, s.State())
	assert.Equal(t, sip.StatusNotAcceptableHere, s.lastReasonCode)
}

func TestReinviteStaysConfirmedOnFailure(t *testing.T) {
	s, _ := newOutboundSession()
	ctx := context.Background()
	require.NoError(t, s.StartOutbound(ctx, nil, nil))
	require.NoError(t, s.HandleFinalResponse(ctx, &sip.Response{StatusCode: 200}, nil))
	require.NoError(t, s.ConfirmByAck(ctx))

	require.NoError(t, s.Reinvite(ctx, false, MediaUpdate{}))
	assert.Equal(t, Confirmed, s.State())
}

func TestHangupFromAnyStateReachesDisconnected(t *testing.T) {
	s, _ := newOutboundSession()
	ctx := context.Background()
	require.NoError(t, s.StartOutbound(ctx, nil, nil))
	require.NoError(t, s.Hangup(ctx))
	assert.Equal(t, Disconnected, s.State())
}

func TestReferSubscriptionSipfragTracksTarget(t *testing.T) {
	target, _ := newOutboundSession()
	sub := NewReferSubscription("sub1", sip.Uri{User: "bob"}, "")
	body, terminal := sub.Sipfrag()
	assert.False(t, terminal)
	assert.Contains(t, body, "100 Trying")

	sub.Bind(target)
	ctx := context.Background()
	require.NoError(t, target.StartOutbound(ctx, nil, nil))
	require.NoError(t, target.HandleFinalResponse(ctx, &sip.Response{StatusCode: 200}, nil))
	require.NoError(t, target.ConfirmByAck(ctx))

	body, terminal = sub.Sipfrag()
	assert.True(t, terminal)
	assert.Contains(t, body, "200 OK")
}

func TestReferSubSuppressedHeader(t *testing.T) {
	sub := NewReferSubscription("sub2", sip.Uri{}, "false")
	assert.True(t, sub.Suppressed())
}
