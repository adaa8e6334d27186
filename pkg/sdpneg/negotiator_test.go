package sdpneg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voiplink/core/internal/codec"
	"github.com/voiplink/core/pkg/call"
)

func newNegotiator() *Negotiator {
	return New(codec.Default())
}

func TestCreateInitialOfferRequiresActiveCodecs(t *testing.T) {
	n := newNegotiator()
	_, err := n.CreateInitialOffer(OfferConfig{LocalIP: "10.0.0.1", Media: []MediaAttrRequest{{Type: call.AUDIO}}})
	assert.Error(t, err)
}

func TestCreateInitialOfferDefaultsSendrecv(t *testing.T) {
	n := newNegotiator()
	offer, err := n.CreateInitialOffer(OfferConfig{
		LocalIP: "10.0.0.1", LocalAudioPort: 10000,
		ActiveCodecs: []string{"PCMU", "PCMA"},
		Media:        []MediaAttrRequest{{Type: call.AUDIO}},
	})
	require.NoError(t, err)
	require.Len(t, offer.Media, 1)
	assert.Equal(t, call.SENDRECV, offer.Media[0].Direction)
	assert.Equal(t, []string{"PCMU", "PCMA"}, offer.Media[0].Codecs)
}

func TestStartNegotiationIntersectsPreservingLocalOrder(t *testing.T) {
	n := newNegotiator()
	local := &Sdp{Media: []MediaSlot{{Type: call.AUDIO, Codecs: []string{"PCMU", "PCMA"}}}}
	remote := &Sdp{Media: []MediaSlot{{Type: call.AUDIO, Codecs: []string{"PCMA", "PCMU"}}}}

	err := n.StartNegotiation(local, remote)
	require.NoError(t, err)
	assert.Equal(t, []string{"PCMU", "PCMA"}, local.Media[0].Codecs)
	assert.Equal(t, "PCMU", local.SelectedCodec())
}

func TestStartNegotiationFailsOnEmptyIntersection(t *testing.T) {
	n := newNegotiator()
	local := &Sdp{Media: []MediaSlot{{Type: call.AUDIO, Codecs: []string{"PCMU"}}}}
	remote := &Sdp{Media: []MediaSlot{{Type: call.AUDIO, Codecs: []string{"OPUS"}}}}

	err := n.StartNegotiation(local, remote)
	assert.Error(t, err)
}

func TestHoldResumeRoundTripsToSendrecv(t *testing.T) {
	s := &Sdp{Media: []MediaSlot{{Type: call.AUDIO, Direction: call.SENDRECV}}}
	s.Reinvite(true)
	assert.Equal(t, call.SENDONLY, s.Media[0].Direction)
	s.Reinvite(false)
	assert.Equal(t, call.SENDRECV, s.Media[0].Direction)
}

func TestAttributePortToAllMedia(t *testing.T) {
	s := &Sdp{Media: []MediaSlot{{Type: call.AUDIO}, {Type: call.VIDEO}}}
	s.AttributePortToAllMedia(20000)
	assert.Equal(t, 20000, s.Media[0].Port)
	assert.Equal(t, 20002, s.Media[1].Port)
}

func TestMarshalParseRoundTripOnCodecList(t *testing.T) {
	n := newNegotiator()
	offer, err := n.CreateInitialOffer(OfferConfig{
		LocalIP: "10.0.0.1", LocalAudioPort: 10000,
		ActiveCodecs: []string{"PCMU", "PCMA"},
		Media:        []MediaAttrRequest{{Type: call.AUDIO}},
	})
	require.NoError(t, err)

	raw, err := offer.Marshal()
	require.NoError(t, err)

	parsed, err := n.ReceivingInitialOffer(raw)
	require.NoError(t, err)
	require.Len(t, parsed.Media, 1)
	assert.Equal(t, offer.Media[0].Codecs, parsed.Media[0].Codecs)
}
