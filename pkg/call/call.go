// Package call models the per-call state described in spec §3 ("Call"):
// peer identity, media attributes, recording flag, and connection/call
// state machines, owned exclusively by the Manager's account-to-call map.
package call

import (
	"sync"

	"github.com/google/uuid"
)

// CallId is globally unique within a process and never reused.
type CallId string

// NewCallId mints a fresh, process-unique call identifier.
func NewCallId() CallId {
	return CallId(uuid.NewString())
}

// Direction distinguishes who originated the call.
type Direction int

const (
	Incoming Direction = iota
	Outgoing
)

// RoutingMode distinguishes direct IP-to-IP calls from account-routed
// ("Classic") calls (spec §4.6 "IP-to-IP vs classic routing").
type RoutingMode int

const (
	Classic RoutingMode = iota
	IPtoIP
)

// ConnectionState tracks SIP-session-level progress.
type ConnectionState int

const (
	Trying ConnectionState = iota
	Progressing
	Ringing
	Connected
	Disconnected
)

func (s ConnectionState) String() string {
	switch s {
	case Trying:
		return "Trying"
	case Progressing:
		return "Progressing"
	case Ringing:
		return "Ringing"
	case Connected:
		return "Connected"
	case Disconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// CallState tracks user-facing call state, independent of the underlying
// SIP signaling state.
type CallState int

const (
	Inactive CallState = iota
	Active
	Hold
	Busy
	Refused
	CallError
)

func (s CallState) String() string {
	switch s {
	case Inactive:
		return "Inactive"
	case Active:
		return "Active"
	case Hold:
		return "Hold"
	case Busy:
		return "Busy"
	case Refused:
		return "Refused"
	case CallError:
		return "Error"
	default:
		return "Unknown"
	}
}

// MediaType is one row's media kind.
type MediaType int

const (
	AUDIO MediaType = iota
	VIDEO
)

// Direction of a negotiated (or requested) media slot, per RFC 3264.
type MediaDirection int

const (
	SENDRECV MediaDirection = iota
	SENDONLY
	RECVONLY
	INACTIVE
)

func (d MediaDirection) String() string {
	switch d {
	case SENDRECV:
		return "sendrecv"
	case SENDONLY:
		return "sendonly"
	case RECVONLY:
		return "recvonly"
	case INACTIVE:
		return "inactive"
	default:
		return "unknown"
	}
}

// MediaAttribute is one row of the media list (spec §3).
type MediaAttribute struct {
	Type    MediaType
	Label   string
	Enabled bool
	Muted   bool
	OnHold  bool
	Source  string
	Dir     MediaDirection
}

// Endpoint is a transport-layer address (local, external/NAT-visible, or
// remote) a call's media travels over.
type Endpoint struct {
	IP   string
	Port int
}

// Call is a single point-to-point conversation.
type Call struct {
	mu sync.RWMutex

	id     CallId
	dir    Direction
	mode   RoutingMode
	connSt ConnectionState
	callSt CallState

	peerDisplayName string
	peerNumber      string

	localSDP  []byte
	remoteSDP []byte

	localEndpoint    Endpoint
	externalEndpoint Endpoint
	remoteEndpoint   Endpoint

	media []MediaAttribute

	recording bool

	// dialogRef is an opaque back-reference to the owning invite session
	// (spec §3: "for SIP, a back-reference to an invite session and
	// dialog"). Typed as `any` here to avoid an import cycle between
	// pkg/call and pkg/invite; pkg/invite stores itself here on creation.
	dialogRef any
}

// New creates a Call in Inactive/Trying state for the given direction and
// routing mode.
func New(dir Direction, mode RoutingMode) *Call {
	return &Call{
		id:     NewCallId(),
		dir:    dir,
		mode:   mode,
		connSt: Trying,
		callSt: Inactive,
	}
}

func (c *Call) ID() CallId { return c.id }
func (c *Call) Direction() Direction { return c.dir }
func (c *Call) RoutingMode() RoutingMode { return c.mode }

func (c *Call) ConnectionState() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connSt
}

func (c *Call) SetConnectionState(s ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connSt = s
}

func (c *Call) CallState() CallState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.callSt
}

func (c *Call) SetCallState(s CallState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callSt = s
}

// IsActiveUnheld reports whether this call counts toward the spec §3
// invariant "at most one Call per account has call-state Active without
// Hold".
func (c *Call) IsActiveUnheld() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.callSt != Active {
		return false
	}
	for _, m := range c.media {
		if m.OnHold {
			return false
		}
	}
	return true
}

func (c *Call) SetPeer(displayName, number string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peerDisplayName, c.peerNumber = displayName, number
}

func (c *Call) Peer() (displayName, number string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peerDisplayName, c.peerNumber
}

func (c *Call) SetSDP(local, remote []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.localSDP, c.remoteSDP = local, remote
}

func (c *Call) SDP() (local, remote []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.localSDP, c.remoteSDP
}

func (c *Call) SetEndpoints(local, external, remote Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.localEndpoint, c.externalEndpoint, c.remoteEndpoint = local, external, remote
}

func (c *Call) Endpoints() (local, external, remote Endpoint) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.localEndpoint, c.externalEndpoint, c.remoteEndpoint
}

func (c *Call) SetMedia(media []MediaAttribute) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.media = append([]MediaAttribute(nil), media...)
}

func (c *Call) Media() []MediaAttribute {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]MediaAttribute, len(c.media))
	copy(out, c.media)
	return out
}

// SetHold sets onHold on every media slot, enabled or not — used by the Manager
// when auto-holding the previous active call (spec §3 invariant).
func (c *Call) SetHold(onHold bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.media {
		c.media[i].OnHold = onHold
	}
	if onHold {
		c.callSt = Hold
	} else if c.callSt == Hold {
		c.callSt = Active
	}
}

func (c *Call) SetRecording(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recording = on
}

func (c *Call) Recording() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.recording
}

func (c *Call) SetDialogRef(ref any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dialogRef = ref
}

func (c *Call) DialogRef() any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dialogRef
}

// Client IPC state labels (spec §7). UnholdCurrent has no corresponding
// static Call field and TerminalStateLabel never returns it; the Manager
// does not emit it either.
const (
	LabelBusy          = "BUSY"
	LabelFailure       = "FAILURE"
	LabelHungup        = "HUNGUP"
	LabelCurrent       = "CURRENT"
	LabelHold          = "HOLD"
	LabelUnholdCurrent = "UNHOLD_CURRENT"
	LabelRinging       = "RINGING"
	LabelIncoming      = "INCOMING"
)

// TerminalStateLabel maps the current state pair to the single string the
// client IPC surfaces (spec §7).
func (c *Call) TerminalStateLabel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch {
	case c.callSt == Busy:
		return LabelBusy
	case c.callSt == CallError:
		return LabelFailure
	case c.connSt == Disconnected:
		return LabelHungup
	case c.callSt == Hold:
		return LabelHold
	case c.connSt == Ringing && c.dir == Incoming:
		return LabelIncoming
	case c.connSt == Ringing:
		return LabelRinging
	case c.callSt == Active:
		return LabelCurrent
	default:
		return LabelCurrent
	}
}
