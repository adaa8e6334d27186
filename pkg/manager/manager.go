// Package manager implements the call director (spec §4.6): single active
// call enforcement via auto-hold, IP-to-IP vs account-routed dialing,
// incoming-call ringing/waiting-set handling, DTMF and busy-tone overlay
// with optional SIP INFO dispatch, voicemail NOTIFY parsing, and stateless
// OPTIONS replies. Ringtone loading and playback are not implemented here.
//
// Grounded on original_source/sflphone-common/src/managerimpl.cpp
// (outgoingCall/onHoldCall/incomingCall/dtmfFired/checkMailBox/
// clientSdp-adjacent OPTIONS handling) and, for the SIP-facing mechanics of
// an OPTIONS auto-reply, the teacher's pkg/dialog/handlers.go pattern of
// building responses with sip.NewResponseFromRequest.
package manager

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/emiago/sipgo/sip"

	"github.com/voiplink/core/internal/ringbuffer"
	"github.com/voiplink/core/internal/voiplog"
	"github.com/voiplink/core/pkg/account"
	"github.com/voiplink/core/pkg/call"
	"github.com/voiplink/core/pkg/invite"
)

// ipToIPPattern matches the "ip:<addr>" dial-string convention spec §4.6
// uses to route a call through the account-null link instead of an
// account.
var ipToIPPattern = regexp.MustCompile(`^ip:(.+)$`)

// Entry pairs a Call with its driving Invite session, the unit the Manager
// tracks per account.
type Entry struct {
	Call    *call.Call
	Session *invite.Session
	Account *account.Account // nil for an IPtoIP call
}

// Manager enforces the single-active-call invariant per account, routes
// dial strings, tracks the waiting set for calls that arrive while another
// is active, and dispatches tones and voicemail notifications to the
// client.
type Manager struct {
	mu sync.Mutex

	logger voiplog.Logger

	current map[account.AccountId]*Entry // the one active-or-holdable call per account
	waiting []*Entry                     // calls that rang in while current was occupied

	urgent *ringbuffer.Buffer // DTMF/busy-tone overlay buffer (spec §3 "urgent")

	// SendInfo dispatches a SIP INFO carrying application/dtmf-relay in
	// parallel with the local tone (spec §4.6 "optional SIP INFO
	// dispatch"). Nil disables the SIP-side leg; the tone overlay always
	// happens.
	SendInfo func(e *Entry, signal string, durationMs int) error

	// Notify surfaces a client-facing event: ringing, incoming, voicemail,
	// busy. Nil is a valid no-op sink for tests.
	Notify func(event string, payload any)
}

// New builds a Manager with an urgent ring buffer of capacity bytes
// (spec §3: DTMF/tone overlay shares the urgent layer with busy tones and
// ringback).
func New(urgentCapacity int, logger voiplog.Logger) *Manager {
	if logger == nil {
		logger = voiplog.Default()
	}
	return &Manager{
		logger:  logger.WithComponent("manager"),
		current: make(map[account.AccountId]*Entry),
		urgent:  ringbuffer.New(urgentCapacity),
	}
}

// accountKey is the map key a call is tracked under; IPtoIP calls share a
// single pseudo-account slot since they are never routed through a real
// Account (spec §4.6 "routed through the stack's account-null SIP link").
const ipToIPKey account.AccountId = "__ip_to_ip__"

func keyFor(acc *account.Account) account.AccountId {
	if acc == nil {
		return ipToIPKey
	}
	return acc.ID()
}

// ClassifyDialString reports whether dialed matches the "ip:<addr>"
// IP-to-IP convention and, if so, the bare address (spec §4.6).
func ClassifyDialString(dialed string) (addr string, isIPToIP bool) {
	m := ipToIPPattern.FindStringSubmatch(dialed)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// PlaceCall registers e as the (possibly new) active call for its account
// slot, auto-holding whatever was previously active there first
// (spec §4.6 "outgoingCall/answerCall check hasCurrentCall() and, if true,
// issue onHoldCall(currentId) before switching").
func (m *Manager) PlaceCall(e *Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.switchCurrentLocked(e)
}

// AnswerCall is PlaceCall's inbound-leg counterpart: accepting an incoming
// call is also a "switch to this call" per spec §4.6.
func (m *Manager) AnswerCall(e *Entry) {
	m.PlaceCall(e)
}

func (m *Manager) switchCurrentLocked(e *Entry) {
	key := keyFor(e.Account)
	if prev, ok := m.current[key]; ok && prev.Call.ID() != e.Call.ID() {
		prev.Call.SetHold(true)
		if m.Notify != nil {
			m.Notify(call.LabelHold, prev)
		}
	}
	m.current[key] = e
	if m.Notify != nil {
		m.Notify(call.LabelCurrent, e)
	}
}

// HasCurrentCall reports whether the account slot key already has an
// active call (spec §4.6 "hasCurrentCall()").
func (m *Manager) HasCurrentCall(acc *account.Account) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.current[keyFor(acc)]
	return ok
}

// IncomingCall implements spec §4.6 "Incoming call": ring immediately if
// the account slot is free, otherwise queue e in the waiting set and
// notify the client instead of the peer hearing ringback change state.
func (m *Manager) IncomingCall(e *Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.current[keyFor(e.Account)]; !busy {
		e.Call.SetConnectionState(call.Ringing)
		if m.Notify != nil {
			m.Notify(call.LabelRinging, e)
		}
		return
	}

	m.waiting = append(m.waiting, e)
	if m.Notify != nil {
		m.Notify(call.LabelIncoming, e)
	}
}

// WaitingCalls returns a snapshot of calls queued behind an active call.
func (m *Manager) WaitingCalls() []*Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Entry, len(m.waiting))
	copy(out, m.waiting)
	return out
}

// HangupCurrent clears the account slot entry matching id, if it is the
// one currently tracked, and promotes the oldest waiting call for that
// account (if any) to current.
func (m *Manager) HangupCurrent(acc *account.Account, id call.CallId) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := keyFor(acc)
	if cur, ok := m.current[key]; ok && cur.Call.ID() == id {
		delete(m.current, key)
	}

	for i, w := range m.waiting {
		if keyFor(w.Account) == key {
			m.waiting = append(m.waiting[:i], m.waiting[i+1:]...)
			m.switchCurrentLocked(w)
			return
		}
	}
}

// DTMF tone playback per RFC 2833-absent SIP INFO fallback: MIME
// application/dtmf-relay, body "Signal=<c>\r\nDuration=<ms>\r\n"
// (spec §6).
const dtmfContentType = "application/dtmf-relay"

// SendDTMF overlays signal into the urgent ring buffer at pcm and, if
// SendInfo is configured, dispatches a parallel SIP INFO carrying the same
// digit (spec §4.6 "DTMF playback to the urgent ring buffer ... with
// optional SIP INFO dispatch in parallel").
func (m *Manager) SendDTMF(ctx context.Context, e *Entry, signal string, durationMs int, pcm []byte) error {
	m.urgent.Put(pcm)

	if m.SendInfo == nil {
		return nil
	}
	return m.SendInfo(e, signal, durationMs)
}

// DtmfInfoBody renders the application/dtmf-relay body spec §6 specifies.
func DtmfInfoBody(signal string, durationMs int) string {
	var b strings.Builder
	b.WriteString("Signal=")
	b.WriteString(signal)
	b.WriteString("\r\nDuration=")
	b.WriteString(strconv.Itoa(durationMs))
	b.WriteString("\r\n")
	return b.String()
}

// PlayBusyTone overlays the configured busy-tone PCM into the urgent
// buffer when the remote signals busy (spec §4.6).
func (m *Manager) PlayBusyTone(tone []byte) {
	m.urgent.Put(tone)
}

// voiceMessageHeader matches a "Voice-Message: <new>/<old>" fragment in a
// NOTIFY body (spec §4.6, grounded on managerimpl.cpp's checkMailBox).
var voiceMessageHeader = regexp.MustCompile(`(?i)Voice-Message:\s*(\d+)\s*/\s*(\d+)`)

// VoicemailCount is the parsed new/old message counts from a
// message-summary NOTIFY body.
type VoicemailCount struct {
	New int
	Old int
}

// HandleVoicemailNotify parses body for a Voice-Message fragment and, if
// found, emits a voicemail notification for acc to the client
// (spec §4.6 "Voicemail").
func (m *Manager) HandleVoicemailNotify(acc *account.Account, body []byte) (VoicemailCount, bool) {
	match := voiceMessageHeader.FindSubmatch(body)
	if match == nil {
		return VoicemailCount{}, false
	}
	newCount, _ := strconv.Atoi(string(match[1]))
	oldCount, _ := strconv.Atoi(string(match[2]))
	vm := VoicemailCount{New: newCount, Old: oldCount}
	if m.Notify != nil {
		m.Notify("VOICEMAIL", struct {
			Account *account.Account
			Count   VoicemailCount
		}{acc, vm})
	}
	return vm, true
}

// Capabilities lists the header values an OPTIONS 200 OK clones from the
// stack's own capability set (spec §4.6 "Allow, Accept, Supported, and
// Allow-Events headers cloned from the stack capabilities").
type Capabilities struct {
	Allow       []string
	Accept      []string
	Supported   []string
	AllowEvents []string
}

// DefaultCapabilities mirrors the teacher's own registered method/event set
// (pkg/dialog/headers.go's OPTIONS allow-list).
func DefaultCapabilities() Capabilities {
	return Capabilities{
		Allow:       []string{"INVITE", "ACK", "CANCEL", "BYE", "OPTIONS", "REFER", "NOTIFY", "INFO", "UPDATE"},
		Accept:      []string{"application/sdp"},
		Supported:   []string{"replaces", "timer"},
		AllowEvents: []string{"refer", "message-summary"},
	}
}

// HandleOptions builds a stateless 200 OK for req, cloning caps into the
// response headers (spec §4.6 "OPTIONS").
func HandleOptions(req *sip.Request, caps Capabilities) *sip.Response {
	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	resp.AppendHeader(sip.NewHeader("Allow", strings.Join(caps.Allow, ", ")))
	resp.AppendHeader(sip.NewHeader("Accept", strings.Join(caps.Accept, ", ")))
	resp.AppendHeader(sip.NewHeader("Supported", strings.Join(caps.Supported, ", ")))
	resp.AppendHeader(sip.NewHeader("Allow-Events", strings.Join(caps.AllowEvents, ", ")))
	return resp
}
