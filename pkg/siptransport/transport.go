// Package siptransport provides the classical UDP/TCP SIP transport
// configuration and the SIP/ICE transport adapter (spec §4.3) that
// presents a completed ICE component as a SIP-stack transport.
//
// The classical transport config is grounded on the teacher's
// pkg/dialog/transport.go TransportConfig (protocol/address/public-address
// validation and URI rendering), generalized to the {udp, tcp, tls}
// protocol set spec §4.3/§6 needs. The adapter's send/onRecv buffering and
// reference-counted shutdown are grounded on spec §4.3's pjsip-derived
// transport semantics; spec §9 calls out replacing its reinterpret_cast
// first-member-struct trick with "a wrapping type whose first field is the
// foreign transport struct" — SipIceTransport embeds that foreign struct
// (BaseTransport) as its literal first field for exactly that reason.
package siptransport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voiplink/core/internal/ctlerror"
	"github.com/voiplink/core/internal/voiplog"
	"github.com/voiplink/core/pkg/icetransport"
)

// Config is the classical transport's listen/public-address configuration.
type Config struct {
	Protocol      string // "udp", "tcp", "tls"
	Address       string
	Port          int
	PublicAddress string
	PublicPort    int
	TLSConfig     *tls.Config
}

// DefaultConfig mirrors the teacher's DefaultTransportConfig: UDP on
// 0.0.0.0:5060.
func DefaultConfig() Config {
	return Config{Protocol: "udp", Address: "0.0.0.0", Port: 5060}
}

// Validate checks cfg for internal consistency.
func (c Config) Validate() error {
	switch c.Protocol {
	case "udp", "tcp", "tls":
	default:
		return ctlerror.New(ctlerror.ConfigurationError, "siptransport.Validate", fmt.Sprintf("unsupported protocol %q", c.Protocol))
	}
	if c.Address == "" {
		return ctlerror.New(ctlerror.ConfigurationError, "siptransport.Validate", "address is required")
	}
	if c.Address != "0.0.0.0" && net.ParseIP(c.Address) == nil {
		return ctlerror.New(ctlerror.ConfigurationError, "siptransport.Validate", fmt.Sprintf("invalid address %q", c.Address))
	}
	if c.Port < 1 || c.Port > 65535 {
		return ctlerror.New(ctlerror.ConfigurationError, "siptransport.Validate", fmt.Sprintf("invalid port %d", c.Port))
	}
	if c.Protocol == "tls" && c.TLSConfig == nil {
		return ctlerror.New(ctlerror.ConfigurationError, "siptransport.Validate", "TLS config required for tls protocol")
	}
	return nil
}

// ListenAddress is the local bind address.
func (c Config) ListenAddress() string { return fmt.Sprintf("%s:%d", c.Address, c.Port) }

// PublicAddr returns the NAT-visible address, falling back to the local
// one (0.0.0.0 maps to 127.0.0.1, matching the teacher's convention for a
// locally-reachable default).
func (c Config) PublicAddr() string {
	addr, port := c.Address, c.Port
	if c.PublicAddress != "" {
		addr = c.PublicAddress
	}
	if c.PublicPort != 0 {
		port = c.PublicPort
	}
	if addr == "0.0.0.0" {
		addr = "127.0.0.1"
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

// URI renders a sip: or sips: URI for user at this transport's public
// address.
func (c Config) URI(user string) string {
	scheme := "sip"
	if c.Protocol == "tls" {
		scheme = "sips"
	}
	addr, port := c.Address, c.Port
	if c.PublicAddress != "" {
		addr = c.PublicAddress
	}
	if c.PublicPort != 0 {
		port = c.PublicPort
	}
	if addr == "0.0.0.0" {
		addr = "127.0.0.1"
	}
	standard := (c.Protocol != "tls" && port == 5060) || (c.Protocol == "tls" && port == 5061)
	if standard {
		return fmt.Sprintf("%s:%s@%s", scheme, user, addr)
	}
	return fmt.Sprintf("%s:%s@%s:%d", scheme, user, addr, port)
}

// txState is the tdata in-flight marker spec §4.3 calls "an in-flight op
// key" — a send is PendingTx if the previous send on the same tdata handle
// has not yet completed.
type txState int32

const (
	txIdle txState = iota
	txInFlight
)

// Status codes the adapter's operations can fail with.
var (
	ErrInvalidAddress = fmt.Errorf("siptransport: rem_addr is not IPv4/IPv6 sized")
	ErrPendingTx       = fmt.Errorf("siptransport: tdata already has an in-flight send")
)

// BaseTransport is the foreign, stack-facing transport header spec §4.3's
// invariant requires as the adapter's first field ("the transport object's
// address layout begins with the SIP-stack transport header ... so the
// stack may cast between them"). In Go this cast is unnecessary — any code
// holding a *SipIceTransport already has the concrete type — but the field
// is kept literally first so the layout requirement documented in spec §9
// is satisfiable if a foreign caller ever needs base-pointer arithmetic
// against a cgo-exported stack.
type BaseTransport struct {
	Network string // "udp" for ICE-carried SIP, matching spec §4.3 intent
	Addr    net.Addr
}

// txRecord tracks one outgoing send's short-write leftover.
type txRecord struct {
	mu      sync.Mutex
	pending []byte
	state   txState
}

// SipIceTransport wraps one completed IceTransport component as a SIP
// transport instance (spec §4.3).
type SipIceTransport struct {
	Base BaseTransport // must remain the first field; see package doc

	ice       *icetransport.IceTransport
	component int

	mu sync.Mutex // guards txByKey for Send. Send and onRecv do not share a
	// lock: onRecv serialises on rxPoolMu instead, and the two touch
	// disjoint state. Neither lock is reentrant.

	txByKey map[string]*txRecord

	rxBuf    []byte
	rxLen    int
	rxPoolMu sync.Mutex

	refCount int32 // atomic

	onParse func(buf []byte, receivedAt time.Time) (consumed int)

	destroyOnce sync.Once
	destroyFn   func()
	shutdown    int32 // atomic bool

	logger voiplog.Logger
}

// Callbacks bundles the owner-supplied hooks spec §3 lists for a
// SipIceTransport ({send_msg, do_shutdown, destroy}). OnParse corresponds
// to "hand it to the transport manager for PDU parsing" in §4.3.
type Callbacks struct {
	OnParse func(buf []byte, receivedAt time.Time) (consumed int)
	Destroy func()
}

const defaultRxBufferSize = 65536

// NewSipIceTransport registers component idx of ice as a SIP transport.
// Ownership of ice is shared: Destroy only decrements the transport's own
// reference, matching spec §4.3 ("decrement the reference counter to
// release the underlying ICE handle").
func NewSipIceTransport(ice *icetransport.IceTransport, component int, cb Callbacks, logger voiplog.Logger) (*SipIceTransport, error) {
	if logger == nil {
		logger = voiplog.Default()
	}
	addr, err := ice.GetLocalAddress(component)
	if err != nil {
		return nil, ctlerror.Wrap(ctlerror.NetworkError, "siptransport.NewSipIceTransport", err)
	}
	t := &SipIceTransport{
		Base:      BaseTransport{Network: "udp", Addr: addr},
		ice:       ice,
		component: component,
		txByKey:   make(map[string]*txRecord),
		rxBuf:     make([]byte, defaultRxBufferSize),
		onParse:   cb.OnParse,
		destroyFn: cb.Destroy,
		refCount:  1,
		logger:    logger.WithComponent("siptransport"),
	}
	ice.SetOnRecv(component, func(b []byte) { t.onRecv(b) })
	return t, nil
}

// AddRef increments the reference count (e.g. a retransmission timer
// holding the transport alive independent of the dialog).
func (t *SipIceTransport) AddRef() { atomic.AddInt32(&t.refCount, 1) }

// Send implements spec §4.3 `send`: short writes buffer their unsent tail
// and are still reported as success.
func (t *SipIceTransport) Send(key string, buf []byte, remAddr net.Addr) error {
	if !isIPSized(remAddr) {
		return ErrInvalidAddress
	}

	t.mu.Lock()
	rec, ok := t.txByKey[key]
	if !ok {
		rec = &txRecord{}
		t.txByKey[key] = rec
	}
	t.mu.Unlock()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.state == txInFlight {
		return ErrPendingTx
	}
	rec.state = txInFlight
	defer func() { rec.state = txIdle }()

	payload := buf
	if len(rec.pending) > 0 {
		payload = append(append([]byte(nil), rec.pending...), buf...)
		rec.pending = nil
	}

	n, err := t.ice.Send(t.component, payload)
	if err != nil {
		return ctlerror.Wrap(ctlerror.NetworkError, "siptransport.Send", err)
	}
	if n < len(payload) {
		rec.pending = append([]byte(nil), payload[n:]...)
	}
	return nil
}

// onRecv implements spec §4.3 `onRecv`: append to the receive buffer up to
// capacity, hand the accumulated bytes to the parser, shift any
// unconsumed remainder to the front, and reset the pool each packet.
func (t *SipIceTransport) onRecv(b []byte) {
	t.rxPoolMu.Lock()
	defer t.rxPoolMu.Unlock()

	room := len(t.rxBuf) - t.rxLen
	if room <= 0 {
		if t.logger != nil {
			t.logger.Warn(context.Background(), "siptransport receive buffer full, dropping packet")
		}
		return
	}
	n := len(b)
	if n > room {
		n = room
	}
	copy(t.rxBuf[t.rxLen:], b[:n])
	t.rxLen += n

	if t.onParse == nil {
		t.rxLen = 0
		return
	}
	consumed := t.onParse(t.rxBuf[:t.rxLen], time.Now())
	if consumed < 0 || consumed > t.rxLen {
		consumed = t.rxLen
	}
	remaining := t.rxLen - consumed
	if remaining > 0 {
		copy(t.rxBuf, t.rxBuf[consumed:t.rxLen])
	}
	t.rxLen = remaining
	// The per-packet allocation pool this buffer fronts is conceptually
	// reset here (spec §4.3 "reset after each packet") — in this port the
	// pool is simply the rxBuf slice reused in place, so there is nothing
	// further to release.
}

// Shutdown unregisters the transport from further receives. Safe to call
// more than once.
func (t *SipIceTransport) Shutdown() {
	atomic.StoreInt32(&t.shutdown, 1)
	t.ice.SetOnRecv(t.component, nil)
}

// Destroy decrements the reference count and, once it reaches zero, runs
// the owner's destroy callback exactly once (spec §4.3).
func (t *SipIceTransport) Destroy() {
	if atomic.AddInt32(&t.refCount, -1) > 0 {
		return
	}
	t.Shutdown()
	t.destroyOnce.Do(func() {
		if t.destroyFn != nil {
			t.destroyFn()
		}
	})
}

func isIPSized(addr net.Addr) bool {
	udp, ok := addr.(*net.UDPAddr)
	if !ok {
		return true // non-UDP net.Addr implementations are out of scope for this check
	}
	return len(udp.IP) == net.IPv4len || len(udp.IP) == net.IPv6len || udp.IP.To4() != nil
}
