package siptransport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pion/dtls/v2"
)

// iceConn adapts one SipIceTransport component to net.Conn so pion/dtls can
// run its handshake state machine over the already-nominated ICE pair. This
// is the media-plane security entry point spec's DOMAIN STACK table assigns
// to pion/dtls/v2 — a handshake surface, not a full SRTP keying pipeline
// (key export and SRTP framing are out of scope; see DESIGN.md).
type iceConn struct {
	t      *SipIceTransport
	peer   net.Addr
	in     chan []byte
	closed chan struct{}
}

func newIceConn(t *SipIceTransport, peer net.Addr) *iceConn {
	c := &iceConn{t: t, peer: peer, in: make(chan []byte, 64), closed: make(chan struct{})}
	t.ice.SetOnRecv(t.component, func(b []byte) {
		cp := append([]byte(nil), b...)
		select {
		case c.in <- cp:
		case <-c.closed:
		default:
			// drop rather than block the ICE receive goroutine; DTLS
			// retransmits on timeout.
		}
	})
	return c
}

func (c *iceConn) Read(b []byte) (int, error) {
	select {
	case chunk := <-c.in:
		n := copy(b, chunk)
		return n, nil
	case <-c.closed:
		return 0, errors.New("siptransport: dtls connection closed")
	}
}

func (c *iceConn) Write(b []byte) (int, error) {
	n, err := c.t.ice.Send(c.t.component, b)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (c *iceConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func (c *iceConn) LocalAddr() net.Addr  { return c.t.Base.Addr }
func (c *iceConn) RemoteAddr() net.Addr { return c.peer }

func (c *iceConn) SetDeadline(time.Time) error      { return nil }
func (c *iceConn) SetReadDeadline(time.Time) error  { return nil }
func (c *iceConn) SetWriteDeadline(time.Time) error { return nil }

// DTLSHandshake runs a DTLS handshake over t's nominated ICE component,
// acting as the client if isClient, and returns the established
// *dtls.Conn. Callers needing SRTP key material derive it from the
// returned connection's ConnectionState().ExportKeyingMaterial. The
// handshake replaces the component's receive callback, so packets arriving
// afterwards go to the DTLS connection, not to the SipIceTransport's onRecv.
func DTLSHandshake(ctx context.Context, t *SipIceTransport, peer net.Addr, cfg *dtls.Config, isClient bool) (*dtls.Conn, error) {
	_ = ctx // handshake deadlines are carried on cfg, not ctx
	conn := newIceConn(t, peer)
	if isClient {
		dconn, err := dtls.Client(conn, cfg)
		if err != nil {
			return nil, fmt.Errorf("siptransport: dtls client handshake: %w", err)
		}
		return dconn, nil
	}
	dconn, err := dtls.Server(conn, cfg)
	if err != nil {
		return nil, fmt.Errorf("siptransport: dtls server handshake: %w", err)
	}
	return dconn, nil
}
