// Package registration implements the REGISTER flow (spec §4.4): request
// composition, credential attachment, response-code classification into
// account.RegistrationState transitions, STUN gating, and the
// network-change re-registration sweep.
//
// Grounded on the teacher's pkg/dialog credential/digest handling pattern
// (sipgo's sip.Request/DigestAuth primitives already used throughout
// pkg/dialog/uasuac.go) and on account.Account's DAG-shaped state machine,
// which this client drives exclusively through Account.Transition instead
// of mutating state directly.
package registration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"

	"github.com/voiplink/core/internal/metrics"
	"github.com/voiplink/core/internal/voiplog"
	"github.com/voiplink/core/pkg/account"
)

// Intent distinguishes a registration attempt from an unregistration
// attempt — spec §4.4's regc_cb success mapping depends on which was in
// flight.
type Intent int

const (
	IntentRegister Intent = iota
	IntentUnregister
)

// StunProbe reports the outcome of the most recent STUN reachability
// check (spec §4.4 "STUN gating").
type StunProbe struct {
	Enabled bool
	LastOK  bool
}

// Client drives one account's REGISTER/un-REGISTER lifecycle.
type Client struct {
	ua     *sipgo.UserAgent
	client *sipgo.Client
	logger voiplog.Logger

	metrics *metrics.Collector

	mu      sync.Mutex
	intents map[account.AccountId]Intent
}

// New builds a Client sending REGISTER requests through sipClient. m may be
// nil, in which case registration error counts are simply not collected.
func New(ua *sipgo.UserAgent, sipClient *sipgo.Client, logger voiplog.Logger, m *metrics.Collector) *Client {
	if logger == nil {
		logger = voiplog.Default()
	}
	return &Client{
		ua: ua, client: sipClient,
		logger:  logger.WithComponent("registration"),
		metrics: m,
		intents: make(map[account.AccountId]Intent),
	}
}

// handle implements account.RegistrationHandle by closing over the acc and
// client needed to refresh or tear down the binding.
type handle struct {
	c   *Client
	acc *account.Account
}

func (h *handle) Refresh() error {
	return h.c.Register(context.Background(), h.acc, StunProbe{})
}

func (h *handle) Unregister() error {
	return h.c.Unregister(context.Background(), h.acc)
}

// Register composes and sends a REGISTER for acc, classifying the
// response per spec §4.4 and driving acc's state machine accordingly.
func (c *Client) Register(ctx context.Context, acc *account.Account, stun StunProbe) error {
	if stun.Enabled && !stun.LastOK {
		// spec §4.4: "if STUN is enabled and the last STUN probe failed,
		// set ErrorExistStun and abort." Error states are only reachable
		// from Trying, so the attempt passes through it without sending.
		if err := c.transition(acc, account.Trying); err != nil {
			return err
		}
		return c.transition(acc, account.ErrorExistStun)
	}

	c.setIntent(acc.ID(), IntentRegister)
	if err := c.transition(acc, account.Trying); err != nil {
		return err
	}

	req, err := c.buildRegister(acc, acc.Expiry())
	if err != nil {
		return c.transition(acc, account.ErrorHost)
	}

	resp, err := c.sendWithDigest(ctx, req, acc)
	return c.handleResponse(acc, resp, err)
}

// Unregister sends a zero-expiry REGISTER (spec §4.4 "Unregistered if
// intent was unregister").
func (c *Client) Unregister(ctx context.Context, acc *account.Account) error {
	c.setIntent(acc.ID(), IntentUnregister)
	if err := c.transition(acc, account.Trying); err != nil {
		return err
	}
	req, err := c.buildRegister(acc, 0)
	if err != nil {
		return c.transition(acc, account.ErrorHost)
	}
	resp, err := c.sendWithDigest(ctx, req, acc)
	return c.handleResponse(acc, resp, err)
}

// buildRegister composes the request-URI `sip:<host>`, AoR, and contact
// per spec §4.4.
func (c *Client) buildRegister(acc *account.Account, expiry time.Duration) (*sip.Request, error) {
	username, _ := acc.Credentials()
	host := acc.Host()
	if host == "" {
		return nil, fmt.Errorf("registration: account %s has no host configured", acc.ID())
	}

	recipientStr := fmt.Sprintf("sip:%s", host)
	var recipient sip.Uri
	if err := sip.ParseUri(recipientStr, &recipient); err != nil {
		return nil, fmt.Errorf("registration: parse recipient uri: %w", err)
	}

	req := sip.NewRequest(sip.REGISTER, recipient)

	// AoR per spec §4.4: `<sip:<user>@<host>>`, realm fixed at "*" — the
	// digest challenge's own realm is used for the credential computation,
	// this is only the identity asserted in From/To.
	aor := fmt.Sprintf("<sip:%s@%s>", username, host)
	req.AppendHeader(sip.NewHeader("From", aor))
	req.AppendHeader(sip.NewHeader("To", aor))

	contactURI := fmt.Sprintf("<sip:%s@%s>", username, host)
	req.AppendHeader(sip.NewHeader("Contact", contactURI))
	req.AppendHeader(sip.NewHeader("Expires", fmt.Sprintf("%d", int(expiry.Seconds()))))
	return req, nil
}

// sendWithDigest sends req and, on a 401/407 challenge, re-sends with
// digest credentials computed via icholy/digest, matching the "scheme
// 'digest'" credential attachment spec §4.4 calls for.
func (c *Client) sendWithDigest(ctx context.Context, req *sip.Request, acc *account.Account) (*sip.Response, error) {
	tx, err := c.client.TransactionRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, err := readFinal(ctx, tx)
	tx.Terminate()
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != 401 && resp.StatusCode != 407 {
		return resp, nil
	}

	authHeaderName, authzHeaderName := "WWW-Authenticate", "Authorization"
	if resp.StatusCode == 407 {
		authHeaderName, authzHeaderName = "Proxy-Authenticate", "Proxy-Authorization"
	}
	challengeHeader := resp.GetHeader(authHeaderName)
	if challengeHeader == nil {
		return resp, nil
	}
	challenge, err := digest.ParseChallenge(challengeHeader.Value())
	if err != nil {
		return resp, nil
	}

	username, password := acc.Credentials()
	cred, err := digest.Digest(challenge, digest.Options{
		Method: req.Method.String(), URI: req.Recipient.String(),
		Username: username, Password: password,
	})
	if err != nil {
		return resp, nil
	}

	authReq := req.Clone()
	authReq.RemoveHeader("Via")
	authReq.AppendHeader(sip.NewHeader(authzHeaderName, cred.String()))
	tx2, err := c.client.TransactionRequest(ctx, authReq)
	if err != nil {
		return nil, err
	}
	defer tx2.Terminate()
	return readFinal(ctx, tx2)
}

func readFinal(ctx context.Context, tx sip.ClientTransaction) (*sip.Response, error) {
	for {
		select {
		case resp := <-tx.Responses():
			if resp == nil {
				return nil, fmt.Errorf("registration: transaction closed without a response")
			}
			if resp.StatusCode >= 200 {
				return resp, nil
			}
		case err := <-tx.Errors():
			return nil, err
		}
	}
}

// handleResponse classifies resp/err per spec §4.4's regc_cb table and
// drives acc's state machine.
func (c *Client) handleResponse(acc *account.Account, resp *sip.Response, err error) error {
	if err != nil {
		// "transport error (status != PJ_SUCCESS): -> ErrorAuth (historical
		// choice; see §9 open question)" — preserved rather than "fixed" to
		// a more intuitive ErrorNetwork, per that open question.
		c.clearIntent(acc.ID())
		return c.transition(acc, account.ErrorAuth)
	}

	code := int(resp.StatusCode)
	if code >= 200 && code < 300 {
		intent := c.intent(acc.ID())
		c.clearIntent(acc.ID())
		if intent == IntentUnregister {
			return c.transition(acc, account.Unregistered)
		}
		if err := acc.Transition(account.Registered, &handle{c: c, acc: acc}); err != nil {
			return err
		}
		return nil
	}

	c.clearIntent(acc.ID())
	switch code {
	case 606:
		return c.transition(acc, account.ErrorConfStun)
	case 503, 408:
		return c.transition(acc, account.ErrorHost)
	case 401, 403, 404:
		return c.transition(acc, account.ErrorAuth)
	default:
		return c.transition(acc, account.Error)
	}
}

func (c *Client) transition(acc *account.Account, state account.RegistrationState) error {
	if state != account.Registered && state != account.Unregistered && state != account.Trying {
		c.metrics.RegistrationError(state.String())
	}
	return acc.Transition(state, nil)
}

func (c *Client) setIntent(id account.AccountId, intent Intent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.intents[id] = intent
}

func (c *Client) intent(id account.AccountId) Intent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intents[id]
}

func (c *Client) clearIntent(id account.AccountId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.intents, id)
}

// ReregisterAll re-runs STUN-gated registration for every enabled account,
// used on network-change (spec §4.4 "On network change the manager re-runs
// STUN discovery, tears down the existing transport, and retriggers
// REGISTER for all enabled accounts"). Transport teardown is the caller's
// responsibility (runtime.SipRuntime owns the transport lifecycle); this
// only re-issues REGISTER once STUN has been re-probed.
func (c *Client) ReregisterAll(ctx context.Context, accounts []*account.Account, stun StunProbe) []error {
	var errs []error
	for _, acc := range accounts {
		if !acc.Enabled() {
			continue
		}
		if err := c.Register(ctx, acc, stun); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
