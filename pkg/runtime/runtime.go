// Package runtime provides SipRuntime, the explicit replacement for the
// process-wide "global SIP endpoint and pool" singleton spec §9 flags for
// re-architecture: one value constructed at startup and threaded through
// the Account and Transport APIs instead of package-level state. Teardown
// happens when the runtime is closed.
//
// Grounded on the teacher's pkg/dialog/user_agent.go NewUserAgent, which
// builds a sipgo.UserAgent, sipgo.Server, and sipgo.Client together and
// wires the server's On* handlers once at construction time.
package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/voiplink/core/internal/metrics"
	"github.com/voiplink/core/internal/voiplog"
	"github.com/voiplink/core/pkg/manager"
	"github.com/voiplink/core/pkg/registration"
)

// Config is the set of attributes needed to stand up a SipRuntime.
type Config struct {
	UserAgent     string // User-Agent header value, "<product>/<version>" per spec §6
	ListenNetwork string // "udp", "tcp"
	ListenAddr    string
	Capabilities  manager.Capabilities
	MetricsOn     bool
}

// Handlers are the Manager-facing callbacks SipRuntime dispatches incoming
// out-of-dialog requests to. Each is optional; a nil handler means the
// runtime replies with its own default (OPTIONS) or silently ignores the
// request (others are expected to be picked up by pkg/invite's own
// request-routing once a dialog exists).
type Handlers struct {
	OnInvite func(req *sip.Request, tx sip.ServerTransaction)
	OnAck    func(req *sip.Request, tx sip.ServerTransaction)
	OnBye    func(req *sip.Request, tx sip.ServerTransaction)
	OnCancel func(req *sip.Request, tx sip.ServerTransaction)
	OnRefer  func(req *sip.Request, tx sip.ServerTransaction)
	OnNotify func(req *sip.Request, tx sip.ServerTransaction)
}

// SipRuntime owns one sipgo UserAgent/Server/Client triple plus the
// supporting Registration client and metrics collector; every Account and
// Transport created by this process is threaded through the same value.
type SipRuntime struct {
	mu sync.Mutex

	cfg Config

	ua     *sipgo.UserAgent
	server *sipgo.Server
	client *sipgo.Client

	Registration *registration.Client
	Metrics      *metrics.Collector

	logger voiplog.Logger

	caps manager.Capabilities

	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed bool
}

// New builds the UserAgent/Server/Client triple, registers the out-of-dialog
// handlers, and starts serving on cfg.ListenAddr. Serving runs on a
// background goroutine joined by Close.
func New(cfg Config, h Handlers, logger voiplog.Logger) (*SipRuntime, error) {
	if logger == nil {
		logger = voiplog.Default()
	}
	logger = logger.WithComponent("runtime")

	uaOpts := []sipgo.UserAgentOption{}
	if cfg.UserAgent != "" {
		uaOpts = append(uaOpts, sipgo.WithUserAgent(cfg.UserAgent))
	}
	ua, err := sipgo.NewUA(uaOpts...)
	if err != nil {
		return nil, fmt.Errorf("runtime: new user agent: %w", err)
	}

	server, err := sipgo.NewServer(ua)
	if err != nil {
		return nil, fmt.Errorf("runtime: new server: %w", err)
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		return nil, fmt.Errorf("runtime: new client: %w", err)
	}

	caps := cfg.Capabilities
	if len(caps.Allow) == 0 {
		caps = manager.DefaultCapabilities()
	}

	collector := metrics.New(nil, cfg.MetricsOn)
	r := &SipRuntime{
		cfg:          cfg,
		ua:           ua,
		server:       server,
		client:       client,
		Registration: registration.New(ua, client, logger, collector),
		Metrics:      collector,
		logger:       logger,
		caps:         caps,
	}
	r.wireHandlers(h)

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	network := cfg.ListenNetwork
	if network == "" {
		network = "udp"
	}
	if cfg.ListenAddr != "" {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := server.ListenAndServe(ctx, network, cfg.ListenAddr); err != nil && ctx.Err() == nil {
				r.logger.Error(ctx, "sip listener exited", err)
			}
		}()
	}
	return r, nil
}

func (r *SipRuntime) wireHandlers(h Handlers) {
	if h.OnInvite != nil {
		r.server.OnInvite(h.OnInvite)
	}
	if h.OnAck != nil {
		r.server.OnAck(h.OnAck)
	}
	if h.OnBye != nil {
		r.server.OnBye(h.OnBye)
	}
	if h.OnCancel != nil {
		r.server.OnCancel(h.OnCancel)
	}
	if h.OnRefer != nil {
		r.server.OnRefer(h.OnRefer)
	}
	if h.OnNotify != nil {
		r.server.OnNotify(h.OnNotify)
	}
	r.server.OnOptions(func(req *sip.Request, tx sip.ServerTransaction) {
		resp := manager.HandleOptions(req, r.caps)
		_ = tx.Respond(resp)
	})
}

// UserAgent, Server, and Client expose the underlying sipgo handles for
// packages (pkg/invite, pkg/registration, pkg/siptransport) that must issue
// requests or register dialog-level callbacks directly.
func (r *SipRuntime) UserAgent() *sipgo.UserAgent { return r.ua }
func (r *SipRuntime) Server() *sipgo.Server        { return r.server }
func (r *SipRuntime) Client() *sipgo.Client        { return r.client }

// Name satisfies pkg/account.Link, letting an Account carry a direct
// reference to the runtime it is bound to instead of a global lookup
// (spec §9 "threaded through the Account ... APIs instead").
func (r *SipRuntime) Name() string { return r.cfg.UserAgent }

// Close stops the listener and waits for it to exit.
func (r *SipRuntime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	return r.ua.Close()
}
