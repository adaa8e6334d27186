// Package account models a SIP identity: credentials, codec preferences,
// transport selection, and registration state (spec §3 "Account").
// Grounded on original_source/sflphone-common/src/sipaccount.{h,cpp}
// (credential/regc ownership) generalized to an explicit state machine
// instead of a bare bool flag.
package account

import (
	"fmt"
	"sync"
	"time"
)

// AccountId is an opaque, process-unique identifier.
type AccountId string

// RegistrationState enumerates the states in spec §3. Transitions form a
// DAG rooted at Unregistered — see ValidTransition.
type RegistrationState int

const (
	Unregistered RegistrationState = iota
	Trying
	Registered
	ErrorAuth
	ErrorHost
	ErrorNetwork
	ErrorExistStun
	ErrorConfStun
	Error
)

func (s RegistrationState) String() string {
	switch s {
	case Unregistered:
		return "Unregistered"
	case Trying:
		return "Trying"
	case Registered:
		return "Registered"
	case ErrorAuth:
		return "ErrorAuth"
	case ErrorHost:
		return "ErrorHost"
	case ErrorNetwork:
		return "ErrorNetwork"
	case ErrorExistStun:
		return "ErrorExistStun"
	case ErrorConfStun:
		return "ErrorConfStun"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// ValidTransition reports whether moving from s to next is allowed. Every
// state can return to Unregistered (explicit unregister) or to Trying (a
// fresh REGISTER attempt); every error state and Registered are reachable
// only from Trying, which keeps the graph a DAG rooted at Unregistered —
// there is no path that revisits Trying without passing back through it
// explicitly.
func (s RegistrationState) ValidTransition(next RegistrationState) bool {
	if next == Unregistered {
		return true
	}
	switch s {
	case Unregistered, Registered, ErrorAuth, ErrorHost, ErrorNetwork, ErrorExistStun, ErrorConfStun, Error:
		return next == Trying
	case Trying:
		switch next {
		case Registered, ErrorAuth, ErrorHost, ErrorNetwork, ErrorExistStun, ErrorConfStun, Error:
			return true
		}
	}
	return false
}

// RegistrationHandle is the opaque handle a registration client hands back
// once REGISTER succeeds; its presence is required by the Registered
// invariant (spec §3).
type RegistrationHandle interface {
	// Refresh re-sends REGISTER before the current binding's expiry.
	Refresh() error
	// Unregister sends a zero-expiry REGISTER to tear the binding down.
	Unregister() error
}

// Link is the owning voip transport/stack reference an Account is bound to
// (spec §9 "global SIP endpoint and pool" redesign: no package-level
// singleton, every Account carries an explicit reference instead).
type Link interface {
	Name() string
}

// Account is configuration and dynamic registration state for one SIP
// identity.
type Account struct {
	mu sync.RWMutex

	id       AccountId
	username string
	host     string
	password string
	expiry   time.Duration
	enabled  bool
	codecs   []string // ordered active codec preference list, by name

	link Link

	state       RegistrationState
	regHandle   RegistrationHandle
	credExpires time.Time
}

// Config is the set of attributes an Account is constructed or updated
// from (spec §6 persisted keys: per-account hostname/username/password).
type Config struct {
	ID       AccountId
	Username string
	Host     string
	Password string
	Expiry   time.Duration
	Enabled  bool
	Codecs   []string
}

// New creates an Account in state Unregistered, bound to link.
func New(cfg Config, link Link) *Account {
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = 600 * time.Second // spec §5 default REGISTER expiry
	}
	return &Account{
		id:       cfg.ID,
		username: cfg.Username,
		host:     cfg.Host,
		password: cfg.Password,
		expiry:   expiry,
		enabled:  cfg.Enabled,
		codecs:   append([]string(nil), cfg.Codecs...),
		link:     link,
		state:    Unregistered,
	}
}

func (a *Account) ID() AccountId { return a.id }
func (a *Account) Username() string { a.mu.RLock(); defer a.mu.RUnlock(); return a.username }
func (a *Account) Host() string { a.mu.RLock(); defer a.mu.RUnlock(); return a.host }
func (a *Account) Expiry() time.Duration { a.mu.RLock(); defer a.mu.RUnlock(); return a.expiry }
func (a *Account) Link() Link { a.mu.RLock(); defer a.mu.RUnlock(); return a.link }

// Enabled reports whether the account should be registered.
func (a *Account) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// Codecs returns the ordered active codec preference list.
func (a *Account) Codecs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, len(a.codecs))
	copy(out, a.codecs)
	return out
}

// Credentials returns the plaintext auth material; the registration client
// attaches it with realm "*" and scheme "digest" (spec §4.4).
func (a *Account) Credentials() (username, password string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.username, a.password
}

// State returns the current registration state.
func (a *Account) State() RegistrationState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Transition moves the account to next, rejecting transitions not allowed
// by the DAG. On Registered it also stores the handle and credential
// expiry; the invariant "Registered implies a non-null registration handle
// and a non-expired credential" is enforced here rather than trusted to
// the caller.
func (a *Account) Transition(next RegistrationState, handle RegistrationHandle) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.state.ValidTransition(next) {
		return fmt.Errorf("account %s: invalid registration transition %s -> %s", a.id, a.state, next)
	}
	if next == Registered {
		if handle == nil {
			return fmt.Errorf("account %s: cannot enter Registered without a registration handle", a.id)
		}
		a.regHandle = handle
		a.credExpires = time.Now().Add(a.expiry)
	}
	if next == Unregistered {
		a.regHandle = nil
	}
	a.state = next
	return nil
}

// CredentialValid reports whether the stored credential expiry (set on
// entering Registered) has not yet elapsed.
func (a *Account) CredentialValid() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.state != Registered {
		return false
	}
	return time.Now().Before(a.credExpires)
}

// RegistrationHandle returns the handle bound on entering Registered, or
// nil if the account is not currently registered.
func (a *Account) RegistrationHandle() RegistrationHandle {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.regHandle
}

// UpdateConfig applies a configuration change (persisted-config edit),
// which does not itself change registration state — callers must
// re-register explicitly if credentials changed.
func (a *Account) UpdateConfig(cfg Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.username = cfg.Username
	a.host = cfg.Host
	a.password = cfg.Password
	if cfg.Expiry > 0 {
		a.expiry = cfg.Expiry
	}
	a.enabled = cfg.Enabled
	a.codecs = append([]string(nil), cfg.Codecs...)
}
