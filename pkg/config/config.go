// Package config models the subset of the persisted YAML/INI-like
// configuration tree (spec §6) that the core reads. Loading that tree from
// disk is an explicit external collaborator per spec §1's Non-goals; this
// package only defines the shape the loaded values take once handed to the
// core.
package config

import "time"

// AudioConfig is the "Audio.*" section.
type AudioConfig struct {
	// ActiveCodecs is the ordered, slash-separated codec id list from
	// "Audio.ActiveCodecs" (spec §6), already split into a slice.
	ActiveCodecs []string
}

// VoIPLinkConfig is the "VoIPLink.*" section.
type VoIPLinkConfig struct {
	// Symmetric mirrors "VoIPLink.symmetric": whether RTP uses the
	// learned source address as the send destination (spec §4.5's ccRTP
	// symmetric session).
	Symmetric bool
}

// DTMFConfig is the "DTMF.*" section.
type DTMFConfig struct {
	// PlayDtmf mirrors "DTMF.playDtmf": whether key presses are overlaid
	// into the urgent ring buffer locally in addition to any SIP
	// signaling (spec §4.6).
	PlayDtmf bool
}

// HooksConfig is the "Hooks.*" section.
type HooksConfig struct {
	// URLSipField mirrors "Hooks.url_sip_field": the SIP header name whose
	// value triggers the configured URL hook on an incoming call.
	URLSipField string
}

// AccountConfig is one "Accounts.<id>.*" entry plus the ordering key.
type AccountConfig struct {
	ID       string
	Hostname string
	Username string
	Password string
	Expiry   time.Duration
	Enabled  bool
	Codecs   []string
}

// DaemonConfig is the full set of persisted fields the core reads.
type DaemonConfig struct {
	Audio    AudioConfig
	VoIPLink VoIPLinkConfig
	DTMF     DTMFConfig
	Hooks    HooksConfig

	// AccountOrder mirrors "Accounts.order": the ordered list of account
	// ids the client should display, independent of registration order.
	AccountOrder []string
	Accounts     []AccountConfig
}

// AccountByID finds the account entry matching id, if present.
func (c DaemonConfig) AccountByID(id string) (AccountConfig, bool) {
	for _, a := range c.Accounts {
		if a.ID == id {
			return a, true
		}
	}
	return AccountConfig{}, false
}

// OrderedAccounts returns Accounts permuted to match AccountOrder, with any
// account absent from AccountOrder appended afterward in its original
// position.
func (c DaemonConfig) OrderedAccounts() []AccountConfig {
	byID := make(map[string]AccountConfig, len(c.Accounts))
	for _, a := range c.Accounts {
		byID[a.ID] = a
	}

	seen := make(map[string]bool, len(c.Accounts))
	out := make([]AccountConfig, 0, len(c.Accounts))
	for _, id := range c.AccountOrder {
		if a, ok := byID[id]; ok && !seen[id] {
			out = append(out, a)
			seen[id] = true
		}
	}
	for _, a := range c.Accounts {
		if !seen[a.ID] {
			out = append(out, a)
			seen[a.ID] = true
		}
	}
	return out
}
