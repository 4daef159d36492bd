// Package ids generates the short prefixed identifiers used across the
// daemon (r_ rules, pa_ pending alerts, evt_ replay events).
package ids

import (
	"crypto/rand"
	"encoding/hex"
)

// New returns prefix + n random hex characters from a cryptographically
// secure source.
func New(prefix string, n int) string {
	raw := make([]byte, (n+1)/2)
	rand.Read(raw)
	return prefix + hex.EncodeToString(raw)[:n]
}

// Rule returns a rule id (r_ + 8 hex).
func Rule() string { return New("r_", 8) }

// PendingAlert returns a pending-alert id (pa_ + 8 hex).
func PendingAlert() string { return New("pa_", 8) }

// Event returns a replay-event id (evt_ + 10 hex).
func Event() string { return New("evt_", 10) }
