package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ControlAction enumerates the commands an operator can issue against a
// running campaign through the dashboard.
type ControlAction string

const (
	ControlPause          ControlAction = "pause"
	ControlResume         ControlAction = "resume"
	ControlStop           ControlAction = "stop"
	ControlInsertPriority ControlAction = "insert_priority"
)

// Valid reports whether a is a known control action.
func (a ControlAction) Valid() bool {
	switch a {
	case ControlPause, ControlResume, ControlStop, ControlInsertPriority:
		return true
	}
	return false
}

// ParseControlAction maps a CLI or API string onto an action, accepting
// hyphens and mixed case.
func ParseControlAction(s string) (ControlAction, error) {
	a := ControlAction(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !a.Valid() {
		return "", fmt.Errorf("unknown control action %q", s)
	}
	return a, nil
}

// ControlCommand is one operator command read back from the store. Commands
// are idempotent by Fingerprint; duplicates inside the debounce window are
// dropped by the poller.
type ControlCommand struct {
	CampaignID  string            `json:"campaign_id"`
	Action      ControlAction     `json:"action"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	RequestedBy string            `json:"requested_by,omitempty"`
	SeenAt      time.Time         `json:"seen_at"`
}

// Fingerprint hashes (campaign, action, parameters) into the dedup identity.
// Parameter order does not matter.
func (c ControlCommand) Fingerprint() string {
	keys := make([]string, 0, len(c.Parameters))
	for k := range c.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(c.CampaignID)
	b.WriteByte(0)
	b.WriteString(string(c.Action))
	for _, k := range keys {
		b.WriteByte(0)
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(c.Parameters[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
