// Package identity resolves non-device principals referenced by policy
// rules. A rule may scope to a VPN peer or similar profile instead of a
// link-layer address; those references are GUIDs of the form
// "<kind>:<uuid>" and resolve to an Identity with a unique id and the
// alarm field that carries it.
package identity

import (
	"strings"

	"github.com/google/uuid"
)

// Identity is one resolvable principal.
type Identity interface {
	// UniqueID returns the identity's stable unique id.
	UniqueID() string

	// AlarmKeyName returns the alarm field that links alarms to this
	// identity, e.g. "p.device.guid".
	AlarmKeyName() string
}

// Resolver answers GUID lookups for the matcher.
type Resolver interface {
	IsGUID(s string) bool
	Resolve(guid string) Identity
}

// Registered identity kinds and the alarm field carrying their ids.
var kindAlarmKeys = map[string]string{
	"vpn_profile": "p.device.guid",
	"wg_peer":     "p.device.guid",
	"ovpn_client": "p.device.guid",
}

// IsGUID reports whether s has the syntactic shape of an identity
// reference: a registered kind prefix followed by a UUID.
// This is a pure syntax test; it does not consult any directory.
func IsGUID(s string) bool {
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return false
	}
	if _, known := kindAlarmKeys[kind]; !known {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// Profile is a stored identity record.
type Profile struct {
	GUID      string `json:"guid"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	CreatedAt int64  `json:"created_at"`
}

// UniqueID returns the profile's GUID.
func (p *Profile) UniqueID() string {
	return p.GUID
}

// AlarmKeyName returns the alarm field linking alarms to this profile.
func (p *Profile) AlarmKeyName() string {
	if key, ok := kindAlarmKeys[p.Kind]; ok {
		return key
	}
	return "p.device.guid"
}
