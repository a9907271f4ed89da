// Package alarm defines the runtime security alarm records the policy
// matcher consumes. Alarms are produced elsewhere (detection pipeline);
// the control plane treats them as read-only, loosely-typed events.
package alarm

import "strings"

// Kind is the runtime type tag of an alarm.
type Kind string

const (
	// Security alarms derived from threat intelligence
	KindIntel Kind = "alarm_intel"

	// Behavioral alarms
	KindLargeUpload    Kind = "alarm_large_upload"
	KindAbnormalUpload Kind = "alarm_abnormal_upload"
	KindVideo          Kind = "alarm_video"
	KindGame           Kind = "alarm_game"
	KindPorn           Kind = "alarm_porn"
	KindVPN            Kind = "alarm_vpn"

	// KindSSHGuess is an SSH password-guessing notice. When its
	// destination is the appliance itself it is exempt from policy
	// matching so a broad block rule cannot suppress the warning.
	KindSSHGuess Kind = "alarm_ssh_password_guessing"

	KindOpenPort Kind = "alarm_openport"
	KindUPnPOpen Kind = "alarm_upnp_open"

	// Device lifecycle notices; never policy-matched
	KindDeviceOnline  Kind = "alarm_device_online"
	KindDeviceOffline Kind = "alarm_device_offline"
)

// Well-known alarm field keys.
const (
	FieldDeviceMAC     = "p.device.mac"
	FieldDevicePort    = "p.device.port"
	FieldDestIP        = "p.dest.ip"
	FieldDestName      = "p.dest.name"
	FieldDestPort      = "p.dest.port"
	FieldDestCategory  = "p.dest.category"
	FieldDestApp       = "p.dest.app"
	FieldDestAppID     = "p.dest.app.id"
	FieldDestCountry   = "p.dest.country"
	FieldProtocol      = "p.protocol"
	FieldUPnPPort      = "p.upnp.private.port"
	FieldUPnPProtocol  = "p.upnp.protocol"
	FieldIntfID        = "p.intf.id"
	FieldLocalIsClient = "p.local_is_client"
)

// kinds the policy engine never matches against
var unmatchable = map[Kind]bool{
	KindDeviceOnline:  true,
	KindDeviceOffline: true,
}

// Alarm is one runtime security event. Fields are flat string-keyed
// values; a value may be a scalar or a list of candidate values
// (for example several observed ports).
type Alarm struct {
	Kind      Kind
	Timestamp float64 // epoch seconds

	fields map[string]any
}

// New creates an alarm with the given kind and fields. Field values may
// be strings or []string.
func New(kind Kind, ts float64, fields map[string]any) *Alarm {
	if fields == nil {
		fields = make(map[string]any)
	}
	return &Alarm{Kind: kind, Timestamp: ts, fields: fields}
}

// NeedsPolicyMatch reports whether this alarm kind participates in
// policy matching at all.
func (a *Alarm) NeedsPolicyMatch() bool {
	return !unmatchable[a.Kind]
}

// Field returns the scalar value of a field. For list-valued fields it
// returns the first element. ok is false when the field is absent.
func (a *Alarm) Field(key string) (string, bool) {
	v, ok := a.fields[key]
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case []string:
		if len(t) == 0 {
			return "", false
		}
		return t[0], true
	}
	return "", false
}

// FieldValues returns all candidate values of a field: the scalar as a
// one-element list, or the full list. Nil when the field is absent.
func (a *Alarm) FieldValues(key string) []string {
	v, ok := a.fields[key]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return t
	}
	return nil
}

// DeviceMAC is a convenience accessor for the alarm's device address.
func (a *Alarm) DeviceMAC() string {
	v, _ := a.Field(FieldDeviceMAC)
	return v
}

// LocalIsClient reports whether the local device initiated the
// connection. Unset defaults to true: alarms are assumed
// client-initiated unless the producer says otherwise.
func (a *Alarm) LocalIsClient() bool {
	v, ok := a.Field(FieldLocalIsClient)
	if !ok {
		return true
	}
	return v != "0" && !strings.EqualFold(v, "false")
}

// IsSecurityKind reports whether the kind is intel-derived. Rules born
// from such alarms get the high priority tier when they block.
func IsSecurityKind(k Kind) bool {
	return k == KindIntel
}
