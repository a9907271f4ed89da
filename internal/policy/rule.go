// Package policy implements the rule engine at the heart of the control
// plane: normalized enforcement rules, their codec to and from flat
// persisted records, equivalence detection, temporal validity, matching
// against runtime alarms, and priority-based conflict resolution.
//
// A Rule is immutable once constructed. Updates are full replacements
// performed by the owning collection (the engine), never in-place field
// edits, so concurrent readers are always safe.
package policy

import (
	"regexp"

	"grimm.is/warden/internal/schedule"
)

// RuleType is the closed set of rule targeting kinds. The matcher and
// the target canonicalizer switch over every member; adding a type
// without extending both is a bug, not a silent no-match.
type RuleType string

const (
	TypeIP         RuleType = "ip"
	TypeNet        RuleType = "net"
	TypeDNS        RuleType = "dns"
	TypeDomain     RuleType = "domain"
	TypeMAC        RuleType = "mac"
	TypeCategory   RuleType = "category"
	TypeDevicePort RuleType = "devicePort"
	TypeRemotePort RuleType = "remotePort"
	TypeCountry    RuleType = "country"
	TypeIntranet   RuleType = "intranet"
	TypeNetwork    RuleType = "network"
	TypeTag        RuleType = "tag"
	TypeDevice     RuleType = "device"

	// TypeInternet is reserved and rejected at decode time.
	TypeInternet RuleType = "internet"
)

// Direction constrains which traffic direction a rule applies to.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionBoth     Direction = "bidirection"
)

// Action is what the rule does when it applies.
type Action string

const (
	ActionBlock    Action = "block"
	ActionAllow    Action = "allow"
	ActionAppBlock Action = "app_block"
	ActionRoute    Action = "route"
	ActionDisturb  Action = "disturb"
	ActionQoS      Action = "qos"
	ActionSNAT     Action = "snat"
)

// GroupTargetPlaceholder is the reserved target of a mac rule that
// applies to every device selected by the rule's scope and tags rather
// than one address.
const GroupTargetPlaceholder = "TAG"

// Sequence tiers. A rule without an explicit seq gets one of these from
// its shape; lower values win conflicts.
const (
	SeqHigh    = 50
	SeqRegular = 100
	SeqLow     = 200
)

// Tag prefixes distinguishing device groups from network interfaces.
const (
	TagPrefixGroup = "tag:"
	TagPrefixIntf  = "intf:"
)

// Rule is one normalized enforcement rule.
//
// Absence conventions: slice and map fields are nil when the persisted
// record had no value (never empty collections); optional scalars are
// pointers. Scope holds link-layer addresses only; identity references
// found in a raw scope are migrated into GUIDs during decode.
type Rule struct {
	// PID is the persistence identity. Opaque to the engine.
	PID string

	Type   RuleType
	Target string

	Scope   []string // device link-layer addresses
	GUIDs   []string // identity references ("wg_peer:<uuid>", ...)
	Tags    []string // group references ("tag:<id>", "intf:<id>")
	Targets []string // additional targets for multi-target rules

	ApplyRules []string

	Direction Direction
	Action    Action

	Seq *int // explicit priority override; nil means derived tier

	Expire        *int64 // seconds from activation until lapse
	CronTime      string // five-field cron expression for recurring windows
	Duration      float64
	Timestamp     float64 // epoch seconds
	ActivatedTime *float64

	Disabled bool

	LocalPort  string // port or "lo-hi" range
	RemotePort string
	Protocol   string

	UPnP        bool
	DNSmasqOnly bool
	Trust       bool
	UseBf       *bool

	AppTimeUsage  map[string]any
	DisturbMethod map[string]any
	MatchAppID    string

	// Pass-through counters and accounting
	AppTimeUsed        *float64
	Priority           *float64
	TransferredBytes   *float64
	TransferredPackets *float64
	AvgPacketBytes     *float64
	DisturbTimeUsed    *float64

	// Pass-through routing/enforcement attributes, compared for
	// equivalence but not interpreted here
	TrafficDirection string
	ParentRgID       string
	TargetRgID       string
	IPTTL            string
	WanUUID          string
	OwanUUID         string
	RouteType        string
	Resolver         string
	OrigDst          string
	OrigDport        string
	SnatIP           string
	FlowIsolation    string
	DscpClass        string

	// Provenance, used for tier derivation
	Category  string
	Method    string
	AlarmType string

	// parsed cron, nil when CronTime is absent or malformed
	cron *schedule.Cron
}

var macAddressRe = regexp.MustCompile(`^(?i:[0-9a-f]{2}(:[0-9a-f]{2}){5})$`)

// IsMACAddress reports whether s looks like a link-layer address.
func IsMACAddress(s string) bool {
	return macAddressRe.MatchString(s)
}

// IsScheduled reports whether the rule has a recurring window.
func (r *Rule) IsScheduled() bool {
	return r.CronTime != "" && r.Duration > 0
}
