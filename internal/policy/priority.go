package policy

import (
	"strings"

	"grimm.is/warden/internal/alarm"
)

// Ordering is the result of comparing two rules for conflict
// resolution. Undefined is a legitimate outcome, not an error: most
// action pairings have no defined order and callers must apply their
// own policy-level disambiguation. The zero value is Undefined.
type Ordering int

const (
	OrderUndefined Ordering = iota
	OrderBefore             // first rule wins
	OrderAfter              // second rule wins
	OrderEqual
)

func (o Ordering) String() string {
	switch o {
	case OrderBefore:
		return "before"
	case OrderAfter:
		return "after"
	case OrderEqual:
		return "equal"
	default:
		return "undefined"
	}
}

// SeqValue returns the rule's effective sequence: the explicit override
// when set, else the tier derived from the rule's shape.
func (r *Rule) SeqValue() int {
	if r.Seq != nil {
		return *r.Seq
	}
	if r.isSecurityBlock() {
		return SeqHigh
	}
	if r.isInboundAllow() {
		return SeqLow
	}
	return SeqRegular
}

// isSecurityBlock identifies security-block and active-protect rules:
// blocks born from intel-derived alarms, or automatic blocks on the
// intel category.
func (r *Rule) isSecurityBlock() bool {
	if r.Action != ActionBlock {
		return false
	}
	if alarm.IsSecurityKind(alarm.Kind(r.AlarmType)) {
		return true
	}
	return r.Method == "auto" && r.Category == "intel"
}

// isInboundAllow identifies inbound-allow / inbound-firewall rules,
// which defer to everything else.
func (r *Rule) isInboundAllow() bool {
	return r.Direction == DirectionInbound && r.Action == ActionAllow
}

// Specificity levels, ordered from most to least specific.
const (
	LevelDevice  = 1 // explicit device or identity scope
	LevelGroup   = 2 // device-group tag
	LevelNetwork = 3 // network/interface tag
	LevelGlobal  = 4
)

// SpecificityLevel derives the rule's targeting breadth. Narrower
// targeting wins conflicts at equal tier.
func (r *Rule) SpecificityLevel() int {
	if len(r.Scope) > 0 || len(r.GUIDs) > 0 {
		return LevelDevice
	}
	for _, t := range r.Tags {
		if strings.HasPrefix(t, TagPrefixGroup) {
			return LevelGroup
		}
	}
	for _, t := range r.Tags {
		if strings.HasPrefix(t, TagPrefixIntf) {
			return LevelNetwork
		}
	}
	return LevelGlobal
}

// Compare orders two rules for conflict resolution:
//
//  1. by tier (explicit seq or derived),
//  2. then by specificity level,
//  3. then allow beats block/app_block; equal actions are Equal; any
//     other action pairing has no defined order.
func Compare(a, b *Rule) Ordering {
	as, bs := a.SeqValue(), b.SeqValue()
	if as != bs {
		if as < bs {
			return OrderBefore
		}
		return OrderAfter
	}

	al, bl := a.SpecificityLevel(), b.SpecificityLevel()
	if al != bl {
		if al < bl {
			return OrderBefore
		}
		return OrderAfter
	}

	if a.Action == b.Action {
		return OrderEqual
	}
	if a.Action == ActionAllow && (b.Action == ActionBlock || b.Action == ActionAppBlock) {
		return OrderBefore
	}
	if b.Action == ActionAllow && (a.Action == ActionBlock || a.Action == ActionAppBlock) {
		return OrderAfter
	}
	return OrderUndefined
}
