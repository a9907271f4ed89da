package policy

import (
	"reflect"
	"sort"
)

// Equal reports whether two rules have the same enforcement-relevant
// shape. It is used by external reconciliation to decide whether an
// updated record requires re-installing enforcement artifacts, not for
// any internal caching.
//
// Scalar fields in the comparison set use field-aware equality: an
// absent seq equals the regular-tier baseline, absent strings equal the
// empty string (persistence round-trips drop empties), and structured
// values compare deeply. Scope, tag, targets, and guids compare as
// order-independent sets, except that a mac rule addressing a concrete
// link-layer target ignores scope differences entirely: such a rule
// implicitly scopes to its own target.
func Equal(a, b *Rule) bool {
	if a == nil || b == nil {
		return a == b
	}

	if a.Type != b.Type ||
		a.Target != b.Target ||
		a.CronTime != b.CronTime ||
		a.RemotePort != b.RemotePort ||
		a.LocalPort != b.LocalPort ||
		a.Protocol != b.Protocol ||
		a.Direction != b.Direction ||
		a.Action != b.Action ||
		a.UPnP != b.UPnP ||
		a.DNSmasqOnly != b.DNSmasqOnly ||
		a.Trust != b.Trust ||
		a.TrafficDirection != b.TrafficDirection ||
		a.ParentRgID != b.ParentRgID ||
		a.TargetRgID != b.TargetRgID ||
		a.IPTTL != b.IPTTL ||
		a.WanUUID != b.WanUUID ||
		a.OwanUUID != b.OwanUUID ||
		a.RouteType != b.RouteType ||
		a.Resolver != b.Resolver ||
		a.OrigDst != b.OrigDst ||
		a.OrigDport != b.OrigDport ||
		a.SnatIP != b.SnatIP ||
		a.FlowIsolation != b.FlowIsolation ||
		a.DscpClass != b.DscpClass {
		return false
	}

	if !int64PtrEqual(a.Expire, b.Expire) {
		return false
	}
	if seqValue(a.Seq) != seqValue(b.Seq) {
		return false
	}
	if !boolPtrEqual(a.UseBf, b.UseBf) {
		return false
	}
	if !floatPtrEqual(a.TransferredBytes, b.TransferredBytes) ||
		!floatPtrEqual(a.TransferredPackets, b.TransferredPackets) ||
		!floatPtrEqual(a.AvgPacketBytes, b.AvgPacketBytes) {
		return false
	}
	if !reflect.DeepEqual(a.AppTimeUsage, b.AppTimeUsage) {
		return false
	}

	// A mac rule with a concrete address implicitly scopes to its own
	// target; scope differences are enforcement-irrelevant there.
	if !(a.Type == TypeMAC && IsMACAddress(a.Target)) {
		if !setEqual(a.Scope, b.Scope) {
			return false
		}
	}
	return setEqual(a.Tags, b.Tags) &&
		setEqual(a.Targets, b.Targets) &&
		setEqual(a.GUIDs, b.GUIDs)
}

// seqValue is the baseline applied when no explicit seq is set.
func seqValue(seq *int) int {
	if seq != nil {
		return *seq
	}
	return SeqRegular
}

func int64PtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// setEqual compares two string slices as order-independent sets.
func setEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	as := make([]string, len(a))
	bs := make([]string, len(b))
	copy(as, a)
	copy(bs, b)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
