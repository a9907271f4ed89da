package policy

import (
	"net/netip"
	"strconv"
	"strings"
	"time"

	"grimm.is/warden/internal/alarm"
	"grimm.is/warden/internal/clock"
	"grimm.is/warden/internal/identity"
	"grimm.is/warden/internal/logging"
)

// Environment supplies the appliance-local facts the matcher needs:
// the timezone for schedule windows and an "is this my own address"
// predicate for the self-suppression carve-out and the group mac
// placeholder.
type Environment interface {
	Location() *time.Location
	IsOwnAddress(addr string) bool
}

// noopEnv keeps the matcher total when no environment is wired.
type noopEnv struct{}

func (noopEnv) Location() *time.Location { return time.Local }
func (noopEnv) IsOwnAddress(string) bool { return false }

// TagType describes one group-tag namespace: scope entries carrying
// Prefix+id match alarms whose AlarmIDField lists that id.
type TagType struct {
	Name         string
	Prefix       string
	AlarmIDField string
}

// Matcher evaluates rules against runtime alarms. It is read-only and
// safe for concurrent use; identity and tag resolution is delegated to
// the injected collaborators.
type Matcher struct {
	ids      identity.Resolver
	env      Environment
	tagTypes []TagType
	clk      clock.Clock
	log      *logging.Logger
}

// NewMatcher constructs a matcher. ids may be nil when no identity
// directory exists (guid-scoped rules then never match); clk and log
// may be nil for defaults.
func NewMatcher(ids identity.Resolver, env Environment, tagTypes []TagType, clk clock.Clock, log *logging.Logger) *Matcher {
	if env == nil {
		env = noopEnv{}
	}
	if clk == nil {
		clk = &clock.RealClock{}
	}
	if log == nil {
		log = logging.WithComponent("matcher")
	}
	return &Matcher{ids: ids, env: env, tagTypes: tagTypes, clk: clk, log: log}
}

// Matches reports whether the rule applies to the alarm. It is pure and
// total: no error paths, no side effects beyond debug logging. Any
// lookup failure (unresolvable identity, missing alarm field) degrades
// to a miss for that criterion.
func (m *Matcher) Matches(r *Rule, a *alarm.Alarm) bool {
	if r.Disabled {
		return false
	}
	if !a.NeedsPolicyMatch() {
		return false
	}

	now := m.clk.Now()
	if r.IsExpired(now) {
		return false
	}
	if r.IsScheduled() && !r.InSchedule(m.eventTime(a, now), m.env.Location()) {
		return false
	}

	// Inbound rules only apply to remotely-initiated traffic. Alarms
	// default to client-initiated when the producer says nothing.
	if r.Direction == DirectionInbound && a.LocalIsClient() {
		return false
	}

	if len(r.Scope) > 0 && !containsString(r.Scope, a.DeviceMAC()) {
		return false
	}
	if len(r.GUIDs) > 0 && !m.matchesGUID(r, a) {
		return false
	}
	if len(r.Tags) > 0 && !m.matchesTag(r, a) {
		return false
	}

	if r.LocalPort != "" && !portsInRange(a.FieldValues(alarm.FieldDevicePort), r.LocalPort) {
		return false
	}
	if r.RemotePort != "" && !portsInRange(a.FieldValues(alarm.FieldDestPort), r.RemotePort) {
		return false
	}

	// Never let a rule swallow an SSH password-guessing notice aimed at
	// the appliance itself: blocking the report is not protection.
	if a.Kind == alarm.KindSSHGuess {
		if dest, ok := a.Field(alarm.FieldDestIP); ok && m.env.IsOwnAddress(dest) {
			return false
		}
	}

	return m.matchesTarget(r, a)
}

// eventTime is the alarm's own timestamp when it carries one, else now.
func (m *Matcher) eventTime(a *alarm.Alarm, now time.Time) time.Time {
	if a.Timestamp > 0 {
		return clock.FromUnix(a.Timestamp)
	}
	return now
}

func (m *Matcher) matchesGUID(r *Rule, a *alarm.Alarm) bool {
	if m.ids == nil {
		return false
	}
	for _, guid := range r.GUIDs {
		id := m.ids.Resolve(guid)
		if id == nil {
			continue
		}
		if v, ok := a.Field(id.AlarmKeyName()); ok && v == id.UniqueID() {
			return true
		}
	}
	return false
}

func (m *Matcher) matchesTag(r *Rule, a *alarm.Alarm) bool {
	if intf, ok := a.Field(alarm.FieldIntfID); ok && intf != "" {
		if containsString(r.Tags, TagPrefixIntf+intf) {
			return true
		}
	}
	for _, tt := range m.tagTypes {
		for _, id := range a.FieldValues(tt.AlarmIDField) {
			if containsString(r.Tags, tt.Prefix+id) {
				return true
			}
		}
	}
	return false
}

// matchesTarget is the type-specific test. The switch enumerates every
// RuleType: scope-style types (intranet, network, tag, device) have no
// target semantics against alarms and never match here, and the
// reserved internet type cannot be constructed.
//
// Target comparisons are byte-exact and rely on alarm producers using
// canonical case for addresses; the matcher does not re-normalize the
// alarm side.
func (m *Matcher) matchesTarget(r *Rule, a *alarm.Alarm) bool {
	switch r.Type {
	case TypeIP:
		dest, _ := a.Field(alarm.FieldDestIP)
		return dest != "" && dest == r.Target

	case TypeNet:
		prefix, err := netip.ParsePrefix(r.Target)
		if err != nil {
			return false
		}
		dest, _ := a.Field(alarm.FieldDestIP)
		addr, err := netip.ParseAddr(dest)
		if err != nil {
			return false
		}
		return prefix.Contains(addr)

	case TypeDNS, TypeDomain:
		name, _ := a.Field(alarm.FieldDestName)
		return domainMatches(name, r.Target)

	case TypeMAC:
		dev := a.DeviceMAC()
		if dev == "" {
			return false
		}
		if r.Target == GroupTargetPlaceholder {
			// Group rule: scope/tag gates already selected the device;
			// only the appliance itself is exempt.
			return !m.env.IsOwnAddress(dev)
		}
		return dev == r.Target

	case TypeCategory:
		if cat, _ := a.Field(alarm.FieldDestCategory); cat != "" && cat == r.Target {
			return true
		}
		if r.MatchAppID != "" {
			if app, _ := a.Field(alarm.FieldDestAppID); app == r.MatchAppID {
				return true
			}
		}
		return false

	case TypeDevicePort:
		return m.matchesDevicePort(r, a)

	case TypeRemotePort:
		return portsInRange(a.FieldValues(alarm.FieldDestPort), r.Target)

	case TypeCountry:
		country, _ := a.Field(alarm.FieldDestCountry)
		return country != "" && country == r.Target

	case TypeIntranet, TypeNetwork, TypeTag, TypeDevice, TypeInternet:
		return false
	}
	return false
}

// matchesDevicePort tests a "<mac>:<port>:<protocol>" target against
// both the direct device-port and the UPnP-mapped-port alarm shapes.
func (m *Matcher) matchesDevicePort(r *Rule, a *alarm.Alarm) bool {
	mac, port, proto, ok := splitDevicePortTarget(r.Target)
	if !ok {
		return false
	}
	if a.DeviceMAC() != mac {
		return false
	}

	if p, _ := a.Field(alarm.FieldProtocol); p == proto {
		if containsString(a.FieldValues(alarm.FieldDevicePort), port) {
			return true
		}
	}
	if p, _ := a.Field(alarm.FieldUPnPProtocol); p == proto {
		if containsString(a.FieldValues(alarm.FieldUPnPPort), port) {
			return true
		}
	}
	return false
}

// splitDevicePortTarget parses "<mac>:<port>:<protocol>", where the mac
// itself contains colons.
func splitDevicePortTarget(target string) (mac, port, proto string, ok bool) {
	parts := strings.Split(target, ":")
	if len(parts) < 3 {
		return "", "", "", false
	}
	proto = parts[len(parts)-1]
	port = parts[len(parts)-2]
	mac = strings.Join(parts[:len(parts)-2], ":")
	if mac == "" || port == "" || proto == "" {
		return "", "", "", false
	}
	return mac, port, proto, true
}

// domainMatches implements exact-or-wildcard-suffix domain matching:
// target "example.com" covers "example.com" and "*.example.com".
func domainMatches(name, target string) bool {
	if name == "" || target == "" {
		return false
	}
	if name == target {
		return true
	}
	return strings.HasSuffix(name, "."+target)
}

// portsInRange reports whether every candidate value lies in the port
// spec ("443" or "5000-5500"). No candidates means a miss.
func portsInRange(candidates []string, spec string) bool {
	lo, hi, ok := parsePortRange(spec)
	if !ok || len(candidates) == 0 {
		return false
	}
	for _, c := range candidates {
		p, err := strconv.Atoi(c)
		if err != nil || p < lo || p > hi {
			return false
		}
	}
	return true
}

func parsePortRange(spec string) (lo, hi int, ok bool) {
	if from, to, found := strings.Cut(spec, "-"); found {
		l, err1 := strconv.Atoi(from)
		h, err2 := strconv.Atoi(to)
		if err1 != nil || err2 != nil || l > h {
			return 0, 0, false
		}
		return l, h, true
	}
	p, err := strconv.Atoi(spec)
	if err != nil {
		return 0, 0, false
	}
	return p, p, true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
