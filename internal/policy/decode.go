package policy

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/miekg/dns"

	"grimm.is/warden/internal/clock"
	"grimm.is/warden/internal/identity"
	"grimm.is/warden/internal/logging"
	"grimm.is/warden/internal/schedule"
)

// WarnCounter receives one increment per dropped or defaulted field.
// prometheus counters satisfy it.
type WarnCounter interface {
	Inc()
}

// Decoder normalizes raw persisted or API-submitted records into Rules.
// Construction fails only for a missing or reserved type; every other
// malformed field is dropped or defaulted and logged.
type Decoder struct {
	log      *logging.Logger
	clk      clock.Clock
	warnings WarnCounter
}

// NewDecoder creates a decoder. Both arguments may be nil for defaults.
func NewDecoder(log *logging.Logger, clk clock.Clock) *Decoder {
	if log == nil {
		log = logging.WithComponent("policy")
	}
	if clk == nil {
		clk = &clock.RealClock{}
	}
	return &Decoder{log: log, clk: clk}
}

// CountWarnings routes per-field decode warnings to c in addition to
// the log. Returns d for chaining.
func (d *Decoder) CountWarnings(c WarnCounter) *Decoder {
	d.warnings = c
	return d
}

// Decode normalizes a raw record with the package defaults.
func Decode(raw map[string]any) (*Rule, error) {
	return NewDecoder(nil, nil).Decode(raw)
}

// Decode builds a Rule from a raw loosely-typed record.
func (d *Decoder) Decode(raw map[string]any) (*Rule, error) {
	m := d.prepare(raw)

	typ := stringValue(m["type"])
	if typ == "" {
		return nil, &InvalidRuleError{Reason: "missing type"}
	}
	if RuleType(typ) == TypeInternet {
		return nil, &InvalidRuleError{Type: typ, Reason: "reserved type"}
	}

	r := &Rule{
		Type:   RuleType(typ),
		PID:    stringValue(m["pid"]),
		Target: stringValue(m["target"]),
	}

	arrays := make(map[string][]string)
	for _, f := range arrayFields {
		if v, ok := m[f]; ok {
			if list := d.parseStringList(f, v); len(list) > 0 {
				arrays[f] = list
			}
		}
	}
	r.Tags = arrays["tag"]
	r.Targets = arrays["targets"]
	r.ApplyRules = arrays["applyRules"]
	d.splitScope(r, arrays["scope"], arrays["guids"])

	if v, ok := m["appTimeUsage"]; ok {
		r.AppTimeUsage = d.parseObject("appTimeUsage", v)
	}
	if v, ok := m["disturbMethod"]; ok {
		r.DisturbMethod = d.parseObject("disturbMethod", v)
	}

	if f, ok := d.numberField(m, "seq"); ok {
		seq := int(f)
		r.Seq = &seq
	}
	r.AppTimeUsed = d.numberPtr(m, "appTimeUsed")
	r.Priority = d.numberPtr(m, "priority")
	r.TransferredBytes = d.numberPtr(m, "transferredBytes")
	r.TransferredPackets = d.numberPtr(m, "transferredPackets")
	r.AvgPacketBytes = d.numberPtr(m, "avgPacketBytes")
	r.DisturbTimeUsed = d.numberPtr(m, "disturbTimeUsed")

	r.UPnP = parseBool(m["upnp"])
	r.DNSmasqOnly = parseBool(m["dnsmasq_only"])
	r.Trust = parseBool(m["trust"])
	if v, ok := m["useBf"]; ok {
		b := parseBool(v)
		r.UseBf = &b
	}
	r.Disabled = parseBool(m["disabled"])

	r.Direction = Direction(stringValue(m["direction"]))
	if r.Direction == "" {
		r.Direction = DirectionBoth
	}
	r.Action = Action(stringValue(m["action"]))
	if r.Action == "" {
		r.Action = ActionBlock
	}

	d.parseExpire(r, m)
	d.parseSchedule(r, m)

	r.LocalPort = stringValue(m["localPort"])
	r.RemotePort = stringValue(m["remotePort"])
	r.MatchAppID = stringValue(m["matchAppId"])

	for name, dst := range map[string]*string{
		"protocol":         &r.Protocol,
		"trafficDirection": &r.TrafficDirection,
		"parentRgId":       &r.ParentRgID,
		"targetRgId":       &r.TargetRgID,
		"ipttl":            &r.IPTTL,
		"wanUUID":          &r.WanUUID,
		"owanUUID":         &r.OwanUUID,
		"routeType":        &r.RouteType,
		"origDst":          &r.OrigDst,
		"origDport":        &r.OrigDport,
		"snatIP":           &r.SnatIP,
		"flowIsolation":    &r.FlowIsolation,
		"dscpClass":        &r.DscpClass,
		"category":         &r.Category,
		"method":           &r.Method,
		"alarmType":        &r.AlarmType,
	} {
		*dst = stringValue(m[name])
	}
	// resolver: empty string means absent, same as expire/cronTime
	r.Resolver = stringValue(m["resolver"])

	if f, ok := d.numberField(m, "timestamp"); ok {
		r.Timestamp = f
	} else {
		r.Timestamp = clock.ToUnix(d.clk.Now())
	}
	r.ActivatedTime = d.numberPtr(m, "activatedTime")

	r.Target = canonicalTarget(r.Type, r.Target)
	if (r.Type == TypeDNS || r.Type == TypeDomain) && r.Target != "" {
		if _, ok := dns.IsDomainName(r.Target); !ok {
			d.warn("target", r.Target, "not a valid domain name")
		}
	}

	return r, nil
}

// prepare migrates legacy aliases and reassembles dotted-path object
// keys, so the rest of decode only sees canonical field names.
func (d *Decoder) prepare(raw map[string]any) map[string]any {
	m := make(map[string]any, len(raw))
	var legacyType, legacyTarget any
	for k, v := range raw {
		switch k {
		case "i.type":
			legacyType = v
		case "i.target":
			legacyTarget = v
		default:
			m[k] = v
		}
	}
	if _, ok := m["type"]; !ok && legacyType != nil {
		m["type"] = legacyType
	}
	if _, ok := m["target"]; !ok && legacyTarget != nil {
		m["target"] = legacyTarget
	}

	for k, v := range m {
		head, rest, found := strings.Cut(k, ".")
		if !found || !objectFields[head] {
			continue
		}
		obj, _ := m[head].(map[string]any)
		if obj == nil {
			obj = make(map[string]any)
			m[head] = obj
		}
		setPath(obj, strings.Split(rest, "."), coerceScalar(v))
		delete(m, k)
	}
	return m
}

// splitScope separates link-layer addresses from identity references,
// union-deduplicating the latter with any explicit guids field.
func (d *Decoder) splitScope(r *Rule, scope, guids []string) {
	guidSet := make(map[string]bool)
	for _, g := range guids {
		guidSet[g] = true
	}
	var macs []string
	for _, s := range scope {
		if identity.IsGUID(s) {
			guidSet[s] = true
		} else {
			macs = append(macs, s)
		}
	}
	if len(macs) > 0 {
		r.Scope = macs
	}
	if len(guidSet) > 0 {
		all := make([]string, 0, len(guidSet))
		for g := range guidSet {
			all = append(all, g)
		}
		sort.Strings(all)
		r.GUIDs = all
	}
}

func (d *Decoder) parseExpire(r *Rule, m map[string]any) {
	v, ok := m["expire"]
	if !ok {
		return
	}
	switch t := v.(type) {
	case string:
		if t == "" {
			return // empty string means absent
		}
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			d.warn("expire", t, "not an integer")
			return
		}
		r.Expire = &n
	case float64:
		n := int64(t)
		r.Expire = &n
	case int:
		n := int64(t)
		r.Expire = &n
	case int64:
		r.Expire = &t
	default:
		d.warn("expire", v, "unsupported value")
	}
}

func (d *Decoder) parseSchedule(r *Rule, m map[string]any) {
	ct := stringValue(m["cronTime"])
	if ct == "" {
		return // empty string means absent
	}
	r.CronTime = ct
	if f, ok := d.numberField(m, "duration"); ok {
		r.Duration = f
	}
	c, err := schedule.Parse(ct)
	if err != nil {
		d.warn("cronTime", ct, err.Error())
		return
	}
	r.cron = c
}

func (d *Decoder) parseStringList(field string, v any) []string {
	switch t := v.(type) {
	case []string:
		if len(t) == 0 {
			return nil
		}
		out := make([]string, len(t))
		copy(out, t)
		return out
	case []any:
		var out []string
		for _, e := range t {
			if s := stringValue(e); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		var out []string
		if err := json.Unmarshal([]byte(t), &out); err != nil {
			d.warn(field, t, "malformed JSON array")
			return nil
		}
		return out
	default:
		d.warn(field, v, "unsupported value")
		return nil
	}
}

// parseObject returns the field as a canonicalized map (all numbers
// float64, so deep equality is stable across input encodings), or nil.
func (d *Decoder) parseObject(field string, v any) map[string]any {
	var obj map[string]any
	switch t := v.(type) {
	case map[string]any:
		obj = t
	case string:
		if t == "" {
			return nil
		}
		if err := json.Unmarshal([]byte(t), &obj); err != nil {
			d.warn(field, t, "malformed JSON object")
			return nil
		}
	default:
		d.warn(field, v, "unsupported value")
		return nil
	}
	if len(obj) == 0 {
		return nil
	}
	data, err := json.Marshal(obj)
	if err != nil {
		d.warn(field, v, "unencodable object")
		return nil
	}
	var canonical map[string]any
	if err := json.Unmarshal(data, &canonical); err != nil {
		return nil
	}
	return canonical
}

func (d *Decoder) numberField(m map[string]any, name string) (float64, bool) {
	v, ok := m[name]
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		if t == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			d.warn(name, t, "not a number")
			return 0, false
		}
		return f, true
	default:
		d.warn(name, v, "unsupported value")
		return 0, false
	}
}

func (d *Decoder) numberPtr(m map[string]any, name string) *float64 {
	if f, ok := d.numberField(m, name); ok {
		return &f
	}
	return nil
}

func (d *Decoder) warn(field string, value any, reason string) {
	d.log.Warn("dropping malformed rule field", "field", field, "value", value, "reason", reason)
	if d.warnings != nil {
		d.warnings.Inc()
	}
}

// canonicalTarget normalizes target case per type. The switch is kept
// exhaustive so a new type must state its canonicalization explicitly.
func canonicalTarget(t RuleType, target string) string {
	switch t {
	case TypeMAC:
		return strings.ToUpper(target)
	case TypeDNS, TypeDomain:
		return strings.ToLower(target)
	case TypeIP, TypeNet, TypeCategory, TypeDevicePort, TypeRemotePort,
		TypeCountry, TypeIntranet, TypeNetwork, TypeTag, TypeDevice, TypeInternet:
		return target
	}
	return target
}

// stringValue extracts a string from a loosely-typed value. Numbers are
// formatted; anything else is treated as absent.
func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	}
	return ""
}

// parseBool accepts bools and the stringly forms "1"/"true".
func parseBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "1" || strings.EqualFold(t, "true")
	case float64:
		return t != 0
	}
	return false
}

// coerceScalar turns a flattened leaf back into its JSON scalar form so
// reassembled objects compare deep-equal with structured inputs.
func coerceScalar(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return s
	}
	switch out.(type) {
	case float64, bool:
		return out
	}
	return s
}

// setPath sets a value at a dotted path inside a nested map.
func setPath(obj map[string]any, path []string, v any) {
	for _, p := range path[:len(path)-1] {
		next, _ := obj[p].(map[string]any)
		if next == nil {
			next = make(map[string]any)
			obj[p] = next
		}
		obj = next
	}
	obj[path[len(path)-1]] = v
}
