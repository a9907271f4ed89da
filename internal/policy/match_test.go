package policy

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/warden/internal/alarm"
	"grimm.is/warden/internal/clock"
	"grimm.is/warden/internal/identity"
)

type testEnv struct {
	own map[string]bool
	loc *time.Location
}

func (e *testEnv) Location() *time.Location {
	if e.loc != nil {
		return e.loc
	}
	return time.UTC
}

func (e *testEnv) IsOwnAddress(addr string) bool {
	return e.own[addr]
}

type testResolver struct {
	profiles map[string]*identity.Profile
}

func (r *testResolver) IsGUID(s string) bool { return identity.IsGUID(s) }

func (r *testResolver) Resolve(guid string) identity.Identity {
	p, ok := r.profiles[guid]
	if !ok {
		return nil
	}
	return p
}

func newTestMatcher(t *testing.T, opts ...func(*Matcher)) (*Matcher, *clock.MockClock) {
	t.Helper()
	clk := clock.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	m := NewMatcher(
		&testResolver{profiles: map[string]*identity.Profile{}},
		&testEnv{own: map[string]bool{"192.168.1.1": true, "20:6D:31:01:2B:43": true}},
		[]TagType{{Name: "group", Prefix: "tag:", AlarmIDField: "p.tag.ids"}},
		clk, nil,
	)
	for _, o := range opts {
		o(m)
	}
	return m, clk
}

func outboundAlarm(kind alarm.Kind, fields map[string]any) *alarm.Alarm {
	if fields == nil {
		fields = map[string]any{}
	}
	if _, ok := fields[alarm.FieldLocalIsClient]; !ok {
		fields[alarm.FieldLocalIsClient] = "1"
	}
	return alarm.New(kind, 0, fields)
}

func TestMatchMACBlock(t *testing.T) {
	m, _ := newTestMatcher(t)
	r := mustDecode(t, map[string]any{
		"type": "mac", "target": "AA:BB:CC:DD:EE:FF",
		"direction": "outbound", "action": "block",
	})

	hit := outboundAlarm(alarm.KindIntel, map[string]any{alarm.FieldDeviceMAC: "AA:BB:CC:DD:EE:FF"})
	assert.True(t, m.Matches(r, hit))

	// Comparison is byte-exact; the producer side owns canonical case
	miss := outboundAlarm(alarm.KindIntel, map[string]any{alarm.FieldDeviceMAC: "aa:bb:cc:dd:ee:ff"})
	assert.False(t, m.Matches(r, miss))
}

func TestMatchDisabledInvariant(t *testing.T) {
	m, _ := newTestMatcher(t)
	r := mustDecode(t, map[string]any{
		"type": "mac", "target": "AA:BB:CC:DD:EE:FF", "disabled": "1",
	})
	a := outboundAlarm(alarm.KindIntel, map[string]any{alarm.FieldDeviceMAC: "AA:BB:CC:DD:EE:FF"})
	assert.False(t, m.Matches(r, a))
}

func TestMatchSkipsUnmatchableAlarms(t *testing.T) {
	m, _ := newTestMatcher(t)
	r := mustDecode(t, map[string]any{"type": "mac", "target": "AA:BB:CC:DD:EE:FF"})
	a := outboundAlarm(alarm.KindDeviceOnline, map[string]any{alarm.FieldDeviceMAC: "AA:BB:CC:DD:EE:FF"})
	assert.False(t, m.Matches(r, a))
}

func TestMatchExpiredRule(t *testing.T) {
	m, clk := newTestMatcher(t)
	r := mustDecode(t, map[string]any{
		"type": "mac", "target": "AA:BB:CC:DD:EE:FF",
		"expire":    "60",
		"timestamp": "1735732800", // far in the past relative to the mock clock
	})
	a := outboundAlarm(alarm.KindIntel, map[string]any{alarm.FieldDeviceMAC: "AA:BB:CC:DD:EE:FF"})
	assert.False(t, m.Matches(r, a))

	// Wind the clock back before creation + expire: rule is live again
	clk.Set(time.Unix(1735732830, 0))
	assert.True(t, m.Matches(r, a))
}

func TestMatchScheduleWindow(t *testing.T) {
	m, clk := newTestMatcher(t)
	r := mustDecode(t, map[string]any{
		"type": "mac", "target": "AA:BB:CC:DD:EE:FF",
		"cronTime": "0 22 * * *", "duration": "3600",
	})
	a := outboundAlarm(alarm.KindIntel, map[string]any{alarm.FieldDeviceMAC: "AA:BB:CC:DD:EE:FF"})

	// Alarm carries no timestamp, so the clock decides: noon is outside
	assert.False(t, m.Matches(r, a))

	clk.Set(time.Date(2025, 6, 1, 22, 30, 0, 0, time.UTC))
	assert.True(t, m.Matches(r, a))

	// An alarm with its own timestamp is judged at that moment
	inWindow := clock.ToUnix(time.Date(2025, 6, 1, 22, 15, 0, 0, time.UTC))
	clk.Set(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	timed := alarm.New(alarm.KindIntel, inWindow, map[string]any{
		alarm.FieldDeviceMAC:     "AA:BB:CC:DD:EE:FF",
		alarm.FieldLocalIsClient: "1",
	})
	assert.True(t, m.Matches(r, timed))
}

func TestMatchInboundDirection(t *testing.T) {
	m, _ := newTestMatcher(t)
	r := mustDecode(t, map[string]any{
		"type": "mac", "target": "AA:BB:CC:DD:EE:FF", "direction": "inbound",
	})

	clientInitiated := outboundAlarm(alarm.KindIntel, map[string]any{alarm.FieldDeviceMAC: "AA:BB:CC:DD:EE:FF"})
	assert.False(t, m.Matches(r, clientInitiated))

	// Unspecified defaults to client-initiated
	unspecified := alarm.New(alarm.KindIntel, 0, map[string]any{alarm.FieldDeviceMAC: "AA:BB:CC:DD:EE:FF"})
	assert.False(t, m.Matches(r, unspecified))

	remoteInitiated := alarm.New(alarm.KindIntel, 0, map[string]any{
		alarm.FieldDeviceMAC:     "AA:BB:CC:DD:EE:FF",
		alarm.FieldLocalIsClient: "0",
	})
	assert.True(t, m.Matches(r, remoteInitiated))
}

func TestMatchScopeGate(t *testing.T) {
	m, _ := newTestMatcher(t)
	r := mustDecode(t, map[string]any{
		"type": "domain", "target": "example.com",
		"scope": []string{"AA:BB:CC:DD:EE:FF"},
	})

	inScope := outboundAlarm(alarm.KindIntel, map[string]any{
		alarm.FieldDeviceMAC: "AA:BB:CC:DD:EE:FF",
		alarm.FieldDestName:  "example.com",
	})
	assert.True(t, m.Matches(r, inScope))

	outOfScope := outboundAlarm(alarm.KindIntel, map[string]any{
		alarm.FieldDeviceMAC: "11:22:33:44:55:66",
		alarm.FieldDestName:  "example.com",
	})
	assert.False(t, m.Matches(r, outOfScope))
}

func TestMatchGUIDGate(t *testing.T) {
	guid := "wg_peer:" + uuid.NewString()
	m, _ := newTestMatcher(t, func(m *Matcher) {
		m.ids = &testResolver{profiles: map[string]*identity.Profile{
			guid: {GUID: guid, Kind: "wg_peer"},
		}}
	})

	r := mustDecode(t, map[string]any{
		"type": "domain", "target": "example.com",
		"guids": []string{guid},
	})

	linked := outboundAlarm(alarm.KindIntel, map[string]any{
		"p.device.guid":     guid,
		alarm.FieldDestName: "example.com",
	})
	assert.True(t, m.Matches(r, linked))

	unlinked := outboundAlarm(alarm.KindIntel, map[string]any{
		alarm.FieldDestName: "example.com",
	})
	assert.False(t, m.Matches(r, unlinked))

	// Unresolvable identity degrades to a miss, never an error
	other := mustDecode(t, map[string]any{
		"type": "domain", "target": "example.com",
		"guids": []string{"wg_peer:" + uuid.NewString()},
	})
	assert.False(t, m.Matches(other, linked))
}

func TestMatchTagGate(t *testing.T) {
	m, _ := newTestMatcher(t)
	r := mustDecode(t, map[string]any{
		"type": "domain", "target": "example.com",
		"tag": []string{"tag:3"},
	})

	tagged := outboundAlarm(alarm.KindIntel, map[string]any{
		alarm.FieldDestName: "example.com",
		"p.tag.ids":         []string{"3", "7"},
	})
	assert.True(t, m.Matches(r, tagged))

	untagged := outboundAlarm(alarm.KindIntel, map[string]any{
		alarm.FieldDestName: "example.com",
		"p.tag.ids":         []string{"9"},
	})
	assert.False(t, m.Matches(r, untagged))

	intfRule := mustDecode(t, map[string]any{
		"type": "domain", "target": "example.com",
		"tag": []string{"intf:lan0-uuid"},
	})
	onIntf := outboundAlarm(alarm.KindIntel, map[string]any{
		alarm.FieldDestName: "example.com",
		alarm.FieldIntfID:   "lan0-uuid",
	})
	assert.True(t, m.Matches(intfRule, onIntf))
	assert.False(t, m.Matches(intfRule, untagged))
}

func TestMatchPortRanges(t *testing.T) {
	m, _ := newTestMatcher(t)
	r := mustDecode(t, map[string]any{
		"type": "ip", "target": "1.2.3.4",
		"localPort": "5000-5500",
	})

	inRange := outboundAlarm(alarm.KindIntel, map[string]any{
		alarm.FieldDestIP:     "1.2.3.4",
		alarm.FieldDevicePort: []string{"5100", "5200"},
	})
	assert.True(t, m.Matches(r, inRange))

	// All candidates must lie in range
	partiallyOut := outboundAlarm(alarm.KindIntel, map[string]any{
		alarm.FieldDestIP:     "1.2.3.4",
		alarm.FieldDevicePort: []string{"5100", "9000"},
	})
	assert.False(t, m.Matches(r, partiallyOut))

	missing := outboundAlarm(alarm.KindIntel, map[string]any{alarm.FieldDestIP: "1.2.3.4"})
	assert.False(t, m.Matches(r, missing), "missing alarm field degrades to a miss")
}

func TestMatchRemotePortFieldGatesRemotePortRules(t *testing.T) {
	m, _ := newTestMatcher(t)

	// The remotePort field check applies to every rule type, including
	// remotePort rules whose field disagrees with their target.
	conflicting := mustDecode(t, map[string]any{
		"type": "remotePort", "target": "8000-9000",
		"remotePort": "443",
	})
	a := outboundAlarm(alarm.KindIntel, map[string]any{alarm.FieldDestPort: "8443"})
	assert.False(t, m.Matches(conflicting, a))

	agreeing := mustDecode(t, map[string]any{
		"type": "remotePort", "target": "8000-9000",
		"remotePort": "8000-9000",
	})
	assert.True(t, m.Matches(agreeing, a))
}

func TestMatchSSHGuessSelfSuppression(t *testing.T) {
	m, _ := newTestMatcher(t)
	r := mustDecode(t, map[string]any{"type": "ip", "target": "192.168.1.1"})

	selfDirected := outboundAlarm(alarm.KindSSHGuess, map[string]any{alarm.FieldDestIP: "192.168.1.1"})
	assert.False(t, m.Matches(r, selfDirected), "SSH-guess notices aimed at the appliance never match")

	otherHost := mustDecode(t, map[string]any{"type": "ip", "target": "10.0.0.9"})
	elsewhere := outboundAlarm(alarm.KindSSHGuess, map[string]any{alarm.FieldDestIP: "10.0.0.9"})
	assert.True(t, m.Matches(otherHost, elsewhere))
}

func TestMatchTargetTypes(t *testing.T) {
	m, _ := newTestMatcher(t)

	cases := []struct {
		name   string
		rule   map[string]any
		fields map[string]any
		want   bool
	}{
		{"ip exact", map[string]any{"type": "ip", "target": "1.2.3.4"},
			map[string]any{alarm.FieldDestIP: "1.2.3.4"}, true},
		{"ip miss", map[string]any{"type": "ip", "target": "1.2.3.4"},
			map[string]any{alarm.FieldDestIP: "1.2.3.5"}, false},
		{"net contains", map[string]any{"type": "net", "target": "192.168.1.0/24"},
			map[string]any{alarm.FieldDestIP: "192.168.1.5"}, true},
		{"net outside", map[string]any{"type": "net", "target": "192.168.1.0/24"},
			map[string]any{alarm.FieldDestIP: "10.0.0.1"}, false},
		{"net bad target", map[string]any{"type": "net", "target": "not-a-cidr"},
			map[string]any{alarm.FieldDestIP: "10.0.0.1"}, false},
		{"domain exact", map[string]any{"type": "domain", "target": "example.com"},
			map[string]any{alarm.FieldDestName: "example.com"}, true},
		{"domain wildcard suffix", map[string]any{"type": "domain", "target": "example.com"},
			map[string]any{alarm.FieldDestName: "www.example.com"}, true},
		{"domain not a suffix", map[string]any{"type": "domain", "target": "example.com"},
			map[string]any{alarm.FieldDestName: "notexample.com"}, false},
		{"dns behaves like domain", map[string]any{"type": "dns", "target": "example.com"},
			map[string]any{alarm.FieldDestName: "a.b.example.com"}, true},
		{"category exact", map[string]any{"type": "category", "target": "porn"},
			map[string]any{alarm.FieldDestCategory: "porn"}, true},
		{"category via app id", map[string]any{"type": "category", "target": "games", "matchAppId": "app-77"},
			map[string]any{alarm.FieldDestAppID: "app-77"}, true},
		{"category miss", map[string]any{"type": "category", "target": "games"},
			map[string]any{alarm.FieldDestCategory: "av"}, false},
		{"country exact", map[string]any{"type": "country", "target": "CN"},
			map[string]any{alarm.FieldDestCountry: "CN"}, true},
		{"country miss", map[string]any{"type": "country", "target": "CN"},
			map[string]any{alarm.FieldDestCountry: "US"}, false},
		{"remotePort range", map[string]any{"type": "remotePort", "target": "8000-9000"},
			map[string]any{alarm.FieldDestPort: "8443"}, true},
		{"remotePort outside", map[string]any{"type": "remotePort", "target": "8000-9000"},
			map[string]any{alarm.FieldDestPort: "443"}, false},
		{"scope-style type never target-matches", map[string]any{"type": "network", "target": "wan-uuid"},
			map[string]any{alarm.FieldDestIP: "1.2.3.4"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := mustDecode(t, tc.rule)
			a := outboundAlarm(alarm.KindIntel, tc.fields)
			assert.Equal(t, tc.want, m.Matches(r, a))
		})
	}
}

func TestMatchDevicePort(t *testing.T) {
	m, _ := newTestMatcher(t)
	r := mustDecode(t, map[string]any{
		"type": "devicePort", "target": "AA:BB:CC:DD:EE:FF:8080:tcp",
	})

	direct := outboundAlarm(alarm.KindOpenPort, map[string]any{
		alarm.FieldDeviceMAC:  "AA:BB:CC:DD:EE:FF",
		alarm.FieldDevicePort: "8080",
		alarm.FieldProtocol:   "tcp",
	})
	assert.True(t, m.Matches(r, direct))

	upnp := outboundAlarm(alarm.KindUPnPOpen, map[string]any{
		alarm.FieldDeviceMAC:    "AA:BB:CC:DD:EE:FF",
		alarm.FieldUPnPPort:     "8080",
		alarm.FieldUPnPProtocol: "tcp",
	})
	assert.True(t, m.Matches(r, upnp))

	wrongProto := outboundAlarm(alarm.KindOpenPort, map[string]any{
		alarm.FieldDeviceMAC:  "AA:BB:CC:DD:EE:FF",
		alarm.FieldDevicePort: "8080",
		alarm.FieldProtocol:   "udp",
	})
	assert.False(t, m.Matches(r, wrongProto))

	wrongDevice := outboundAlarm(alarm.KindOpenPort, map[string]any{
		alarm.FieldDeviceMAC:  "11:22:33:44:55:66",
		alarm.FieldDevicePort: "8080",
		alarm.FieldProtocol:   "tcp",
	})
	assert.False(t, m.Matches(r, wrongDevice))
}

func TestMatchMACGroupPlaceholder(t *testing.T) {
	m, _ := newTestMatcher(t)
	r := mustDecode(t, map[string]any{
		"type": "mac", "target": "TAG",
		"tag": []string{"tag:3"},
	})

	member := outboundAlarm(alarm.KindIntel, map[string]any{
		alarm.FieldDeviceMAC: "AA:BB:CC:DD:EE:FF",
		"p.tag.ids":          []string{"3"},
	})
	assert.True(t, m.Matches(r, member))

	// The appliance's own address is exempt even inside the group
	self := outboundAlarm(alarm.KindIntel, map[string]any{
		alarm.FieldDeviceMAC: "20:6D:31:01:2B:43",
		"p.tag.ids":          []string{"3"},
	})
	assert.False(t, m.Matches(r, self))
}

func TestMatchNeverPanics(t *testing.T) {
	m, _ := newTestMatcher(t)

	rules := []map[string]any{
		{"type": "ip"},
		{"type": "net", "target": "garbage"},
		{"type": "devicePort", "target": "nonsense"},
		{"type": "mac", "target": "AA:BB:CC:DD:EE:FF", "localPort": "not-a-port"},
		{"type": "domain", "target": "example.com", "guids": []string{"wg_peer:" + uuid.NewString()}},
	}
	alarms := []*alarm.Alarm{
		alarm.New(alarm.KindIntel, 0, nil),
		alarm.New(alarm.KindSSHGuess, 0, map[string]any{alarm.FieldDestIP: "192.168.1.1"}),
		outboundAlarm(alarm.KindIntel, map[string]any{alarm.FieldDevicePort: []string{"x"}}),
	}

	for _, raw := range rules {
		r := mustDecode(t, raw)
		for _, a := range alarms {
			require.NotPanics(t, func() { m.Matches(r, a) })
		}
	}
}
