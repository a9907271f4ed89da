package policy

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/warden/internal/clock"
)

func TestDecodeDefaults(t *testing.T) {
	clk := clock.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	d := NewDecoder(nil, clk)

	r, err := d.Decode(map[string]any{"type": "ip", "target": "1.2.3.4"})
	require.NoError(t, err)

	assert.Equal(t, TypeIP, r.Type)
	assert.Equal(t, "1.2.3.4", r.Target)
	assert.Equal(t, DirectionBoth, r.Direction)
	assert.Equal(t, ActionBlock, r.Action)
	assert.Equal(t, clock.ToUnix(clk.Now()), r.Timestamp)
	assert.Nil(t, r.Seq)
	assert.Nil(t, r.Expire)
	assert.False(t, r.Disabled)
}

func TestDecodeRejectsOnlyBadType(t *testing.T) {
	_, err := Decode(map[string]any{"target": "1.2.3.4"})
	require.Error(t, err)
	var ire *InvalidRuleError
	require.ErrorAs(t, err, &ire)

	_, err = Decode(map[string]any{"type": "internet"})
	require.Error(t, err)
	require.ErrorAs(t, err, &ire)
	assert.Equal(t, "internet", ire.Type)
}

func TestDecodeNeverFatalOnGarbage(t *testing.T) {
	r, err := Decode(map[string]any{
		"type":             "domain",
		"target":           "Example.COM",
		"scope":            "{not json",
		"tag":              "[]",
		"appTimeUsage":     "{{{",
		"seq":              "not-a-number",
		"expire":           "soon",
		"cronTime":         "every day at noon",
		"transferredBytes": []string{"weird"},
		"upnp":             42.0,
	})
	require.NoError(t, err)

	assert.Equal(t, "example.com", r.Target, "domain targets are lowercased")
	assert.Nil(t, r.Scope, "malformed JSON array is dropped")
	assert.Nil(t, r.Tags, "empty arrays are never stored")
	assert.Nil(t, r.AppTimeUsage)
	assert.Nil(t, r.Seq)
	assert.Nil(t, r.Expire)
	assert.Equal(t, "every day at noon", r.CronTime, "cron string kept, window simply never opens")
	assert.False(t, r.InSchedule(time.Now(), time.UTC))
	assert.Nil(t, r.TransferredBytes)
	assert.True(t, r.UPnP, "non-zero numeric is truthy")
}

type countingWarns struct{ n int }

func (c *countingWarns) Inc() { c.n++ }

func TestDecodeWarningsCounted(t *testing.T) {
	c := &countingWarns{}
	d := NewDecoder(nil, nil).CountWarnings(c)

	_, err := d.Decode(map[string]any{
		"type":  "ip",
		"seq":   "not-a-number",
		"scope": "{not json",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, c.n, "one increment per dropped field")

	_, err = d.Decode(map[string]any{"type": "ip", "target": "1.2.3.4"})
	require.NoError(t, err)
	assert.Equal(t, 2, c.n, "clean records add nothing")
}

func TestDecodeLegacyAliases(t *testing.T) {
	r, err := Decode(map[string]any{
		"i.type":   "mac",
		"i.target": "aa:bb:cc:dd:ee:ff",
	})
	require.NoError(t, err)
	assert.Equal(t, TypeMAC, r.Type)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", r.Target, "mac targets are uppercased")

	// Canonical fields win over aliases
	r, err = Decode(map[string]any{
		"type":   "ip",
		"i.type": "mac",
		"target": "1.2.3.4",
	})
	require.NoError(t, err)
	assert.Equal(t, TypeIP, r.Type)
}

func TestDecodeScopeSplitsGUIDs(t *testing.T) {
	guid1 := "wg_peer:" + uuid.NewString()
	guid2 := "vpn_profile:" + uuid.NewString()

	r, err := Decode(map[string]any{
		"type":  "ip",
		"scope": []string{"AA:BB:CC:DD:EE:FF", guid1, "11:22:33:44:55:66"},
		"guids": []string{guid1, guid2},
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"AA:BB:CC:DD:EE:FF", "11:22:33:44:55:66"}, r.Scope,
		"scope keeps only link-layer addresses")
	assert.ElementsMatch(t, []string{guid1, guid2}, r.GUIDs,
		"guids are union-deduplicated")
}

func TestDecodeArraysFromJSONStrings(t *testing.T) {
	r, err := Decode(map[string]any{
		"type": "category",
		"tag":  `["tag:3", "intf:uuid-1"]`,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"tag:3", "intf:uuid-1"}, r.Tags)
}

func TestDecodeObjects(t *testing.T) {
	// Structured
	r, err := Decode(map[string]any{
		"type":         "category",
		"appTimeUsage": map[string]any{"disturbQuota": 25, "appName": "youtube"},
	})
	require.NoError(t, err)
	require.NotNil(t, r.AppTimeUsage)
	assert.Equal(t, float64(25), r.AppTimeUsage["disturbQuota"], "numbers canonicalize to float64")

	// JSON string
	r2, err := Decode(map[string]any{
		"type":         "category",
		"appTimeUsage": `{"disturbQuota": 25, "appName": "youtube"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, r.AppTimeUsage, r2.AppTimeUsage)

	// Dotted-path keys, as the codec persists them
	r3, err := Decode(map[string]any{
		"type":                      "category",
		"appTimeUsage.disturbQuota": "25",
		"appTimeUsage.appName":      "youtube",
	})
	require.NoError(t, err)
	assert.Equal(t, r.AppTimeUsage, r3.AppTimeUsage)
}

func TestDecodeEmptyStringsMeanAbsent(t *testing.T) {
	r, err := Decode(map[string]any{
		"type":     "ip",
		"expire":   "",
		"cronTime": "",
		"resolver": "",
	})
	require.NoError(t, err)
	assert.Nil(t, r.Expire)
	assert.Empty(t, r.CronTime)
	assert.Empty(t, r.Resolver)
}

func TestDecodeNumericCoercion(t *testing.T) {
	r, err := Decode(map[string]any{
		"type":             "ip",
		"seq":              "7",
		"transferredBytes": "1048576",
		"priority":         3.0,
		"timestamp":        "1735732800.5",
	})
	require.NoError(t, err)
	require.NotNil(t, r.Seq)
	assert.Equal(t, 7, *r.Seq)
	require.NotNil(t, r.TransferredBytes)
	assert.Equal(t, float64(1048576), *r.TransferredBytes)
	require.NotNil(t, r.Priority)
	assert.Equal(t, 1735732800.5, r.Timestamp)
}

func TestDecodeBooleans(t *testing.T) {
	r, err := Decode(map[string]any{
		"type":         "ip",
		"upnp":         "1",
		"dnsmasq_only": true,
		"trust":        "false",
		"disabled":     "true",
	})
	require.NoError(t, err)
	assert.True(t, r.UPnP)
	assert.True(t, r.DNSmasqOnly)
	assert.False(t, r.Trust)
	assert.True(t, r.Disabled)
	assert.Nil(t, r.UseBf, "useBf only materializes when present")

	r, err = Decode(map[string]any{"type": "ip", "useBf": "0"})
	require.NoError(t, err)
	require.NotNil(t, r.UseBf)
	assert.False(t, *r.UseBf)
}
