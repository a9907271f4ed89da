package policy

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeOmitsAbsentFields(t *testing.T) {
	r, err := Decode(map[string]any{"type": "ip", "target": "1.2.3.4"})
	require.NoError(t, err)

	flat := Encode(r)
	assert.Equal(t, "ip", flat["type"])
	assert.Equal(t, "1.2.3.4", flat["target"])
	assert.Equal(t, "bidirection", flat["direction"])
	assert.Equal(t, "block", flat["action"])

	for _, absent := range []string{"scope", "tag", "guids", "expire", "cronTime", "seq", "upnp", "disabled", "localPort"} {
		_, ok := flat[absent]
		assert.False(t, ok, "field %q should be absent", absent)
	}
}

func TestEncodeFlattensObjects(t *testing.T) {
	r, err := Decode(map[string]any{
		"type":         "category",
		"target":       "av",
		"appTimeUsage": map[string]any{"disturbQuota": 25, "appName": "youtube"},
	})
	require.NoError(t, err)

	flat := Encode(r)
	assert.Equal(t, "25", flat["appTimeUsage.disturbQuota"])
	assert.Equal(t, "youtube", flat["appTimeUsage.appName"])
	_, ok := flat["appTimeUsage"]
	assert.False(t, ok, "structured field should be flattened, not stored whole")
}

func TestCodecRoundTrip(t *testing.T) {
	guid := "wg_peer:" + uuid.NewString()
	raw := map[string]any{
		"pid":          "88",
		"type":         "domain",
		"target":       "Example.COM",
		"scope":        []string{"AA:BB:CC:DD:EE:FF", guid},
		"tag":          []string{"tag:3"},
		"targets":      []string{"example.org", "example.net"},
		"direction":    "outbound",
		"action":       "allow",
		"seq":          "7",
		"expire":       "600",
		"cronTime":     "0 22 * * *",
		"duration":     "3600",
		"timestamp":    "1735732800",
		"disabled":     "0",
		"localPort":    "5000-5500",
		"remotePort":   "443",
		"protocol":     "tcp",
		"upnp":         "true",
		"trust":        "1",
		"useBf":        "0",
		"appTimeUsage": map[string]any{"disturbQuota": 25, "appName": "youtube"},
		"wanUUID":      "uuid-wan-1",
		"resolver":     "8.8.8.8",
	}

	r, err := Decode(raw)
	require.NoError(t, err)

	back, err := Decode(ToRaw(Encode(r)))
	require.NoError(t, err)

	assert.True(t, Equal(r, back), "decode(encode(r)) must be equivalent to r")

	// Spot-check fields outside the equivalence set too
	assert.Equal(t, r.PID, back.PID)
	assert.Equal(t, r.Duration, back.Duration)
	assert.Equal(t, r.Timestamp, back.Timestamp)
	assert.ElementsMatch(t, r.GUIDs, back.GUIDs)
	assert.Equal(t, r.AppTimeUsage, back.AppTimeUsage)
}

func TestCodecRoundTripMinimal(t *testing.T) {
	r, err := Decode(map[string]any{"type": "mac", "target": "aa:bb:cc:dd:ee:ff"})
	require.NoError(t, err)

	back, err := Decode(ToRaw(Encode(r)))
	require.NoError(t, err)
	assert.True(t, Equal(r, back))
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", back.Target)
}
