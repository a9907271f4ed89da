package identity

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/warden/internal/state"
)

func TestIsGUID(t *testing.T) {
	id := uuid.NewString()

	assert.True(t, IsGUID("vpn_profile:"+id))
	assert.True(t, IsGUID("wg_peer:"+id))

	assert.False(t, IsGUID("20:6D:31:01:2B:43"), "MAC addresses are not GUIDs")
	assert.False(t, IsGUID(id), "bare UUID has no kind prefix")
	assert.False(t, IsGUID("vpn_profile:not-a-uuid"))
	assert.False(t, IsGUID("mystery_kind:"+id))
	assert.False(t, IsGUID(""))
}

func TestDirectory(t *testing.T) {
	st, err := state.Open(state.Options{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	d, err := NewDirectory(st)
	require.NoError(t, err)

	guid := "wg_peer:" + uuid.NewString()
	require.NoError(t, d.Put(&Profile{GUID: guid, Name: "laptop-vpn", Kind: "wg_peer"}))

	got := d.Resolve(guid)
	require.NotNil(t, got)
	assert.Equal(t, guid, got.UniqueID())
	assert.Equal(t, "p.device.guid", got.AlarmKeyName())

	assert.Nil(t, d.Resolve("wg_peer:"+uuid.NewString()))

	// Reload from store: a fresh directory sees the record
	d2, err := NewDirectory(st)
	require.NoError(t, err)
	require.NotNil(t, d2.Resolve(guid))
	assert.Len(t, d2.List(), 1)

	require.NoError(t, d.Remove(guid))
	assert.Nil(t, d.Resolve(guid))
}
