package identity

import (
	"fmt"
	"sync"

	"grimm.is/warden/internal/state"
)

// BucketProfiles is the state bucket holding identity records.
const BucketProfiles = "identity_profiles"

// Directory is a store-backed identity directory with an in-memory
// cache. Population happens externally (VPN manager, API); the policy
// engine only reads it.
type Directory struct {
	store state.Store

	mu       sync.RWMutex
	profiles map[string]*Profile // GUID -> profile
}

// NewDirectory creates a directory backed by the given store and loads
// existing records.
func NewDirectory(store state.Store) (*Directory, error) {
	d := &Directory{
		store:    store,
		profiles: make(map[string]*Profile),
	}

	if err := store.CreateBucket(BucketProfiles); err != nil && err != state.ErrBucketExists {
		return nil, fmt.Errorf("failed to create profiles bucket: %w", err)
	}
	if err := d.load(); err != nil {
		return nil, fmt.Errorf("failed to load identity profiles: %w", err)
	}
	return d, nil
}

func (d *Directory) load() error {
	entries, err := d.store.List(BucketProfiles)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for guid := range entries {
		var p Profile
		if err := d.store.GetJSON(BucketProfiles, guid, &p); err != nil {
			continue // skip unreadable records, directory stays usable
		}
		d.profiles[guid] = &p
	}
	return nil
}

// IsGUID implements Resolver.
func (d *Directory) IsGUID(s string) bool {
	return IsGUID(s)
}

// Resolve returns the identity for a GUID, or nil when unknown.
func (d *Directory) Resolve(guid string) Identity {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profiles[guid]
	if !ok {
		return nil
	}
	return p
}

// Put stores or replaces a profile.
func (d *Directory) Put(p *Profile) error {
	if err := d.store.SetJSON(BucketProfiles, p.GUID, p); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[p.GUID] = p
	return nil
}

// Remove deletes a profile.
func (d *Directory) Remove(guid string) error {
	if err := d.store.Delete(BucketProfiles, guid); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.profiles, guid)
	return nil
}

// List returns all profiles.
func (d *Directory) List() []*Profile {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Profile, 0, len(d.profiles))
	for _, p := range d.profiles {
		out = append(out, p)
	}
	return out
}
