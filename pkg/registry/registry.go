package registry

import (
	"fmt"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/voltgrid/voltgrid/pkg/storage"
	"github.com/voltgrid/voltgrid/pkg/types"
)

const (
	// DefaultTTL bounds how stale a cached device record may get
	DefaultTTL = 5 * time.Minute

	cleanupInterval = 10 * time.Minute
)

// Registry is the read facade over the Storage capability: device key
// to site, type and connection config lookups, cached read-through.
// The connectivity core never writes through it.
type Registry struct {
	store storage.Store
	cache *cache.Cache
}

// New creates a registry over the given store
func New(store storage.Store) *Registry {
	return &Registry{
		store: store,
		cache: cache.New(DefaultTTL, cleanupInterval),
	}
}

// Lookup returns the device record for a device key
func (r *Registry) Lookup(key string) (*types.Device, error) {
	if v, ok := r.cache.Get(key); ok {
		return v.(*types.Device), nil
	}
	device, err := r.store.GetDeviceByKey(key)
	if err != nil {
		return nil, fmt.Errorf("device %q not found: %w", key, err)
	}
	r.cache.SetDefault(key, device)
	return device, nil
}

// SiteOf resolves a device key to its site id
func (r *Registry) SiteOf(key string) (uint64, error) {
	device, err := r.Lookup(key)
	if err != nil {
		return 0, err
	}
	return device.SiteID, nil
}

// Invalidate drops a cached record after an external update
func (r *Registry) Invalidate(key string) {
	r.cache.Delete(key)
}
