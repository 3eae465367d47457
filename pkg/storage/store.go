package storage

import (
	"github.com/voltgrid/voltgrid/pkg/types"
)

// Store defines the interface to the Storage capability for device and
// site records. The connectivity core only reads through it (via the
// registry facade); writes happen at seeding time and from operator
// tooling.
type Store interface {
	// Devices
	CreateDevice(device *types.Device) error
	GetDevice(id uint64) (*types.Device, error)
	GetDeviceByKey(key string) (*types.Device, error)
	ListDevices() ([]*types.Device, error)
	ListDevicesBySite(siteID uint64) ([]*types.Device, error)
	UpdateDevice(device *types.Device) error
	DeleteDevice(key string) error

	// Sites
	CreateSite(site *types.Site) error
	GetSite(id uint64) (*types.Site, error)
	ListSites() ([]*types.Site, error)
	DeleteSite(id uint64) error

	// Utility
	Close() error
}
