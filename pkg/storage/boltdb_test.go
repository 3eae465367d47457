package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltgrid/voltgrid/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestDeviceCRUD(t *testing.T) {
	store := newTestStore(t)

	device := &types.Device{
		Key:      "inv-001",
		SiteID:   7,
		Name:     "Roof inverter",
		Type:     types.DeviceSolarPV,
		Protocol: types.ProtocolModbus,
		Connection: types.ConnectionConfig{
			Modbus: &types.ModbusConfig{UnitID: 1},
		},
	}
	require.NoError(t, store.CreateDevice(device))
	assert.NotZero(t, device.ID)
	assert.False(t, device.CreatedAt.IsZero())

	// Duplicate key rejected
	assert.Error(t, store.CreateDevice(&types.Device{Key: "inv-001"}))

	got, err := store.GetDeviceByKey("inv-001")
	require.NoError(t, err)
	assert.Equal(t, types.DeviceSolarPV, got.Type)
	require.NotNil(t, got.Connection.Modbus)
	assert.Equal(t, uint8(1), got.Connection.Modbus.UnitID)

	byID, err := store.GetDevice(device.ID)
	require.NoError(t, err)
	assert.Equal(t, "inv-001", byID.Key)

	got.Name = "Renamed"
	require.NoError(t, store.UpdateDevice(got))
	got, err = store.GetDeviceByKey("inv-001")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)

	require.NoError(t, store.DeleteDevice("inv-001"))
	_, err = store.GetDeviceByKey("inv-001")
	assert.Error(t, err)
}

func TestListDevicesBySite(t *testing.T) {
	store := newTestStore(t)

	for _, d := range []*types.Device{
		{Key: "a", SiteID: 1, Protocol: types.ProtocolTCPIP},
		{Key: "b", SiteID: 2, Protocol: types.ProtocolTCPIP},
		{Key: "c", SiteID: 1, Protocol: types.ProtocolTCPIP},
	} {
		require.NoError(t, store.CreateDevice(d))
	}

	devices, err := store.ListDevicesBySite(1)
	require.NoError(t, err)
	assert.Len(t, devices, 2)

	all, err := store.ListDevices()
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSiteCRUD(t *testing.T) {
	store := newTestStore(t)

	site := &types.Site{Name: "Plant A"}
	require.NoError(t, store.CreateSite(site))
	assert.NotZero(t, site.ID)

	got, err := store.GetSite(site.ID)
	require.NoError(t, err)
	assert.Equal(t, "Plant A", got.Name)

	sites, err := store.ListSites()
	require.NoError(t, err)
	assert.Len(t, sites, 1)

	require.NoError(t, store.DeleteSite(site.ID))
	_, err = store.GetSite(site.ID)
	assert.Error(t, err)
}

func TestSeedIdempotent(t *testing.T) {
	store := newTestStore(t)

	sites := []types.Site{{ID: 7, Name: "Plant A"}}
	devices := []types.Device{
		{Key: "inv-001", SiteID: 7, Protocol: types.ProtocolModbus},
	}
	require.NoError(t, store.Seed(sites, devices))
	require.NoError(t, store.Seed(sites, devices)) // second run is a no-op

	all, err := store.ListDevices()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
