package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltgrid/voltgrid/pkg/types"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9000"
development: true
logLevel: debug
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.True(t, cfg.Development)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NODE_ENV", "development")
	t.Setenv("MQTT_BROKER_URL", "mqtt://broker:1883")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Development)
	assert.Equal(t, "mqtt://broker:1883", cfg.MQTTBrokerURL)
}

func TestLoadFleet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sites:
  - id: 7
    name: "Plant A"
devices:
  - key: inv-001
    name: "Roof inverter"
    siteId: 7
    type: solar_pv
    protocol: modbus
    connection:
      mock: true
      modbus:
        unitId: 1
        scanIntervalMs: 1000
        registers:
          - name: power
            type: holding
            address: 0
            dataType: uint16
            canonical: power
            unit: W
  - key: cp-001
    name: "Charger"
    siteId: 7
    type: ev_charger
    protocol: ocpp
    connection:
      mock: true
      ocpp:
        endpoint: "ws://charger.local/ocpp"
        version: "1.6"
        connectors: 2
`), 0644))

	fleet, err := LoadFleet(path)
	require.NoError(t, err)
	require.Len(t, fleet.Devices, 2)
	assert.Equal(t, types.ProtocolModbus, fleet.Devices[0].Protocol)
	require.NotNil(t, fleet.Devices[0].Connection.Modbus)
	assert.Equal(t, types.RegisterHolding, fleet.Devices[0].Connection.Modbus.Registers[0].Kind)
	assert.Equal(t, "1.6", fleet.Devices[1].Connection.OCPP.Version)
}

func TestFleetValidation(t *testing.T) {
	tests := []struct {
		name  string
		fleet FleetManifest
	}{
		{
			name: "duplicate device key",
			fleet: FleetManifest{Devices: []types.Device{
				{Key: "d1", Protocol: types.ProtocolTCPIP, Connection: types.ConnectionConfig{TCPIP: &types.TCPIPConfig{}}},
				{Key: "d1", Protocol: types.ProtocolTCPIP, Connection: types.ConnectionConfig{TCPIP: &types.TCPIPConfig{}}},
			}},
		},
		{
			name: "missing connection section",
			fleet: FleetManifest{Devices: []types.Device{
				{Key: "d1", Protocol: types.ProtocolModbus},
			}},
		},
		{
			name: "unknown protocol",
			fleet: FleetManifest{Devices: []types.Device{
				{Key: "d1", Protocol: "zigbee"},
			}},
		},
		{
			name: "unknown site",
			fleet: FleetManifest{
				Sites: []types.Site{{ID: 1}},
				Devices: []types.Device{
					{Key: "d1", SiteID: 2, Protocol: types.ProtocolTCPIP, Connection: types.ConnectionConfig{TCPIP: &types.TCPIPConfig{}}},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.fleet.Validate())
		})
	}
}
