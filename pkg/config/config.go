package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/voltgrid/voltgrid/pkg/types"
)

// Config holds the server configuration
type Config struct {
	// Listen is the push gateway address (serves /ws)
	Listen string `yaml:"listen"`

	// MetricsListen is the Prometheus endpoint address (serves /metrics)
	MetricsListen string `yaml:"metricsListen"`

	// DataDir holds the bolt database
	DataDir string `yaml:"dataDir"`

	// Fleet is the path to the device fleet manifest
	Fleet string `yaml:"fleet"`

	LogLevel string `yaml:"logLevel"`
	LogJSON  bool   `yaml:"logJson"`
	LogFile  string `yaml:"logFile"`

	// Development enables mock transports for every adapter and
	// auto-connect on AddDevice
	Development bool `yaml:"development"`

	// MQTTBrokerURL is accepted for forward compatibility with an
	// external broker bridge; the in-process bus ignores it
	MQTTBrokerURL string `yaml:"mqttBrokerUrl"`
}

// Default returns the default configuration
func Default() Config {
	return Config{
		Listen:        ":8080",
		MetricsListen: ":9090",
		DataDir:       "/var/lib/voltgrid",
		LogLevel:      "info",
	}
}

// Load reads a YAML config file and applies environment overrides.
// A missing path returns defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv applies the recognized environment flags
func (c *Config) applyEnv() {
	if v := os.Getenv("MQTT_BROKER_URL"); v != "" {
		c.MQTTBrokerURL = v
	}
	if os.Getenv("NODE_ENV") == "development" {
		c.Development = true
	}
	if v := os.Getenv("VOLTGRID_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Fleet is the device fleet manifest: the sites and devices seeded
// into the store at startup
type FleetManifest struct {
	Sites   []types.Site   `yaml:"sites"`
	Devices []types.Device `yaml:"devices"`
}

// LoadFleet reads a YAML fleet manifest
func LoadFleet(path string) (*FleetManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fleet manifest: %w", err)
	}
	var fleet FleetManifest
	if err := yaml.Unmarshal(data, &fleet); err != nil {
		return nil, fmt.Errorf("failed to parse fleet manifest: %w", err)
	}
	if err := fleet.Validate(); err != nil {
		return nil, err
	}
	return &fleet, nil
}

// Validate checks manifest consistency: unique device keys, known
// protocols, and a connection section matching each device's protocol
func (f *FleetManifest) Validate() error {
	sites := make(map[uint64]bool, len(f.Sites))
	for _, s := range f.Sites {
		if sites[s.ID] {
			return fmt.Errorf("duplicate site id %d", s.ID)
		}
		sites[s.ID] = true
	}

	keys := make(map[string]bool, len(f.Devices))
	for i := range f.Devices {
		d := &f.Devices[i]
		if d.Key == "" {
			return fmt.Errorf("device %q has no key", d.Name)
		}
		if keys[d.Key] {
			return fmt.Errorf("duplicate device key %q", d.Key)
		}
		keys[d.Key] = true

		if len(sites) > 0 && !sites[d.SiteID] {
			return fmt.Errorf("device %q references unknown site %d", d.Key, d.SiteID)
		}

		var ok bool
		switch d.Protocol {
		case types.ProtocolModbus:
			ok = d.Connection.Modbus != nil
		case types.ProtocolOCPP:
			ok = d.Connection.OCPP != nil
		case types.ProtocolEEBus:
			ok = d.Connection.EEBus != nil
		case types.ProtocolTCPIP:
			ok = d.Connection.TCPIP != nil
		case types.ProtocolGateway:
			ok = d.Connection.Gateway != nil
		default:
			return fmt.Errorf("device %q: unknown protocol %q", d.Key, d.Protocol)
		}
		if !ok {
			return fmt.Errorf("device %q: missing %s connection config", d.Key, d.Protocol)
		}
	}
	return nil
}
