/*
Package config loads VoltGrid's server configuration and device fleet
manifest from YAML.

Two files are involved:

  - Server config: listen addresses, data directory, logging, and the
    development flag. Missing file falls back to defaults.
  - Fleet manifest: the sites and devices seeded into the store at
    startup, each device carrying its protocol family and connection
    descriptor. The manifest is validated for unique keys, known
    protocols, site references, and a connection section matching each
    device's protocol.

Recognized environment flags (applied after the file):

	MQTT_BROKER_URL      external broker bridge endpoint (parsed, logged)
	NODE_ENV=development enables mock transports and auto-connect
	VOLTGRID_LOG_LEVEL   overrides the configured log level

# Usage

	cfg, err := config.Load("/etc/voltgrid/config.yaml")
	if err != nil { ... }
	fleet, err := config.LoadFleet(cfg.Fleet)
*/
package config
