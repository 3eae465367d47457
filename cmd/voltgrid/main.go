package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/voltgrid/voltgrid/pkg/aggregate"
	"github.com/voltgrid/voltgrid/pkg/bus"
	"github.com/voltgrid/voltgrid/pkg/config"
	"github.com/voltgrid/voltgrid/pkg/log"
	"github.com/voltgrid/voltgrid/pkg/manager"
	"github.com/voltgrid/voltgrid/pkg/metrics"
	"github.com/voltgrid/voltgrid/pkg/push"
	"github.com/voltgrid/voltgrid/pkg/registry"
	"github.com/voltgrid/voltgrid/pkg/storage"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "voltgrid",
	Short: "VoltGrid - DER connectivity and telemetry plane",
	Long: `VoltGrid connects distributed energy resources (batteries, EV
chargers, heat pumps, inverters) over their native protocols and turns
them into a uniform telemetry and command stream.

Adapters speak Modbus TCP, OCPP 1.6/2.0.1, EEBus and raw TCP/IP, with
composite gateways fronting multi-drop buses. Telemetry flows over an
in-process wildcard bus and out to clients through a WebSocket push
gateway.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"VoltGrid version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(deviceCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the connectivity plane",
	Long: `Run the full connectivity plane: load the fleet manifest, build an
adapter per device, and serve the push gateway and metrics endpoints
until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		fleetPath, _ := cmd.Flags().GetString("fleet")
		development, _ := cmd.Flags().GetBool("development")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if fleetPath != "" {
			cfg.Fleet = fleetPath
		}
		if development {
			cfg.Development = true
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.LogLevel),
			JSONOutput: cfg.LogJSON,
			File:       cfg.LogFile,
		})
		logger := log.WithComponent("serve")
		logger.Info().Str("version", Version).Bool("development", cfg.Development).Msg("Starting VoltGrid")
		if cfg.MQTTBrokerURL != "" {
			logger.Info().Str("broker", cfg.MQTTBrokerURL).Msg("External MQTT broker configured (bridge not active)")
		}

		if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			return fmt.Errorf("failed to create data dir: %w", err)
		}
		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		if cfg.Fleet != "" {
			fleet, err := config.LoadFleet(cfg.Fleet)
			if err != nil {
				return err
			}
			if err := store.Seed(fleet.Sites, fleet.Devices); err != nil {
				return err
			}
			logger.Info().Int("sites", len(fleet.Sites)).Int("devices", len(fleet.Devices)).Msg("Fleet manifest seeded")
		}

		b := bus.New()
		reg := registry.New(store)

		mgr := manager.New(b, nil)
		mgr.AutoConnect = true

		devices, err := store.ListDevices()
		if err != nil {
			return err
		}
		for _, dev := range devices {
			d := *dev
			if cfg.Development {
				d.Connection.Mock = true
			}
			if _, err := mgr.AddDevice(d); err != nil {
				logger.Error().Err(err).Str("device_id", d.Key).Msg("Failed to add device")
			}
		}

		agg := aggregate.New(b, reg, 0)
		if err := agg.Start(); err != nil {
			return err
		}

		gw := push.New(b, reg, push.Config{})
		if err := gw.Start(); err != nil {
			return err
		}

		mux := http.NewServeMux()
		mux.Handle("/ws", gw.Handler())
		pushSrv := &http.Server{Addr: cfg.Listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())
		metricsSrv := &http.Server{Addr: cfg.MetricsListen, Handler: metricsMux, ReadHeaderTimeout: 10 * time.Second}

		errCh := make(chan error, 2)
		go func() {
			logger.Info().Str("addr", cfg.Listen).Msg("Push gateway listening")
			if err := pushSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("push server: %w", err)
			}
		}()
		go func() {
			logger.Info().Str("addr", cfg.MetricsListen).Msg("Metrics endpoint listening")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("Shutting down")
		case err := <-errCh:
			logger.Error().Err(err).Msg("Server failed")
		}

		// Shutdown order: stop accepting clients, then terminate
		// adapter sessions (each publishes a final offline status),
		// then drain the bus
		pushSrv.Close()
		metricsSrv.Close()
		gw.Close()
		agg.Close()
		mgr.Shutdown()
		b.Close()

		logger.Info().Msg("Shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to YAML config file")
	serveCmd.Flags().String("fleet", "", "Path to fleet manifest (overrides config)")
	serveCmd.Flags().Bool("development", false, "Force mock transports for every adapter")
}

// Device commands
var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Inspect the device fleet",
}

var deviceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List devices in the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		store, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		devices, err := store.ListDevices()
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			fmt.Println("No devices.")
			return nil
		}
		fmt.Printf("%-20s %-8s %-20s %-12s\n", "KEY", "SITE", "TYPE", "PROTOCOL")
		for _, d := range devices {
			fmt.Printf("%-20s %-8d %-20s %-12s\n", d.Key, d.SiteID, d.Type, d.Protocol)
		}
		return nil
	},
}

var deviceCheckCmd = &cobra.Command{
	Use:   "check MANIFEST",
	Short: "Validate a fleet manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fleet, err := config.LoadFleet(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("OK: %d sites, %d devices\n", len(fleet.Sites), len(fleet.Devices))
		return nil
	},
}

func init() {
	deviceCmd.AddCommand(deviceListCmd)
	deviceCmd.AddCommand(deviceCheckCmd)

	deviceListCmd.Flags().String("data-dir", "/var/lib/voltgrid", "Data directory")
}
