/*
Package log provides structured logging for VoltGrid using zerolog.

The log package wraps the zerolog library to provide JSON-structured
logging with component-specific loggers, configurable log levels, and
helper functions for common logging patterns. All logs include
timestamps and support filtering by severity level.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout plus optional rotating    │          │
	│  │    file (lumberjack)                        │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("bus")                     │          │
	│  │  - WithDeviceID("inv-001")                  │          │
	│  │  - WithSiteID(7)                            │          │
	│  │  - WithProtocol("modbus")                   │          │
	│  └────────────────────────────────────────────┘          │
	└───────────────────────────────────────────────────────────┘

# Usage

Initializing the Logger:

	import "github.com/voltgrid/voltgrid/pkg/log"

	// JSON output (production), with rotation
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		File:       "/var/log/voltgrid/voltgrid.log",
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
	})

Structured Logging:

	log.Logger.Info().
		Str("device_id", "cp-042").
		Int("connector", 1).
		Msg("Transaction started")

	adapterLog := log.WithComponent("adapter").
		With().Str("device_id", "inv-001").Logger()
	adapterLog.Warn().Err(err).Msg("Heartbeat failed")

# Integration Points

This package integrates with:

  - pkg/bus: Logs subscriber panics and drops
  - pkg/adapter: Logs session state transitions and reconnects
  - pkg/manager: Logs adapter add/remove/shutdown
  - pkg/push: Logs client connect/disconnect and send failures

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err() for error context

Don't:
  - Log in scan or fan-out hot paths above Debug
  - Concatenate strings (use .Str, .Int)
  - Log device credentials or auth tokens

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Lumberjack rotation: https://gopkg.in/natefinch/lumberjack.v2
*/
package log
