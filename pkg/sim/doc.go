/*
Package sim generates deterministic-plus-jittered device readings for
mock transports.

Each Profile produces a plausible waveform for its device type (a
solar bell curve, battery charge/discharge cycles with state of
charge, an EV charging plateau, a household meter baseline), seeded so
replays are identical. Mock wires in the adapter packages drive their
register images and meter values from a Profile, which keeps the full
adapter state machine and event stream exercised without any field
hardware.

The development path (NODE_ENV=development or a per-device mock flag)
runs every adapter against these profiles; the test suites target the
same transports.
*/
package sim
