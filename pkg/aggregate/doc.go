/*
Package aggregate rolls device telemetry up into site energy readings.

The aggregator subscribes to devices/+/telemetry and
gateways/+/telemetry, keeps the latest power and energy sample per
device, and resolves devices to sites through the registry. On each
flush it publishes one message per site that saw new telemetry on
sites/<id>/energy/readings, carrying the site-wide power and energy
sums. Sites with no fresh samples are skipped, so a quiet fleet
produces no traffic.
*/
package aggregate
