package bus

import (
	"fmt"
	"strconv"
	"strings"
)

// Topic namespace. These builders are the only place topic strings are
// assembled; consumers subscribe with wildcard filters over the same
// shapes.
func DeviceStatusTopic(key string) string    { return "devices/" + key + "/status" }
func DeviceTelemetryTopic(key string) string { return "devices/" + key + "/telemetry" }
func DeviceCommandTopic(key string) string   { return "devices/" + key + "/commands" }
func DeviceCommandResponseTopic(key string) string {
	return "devices/" + key + "/commands/response"
}

func GatewayStatusTopic(key string) string    { return "gateways/" + key + "/status" }
func GatewayTelemetryTopic(key string) string { return "gateways/" + key + "/telemetry" }
func GatewayCommandTopic(key string) string   { return "gateways/" + key + "/commands" }

func SiteEnergyTopic(siteID uint64) string {
	return "sites/" + strconv.FormatUint(siteID, 10) + "/energy/readings"
}

func SiteOptimizationTopic(siteID uint64) string {
	return "sites/" + strconv.FormatUint(siteID, 10) + "/optimization"
}

func VPPEventTopic(eventID string) string { return "vpp/events/" + eventID }
func VPPEventResponseTopic(eventID string, siteID uint64) string {
	return "vpp/events/" + eventID + "/responses/" + strconv.FormatUint(siteID, 10)
}

// Matches reports whether a published topic matches a subscription
// filter. Filters may contain `+` (exactly one level) and a trailing
// `#` (this level and everything below it). Both are split on `/` and
// walked in lockstep; `#` must be the last filter token.
func Matches(filter, topic string) bool {
	if filter == topic {
		return true
	}
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")
	for i := 0; i < len(f); i++ {
		if f[i] == "#" {
			return i == len(f)-1
		}
		if i >= len(t) {
			return false
		}
		if f[i] == "+" {
			continue
		}
		if f[i] != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}

// ValidateFilter rejects malformed subscription filters: empty filters,
// `#` anywhere but the last token, and wildcards embedded inside a
// token (e.g. "dev+ices").
func ValidateFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("empty topic filter")
	}
	tokens := strings.Split(filter, "/")
	for i, tok := range tokens {
		if tok == "#" && i != len(tokens)-1 {
			return fmt.Errorf("invalid topic filter %q: '#' must be the last token", filter)
		}
		if tok != "#" && strings.Contains(tok, "#") {
			return fmt.Errorf("invalid topic filter %q: '#' must stand alone", filter)
		}
		if tok != "+" && strings.Contains(tok, "+") {
			return fmt.Errorf("invalid topic filter %q: '+' must stand alone", filter)
		}
	}
	return nil
}

// SiteIDFromTopic extracts the site id from a sites/<id>/... topic
func SiteIDFromTopic(topic string) (uint64, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 || parts[0] != "sites" {
		return 0, false
	}
	id, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// DeviceKeyFromTopic extracts the device key from a devices/<key>/...
// or gateways/<key>/... topic
func DeviceKeyFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 || (parts[0] != "devices" && parts[0] != "gateways") {
		return "", false
	}
	return parts[1], true
}
