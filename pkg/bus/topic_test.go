package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestMatches tests the wildcard topic match algorithm
func TestMatches(t *testing.T) {
	tests := []struct {
		name   string
		filter string
		topic  string
		want   bool
	}{
		{"exact match", "devices/42/telemetry", "devices/42/telemetry", true},
		{"exact mismatch", "devices/42/telemetry", "devices/42/status", false},
		{"plus matches one level", "a/+/c", "a/b/c", true},
		{"plus does not collapse", "a/+/c", "a/c", false},
		{"plus does not span", "a/+/c", "a/b/c/d", false},
		{"hash matches parent", "a/#", "a", true},
		{"hash matches child", "a/#", "a/b", true},
		{"hash matches deep", "a/#", "a/b/c", true},
		{"hash alone matches all", "#", "devices/42/telemetry", true},
		{"short filter no hash", "a/b", "a/b/c", false},
		{"long filter", "a/b/c", "a/b", false},
		{"device telemetry wildcard", "devices/+/telemetry", "devices/42/telemetry", true},
		{"device telemetry wildcard string id", "devices/+/telemetry", "devices/abc/telemetry", true},
		{"device wildcard excludes status", "devices/+/telemetry", "devices/42/status", false},
		{"device wildcard excludes gateways", "devices/+/telemetry", "gateways/1/telemetry", false},
		{"command response depth", "devices/+/commands/response", "devices/cp-1/commands/response", true},
		{"vpp responses", "vpp/events/+/responses/+", "vpp/events/e1/responses/7", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.filter, tt.topic),
				"Matches(%q, %q)", tt.filter, tt.topic)
		})
	}
}

// TestMatchesMonotone verifies that replacing a token with + never
// shrinks the matched set
func TestMatchesMonotone(t *testing.T) {
	topics := []string{
		"devices/42/telemetry",
		"devices/42/status",
		"devices/abc/telemetry",
		"gateways/1/telemetry",
		"sites/7/energy/readings",
	}
	specific := "devices/42/telemetry"
	general := "devices/+/telemetry"

	for _, topic := range topics {
		if Matches(specific, topic) {
			assert.True(t, Matches(general, topic),
				"generalized filter must match %q", topic)
		}
	}
}

func TestValidateFilter(t *testing.T) {
	assert.NoError(t, ValidateFilter("devices/+/telemetry"))
	assert.NoError(t, ValidateFilter("#"))
	assert.NoError(t, ValidateFilter("a/b/#"))
	assert.Error(t, ValidateFilter(""))
	assert.Error(t, ValidateFilter("a/#/b"))
	assert.Error(t, ValidateFilter("a/b#"))
	assert.Error(t, ValidateFilter("dev+ices/1"))
}

func TestTopicBuilders(t *testing.T) {
	assert.Equal(t, "devices/inv-001/telemetry", DeviceTelemetryTopic("inv-001"))
	assert.Equal(t, "devices/inv-001/commands/response", DeviceCommandResponseTopic("inv-001"))
	assert.Equal(t, "gateways/gw-1/status", GatewayStatusTopic("gw-1"))
	assert.Equal(t, "sites/7/energy/readings", SiteEnergyTopic(7))
	assert.Equal(t, "vpp/events/e1/responses/7", VPPEventResponseTopic("e1", 7))
}

func TestSiteIDFromTopic(t *testing.T) {
	id, ok := SiteIDFromTopic("sites/7/energy/readings")
	assert.True(t, ok)
	assert.Equal(t, uint64(7), id)

	_, ok = SiteIDFromTopic("devices/7/telemetry")
	assert.False(t, ok)

	_, ok = SiteIDFromTopic("sites/abc/energy/readings")
	assert.False(t, ok)
}

func TestDeviceKeyFromTopic(t *testing.T) {
	key, ok := DeviceKeyFromTopic("devices/inv-001/telemetry")
	assert.True(t, ok)
	assert.Equal(t, "inv-001", key)

	key, ok = DeviceKeyFromTopic("gateways/gw-1/status")
	assert.True(t, ok)
	assert.Equal(t, "gw-1", key)

	_, ok = DeviceKeyFromTopic("sites/7/energy/readings")
	assert.False(t, ok)
}
