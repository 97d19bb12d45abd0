package mqtt

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoveryTopic(t *testing.T) {
	assert.Equal(t,
		"homeassistant/binary_sensor/aquarium_reef/water_change_needed/config",
		DiscoveryTopic("homeassistant", ComponentBinarySensor, "aquarium_reef", "water_change_needed"))
}

func TestEntityConfigJSON(t *testing.T) {
	cfg := EntityConfig{
		Name:          "Notification Format",
		UniqueID:      "abc_notification_format",
		ObjectID:      "reef_notification_format",
		CommandTopic:  "aquarium/reef/set/notification_format",
		StateTopic:    "aquarium/reef/settings",
		ValueTemplate: "{{ value_json.notification_format }}",
		Options:       []string{"detailed", "condensed", "minimal"},
		Device:        Device{Identifiers: []string{"abc"}, Name: "Aquarium AI - Reef"},
	}

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	decoded := map[string]any{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "aquarium/reef/set/notification_format", decoded["command_topic"])
	assert.Equal(t, []any{"detailed", "condensed", "minimal"}, decoded["options"])
	assert.NotContains(t, decoded, "icon")
	assert.NotContains(t, decoded, "payload_press")
	assert.Equal(t, map[string]any{"identifiers": []any{"abc"}, "name": "Aquarium AI - Reef"}, decoded["device"])
}

func TestClientRequiresConnection(t *testing.T) {
	c := NewClient(Config{BrokerURL: "tcp://localhost:1883", ClientID: "test", TopicRoot: "aquarium"}, zerolog.Nop())

	assert.Equal(t, "aquarium/reef/state", c.Topic("reef/state"))
	assert.Error(t, c.Publish("reef/state", "x", false))
	assert.Error(t, c.Subscribe("reef/set/run", func(string, []byte) {}))
	assert.Error(t, c.PublishDiscovery("homeassistant", "reef", []Entity{{Component: ComponentButton}}))
	c.Disconnect()
}

func TestValidateRelative(t *testing.T) {
	assert.Error(t, validateRelative(""))
	assert.Error(t, validateRelative("/absolute"))
	assert.NoError(t, validateRelative("reef/state"))
}
