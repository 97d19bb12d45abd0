package homeassistant

import (
	"fmt"
	"rendellc/aquarium2mqtt/aquarium"
	"time"

	"github.com/mitchellh/mapstructure"
)

type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

type SensorAttributes struct {
	FriendlyName      string `mapstructure:"friendly_name"`
	UnitOfMeasurement string `mapstructure:"unit_of_measurement"`
	DeviceClass       string `mapstructure:"device_class"`
	StateClass        string `mapstructure:"state_class"`
}

func (s *State) SensorAttributes() (SensorAttributes, error) {
	var attrs SensorAttributes
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &attrs,
	})
	if err != nil {
		return attrs, fmt.Errorf("unable to create attribute decoder: %w", err)
	}
	if err := decoder.Decode(s.Attributes); err != nil {
		return attrs, fmt.Errorf("unable to decode attributes of %s: %w", s.EntityID, err)
	}
	return attrs, nil
}

// Available is false for the placeholder states Home Assistant reports
// while an entity has no value.
func (s *State) Available() bool {
	switch s.State {
	case "", "unknown", "unavailable", "none":
		return false
	}
	return true
}

type persistentNotification struct {
	Title          string `json:"title"`
	Message        string `json:"message"`
	NotificationID string `json:"notification_id"`
}

type notifyMessage struct {
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

type generateDataRequest struct {
	EntityID     string                    `json:"entity_id,omitempty"`
	TaskName     string                    `json:"task_name"`
	Instructions string                    `json:"instructions"`
	Structure    map[string]aquarium.Field `json:"structure,omitempty"`
	Attachments  []aquarium.Attachment     `json:"attachments,omitempty"`
}
