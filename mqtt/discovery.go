package mqtt

import "fmt"

// Component is a Home Assistant MQTT discovery platform.
type Component string

const (
	ComponentSensor       Component = "sensor"
	ComponentBinarySensor Component = "binary_sensor"
	ComponentButton       Component = "button"
	ComponentSwitch       Component = "switch"
	ComponentSelect       Component = "select"
)

type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// EntityConfig is the discovery payload of one entity. Only the fields
// used by this bridge are modelled.
type EntityConfig struct {
	Name                   string   `json:"name"`
	UniqueID               string   `json:"unique_id"`
	ObjectID               string   `json:"object_id,omitempty"`
	Icon                   string   `json:"icon,omitempty"`
	DeviceClass            string   `json:"device_class,omitempty"`
	EntityCategory         string   `json:"entity_category,omitempty"`
	StateTopic             string   `json:"state_topic,omitempty"`
	ValueTemplate          string   `json:"value_template,omitempty"`
	JSONAttributesTopic    string   `json:"json_attributes_topic,omitempty"`
	JSONAttributesTemplate string   `json:"json_attributes_template,omitempty"`
	CommandTopic           string   `json:"command_topic,omitempty"`
	PayloadPress           string   `json:"payload_press,omitempty"`
	Options                []string `json:"options,omitempty"`
	AvailabilityTopic      string   `json:"availability_topic,omitempty"`
	Device                 Device   `json:"device"`
}

type Entity struct {
	Component Component
	Config    EntityConfig
}

// DiscoveryTopic is where Home Assistant expects the config of an entity.
func DiscoveryTopic(prefix string, component Component, nodeID, objectID string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", prefix, component, nodeID, objectID)
}

// PublishDiscovery announces entities under the discovery prefix.
func (c *Client) PublishDiscovery(prefix, nodeID string, entities []Entity) error {
	for _, e := range entities {
		topic := DiscoveryTopic(prefix, e.Component, nodeID, e.Config.ObjectID)
		if err := c.PublishAbsolute(topic, e.Config, true); err != nil {
			return fmt.Errorf("unable to announce %s: %w", e.Config.UniqueID, err)
		}
	}
	return nil
}
