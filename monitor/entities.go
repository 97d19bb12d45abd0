package monitor

import (
	"fmt"
	"rendellc/aquarium2mqtt/aquarium"
	"rendellc/aquarium2mqtt/mqtt"
	"strings"
)

const (
	payloadPress = "PRESS"
	payloadOn    = "ON"
	payloadOff   = "OFF"
)

func (a *Analyzer) stateTopic() string { return a.nodeID + "/state" }
func (a *Analyzer) settingsTopic() string { return a.nodeID + "/settings" }
func (a *Analyzer) runTopic() string { return a.nodeID + "/run" }

func (a *Analyzer) setTopic(setting string) string {
	return a.nodeID + "/set/" + setting
}

func (a *Analyzer) device() mqtt.Device {
	return mqtt.Device{
		Identifiers:  []string{aquarium.TankID(a.opts.Tank.Name)},
		Name:         "Aquarium AI - " + a.opts.Tank.Name,
		Manufacturer: "aquarium2mqtt",
		Model:        "Aquarium AI",
	}
}

func (a *Analyzer) entity(component mqtt.Component, object, name, icon string) mqtt.Entity {
	return mqtt.Entity{
		Component: component,
		Config: mqtt.EntityConfig{
			Name:              name,
			UniqueID:          aquarium.TankID(a.opts.Tank.Name) + "_" + object,
			ObjectID:          a.nodeID + "_" + object,
			Icon:              icon,
			AvailabilityTopic: a.publisher.Topic(mqtt.AvailabilityTopic),
			Device:            a.device(),
		},
	}
}

func (a *Analyzer) resultSensor(component mqtt.Component, object, name, icon, template string) mqtt.Entity {
	e := a.entity(component, object, name, icon)
	e.Config.StateTopic = a.publisher.Topic(a.stateTopic())
	e.Config.ValueTemplate = template
	return e
}

func (a *Analyzer) settingEntity(component mqtt.Component, setting, name, icon string) mqtt.Entity {
	e := a.entity(component, setting, name, icon)
	e.Config.EntityCategory = "config"
	e.Config.StateTopic = a.publisher.Topic(a.settingsTopic())
	e.Config.ValueTemplate = fmt.Sprintf("{{ value_json.%s }}", setting)
	e.Config.CommandTopic = a.publisher.Topic(a.setTopic(setting))
	return e
}

// Entities returns the discovery configs of everything the analyzer
// publishes or listens to.
func (a *Analyzer) Entities() []mqtt.Entity {
	var entities []mqtt.Entity

	for _, s := range a.opts.Sensors {
		key := s.Parameter.Key()
		name := s.Parameter.Name()
		if a.opts.Analyse == nil || a.opts.Analyse[s.Parameter] {
			entities = append(entities, a.resultSensor(mqtt.ComponentSensor, key+"_analysis", name+" Analysis", "mdi:brain",
				fmt.Sprintf("{{ value_json.parameters.%s.analysis | default('%s') }}", key, aquarium.NoAnalysisAvailable)))
		}
		entities = append(entities, a.resultSensor(mqtt.ComponentSensor, key+"_status", name+" Status", "mdi:list-status",
			fmt.Sprintf("{{ value_json.parameters.%s.status | default('unknown') }}", key)))
	}

	lastUpdate := a.resultSensor(mqtt.ComponentSensor, "last_update", "Last Update", "mdi:clock-outline",
		"{{ value_json.last_update }}")
	lastUpdate.Config.DeviceClass = "timestamp"
	lastUpdate.Config.EntityCategory = "diagnostic"

	waterChange := a.resultSensor(mqtt.ComponentBinarySensor, "water_change_needed", "Water Change Needed", "mdi:water-sync",
		"{{ 'ON' if value_json.water_change_needed else 'OFF' }}")
	waterChange.Config.JSONAttributesTopic = a.publisher.Topic(a.stateTopic())
	waterChange.Config.JSONAttributesTemplate = "{{ {'recommendation': value_json.water_change_recommendation} | tojson }}"

	aiAvailable := a.resultSensor(mqtt.ComponentBinarySensor, "ai_analysis_available", "AI Analysis Available", "mdi:robot",
		"{{ 'ON' if value_json.ai_analysis_available else 'OFF' }}")
	aiAvailable.Config.EntityCategory = "diagnostic"

	run := a.entity(mqtt.ComponentButton, "run_analysis", "Run Analysis", "mdi:play")
	run.Config.CommandTopic = a.publisher.Topic(a.runTopic())
	run.Config.PayloadPress = payloadPress

	format := a.settingEntity(mqtt.ComponentSelect, SettingNotificationFormat, "Notification Format", "mdi:format-list-text")
	for _, f := range aquarium.Formats {
		format.Config.Options = append(format.Config.Options, string(f))
	}
	frequency := a.settingEntity(mqtt.ComponentSelect, SettingUpdateFrequency, "Update Frequency", "mdi:timer-cog")
	frequency.Config.Options = FrequencyOptions

	entities = append(entities,
		a.resultSensor(mqtt.ComponentSensor, "overall_analysis", "Overall Analysis", "mdi:fish",
			"{{ value_json.overall_analysis }}"),
		a.resultSensor(mqtt.ComponentSensor, "simple_status", "Simple Status", "mdi:check-circle",
			"{{ value_json.simple_status }}"),
		lastUpdate,
		waterChange,
		aiAvailable,
		run,
		a.settingEntity(mqtt.ComponentSwitch, SettingAutoNotifications, "Auto Notifications", "mdi:bell"),
		a.settingEntity(mqtt.ComponentSwitch, SettingRunOnStartup, "Run Analysis on Startup", "mdi:restart"),
		format,
		frequency,
	)

	if a.opts.Camera != "" {
		entities = append(entities, a.resultSensor(mqtt.ComponentSensor, "visual_analysis", "Visual Analysis", "mdi:camera",
			"{{ value_json.visual_analysis }}"))
	}

	return entities
}

// Announce publishes discovery configs, current settings and subscribes to
// the command topics. It is a no-op without a publisher.
func (a *Analyzer) Announce() error {
	if a.publisher == nil {
		return nil
	}

	if err := a.publisher.PublishDiscovery(a.opts.DiscoveryPrefix, a.nodeID, a.Entities()); err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	a.publishSettings(a.Settings())

	commands := map[string]mqtt.MessageHandler{
		a.runTopic():                          a.handleRun,
		a.setTopic(SettingAutoNotifications):  a.handleSwitch(a.SetAutoNotifications),
		a.setTopic(SettingRunOnStartup):       a.handleSwitch(a.SetRunOnStartup),
		a.setTopic(SettingNotificationFormat): a.handleSelect(a.SetFormat),
		a.setTopic(SettingUpdateFrequency):    a.handleSelect(a.SetFrequency),
	}
	for topic, handler := range commands {
		if err := a.publisher.Subscribe(topic, handler); err != nil {
			return err
		}
	}

	a.logger.Info().Str("node", a.nodeID).Msg("entities announced")
	return nil
}

func (a *Analyzer) handleRun(topic string, payload []byte) {
	if p := strings.TrimSpace(string(payload)); p != payloadPress {
		a.logger.Warn().Str("topic", topic).Str("payload", p).Msg("unexpected button payload")
		return
	}
	if !a.TriggerCycle(Trigger{Source: "mqtt", Notify: true}) {
		a.logger.Info().Msg("analysis already queued")
	}
}

func (a *Analyzer) handleSwitch(set func(bool)) mqtt.MessageHandler {
	return func(topic string, payload []byte) {
		switch strings.ToUpper(strings.TrimSpace(string(payload))) {
		case payloadOn:
			set(true)
		case payloadOff:
			set(false)
		default:
			a.logger.Warn().Str("topic", topic).Bytes("payload", payload).Msg("unexpected switch payload")
		}
	}
}

func (a *Analyzer) handleSelect(set func(string) error) mqtt.MessageHandler {
	return func(topic string, payload []byte) {
		if err := set(string(payload)); err != nil {
			a.logger.Warn().Err(err).Str("topic", topic).Msg("rejected option")
		}
	}
}

func (a *Analyzer) publishResult(r Result) {
	if a.publisher == nil {
		return
	}
	if err := a.publisher.Publish(a.stateTopic(), r, true); err != nil {
		a.logger.Error().Err(err).Msg("unable to publish result")
	}
}

func (a *Analyzer) publishSettings(s Settings) {
	if a.publisher == nil {
		return
	}
	if err := a.publisher.Publish(a.settingsTopic(), s.state(), true); err != nil {
		a.logger.Error().Err(err).Msg("unable to publish settings")
	}
}
