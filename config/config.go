package config

import (
	"errors"
	"fmt"
	"io/fs"
	"rendellc/aquarium2mqtt/aquarium"
	"rendellc/aquarium2mqtt/monitor"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// runtimeKeys can change while running and are kept in the state file.
var runtimeKeys = []string{
	monitor.SettingUpdateFrequency,
	monitor.SettingNotificationFormat,
	monitor.SettingAutoNotifications,
	monitor.SettingRunOnStartup,
}

type Config struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFile   string `mapstructure:"log_file"`
	HTTPAddr  string `mapstructure:"http_addr"`
	StateFile string `mapstructure:"state_file"`

	HomeAssistant struct {
		URL           string `mapstructure:"url"`
		Token         string `mapstructure:"token"`
		AITaskEntity  string `mapstructure:"ai_task_entity"`
		NotifyService string `mapstructure:"notify_service"`
	} `mapstructure:"homeassistant"`

	MQTT struct {
		Broker          string `mapstructure:"broker"`
		ClientID        string `mapstructure:"client_id"`
		Username        string `mapstructure:"username"`
		Password        string `mapstructure:"password"`
		TopicRoot       string `mapstructure:"topic_root"`
		DiscoveryPrefix string `mapstructure:"discovery_prefix"`
	} `mapstructure:"mqtt"`

	Tank struct {
		Name                  string `mapstructure:"name"`
		Type                  string `mapstructure:"type"`
		Volume                string `mapstructure:"volume"`
		Filtration            string `mapstructure:"filtration"`
		WaterChangeFrequency  string `mapstructure:"water_change_frequency"`
		Inhabitants           string `mapstructure:"inhabitants"`
		LastWaterChangeEntity string `mapstructure:"last_water_change_entity"`
		MiscInfo              string `mapstructure:"misc_info"`
	} `mapstructure:"tank"`

	// Sensors maps parameter keys (temperature, ph, ...) to entity ids.
	Sensors map[string]string `mapstructure:"sensors"`
	Camera  string            `mapstructure:"camera"`
	// Analysis toggles generated text per parameter key and for "camera".
	// Anything not listed is enabled.
	Analysis map[string]bool `mapstructure:"analysis"`

	UpdateFrequency      string `mapstructure:"update_frequency"`
	NotificationFormat   string `mapstructure:"notification_format"`
	AutoNotifications    bool   `mapstructure:"auto_notifications"`
	RunAnalysisOnStartup bool   `mapstructure:"run_analysis_on_startup"`

	mu    sync.Mutex
	state *viper.Viper
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("state_file", "aquarium-state.yaml")

	v.SetDefault("homeassistant.url", "http://homeassistant.local:8123")
	v.SetDefault("homeassistant.token", "")
	v.SetDefault("homeassistant.ai_task_entity", "")
	v.SetDefault("homeassistant.notify_service", "")

	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "aquarium2mqtt_client")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_root", "aquarium")
	v.SetDefault("mqtt.discovery_prefix", "homeassistant")

	v.SetDefault("tank.name", "My Aquarium")
	v.SetDefault("tank.type", "Freshwater")
	v.SetDefault("tank.volume", "")
	v.SetDefault("tank.filtration", "")
	v.SetDefault("tank.water_change_frequency", "")
	v.SetDefault("tank.inhabitants", "")
	v.SetDefault("tank.last_water_change_entity", "")
	v.SetDefault("tank.misc_info", "")

	v.SetDefault("camera", "")

	v.SetDefault(monitor.SettingUpdateFrequency, "6_hours")
	v.SetDefault(monitor.SettingNotificationFormat, string(aquarium.FormatDetailed))
	v.SetDefault(monitor.SettingAutoNotifications, true)
	v.SetDefault(monitor.SettingRunOnStartup, false)
}

// Load reads configuration from, in increasing precedence: defaults, the
// config file, the state file, AQUARIUM_* environment variables (a .env
// file is honoured) and command line flags.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	flags := pflag.NewFlagSet("aquarium2mqtt", pflag.ContinueOnError)
	flags.String("config", "aquarium.yaml", "Path to config file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-file", "", "Write logs to this file instead of stderr")
	flags.String("http-addr", ":8080", "Listen address of the HTTP API")
	flags.String("broker", "tcp://localhost:1883", "MQTT broker URL with port")
	flags.String("client-id", "aquarium2mqtt_client", "ID of MQTT client")
	flags.String("ha-url", "http://homeassistant.local:8123", "Home Assistant URL")
	flags.String("ha-token", "", "Home Assistant long-lived access token")
	if err := flags.Parse(args); err != nil {
		return nil, fmt.Errorf("unable to parse flags: %w", err)
	}

	flagKeys := map[string]string{
		"log_level":           "log-level",
		"log_file":            "log-file",
		"http_addr":           "http-addr",
		"mqtt.broker":         "broker",
		"mqtt.client_id":      "client-id",
		"homeassistant.url":   "ha-url",
		"homeassistant.token": "ha-token",
	}
	for key, flag := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("unable to bind flag %s: %w", flag, err)
		}
	}

	configFile, _ := flags.GetString("config")
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		// a missing default config file is fine, flags and env can carry everything
		if !errors.Is(err, fs.ErrNotExist) || flags.Changed("config") {
			return nil, fmt.Errorf("unable to read config file %s: %w", configFile, err)
		}
	}

	v.SetEnvPrefix("AQUARIUM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	state := viper.New()
	state.SetConfigFile(v.GetString("state_file"))
	state.SetConfigType("yaml")
	if err := state.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("unable to read state file: %w", err)
	}
	// merged at the config file layer so env and flags still win
	overlay := map[string]any{}
	for _, key := range runtimeKeys {
		if state.IsSet(key) {
			overlay[key] = state.Get(key)
		}
	}
	if err := v.MergeConfigMap(overlay); err != nil {
		return nil, fmt.Errorf("unable to apply state file: %w", err)
	}

	cfg := &Config{state: state}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the analyzer cannot run without.
func (c *Config) Validate() error {
	var errs []error

	if len(c.SensorEntities()) == 0 {
		errs = append(errs, errors.New("at least one sensor must be configured"))
	}
	for key := range c.Sensors {
		if _, err := aquarium.ParseParameter(key); err != nil {
			errs = append(errs, fmt.Errorf("sensors: %w", err))
		}
	}
	if c.HomeAssistant.Token == "" {
		errs = append(errs, errors.New("homeassistant.token is required"))
	}
	if c.HomeAssistant.AITaskEntity == "" {
		errs = append(errs, errors.New("homeassistant.ai_task_entity is required"))
	}
	if _, err := aquarium.ParseFormat(c.NotificationFormat); err != nil {
		errs = append(errs, err)
	}
	if _, err := monitor.ParseFrequency(c.UpdateFrequency); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.Tank.Name) == "" {
		errs = append(errs, errors.New("tank.name is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// SensorEntities returns the configured sensors in report order.
func (c *Config) SensorEntities() []monitor.SensorMapping {
	var mappings []monitor.SensorMapping
	for _, p := range aquarium.Parameters {
		entityID := strings.TrimSpace(c.Sensors[p.Key()])
		if entityID == "" {
			continue
		}
		mappings = append(mappings, monitor.SensorMapping{Parameter: p, EntityID: entityID})
	}
	return mappings
}

func (c *Config) AnalysisEnabled() map[aquarium.Parameter]bool {
	enabled := make(map[aquarium.Parameter]bool, len(aquarium.Parameters))
	for _, p := range aquarium.Parameters {
		on, set := c.Analysis[p.Key()]
		enabled[p] = !set || on
	}
	return enabled
}

func (c *Config) CameraEntity() string {
	if on, set := c.Analysis["camera"]; set && !on {
		return ""
	}
	return strings.TrimSpace(c.Camera)
}

func (c *Config) TankInfo() aquarium.Tank {
	return aquarium.Tank{
		Name:                 c.Tank.Name,
		Type:                 c.Tank.Type,
		Volume:               c.Tank.Volume,
		Filtration:           c.Tank.Filtration,
		WaterChangeFrequency: c.Tank.WaterChangeFrequency,
		Inhabitants:          c.Tank.Inhabitants,
		MiscInfo:             c.Tank.MiscInfo,
	}
}

// Settings returns the runtime settings the analyzer starts with.
func (c *Config) Settings() monitor.Settings {
	format, _ := aquarium.ParseFormat(c.NotificationFormat)
	return monitor.Settings{
		Format:            format,
		Frequency:         c.UpdateFrequency,
		AutoNotifications: c.AutoNotifications,
		RunOnStartup:      c.RunAnalysisOnStartup,
	}
}

// SaveSetting persists a runtime setting to the state file so it survives
// restarts.
func (c *Config) SaveSetting(key string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == nil {
		return fmt.Errorf("no state file configured")
	}
	c.state.Set(key, value)
	if err := c.state.WriteConfig(); err != nil {
		return fmt.Errorf("unable to write state file: %w", err)
	}
	return nil
}
