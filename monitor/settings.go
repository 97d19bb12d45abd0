package monitor

import (
	"fmt"
	"rendellc/aquarium2mqtt/aquarium"
	"strings"
	"time"
)

// Keys of the runtime settings, as persisted by a SettingsStore.
const (
	SettingUpdateFrequency    = "update_frequency"
	SettingNotificationFormat = "notification_format"
	SettingAutoNotifications  = "auto_notifications"
	SettingRunOnStartup       = "run_analysis_on_startup"
)

// FrequencyNever disables periodic analysis.
const FrequencyNever = "never"

var frequencies = map[string]time.Duration{
	"1_hour":       time.Hour,
	"2_hours":      2 * time.Hour,
	"4_hours":      4 * time.Hour,
	"6_hours":      6 * time.Hour,
	"12_hours":     12 * time.Hour,
	"daily":        24 * time.Hour,
	FrequencyNever: 0,
}

// FrequencyOptions lists the update frequencies in select order.
var FrequencyOptions = []string{"1_hour", "2_hours", "4_hours", "6_hours", "12_hours", "daily", FrequencyNever}

// ParseFrequency returns the interval of a named update frequency. Zero
// means never.
func ParseFrequency(name string) (time.Duration, error) {
	d, ok := frequencies[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown update frequency %q", name)
	}
	return d, nil
}

type Settings struct {
	Format            aquarium.Format
	Frequency         string
	AutoNotifications bool
	RunOnStartup      bool
}

// SettingsStore persists settings changed at runtime.
type SettingsStore interface {
	SaveSetting(key string, value any) error
}

// settingsState is the payload of the settings topic.
type settingsState struct {
	NotificationFormat string `json:"notification_format"`
	UpdateFrequency    string `json:"update_frequency"`
	AutoNotifications  string `json:"auto_notifications"`
	RunOnStartup       string `json:"run_analysis_on_startup"`
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}

func (s Settings) state() settingsState {
	return settingsState{
		NotificationFormat: string(s.Format),
		UpdateFrequency:    s.Frequency,
		AutoNotifications:  onOff(s.AutoNotifications),
		RunOnStartup:       onOff(s.RunOnStartup),
	}
}

func (a *Analyzer) Settings() Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

// SetFormat changes the format of the next notification report.
func (a *Analyzer) SetFormat(name string) error {
	format, err := aquarium.ParseFormat(name)
	if err != nil {
		return err
	}
	a.updateSetting(SettingNotificationFormat, string(format), func(s *Settings) { s.Format = format })
	return nil
}

// SetFrequency changes the update frequency and restarts the schedule.
func (a *Analyzer) SetFrequency(name string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if _, err := ParseFrequency(name); err != nil {
		return err
	}
	a.updateSetting(SettingUpdateFrequency, name, func(s *Settings) { s.Frequency = name })

	select {
	case a.reschedule <- struct{}{}:
	default:
	}
	return nil
}

func (a *Analyzer) SetAutoNotifications(on bool) {
	a.updateSetting(SettingAutoNotifications, on, func(s *Settings) { s.AutoNotifications = on })
}

func (a *Analyzer) SetRunOnStartup(on bool) {
	a.updateSetting(SettingRunOnStartup, on, func(s *Settings) { s.RunOnStartup = on })
}

func (a *Analyzer) updateSetting(key string, value any, apply func(*Settings)) {
	a.mu.Lock()
	apply(&a.settings)
	settings := a.settings
	a.mu.Unlock()

	a.logger.Info().Str("setting", key).Interface("value", value).Msg("setting changed")
	if a.store != nil {
		if err := a.store.SaveSetting(key, value); err != nil {
			a.logger.Error().Err(err).Str("setting", key).Msg("unable to persist setting")
		}
	}
	a.publishSettings(settings)
}
