package monitor

import (
	"context"
	"errors"
	"rendellc/aquarium2mqtt/aquarium"
	"rendellc/aquarium2mqtt/mqtt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSensors struct {
	values map[string]aquarium.SensorValue
	errs   map[string]error
}

func (f *fakeSensors) ReadSensor(_ context.Context, entityID string) (aquarium.SensorValue, bool, error) {
	if err, ok := f.errs[entityID]; ok {
		return aquarium.SensorValue{}, false, err
	}
	v, ok := f.values[entityID]
	return v, ok, nil
}

type fakeGenerator struct {
	mu       sync.Mutex
	texts    map[string]string
	err      error
	requests []aquarium.GenerationRequest
}

func (f *fakeGenerator) GenerateData(_ context.Context, req aquarium.GenerationRequest) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.texts, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []aquarium.Notification
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, n aquarium.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakePublisher struct {
	mu        sync.Mutex
	published map[string]any
	entities  []mqtt.Entity
	handlers  map[string]mqtt.MessageHandler
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{published: map[string]any{}, handlers: map[string]mqtt.MessageHandler{}}
}

func (f *fakePublisher) Topic(topic string) string { return "aquarium/" + topic }

func (f *fakePublisher) Publish(topic string, payload any, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[topic] = payload
	return nil
}

func (f *fakePublisher) PublishDiscovery(_, _ string, entities []mqtt.Entity) error {
	f.entities = entities
	return nil
}

func (f *fakePublisher) Subscribe(topic string, handler mqtt.MessageHandler) error {
	f.handlers[topic] = handler
	return nil
}

type fakeStore struct {
	mu    sync.Mutex
	saved map[string]any
}

func (f *fakeStore) SaveSetting(key string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		f.saved = map[string]any{}
	}
	f.saved[key] = value
	return nil
}

type fixture struct {
	analyzer  *Analyzer
	sensors   *fakeSensors
	generator *fakeGenerator
	notifier  *fakeNotifier
	publisher *fakePublisher
	store     *fakeStore
	metrics   *Metrics
}

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func newFixture(t *testing.T, settings Settings) *fixture {
	t.Helper()
	f := &fixture{
		sensors: &fakeSensors{
			values: map[string]aquarium.SensorValue{
				"sensor.reef_temperature": {Value: "25", Unit: "°C", FriendlyName: "Reef Temperature"},
				"sensor.reef_ph":          {Value: "8.2", FriendlyName: "Reef pH"},
				"sensor.reef_salinity":    {Value: "1.025", Unit: "SG", FriendlyName: "Reef Salinity"},
				"input_datetime.reef_wc":  {Value: "2026-03-01"},
			},
			errs: map[string]error{},
		},
		generator: &fakeGenerator{texts: map[string]string{
			"temperature_analysis":     "Temperature is ideal for reef inhabitants.",
			"ph_analysis":              "pH is stable.",
			"salinity_analysis":        "Salinity is on target.",
			"overall_analysis":         "The reef is thriving.",
			"water_change_recommended": "No, parameters are stable.",
		}},
		notifier:  &fakeNotifier{},
		publisher: newFakePublisher(),
		store:     &fakeStore{},
		metrics:   NewMetrics(prometheus.NewRegistry()),
	}

	a, err := New(Options{
		Tank:                  aquarium.Tank{Name: "Reef", Type: "Marine"},
		LastWaterChangeEntity: "input_datetime.reef_wc",
		Sensors: []SensorMapping{
			{Parameter: aquarium.Temperature, EntityID: "sensor.reef_temperature"},
			{Parameter: aquarium.PH, EntityID: "sensor.reef_ph"},
			{Parameter: aquarium.Salinity, EntityID: "sensor.reef_salinity"},
		},
		DiscoveryPrefix: "homeassistant",
		Settings:        settings,
	}, Deps{
		Sensors:   f.sensors,
		Generator: f.generator,
		Notifier:  f.notifier,
		Publisher: f.publisher,
		Store:     f.store,
		Metrics:   f.metrics,
	}, zerolog.Nop())
	require.NoError(t, err)
	a.now = func() time.Time { return fixedNow }
	f.analyzer = a
	return f
}

func defaultSettings() Settings {
	return Settings{Format: aquarium.FormatCondensed, Frequency: "6_hours", AutoNotifications: true}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{}, Deps{}, zerolog.Nop())
	assert.Error(t, err)

	deps := Deps{Sensors: &fakeSensors{}, Generator: &fakeGenerator{}, Notifier: &fakeNotifier{}}
	_, err = New(Options{}, deps, zerolog.Nop())
	assert.Error(t, err)

	_, err = New(Options{
		Sensors:  []SensorMapping{{Parameter: aquarium.PH, EntityID: "sensor.ph"}},
		Settings: Settings{Frequency: "weekly"},
	}, deps, zerolog.Nop())
	assert.Error(t, err)
}

func TestRunCycle_WithGeneratedText(t *testing.T) {
	f := newFixture(t, defaultSettings())

	result, err := f.analyzer.RunCycle(context.Background(), Trigger{Source: "test"})
	require.NoError(t, err)

	assert.True(t, result.AIAnalysisAvailable)
	assert.Equal(t, "Excellent", result.SimpleStatus)
	assert.Equal(t, "The reef is thriving.", result.OverallAnalysis)
	assert.False(t, result.WaterChangeNeeded)
	assert.Equal(t, "No, parameters are stable.", result.WaterChangeRecommendation)
	assert.Equal(t, fixedNow, result.LastUpdate)
	assert.Equal(t, "test", result.Trigger)
	assert.True(t, result.Notified)

	require.Contains(t, result.Parameters, "temperature")
	assert.Equal(t, ParameterResult{
		Name:     "Temperature",
		EntityID: "sensor.reef_temperature",
		Value:    "25.0°C",
		Status:   aquarium.StatusGood,
		Analysis: "Temperature is ideal for reef inhabitants.",
	}, result.Parameters["temperature"])

	require.Len(t, f.generator.requests, 1)
	req := f.generator.requests[0]
	assert.Equal(t, "Reef Aquarium AI Analysis", req.TaskName)
	assert.Contains(t, req.Instructions, "2026-03-01")
	assert.Contains(t, req.Structure, "salinity_analysis")

	require.Len(t, f.notifier.sent, 1)
	n := f.notifier.sent[0]
	assert.Equal(t, "🐠 Reef Aquarium Analysis", n.Title)
	assert.Equal(t, "aquarium_ai_"+aquarium.TankID("Reef"), n.ID)
	assert.Equal(t, result.Report, n.Message)
	assert.Contains(t, n.Message, "📋 Parameter Analysis:")
	assert.Contains(t, n.Message, "🧪 pH (Good): pH is stable.")

	assert.Equal(t, result, f.publisher.published["reef/state"])
	latest, ok := f.analyzer.Latest()
	require.True(t, ok)
	assert.Equal(t, result, latest)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.cycles.WithLabelValues("test", "true")))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.generationErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.notifications.WithLabelValues("sent")))
}

func TestRunCycle_GenerationFailureFallsBack(t *testing.T) {
	for _, format := range aquarium.Formats {
		t.Run(string(format), func(t *testing.T) {
			settings := defaultSettings()
			settings.Format = format
			f := newFixture(t, settings)
			f.generator.err = errors.New("ai task unavailable")

			result, err := f.analyzer.RunCycle(context.Background(), Trigger{Source: "test"})
			require.NoError(t, err)

			assert.False(t, result.AIAnalysisAvailable)
			assert.Equal(t, "Excellent", result.SimpleStatus)
			assert.Equal(t, aquarium.NoAnalysisAvailable, result.OverallAnalysis)
			assert.False(t, result.WaterChangeNeeded)
			assert.Empty(t, result.WaterChangeRecommendation)
			assert.Equal(t, "Temperature is Good at 25.0°C", result.Parameters["temperature"].Analysis)
			assert.Equal(t, "pH is Good at 8.2", result.Parameters["ph"].Analysis)
			assert.Equal(t, "Salinity is Good at 1.0 SG", result.Parameters["salinity"].Analysis)

			require.Len(t, f.notifier.sent, 1)
			msg := f.notifier.sent[0].Message
			assert.True(t, strings.HasPrefix(msg, "🌟 Overall Status: Excellent (Marine)"))
			assert.Contains(t, msg, "🌡️ Temperature: 25.0°C")
			assert.Contains(t, msg, "🧪 pH: 8.2")
			assert.Contains(t, msg, "🧂 Salinity: 1.0 SG")
			assert.Equal(t, 1, strings.Count(msg, aquarium.NoAnalysisAvailable))

			assert.Equal(t, result, f.publisher.published["reef/state"])
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.generationErrors))
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.cycles.WithLabelValues("test", "false")))
		})
	}
}

func TestRunCycle_Notifications(t *testing.T) {
	t.Run("auto notifications off", func(t *testing.T) {
		settings := defaultSettings()
		settings.AutoNotifications = false
		f := newFixture(t, settings)

		result, err := f.analyzer.RunCycle(context.Background(), Trigger{Source: "schedule"})
		require.NoError(t, err)
		assert.False(t, result.Notified)
		assert.Empty(t, f.notifier.sent)

		result, err = f.analyzer.RunCycle(context.Background(), Trigger{Source: "button", Notify: true})
		require.NoError(t, err)
		assert.True(t, result.Notified)
		assert.Len(t, f.notifier.sent, 1)
	})

	t.Run("delivery failure completes the cycle", func(t *testing.T) {
		f := newFixture(t, defaultSettings())
		f.notifier.err = errors.New("service not found")

		result, err := f.analyzer.RunCycle(context.Background(), Trigger{Source: "test"})
		require.NoError(t, err)
		assert.False(t, result.Notified)
		assert.Contains(t, f.publisher.published, "reef/state")
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.notifications.WithLabelValues("failed")))
	})
}

func TestRunCycle_SkipsUnavailableSensors(t *testing.T) {
	f := newFixture(t, defaultSettings())
	delete(f.sensors.values, "sensor.reef_ph")
	f.sensors.errs["sensor.reef_salinity"] = errors.New("entity not found")

	result, err := f.analyzer.RunCycle(context.Background(), Trigger{Source: "test"})
	require.NoError(t, err)
	assert.Len(t, result.Parameters, 1)
	assert.Contains(t, result.Parameters, "temperature")
	assert.NotContains(t, f.notifier.sent[0].Message, "pH")
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.sensorsUnreadable))
}

func TestRunCycle_ClearsStatusOfMissingSensors(t *testing.T) {
	f := newFixture(t, defaultSettings())
	f.sensors.values["sensor.reef_ph"] = aquarium.SensorValue{Value: "7.1"}

	_, err := f.analyzer.RunCycle(context.Background(), Trigger{Source: "test"})
	require.NoError(t, err)
	assert.Equal(t, 3, testutil.CollectAndCount(f.metrics.parameterStatus))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.parameterStatus.WithLabelValues("ph")))

	delete(f.sensors.values, "sensor.reef_ph")
	_, err = f.analyzer.RunCycle(context.Background(), Trigger{Source: "test"})
	require.NoError(t, err)
	assert.Equal(t, 2, testutil.CollectAndCount(f.metrics.parameterStatus))
}

func TestRunCycle_NoReadings(t *testing.T) {
	f := newFixture(t, defaultSettings())
	f.sensors.values = map[string]aquarium.SensorValue{}

	_, err := f.analyzer.RunCycle(context.Background(), Trigger{Source: "test"})
	assert.ErrorIs(t, err, ErrNoSensors)
	assert.Empty(t, f.generator.requests)
	assert.Empty(t, f.notifier.sent)
	assert.Empty(t, f.publisher.published)

	_, ok := f.analyzer.Latest()
	assert.False(t, ok)
}

func TestRunCycle_CapsDisplayValues(t *testing.T) {
	f := newFixture(t, defaultSettings())
	long := strings.Repeat("ä", 400)
	f.generator.texts = map[string]string{
		"temperature_analysis":     long,
		"overall_analysis":         long,
		"water_change_recommended": "Yes " + long,
	}

	result, err := f.analyzer.RunCycle(context.Background(), Trigger{Source: "test"})
	require.NoError(t, err)

	for _, s := range []string{result.Parameters["temperature"].Analysis, result.OverallAnalysis, result.WaterChangeRecommendation} {
		assert.Len(t, []rune(s), aquarium.MaxDisplayLength)
		assert.True(t, strings.HasSuffix(s, "..."))
	}
	assert.True(t, result.WaterChangeNeeded)
	// reports are not display values
	assert.Contains(t, result.Report, long)
}

func TestAnnounce(t *testing.T) {
	f := newFixture(t, defaultSettings())
	require.NoError(t, f.analyzer.Announce())

	objects := map[string]mqtt.Entity{}
	for _, e := range f.publisher.entities {
		objects[e.Config.ObjectID] = e
		assert.Equal(t, "aquarium/availability", e.Config.AvailabilityTopic)
		assert.Equal(t, []string{aquarium.TankID("Reef")}, e.Config.Device.Identifiers)
	}
	for _, object := range []string{
		"reef_temperature_analysis", "reef_ph_status", "reef_salinity_analysis",
		"reef_overall_analysis", "reef_simple_status", "reef_last_update",
		"reef_water_change_needed", "reef_ai_analysis_available", "reef_run_analysis",
		"reef_auto_notifications", "reef_run_analysis_on_startup",
		"reef_notification_format", "reef_update_frequency",
	} {
		assert.Contains(t, objects, object)
	}
	assert.NotContains(t, objects, "reef_visual_analysis")

	run := objects["reef_run_analysis"]
	assert.Equal(t, mqtt.ComponentButton, run.Component)
	assert.Equal(t, "aquarium/reef/run", run.Config.CommandTopic)
	assert.Equal(t, FrequencyOptions, objects["reef_update_frequency"].Config.Options)
	assert.Equal(t, "aquarium/reef/state", objects["reef_ph_status"].Config.StateTopic)

	assert.Equal(t, settingsState{
		NotificationFormat: "condensed",
		UpdateFrequency:    "6_hours",
		AutoNotifications:  "ON",
		RunOnStartup:       "OFF",
	}, f.publisher.published["reef/settings"])

	assert.Len(t, f.publisher.handlers, 5)
}

func TestAnnounce_SkipsDisabledAnalysis(t *testing.T) {
	f := newFixture(t, defaultSettings())
	f.analyzer.opts.Analyse = map[aquarium.Parameter]bool{
		aquarium.Temperature: true,
		aquarium.PH:          false,
		aquarium.Salinity:    true,
	}
	require.NoError(t, f.analyzer.Announce())

	objects := map[string]bool{}
	for _, e := range f.publisher.entities {
		objects[e.Config.ObjectID] = true
	}
	assert.True(t, objects["reef_temperature_analysis"])
	assert.False(t, objects["reef_ph_analysis"])
	assert.True(t, objects["reef_ph_status"])
}

func TestCommandHandlers(t *testing.T) {
	f := newFixture(t, defaultSettings())
	require.NoError(t, f.analyzer.Announce())
	handle := func(topic, payload string) {
		handler, ok := f.publisher.handlers[topic]
		require.True(t, ok, topic)
		handler(topic, []byte(payload))
	}

	handle("reef/set/auto_notifications", "OFF")
	handle("reef/set/run_analysis_on_startup", "on")
	handle("reef/set/notification_format", "minimal")
	handle("reef/set/update_frequency", "daily")
	handle("reef/set/update_frequency", "weekly")
	handle("reef/set/auto_notifications", "maybe")

	assert.Equal(t, Settings{
		Format:            aquarium.FormatMinimal,
		Frequency:         "daily",
		AutoNotifications: false,
		RunOnStartup:      true,
	}, f.analyzer.Settings())
	assert.Equal(t, map[string]any{
		SettingAutoNotifications:  false,
		SettingRunOnStartup:       true,
		SettingNotificationFormat: "minimal",
		SettingUpdateFrequency:    "daily",
	}, f.store.saved)
	assert.Equal(t, "OFF", f.publisher.published["reef/settings"].(settingsState).AutoNotifications)

	handle("reef/run", "nonsense")
	select {
	case <-f.analyzer.triggers:
		t.Fatal("unexpected trigger")
	default:
	}

	handle("reef/run", "PRESS")
	select {
	case tr := <-f.analyzer.triggers:
		assert.Equal(t, Trigger{Source: "mqtt", Notify: true}, tr)
	default:
		t.Fatal("expected trigger")
	}
}

func TestTriggerCycle_DoesNotBlock(t *testing.T) {
	f := newFixture(t, defaultSettings())
	assert.True(t, f.analyzer.TriggerCycle(Trigger{Source: "api"}))
	assert.False(t, f.analyzer.TriggerCycle(Trigger{Source: "api"}))
}

func TestRun(t *testing.T) {
	settings := defaultSettings()
	settings.RunOnStartup = true
	settings.Frequency = FrequencyNever
	f := newFixture(t, settings)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.analyzer.Run(ctx) }()

	require.Eventually(t, func() bool {
		r, ok := f.analyzer.Latest()
		return ok && r.Trigger == "startup"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, f.analyzer.SetFrequency("1_hour"))
	f.analyzer.TriggerCycle(Trigger{Source: "api", Notify: true})
	require.Eventually(t, func() bool {
		r, ok := f.analyzer.Latest()
		return ok && r.Trigger == "api"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, f.notifier.count())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("analyzer did not stop")
	}
}

func TestParseFrequency(t *testing.T) {
	d, err := ParseFrequency("12_hours")
	require.NoError(t, err)
	assert.Equal(t, 12*time.Hour, d)

	d, err = ParseFrequency(" Daily ")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, d)

	d, err = ParseFrequency(FrequencyNever)
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = ParseFrequency("every_minute")
	assert.Error(t, err)

	for _, option := range FrequencyOptions {
		_, err := ParseFrequency(option)
		assert.NoError(t, err, option)
	}
}
