package monitor

import (
	"context"
	"errors"
	"fmt"
	"rendellc/aquarium2mqtt/aquarium"
	"rendellc/aquarium2mqtt/mqtt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var ErrNoSensors = errors.New("no sensor produced a reading")

type SensorReader interface {
	// ReadSensor returns ok=false when the entity exists but has no usable
	// state.
	ReadSensor(ctx context.Context, entityID string) (aquarium.SensorValue, bool, error)
}

type TextGenerationClient interface {
	GenerateData(ctx context.Context, req aquarium.GenerationRequest) (map[string]string, error)
}

type Notifier interface {
	Notify(ctx context.Context, n aquarium.Notification) error
}

// Publisher is the MQTT surface the analyzer needs.
type Publisher interface {
	Topic(topic string) string
	Publish(topic string, payload any, retained bool) error
	PublishDiscovery(prefix, nodeID string, entities []mqtt.Entity) error
	Subscribe(topic string, handler mqtt.MessageHandler) error
}

type SensorMapping struct {
	Parameter aquarium.Parameter
	EntityID  string
}

type Options struct {
	Tank aquarium.Tank
	// LastWaterChangeEntity is read every cycle into Tank.LastWaterChange.
	LastWaterChangeEntity string
	Sensors               []SensorMapping
	Analyse               map[aquarium.Parameter]bool
	Camera                string
	DiscoveryPrefix       string
	Settings              Settings
}

type Deps struct {
	Sensors   SensorReader
	Generator TextGenerationClient
	Notifier  Notifier
	// Publisher and Store are optional.
	Publisher Publisher
	Store     SettingsStore
	Metrics   *Metrics
}

// Trigger asks for one analysis cycle.
type Trigger struct {
	Source string
	// Notify sends a notification even when auto notifications are off.
	Notify bool
}

type ParameterResult struct {
	Name     string          `json:"name"`
	EntityID string          `json:"entity_id"`
	Value    string          `json:"value"`
	Status   aquarium.Status `json:"status"`
	Analysis string          `json:"analysis"`
}

// Result holds the derived values of one cycle. Display values are capped
// at aquarium.MaxDisplayLength.
type Result struct {
	Tank                      string                     `json:"tank"`
	Parameters                map[string]ParameterResult `json:"parameters"`
	OverallAnalysis           string                     `json:"overall_analysis"`
	SimpleStatus              string                     `json:"simple_status"`
	WaterChangeNeeded         bool                       `json:"water_change_needed"`
	WaterChangeRecommendation string                     `json:"water_change_recommendation"`
	VisualAnalysis            string                     `json:"visual_analysis"`
	AIAnalysisAvailable       bool                       `json:"ai_analysis_available"`
	Format                    aquarium.Format            `json:"format"`
	Report                    string                     `json:"report"`
	Notified                  bool                       `json:"notified"`
	Trigger                   string                     `json:"trigger"`
	LastUpdate                time.Time                  `json:"last_update"`
}

type Analyzer struct {
	opts      Options
	nodeID    string
	sensors   SensorReader
	generator TextGenerationClient
	notifier  Notifier
	publisher Publisher
	store     SettingsStore
	metrics   *Metrics
	logger    zerolog.Logger
	now       func() time.Time

	mu       sync.Mutex
	settings Settings
	latest   *Result

	triggers   chan Trigger
	reschedule chan struct{}
}

func New(opts Options, deps Deps, logger zerolog.Logger) (*Analyzer, error) {
	if deps.Sensors == nil || deps.Generator == nil || deps.Notifier == nil {
		return nil, fmt.Errorf("sensor reader, generator and notifier are required")
	}
	if len(opts.Sensors) == 0 {
		return nil, fmt.Errorf("no sensors configured")
	}
	if opts.Settings.Format == "" {
		opts.Settings.Format = aquarium.FormatDetailed
	}
	if opts.Settings.Frequency == "" {
		opts.Settings.Frequency = "6_hours"
	}
	if _, err := ParseFrequency(opts.Settings.Frequency); err != nil {
		return nil, err
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(nil)
	}

	nodeID := aquarium.Slug(opts.Tank.Name)
	if nodeID == "" {
		nodeID = "aquarium"
	}

	return &Analyzer{
		opts:       opts,
		nodeID:     nodeID,
		sensors:    deps.Sensors,
		generator:  deps.Generator,
		notifier:   deps.Notifier,
		publisher:  deps.Publisher,
		store:      deps.Store,
		metrics:    deps.Metrics,
		logger:     logger.With().Str("component", "monitor").Str("tank", opts.Tank.Name).Logger(),
		now:        time.Now,
		settings:   opts.Settings,
		triggers:   make(chan Trigger, 1),
		reschedule: make(chan struct{}, 1),
	}, nil
}

// Latest returns the result of the last completed cycle.
func (a *Analyzer) Latest() (Result, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.latest == nil {
		return Result{}, false
	}
	return *a.latest, true
}

// TriggerCycle queues a cycle for Run. It reports false when a cycle is
// already queued.
func (a *Analyzer) TriggerCycle(t Trigger) bool {
	select {
	case a.triggers <- t:
		return true
	default:
		return false
	}
}

// clearStaleStatus drops the problem gauge of every sensor that did not
// produce a reading this cycle.
func (a *Analyzer) clearStaleStatus(readings []aquarium.Reading) {
	read := make(map[aquarium.Parameter]bool, len(readings))
	for _, r := range readings {
		read[r.Parameter] = true
	}
	for _, s := range a.opts.Sensors {
		if !read[s.Parameter] {
			a.metrics.parameterStatus.DeleteLabelValues(s.Parameter.Key())
		}
	}
}

func (a *Analyzer) readSensors(ctx context.Context) []aquarium.Reading {
	readings := make([]aquarium.Reading, 0, len(a.opts.Sensors))
	for _, s := range a.opts.Sensors {
		value, ok, err := a.sensors.ReadSensor(ctx, s.EntityID)
		if err != nil {
			a.metrics.sensorsUnreadable.Inc()
			a.logger.Warn().Err(err).Str("entity", s.EntityID).Msg("unable to read sensor")
			continue
		}
		if !ok {
			a.metrics.sensorsUnreadable.Inc()
			a.logger.Debug().Str("entity", s.EntityID).Msg("sensor unavailable, skipping")
			continue
		}

		r := aquarium.NewReading(s.Parameter, value.Value, value.Unit)
		r.EntityID = s.EntityID
		readings = append(readings, r)
	}
	return readings
}

func (a *Analyzer) tank(ctx context.Context) aquarium.Tank {
	tank := a.opts.Tank
	if a.opts.LastWaterChangeEntity == "" {
		return tank
	}

	value, ok, err := a.sensors.ReadSensor(ctx, a.opts.LastWaterChangeEntity)
	if err != nil {
		a.logger.Warn().Err(err).Str("entity", a.opts.LastWaterChangeEntity).Msg("unable to read last water change")
		return tank
	}
	if ok {
		tank.LastWaterChange = strings.TrimSpace(value.Value + " " + value.Unit)
	}
	return tank
}

// RunCycle performs one analysis: read, classify, generate, assemble,
// notify, publish. Only a cycle without any readings fails; generation and
// delivery problems are logged and the cycle completes with fallback text.
func (a *Analyzer) RunCycle(ctx context.Context, trigger Trigger) (Result, error) {
	start := a.now()
	settings := a.Settings()
	logger := a.logger.With().Str("trigger", trigger.Source).Logger()

	readings := a.readSensors(ctx)
	a.clearStaleStatus(readings)
	if len(readings) == 0 {
		logger.Warn().Msg("no sensor readings, skipping analysis")
		return Result{}, ErrNoSensors
	}

	tank := a.tank(ctx)
	classified := aquarium.ClassifyAll(readings, tank.Type)
	for _, r := range classified {
		problem := 0.0
		if r.Status.IsProblem() {
			problem = 1
		}
		a.metrics.parameterStatus.WithLabelValues(r.Parameter.Key()).Set(problem)
	}

	req := aquarium.BuildRequest(tank, classified, aquarium.RequestOptions{
		Format:  settings.Format,
		Analyse: a.opts.Analyse,
		Camera:  a.opts.Camera,
	})

	aiAvailable := true
	texts, err := a.generator.GenerateData(ctx, req)
	if err != nil {
		aiAvailable = false
		a.metrics.generationErrors.Inc()
		logger.Error().Err(err).Msg("text generation failed, using fallback analysis")
		texts = map[string]string{}
	}
	if texts == nil {
		texts = map[string]string{}
	}

	report := aquarium.Assemble(settings.Format, classified, tank.Type, texts)

	notified := false
	if settings.AutoNotifications || trigger.Notify {
		if err := a.notifier.Notify(ctx, aquarium.NewNotification(tank, report)); err != nil {
			a.metrics.notifications.WithLabelValues("failed").Inc()
			logger.Error().Err(err).Msg("unable to send notification")
		} else {
			a.metrics.notifications.WithLabelValues("sent").Inc()
			notified = true
		}
	}

	result := derive(tank, classified, texts)
	result.AIAnalysisAvailable = aiAvailable
	result.Format = settings.Format
	result.Report = report
	result.Notified = notified
	result.Trigger = trigger.Source
	result.LastUpdate = a.now()

	a.mu.Lock()
	a.latest = &result
	a.mu.Unlock()

	a.publishResult(result)

	a.metrics.cycles.WithLabelValues(trigger.Source, fmt.Sprint(aiAvailable)).Inc()
	a.metrics.cycleDuration.Observe(a.now().Sub(start).Seconds())
	a.metrics.lastCycle.Set(float64(result.LastUpdate.Unix()))

	logger.Info().
		Str("status", result.SimpleStatus).
		Int("readings", len(classified)).
		Bool("ai", aiAvailable).
		Bool("notified", notified).
		Msg("analysis complete")

	return result, nil
}

func derive(tank aquarium.Tank, readings []aquarium.ClassifiedReading, texts map[string]string) Result {
	capped := func(s string) string {
		return aquarium.Truncate(strings.TrimSpace(s), aquarium.MaxDisplayLength)
	}

	result := Result{
		Tank:       tank.Name,
		Parameters: make(map[string]ParameterResult, len(readings)),
	}

	for _, r := range readings {
		analysis := texts[aquarium.AnalysisKey(r.Parameter)]
		if strings.TrimSpace(analysis) == "" {
			analysis = aquarium.FallbackAnalysis(r)
		}
		result.Parameters[r.Parameter.Key()] = ParameterResult{
			Name:     r.Parameter.Name(),
			EntityID: r.EntityID,
			Value:    r.FormattedValue(),
			Status:   r.Status,
			Analysis: capped(analysis),
		}
	}

	result.OverallAnalysis = capped(texts[aquarium.KeyOverallAnalysis])
	if result.OverallAnalysis == "" {
		result.OverallAnalysis = aquarium.NoAnalysisAvailable
	}
	result.SimpleStatus = aquarium.OverallOf(readings).Label
	result.WaterChangeNeeded = aquarium.WaterChangeNeeded(texts)
	result.WaterChangeRecommendation = capped(texts[aquarium.KeyWaterChange])
	result.VisualAnalysis = capped(texts[aquarium.KeyCameraVisual])

	return result
}

// Run executes cycles until ctx is done: on startup when enabled, on the
// update frequency, and on every trigger. Cycles run one at a time.
func (a *Analyzer) Run(ctx context.Context) error {
	if err := a.Announce(); err != nil {
		a.logger.Error().Err(err).Msg("unable to announce entities")
	}

	if a.Settings().RunOnStartup {
		a.runOnce(ctx, Trigger{Source: "startup"})
	}

	ticker, tick := a.newTicker()
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info().Msg("analyzer stopped")
			return ctx.Err()
		case t := <-a.triggers:
			a.runOnce(ctx, t)
		case <-tick:
			a.runOnce(ctx, Trigger{Source: "schedule"})
		case <-a.reschedule:
			if ticker != nil {
				ticker.Stop()
			}
			ticker, tick = a.newTicker()
		}
	}
}

// newTicker returns a nil channel when periodic analysis is disabled.
func (a *Analyzer) newTicker() (*time.Ticker, <-chan time.Time) {
	frequency := a.Settings().Frequency
	interval, _ := ParseFrequency(frequency)
	if interval <= 0 {
		a.logger.Info().Msg("periodic analysis disabled")
		return nil, nil
	}
	a.logger.Info().Str("frequency", frequency).Dur("interval", interval).Msg("scheduling analysis")
	ticker := time.NewTicker(interval)
	return ticker, ticker.C
}

func (a *Analyzer) runOnce(ctx context.Context, t Trigger) {
	if _, err := a.RunCycle(ctx, t); err != nil {
		a.logger.Error().Err(err).Str("trigger", t.Source).Msg("analysis cycle failed")
	}
}
