package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"rendellc/aquarium2mqtt/api"
	"rendellc/aquarium2mqtt/config"
	"rendellc/aquarium2mqtt/homeassistant"
	"rendellc/aquarium2mqtt/monitor"
	"rendellc/aquarium2mqtt/mqtt"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

func newLogger(level, logFile string) (zerolog.Logger, func(), error) {
	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	closer := func() {}

	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return zerolog.Logger{}, closer, err
		}
		out = file
		closer = func() { file.Close() }
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger(), closer, nil
}

func main() {
	bootLog := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		bootLog.Fatal().Err(err).Msg("unable to load configuration")
	}

	logger, closeLog, err := newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		bootLog.Fatal().Err(err).Msg("unable to create logfile")
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("url", cfg.HomeAssistant.URL).Msg("creating home assistant api client")
	haClient, err := homeassistant.NewClient(ctx, homeassistant.Config{
		URL:           cfg.HomeAssistant.URL,
		Token:         cfg.HomeAssistant.Token,
		AITaskEntity:  cfg.HomeAssistant.AITaskEntity,
		NotifyService: cfg.HomeAssistant.NotifyService,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot create home assistant client")
	}

	mqttClient := mqtt.NewClient(mqtt.Config{
		BrokerURL: cfg.MQTT.Broker,
		ClientID:  cfg.MQTT.ClientID,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
		TopicRoot: cfg.MQTT.TopicRoot,
	}, logger)
	err = mqttClient.Connect()
	if err != nil {
		logger.Fatal().Err(err).Msg("cant connect to mqtt broker")
	}
	defer mqttClient.Disconnect()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	analyzer, err := monitor.New(monitor.Options{
		Tank:                  cfg.TankInfo(),
		LastWaterChangeEntity: cfg.Tank.LastWaterChangeEntity,
		Sensors:               cfg.SensorEntities(),
		Analyse:               cfg.AnalysisEnabled(),
		Camera:                cfg.CameraEntity(),
		DiscoveryPrefix:       cfg.MQTT.DiscoveryPrefix,
		Settings:              cfg.Settings(),
	}, monitor.Deps{
		Sensors:   haClient,
		Generator: haClient,
		Notifier:  haClient,
		Publisher: mqttClient,
		Store:     cfg,
		Metrics:   monitor.NewMetrics(registry),
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("cannot create analyzer")
	}

	server := api.NewServer(cfg.HTTPAddr, api.NewRouter(analyzer, registry, logger), logger)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server stopped")
			stop()
		}
	}()

	err = analyzer.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("analyzer stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown")
	}
	logger.Info().Msg("bye")
}
