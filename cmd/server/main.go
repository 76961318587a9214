package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/lexiqai/voice-reader/internal/access"
	"github.com/lexiqai/voice-reader/internal/audio"
	"github.com/lexiqai/voice-reader/internal/bot"
	"github.com/lexiqai/voice-reader/internal/config"
	"github.com/lexiqai/voice-reader/internal/console"
	"github.com/lexiqai/voice-reader/internal/discord"
	"github.com/lexiqai/voice-reader/internal/observability"
	"github.com/lexiqai/voice-reader/internal/resilience"
	"github.com/lexiqai/voice-reader/internal/tts"
	"github.com/lexiqai/voice-reader/internal/voice"
)

// eventBuffer is how many inbound chat events may wait for the router.
const eventBuffer = 64

// gateway is what the router and the voice manager need from a chat platform.
type gateway interface {
	bot.Messenger
	bot.VoiceLocator
	voice.Transport
	Events() <-chan bot.Event
	HealthCheck(ctx context.Context) (bool, error)
	Close() error
}

func main() {
	envFile := pflag.StringP("env", "e", ".env", "path to an env file (ignored when missing)")
	logLevel := pflag.StringP("log-level", "l", "", "log level override: debug, info, warn, error")
	pflag.Parse()

	// Load configuration
	cfg, err := config.Load(*envFile)
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("gateway", cfg.Gateway).
		Str("speech_url", cfg.SpeechURL).
		Str("access_policy", cfg.AccessPolicy).
		Str("prefix", cfg.CommandPrefix).
		Str("log_level", cfg.LogLevel).
		Msg("Voice reader starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startup := &resilience.ReconnectConfig{
		MaxAttempts: cfg.StartupMaxAttempts,
		Backoff:     cfg.StartupBackoffDuration(),
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}

	// Speech engine and voice catalog
	speech := tts.NewVoicevoxClient(cfg)
	catalog, err := loadCatalog(ctx, speech, startup)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load voice catalog")
	}
	store, err := access.NewStore(catalog, cfg.DefaultVoiceID)
	if err != nil {
		logger.Fatal().Err(err).Int("default_voice_id", cfg.DefaultVoiceID).Msg("Default voice is not in the catalog")
	}
	logger.Info().Int("voices", store.CatalogLength()).Int("selected", store.SelectedVoice()).Msg("Voice catalog loaded")

	// Chat platform
	mux := http.NewServeMux()
	gw, err := openGateway(ctx, cfg, startup, mux)
	if err != nil {
		logger.Fatal().Err(err).Str("gateway", cfg.Gateway).Msg("Failed to open gateway")
	}

	sessions := voice.NewManager(gw, audio.NewOpusEncoder(), cfg.VoiceQueueSize)
	router := bot.NewRouter(bot.Options{
		Prefix:            cfg.CommandPrefix,
		ReadPlainMessages: cfg.ReadPlainMessages,
		Store:             store,
		Policy:            newPolicy(cfg, store),
		Messenger:         gw,
		Locator:           gw,
		Sessions:          sessions,
		Synthesizer:       speech,
	})

	// Health, readiness and metrics
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"speech":  speech.HealthCheck,
		"gateway": gw.HealthCheck,
	}))
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	go func() {
		logger.Info().Str("port", cfg.Port).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	served := make(chan struct{})
	go func() {
		router.Serve(ctx, gw.Events())
		close(served)
	}()
	logger.Info().Msg("Voice reader ready")

	<-ctx.Done()
	logger.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	shutdown(shutdownCtx, logger, server, gw, sessions, served)
	logger.Info().Msg("Voice reader exited gracefully")
}

// loadCatalog waits for the speech engine and converts its voices to catalog
// entries. The engine style id is the voice id users type.
func loadCatalog(ctx context.Context, speech *tts.VoicevoxClient, cfg *resilience.ReconnectConfig) ([]access.Voice, error) {
	var voices []tts.Voice
	err := resilience.Reconnect(ctx, "speech", func(ctx context.Context) error {
		v, err := speech.ListVoices(ctx)
		if err != nil {
			return err
		}
		voices = v
		return nil
	}, cfg)
	if err != nil {
		return nil, err
	}

	catalog := make([]access.Voice, len(voices))
	for i, v := range voices {
		catalog[i] = access.Voice{ID: strconv.Itoa(v.ID), Label: v.Label()}
	}
	return catalog, nil
}

func openGateway(ctx context.Context, cfg *config.Config, startup *resilience.ReconnectConfig, mux *http.ServeMux) (gateway, error) {
	switch cfg.Gateway {
	case config.GatewayConsole:
		hub := console.NewHub(eventBuffer, console.FrameInterval)
		mux.HandleFunc("/console", hub.Handler())
		logger := observability.GetLogger()
		logger.Info().Str("endpoint", fmt.Sprintf("ws://localhost:%s/console", cfg.Port)).Msg("Console gateway enabled")
		return hub, nil
	default:
		gw, err := discord.New(cfg.DiscordToken, eventBuffer)
		if err != nil {
			return nil, err
		}
		if err := gw.Open(ctx, startup); err != nil {
			return nil, err
		}
		return gw, nil
	}
}

func newPolicy(cfg *config.Config, store *access.Store) access.Policy {
	if cfg.AccessPolicy == config.PolicyFixedRoom {
		return access.FixedRoomPolicy{ChannelID: cfg.FixedChannelID, SuperUserID: cfg.SuperUserID}
	}
	return access.AllowListPolicy{Store: store, SuperUserID: cfg.SuperUserID}
}

// shutdown stops accepting work, leaves every voice channel and closes the
// gateway, in that order.
func shutdown(ctx context.Context, logger zerolog.Logger, server *http.Server, gw gateway, sessions *voice.Manager, served <-chan struct{}) {
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server forced to shutdown")
	}

	select {
	case <-served:
	case <-ctx.Done():
		logger.Warn().Msg("Timed out waiting for in-flight commands")
	}

	sessions.Close(ctx)
	if err := gw.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close gateway")
	}
}
