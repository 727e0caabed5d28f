package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/taskmate-ai/taskmate/internal/agent"
	"github.com/taskmate-ai/taskmate/internal/api"
	"github.com/taskmate-ai/taskmate/internal/config"
	"github.com/taskmate-ai/taskmate/internal/conversation"
	"github.com/taskmate-ai/taskmate/internal/events"
	"github.com/taskmate-ai/taskmate/internal/health"
	"github.com/taskmate-ai/taskmate/internal/llm"
	"github.com/taskmate-ai/taskmate/internal/metrics"
	"github.com/taskmate-ai/taskmate/internal/notify"
	"github.com/taskmate-ai/taskmate/internal/prediction"
	"github.com/taskmate-ai/taskmate/internal/tasks"
	"github.com/taskmate-ai/taskmate/internal/tools"
	"github.com/taskmate-ai/taskmate/internal/voice"
	"github.com/taskmate-ai/taskmate/internal/web"
)

type appOptions struct {
	// serve builds the HTTP-facing parts: metrics, events, voice, MQTT.
	serve bool
	// directTasks lets the tools use the task store in-process instead
	// of through the CRUD API.
	directTasks bool
}

// app holds the wired components shared by serve and ask.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       tasks.Store
	history     conversation.Store
	predictions *prediction.Client
	registry    *tools.Registry
	loop        *agent.Loop
	voice       *voice.Adapter
	health      *health.Monitor
	bus         *events.Bus
	metrics     *metrics.Metrics
	closers     []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.store, err = openTaskStore(cfg); err != nil {
		return nil, err
	}
	if c, ok := a.store.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}
	logger.Info("task store opened", "backend", cfg.Tasks.Backend, "path", cfg.Tasks.Path)

	if a.history, err = openConversations(cfg); err != nil {
		return nil, err
	}
	if c, ok := a.history.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	if cfg.Prediction.Configured() {
		a.predictions = newPredictionClient(cfg, logger)
		logger.Info("prediction service configured", "url", cfg.Prediction.URL)
	} else {
		logger.Warn("prediction service not configured; prediction tools will report failures")
	}

	notifier := notify.Multi{notify.NewLogNotifier(logger)}
	if opts.serve && cfg.Notifications.MQTT.Configured() {
		mq := notify.NewMQTTNotifier(notify.MQTTConfig{
			Broker:      cfg.Notifications.MQTT.Broker,
			Username:    cfg.Notifications.MQTT.Username,
			Password:    cfg.Notifications.MQTT.Password,
			ClientID:    cfg.Notifications.MQTT.ClientID,
			TopicPrefix: cfg.Notifications.MQTT.TopicPrefix,
		}, logger)
		if err := mq.Start(ctx); err != nil {
			return nil, fmt.Errorf("start mqtt notifier: %w", err)
		}
		a.closers = append(a.closers, func() error {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return mq.Stop(stopCtx)
		})
		notifier = append(notifier, mq)
	}

	deps := tools.Deps{
		Notifier:            notifier,
		Logger:              logger,
		RequireConfirmation: cfg.Tools.ConfirmationEnabled(),
		ConfirmationSecret:  cfg.Tools.ConfirmationSecret,
	}
	if opts.directTasks {
		deps.Tasks = tasks.NewDirect(a.store)
	} else {
		deps.Tasks = tasks.NewClient(cfg.TaskStoreURL(), time.Duration(cfg.Tasks.TimeoutSec)*time.Second)
	}
	if a.predictions != nil {
		deps.Predictions = a.predictions
	}
	if a.registry, err = tools.NewRegistry(deps); err != nil {
		return nil, err
	}

	instructions, err := loadInstructions(cfg.Chat.InstructionsFile)
	if err != nil {
		return nil, err
	}
	model := newLLMClient(cfg, logger)
	a.loop = agent.NewLoop(logger, model, a.registry, a.history, agent.Config{
		Model:               cfg.Model.Name,
		MaxIterations:       cfg.Chat.MaxIterations,
		HistorySize:         cfg.Chat.MaxHistory,
		ModelTimeout:        cfg.ModelTimeout(),
		ToolTimeout:         cfg.ToolTimeout(),
		ToolConcurrency:     cfg.Chat.MaxParallelTools,
		RequireConfirmation: cfg.Tools.ConfirmationEnabled(),
		Instructions:        instructions,
	})

	if !opts.serve {
		return a, nil
	}

	a.bus = events.New()
	a.metrics = metrics.New()
	a.loop.SetEventBus(a.bus)
	a.loop.SetMetrics(a.metrics)

	a.health = health.NewMonitor(logger)
	a.health.SetEventBus(a.bus)
	a.health.SetMetrics(a.metrics)
	a.closers = append(a.closers, func() error { a.health.Stop(); return nil })
	a.health.Watch(ctx, health.Check{Name: cfg.Model.Provider, Probe: model.Ping})
	if a.predictions != nil {
		a.health.Watch(ctx, health.Check{Name: "prediction", Probe: a.predictions.Ping})
	}
	if p, ok := a.history.(interface{ Ping(context.Context) error }); ok {
		a.health.Watch(ctx, health.Check{Name: "redis", Probe: p.Ping})
	}

	if cfg.Voice.Configured() {
		timeout := time.Duration(cfg.Voice.TimeoutSec) * time.Second
		a.voice = voice.NewAdapter(logger,
			&voice.FFmpeg{Path: cfg.Voice.FFmpegPath, Dir: cfg.Voice.UploadDir},
			voice.NewWhisperClient(cfg.Voice.BaseURL, cfg.Voice.APIKey, cfg.Voice.STTModel, cfg.Voice.Language, timeout),
			voice.NewSpeechClient(cfg.Voice.BaseURL, cfg.Voice.APIKey, cfg.Voice.TTSModel, cfg.Voice.Voice, cfg.Voice.Speed, timeout),
			a.loop,
		)
		a.voice.SetEventBus(a.bus)
		a.voice.SetMetrics(a.metrics)
		logger.Info("voice enabled", "stt_model", cfg.Voice.STTModel, "tts_model", cfg.Voice.TTSModel)
	}

	return a, nil
}

// server builds the HTTP API over the app's components.
func (a *app) server() *api.Server {
	srv := api.NewServer(a.cfg.Listen.Address, a.cfg.Listen.Port, a.loop, a.logger)

	var analyzer tasks.Analyzer
	if a.predictions != nil {
		analyzer = a.predictions
	}
	srv.SetTasks(tasks.NewHandler(a.store, analyzer, a.logger))
	srv.SetWeb(web.NewWebServer(web.Config{
		Tasks:     a.store,
		StatsFunc: a.stats,
		Logger:    a.logger,
	}))
	srv.SetMetrics(a.metrics)
	srv.SetEventBus(a.bus)
	srv.SetHealth(a.health)
	if a.voice != nil {
		srv.SetVoice(a.voice)
	}
	srv.SetMaxUploadBytes(a.cfg.Voice.MaxUploadMB << 20)
	srv.SetWriteTimeout(a.cfg.ResponseDeadline())
	return srv
}

// stats feeds the overview page.
func (a *app) stats() map[string]any {
	out := a.loop.ConversationStats()
	out["model"] = a.loop.Model()
	out["event_subscribers"] = a.bus.SubscriberCount()
	out["events_dropped"] = a.bus.Dropped()
	for _, d := range a.health.Status() {
		out["dependency_"+d.Name] = d.Up
	}
	return out
}

// Close waits for background tool work, then releases resources in
// reverse order of acquisition.
func (a *app) Close() {
	if a.registry != nil {
		a.registry.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

func openTaskStore(cfg *config.Config) (tasks.Store, error) {
	switch cfg.Tasks.Backend {
	case "sqlite":
		s, err := tasks.NewSQLiteStore(cfg.Tasks.Path)
		if err != nil {
			return nil, fmt.Errorf("open task database: %w", err)
		}
		return s, nil
	default:
		s, err := tasks.NewFileStore(cfg.Tasks.Path)
		if err != nil {
			return nil, fmt.Errorf("open task file: %w", err)
		}
		return s, nil
	}
}

func openConversations(cfg *config.Config) (conversation.Store, error) {
	if cfg.Conversations.Backend != "redis" {
		return conversation.NewMemoryStore(cfg.Chat.MaxHistory), nil
	}
	r := cfg.Conversations.Redis
	s, err := conversation.NewRedisStore(conversation.RedisConfig{
		Addr:      r.Addr,
		Password:  r.Password,
		DB:        r.DB,
		KeyPrefix: r.KeyPrefix,
	}, cfg.Chat.MaxHistory)
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}
	return s, nil
}

func newLLMClient(cfg *config.Config, logger *slog.Logger) llm.Client {
	if cfg.Model.Provider == "ollama" {
		return llm.NewOllamaClient(cfg.Model.BaseURL, logger)
	}
	return llm.NewOpenAIClient(cfg.Model.BaseURL, cfg.Model.APIKey, logger)
}

func newPredictionClient(cfg *config.Config, logger *slog.Logger) *prediction.Client {
	return prediction.NewClient(cfg.Prediction.URL,
		time.Duration(cfg.Prediction.TimeoutSec)*time.Second,
		cfg.Prediction.Retries,
		logger)
}

// loadInstructions reads the optional system instructions override.
func loadInstructions(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read instructions file: %w", err)
	}
	return string(data), nil
}
