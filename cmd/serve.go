package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowagencyai/wabot/internal/bot"
	"github.com/flowagencyai/wabot/internal/bus"
	"github.com/flowagencyai/wabot/internal/channels/whatsapp"
	"github.com/flowagencyai/wabot/internal/config"
	"github.com/flowagencyai/wabot/internal/conversation"
	adminhttp "github.com/flowagencyai/wabot/internal/http"
	"github.com/flowagencyai/wabot/internal/pause"
	"github.com/flowagencyai/wabot/internal/providers"
	"github.com/flowagencyai/wabot/internal/ratelimit"
	"github.com/flowagencyai/wabot/internal/store"
	"github.com/flowagencyai/wabot/internal/store/memory"
	storeredis "github.com/flowagencyai/wabot/internal/store/redis"
	"github.com/flowagencyai/wabot/internal/tracing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot: WhatsApp channel, message pipeline and admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("provider API key is not set (provider.apiKey or WABOT_OPENAI_API_KEY)")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Session store.
	kv, err := openStoreForServe(ctx, cfg)
	if err != nil {
		return err
	}
	defer kv.Close()

	// Optional tracing.
	var tracer trace.Tracer
	if cfg.Telemetry.Enabled {
		t, shutdown, err := tracing.Init(ctx, tracing.Config{
			Endpoint:    cfg.Telemetry.Endpoint,
			Protocol:    cfg.Telemetry.Protocol,
			Insecure:    cfg.Telemetry.Insecure,
			ServiceName: cfg.Telemetry.ServiceName,
			Headers:     cfg.Telemetry.Headers,
		})
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		tracer = t
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				slog.Warn("tracing.shutdown_failed", "error", err)
			}
		}()
		slog.Info("tracing.enabled", "endpoint", cfg.Telemetry.Endpoint, "protocol", cfg.Telemetry.Protocol)
	}

	// Core components.
	contexts := conversation.NewManager(kv,
		conversation.WithWindow(cfg.Bot.ContextWindow),
		conversation.WithTTL(cfg.Bot.ContextTTL.Std()),
	)
	gate := pause.NewGate(kv)
	limiter := ratelimit.NewLimiter(kv, int64(cfg.Bot.RateLimitMax), cfg.Bot.RateLimitWindow.Std())
	provider := providers.NewOpenAIProvider(cfg.Provider.APIKey, cfg.Provider.BaseURL, cfg.Provider.Model)

	pipeline := bot.NewPipeline(contexts, gate, limiter, provider, kv, bot.Options{
		SystemPrompt: cfg.Bot.SystemPrompt,
		Tracer:       tracer,
	})

	// Hot reload of behavior settings.
	if watcher, err := config.NewWatcher(cfgPath); err == nil {
		watcher.OnChange(func(next *config.Config) {
			pipeline.SetSystemPrompt(next.Bot.SystemPrompt)
			contexts.SetWindow(next.Bot.ContextWindow)
			limiter.SetMax(int64(next.Bot.RateLimitMax))
		})
		if err := watcher.Start(); err != nil {
			slog.Warn("config.watch_failed", "error", err)
		} else {
			defer watcher.Stop()
		}
	} else {
		slog.Warn("config.watcher_init_failed", "error", err)
	}

	// WhatsApp channel.
	msgBus := bus.New()
	if err := os.MkdirAll(filepath.Dir(cfg.WhatsApp.SessionDB), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	channel, err := whatsapp.New(ctx, cfg.WhatsApp.SessionDB, cfg.WhatsApp.LogLevel, msgBus)
	if err != nil {
		return fmt.Errorf("init whatsapp: %w", err)
	}
	if err := channel.Connect(ctx); err != nil {
		return fmt.Errorf("connect whatsapp: %w", err)
	}
	defer channel.Disconnect()

	// Admin API.
	admin := adminhttp.NewServer(adminhttp.Config{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		AdminToken:     cfg.Server.AdminToken,
		RateLimitRPM:   cfg.Server.RateLimitRPM,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	}, contexts, gate, kv)
	go func() {
		if err := admin.ListenAndServe(); err != nil {
			slog.Error("admin.serve_failed", "error", err)
		}
	}()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = admin.Shutdown(sctx)
	}()

	// Pipeline worker: consume inbound, handle, queue replies. Messages for
	// one user arrive serially from WhatsApp, so a single worker keeps the
	// per-user ordering guarantee without locks.
	go channel.DeliverOutbound(ctx)
	go func() {
		for {
			in, ok := msgBus.ConsumeInbound(ctx)
			if !ok {
				return
			}
			reply, err := pipeline.Handle(ctx, in)
			if err != nil {
				slog.Warn("bot.message_rejected", "user", in.UserID, "error", err)
				continue
			}
			if reply != "" {
				msgBus.PublishOutbound(bus.OutboundMessage{UserID: in.UserID, Body: reply})
			}
		}
	}()

	slog.Info("wabot.started",
		"store", cfg.Store.Backend,
		"provider", provider.Name(),
		"model", cfg.Provider.Model,
		"window", cfg.Bot.ContextWindow,
	)

	<-ctx.Done()
	slog.Info("wabot.stopping")
	return nil
}

func openStoreForServe(ctx context.Context, cfg *config.Config) (store.KV, error) {
	switch cfg.Store.Backend {
	case "memory":
		slog.Warn("store.memory_backend", "note", "state is lost on restart; use redis in production")
		return memory.New(), nil
	default:
		return storeredis.New(ctx, cfg.Store.RedisURL, cfg.Store.OpTimeout.Std())
	}
}
