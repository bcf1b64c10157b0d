// Command focusworker runs the job scheduler runner and the quarter-hour
// backup sweeper as a standalone process, for deployments where assistantd
// runs with EMBED_SCHEDULER=false against a shared store.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"skipper/assistant/internal/chat"
	"skipper/assistant/internal/config"
	"skipper/assistant/internal/envelope"
	"skipper/assistant/internal/focus"
	"skipper/assistant/internal/notify"
	"skipper/assistant/internal/scheduler"
	"skipper/assistant/internal/store"
	"skipper/assistant/internal/vault"
)

var version = "dev"

func main() {
	cfg := config.Parse()
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting focusworker",
		"poll_interval", cfg.SchedulerPollInterval,
		"kek_provider", cfg.KEKProvider)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// Workers hold their own store session and full side-effect stack: an
	// expiry firing here must restore status and publish events just like an
	// inline disable would.
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	st := store.NewMemory()
	logger.Warn("the in-process store is not shared with assistantd; timers only fire for sessions created in this process")

	kek, err := buildKEK(ctx, cfg)
	if err != nil {
		logger.Error("failed to build KEK", "provider", cfg.KEKProvider, "error", err)
		os.Exit(1)
	}
	v := vault.New(vault.Config{
		Store:       st,
		Cipher:      envelope.NewCipher(kek),
		KEKProvider: cfg.KEKProvider,
		GitHubApp: vault.GitHubApp{
			ClientID:     cfg.GithubClientID,
			ClientSecret: cfg.GithubClientSecret,
		},
		Logger: logger,
	})

	notifier := notify.New(st, logger)
	if cfg.NatsURL != "" {
		bridge := notify.NewNATSBridge(notify.NATSBridgeConfig{
			NatsURL:   cfg.NatsURL,
			NatsToken: cfg.NatsToken,
			Notifier:  notifier,
			Logger:    logger,
		})
		go func() {
			if err := bridge.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("event bridge stopped", "error", err)
			}
		}()
	}

	svc := focus.New(focus.Config{
		Store:    st,
		Jobs:     scheduler.NewClient(st),
		Provider: chat.NewSlackProvider(chat.VaultTokens(v), logger),
		Events:   notifier,
		Logger:   logger,
	})

	runner := scheduler.NewRunner(st, cfg.SchedulerPollInterval, logger)
	runner.Register(scheduler.FuncFocusExpire, svc.OnExpire)
	runner.Register(scheduler.FuncPomodoroTransition, svc.OnTransition)

	sweeper := scheduler.NewSweeper(st, svc.OnExpire, svc.OnTransition, logger)
	go func() {
		if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("sweeper stopped", "error", err)
		}
	}()

	// Lightweight health endpoint.
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","version":"%s"}`, version)
	})
	healthSrv := &http.Server{
		Addr:              envOr("HEALTH_LISTEN_ADDR", ":8092"),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server failed", "error", err)
		}
	}()

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("runner stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("focusworker shut down")
}

func buildKEK(ctx context.Context, cfg *config.Config) (envelope.KEK, error) {
	switch cfg.KEKProvider {
	case "local":
		if cfg.KEKLocalKey != "" {
			return envelope.NewLocalKEK(cfg.KEKLocalKey)
		}
		if cfg.KEKLocalKeyFile != "" {
			return envelope.NewLocalKEKFromFile(cfg.KEKLocalKeyFile)
		}
		return nil, fmt.Errorf("local KEK requires ENCRYPTION_KEK_LOCAL_KEY or ENCRYPTION_KEK_LOCAL_KEY_FILE")
	case "gcp_kms":
		if cfg.GCPKMSKeyName == "" {
			return nil, fmt.Errorf("gcp_kms KEK requires ENCRYPTION_GCP_KMS_KEY_NAME")
		}
		return envelope.NewGCPKMSKEK(ctx, cfg.GCPKMSKeyName)
	case "aws_kms":
		if cfg.AWSKMSKeyID == "" {
			return nil, fmt.Errorf("aws_kms KEK requires ENCRYPTION_AWS_KMS_KEY_ID")
		}
		return envelope.NewAWSKMSKEK(ctx, cfg.AWSKMSKeyID)
	default:
		return nil, fmt.Errorf("unknown KEK provider %q", cfg.KEKProvider)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}
