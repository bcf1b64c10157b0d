// Command assistantd is the focus-mode control plane: the HTTP API, the
// envelope-encrypted token vault, the per-user focus state machine, and (by
// default) an embedded scheduler runner and backup sweeper.
//
// Split deployments set EMBED_SCHEDULER=false and run cmd/focusworker
// against the shared store instead.
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

	"skipper/assistant/internal/api"
	"skipper/assistant/internal/chat"
	"skipper/assistant/internal/config"
	"skipper/assistant/internal/envelope"
	"skipper/assistant/internal/focus"
	"skipper/assistant/internal/notify"
	"skipper/assistant/internal/oauthflow"
	"skipper/assistant/internal/scheduler"
	"skipper/assistant/internal/store"
	"skipper/assistant/internal/vault"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	cfg := config.Parse()
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting assistantd",
		"listen", cfg.ListenAddr,
		"kek_provider", cfg.KEKProvider,
		"embed_scheduler", cfg.EmbedScheduler)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	st := store.NewMemory()

	kek, err := buildKEK(ctx, cfg)
	if err != nil {
		logger.Error("failed to build KEK", "provider", cfg.KEKProvider, "error", err)
		os.Exit(1)
	}
	cipher := envelope.NewCipher(kek)

	v := vault.New(vault.Config{
		Store:       st,
		Cipher:      cipher,
		KEKProvider: cfg.KEKProvider,
		GitHubApp: vault.GitHubApp{
			ClientID:     cfg.GithubClientID,
			ClientSecret: cfg.GithubClientSecret,
		},
		Logger: logger,
	})

	notifier := notify.New(st, logger)
	provider := chat.NewSlackProvider(chat.VaultTokens(v), logger)
	jobs := scheduler.NewClient(st)

	svc := focus.New(focus.Config{
		Store:    st,
		Jobs:     jobs,
		Provider: provider,
		Events:   notifier,
		Logger:   logger,
	})

	flow := oauthflow.NewFlow(oauthflow.FlowConfig{
		States:             oauthflow.NewStateStore(st),
		Vault:              v,
		Logger:             logger,
		GithubClientID:     cfg.GithubClientID,
		GithubClientSecret: cfg.GithubClientSecret,
		GithubRedirectURI:  cfg.GithubOAuthRedirectURI,
		SlackClientID:      cfg.SlackClientID,
		SlackClientSecret:  cfg.SlackClientSecret,
		SlackRedirectURI:   cfg.SlackOAuthRedirectURI,
	})

	mux := http.NewServeMux()
	apiSrv := api.NewServer(api.ServerConfig{
		Focus:    svc,
		Notifier: notifier,
		Vault:    v,
		Flow:     flow,
		Store:    st,
		Logger:   logger,
		Version:  version,
	})
	apiSrv.RegisterRoutes(mux)
	mux.Handle("POST /slack/events", api.NewSlackEventsHandler(
		oauthflow.NewSignatureVerifier(cfg.SlackSigningSecret),
		chat.NewDedup(st),
		logger,
	))
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"version":"%s","commit":"%s"}`, version, commit)
	})

	// Cross-replica SSE fanout over NATS, when configured.
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

	if cfg.EmbedScheduler {
		runner := scheduler.NewRunner(st, cfg.SchedulerPollInterval, logger)
		runner.Register(scheduler.FuncFocusExpire, svc.OnExpire)
		runner.Register(scheduler.FuncPomodoroTransition, svc.OnTransition)
		go func() {
			if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("scheduler runner stopped", "error", err)
			}
		}()

		sweeper := scheduler.NewSweeper(st, svc.OnExpire, svc.OnTransition, logger)
		go func() {
			if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("sweeper stopped", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

// buildKEK selects the key-encryption-key backend from config.
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
