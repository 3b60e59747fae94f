package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/familyspace/callcore/internal/api"
	"github.com/familyspace/callcore/internal/authctx"
	"github.com/familyspace/callcore/internal/callstore"
	"github.com/familyspace/callcore/internal/config"
	"github.com/familyspace/callcore/internal/coordinator"
	"github.com/familyspace/callcore/internal/directory"
	"github.com/familyspace/callcore/internal/ice"
	"github.com/familyspace/callcore/internal/ingest"
	"github.com/familyspace/callcore/internal/metrics"
	"github.com/familyspace/callcore/internal/notifier"
	"github.com/familyspace/callcore/internal/recorder"
	"github.com/familyspace/callcore/internal/recordingqueue"
	"github.com/familyspace/callcore/internal/signaling"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	logger.Info("starting callcore",
		"http_port", cfg.HTTPPort,
		"database", dbKind(cfg.DatabaseURL),
	)

	jwtSecret, err := cfg.JWTSecretBytes()
	if err != nil {
		logger.Error("failed to resolve jwt secret", "error", err)
		os.Exit(1)
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("failed to open call store", "error", err)
		os.Exit(1)
	}

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Construction order: Coordinator implements signaling.PeerLister and
	// signaling.RecorderPresence itself, so the Relay must be built after
	// the Coordinator and wired back in with SetRelay.
	coord := coordinator.New(store, authctx.DefaultPolicy{}, directory.OpenDirectory{}, directory.NewStaticSettings(), logger)
	relay := signaling.New(time.Duration(cfg.SignalTTLMs)*time.Millisecond, coord, coord, logger)
	coord.SetRelay(relay)
	relay.StartSweeper(appCtx, time.Duration(cfg.SignalTTLMs)*time.Millisecond)

	queueNotifier := buildNotifier(appCtx, cfg, logger)
	queue := recordingqueue.New(recordingqueue.Config{
		MaxConcurrent:   cfg.MaxConcurrentRecordings,
		QueueTimeout:    time.Duration(cfg.QueueTimeoutMs) * time.Millisecond,
		CleanupInterval: time.Duration(cfg.QueueCleanupIntervalMs) * time.Millisecond,
		AlertCooldown:   time.Duration(cfg.QueueAlertCooldownMs) * time.Millisecond,
		AlertRecipient:  cfg.QueueAlertRecipient,
	}, queueNotifier, logger)
	queue.StartSweeper(appCtx)

	var backend recorder.Backend
	if cfg.RecorderBackendBaseURL != "" {
		backend = recorder.NewHTTPBackend(cfg.RecorderBackendBaseURL)
	} else {
		logger.Warn("no recorder-backend-base-url configured, recording start/stop will always fail")
		backend = recorder.NewHTTPBackend("")
	}
	recCoord := recorder.New(backend, queue, store, relay, coord, jwtSecret, cfg.APIPublicBaseURL, logger)
	coord.SetRecorderStopper(recCoord)

	storage, err := ingest.NewLocalStorage(cfg.RecordingsStorageDir, cfg.APIPublicBaseURL)
	if err != nil {
		logger.Error("failed to open recordings storage", "error", err)
		os.Exit(1)
	}
	ingCoord := ingest.New(store, storage, ingest.NoopTranscoder{}, queue, recCoord, logger)

	iceProvider := ice.New(ice.Config{
		StunServers:    cfg.StunServerList(),
		TurnURL:        cfg.TurnURL,
		TurnUser:       cfg.TurnUser,
		TurnCredential: cfg.TurnCredential,
	})

	apiServer := api.NewServer(coord, recCoord, ingCoord, queue, iceProvider, api.Config{
		CORSOrigins: splitCORS(cfg.CORSOrigins),
		TLSEnabled:  false,
		JWTSecret:   jwtSecret,
	}, logger)
	defer apiServer.Close()

	startTime := time.Now()
	collector := metrics.NewCollector(coord, coord, queue, startTime)
	registry := prometheus.NewRegistry()
	if err := registry.Register(collector); err != nil {
		logger.Error("failed to register metrics collector", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/", apiServer)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		logger.Error("http server error", "error", err)
	}

	appCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("callcore stopped")
}

func dbKind(databaseURL string) string {
	if databaseURL == "" {
		return "memstore"
	}
	return "postgres"
}

func openStore(cfg *config.Config, logger *slog.Logger) (callstore.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("no database-url configured, using in-memory call store (state does not survive restart)")
		return callstore.NewMemStore(), nil
	}
	return callstore.NewPGStore(cfg.DatabaseURL, logger)
}

// buildNotifier wires the operator-alert Notifier from whichever of SMTP or
// FCM is configured. If neither is configured, RecordingQueue runs without
// alerting.
func buildNotifier(ctx context.Context, cfg *config.Config, logger *slog.Logger) recordingqueue.Notifier {
	smtpCfg := notifier.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		From:     cfg.SMTPFrom,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPass,
	}
	if smtpCfg.Valid() {
		return notifier.NewEmailSender(smtpCfg, logger)
	}
	if cfg.FCMCredentialsFile != "" {
		push, err := notifier.NewPushSender(ctx, cfg.FCMCredentialsFile, logger)
		if err != nil {
			logger.Error("failed to initialize push notifier, queue pressure alerts disabled", "error", err)
			return nil
		}
		return push
	}
	logger.Warn("no notifier configured, recording queue pressure alerts are disabled")
	return nil
}

func splitCORS(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}
