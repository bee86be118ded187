package cmd

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

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/YaHan2020/voice-flow/internal/classify"
	"github.com/YaHan2020/voice-flow/internal/config"
	"github.com/YaHan2020/voice-flow/internal/lark"
	"github.com/YaHan2020/voice-flow/internal/pipeline"
	"github.com/YaHan2020/voice-flow/internal/providers"
	"github.com/YaHan2020/voice-flow/internal/queue"
	"github.com/YaHan2020/voice-flow/internal/store"
	"github.com/YaHan2020/voice-flow/internal/telemetry"
	"github.com/YaHan2020/voice-flow/internal/webhook"
)

func runServe() {
	// Setup structured logging
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTraces, err := telemetry.Setup(ctx, cfg.Telemetry.OTLPEndpoint, Version)
	if err != nil {
		slog.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTraces(context.Background())

	larkClient := lark.NewClient(cfg.Lark.AppID, cfg.Lark.AppSecret, cfg.Lark.Domain)
	transcriber := providers.NewWhisperTranscriber(cfg.STT.APIKey, cfg.STT.APIBase, cfg.STT.Model)
	llm := providers.NewOpenAIProvider(cfg.LLM.APIKey, cfg.LLM.APIBase, cfg.LLM.Model)
	classifier := classify.New(llm, cfg.Pipeline.TimezoneOffsetHours)

	// Event ledger: optional, path-gated. In-memory dedup covers redeliveries
	// within a process; the ledger covers restarts.
	var ledger *store.Ledger
	if cfg.Ledger.Path != "" {
		ledger, err = store.Open(cfg.Ledger.Path)
		if err != nil {
			slog.Error("failed to open event ledger", "path", cfg.Ledger.Path, "error", err)
			os.Exit(1)
		}
		defer ledger.Close()
		slog.Info("event ledger opened", "path", cfg.Ledger.Path)
	}

	var outcomes pipeline.OutcomeRecorder
	var seen webhook.SeenStore
	if ledger != nil {
		outcomes = ledger
		seen = ledger
	}

	pipe := pipeline.New(larkClient, transcriber, classifier, outcomes, pipeline.Options{
		TimezoneName:    cfg.Pipeline.TimezoneName,
		CallTimeout:     time.Duration(cfg.Pipeline.CallTimeoutSeconds) * time.Second,
		ReminderMinutes: cfg.Pipeline.ReminderMinutes,
	})

	q := queue.New(cfg.Webhook.QueueSize, cfg.Webhook.Workers)
	dispatch := func(ev *lark.InboundEvent) bool {
		ok := q.Enqueue(func(ctx context.Context) {
			pipe.Run(ctx, ev)
		})
		if !ok && ledger != nil {
			if err := ledger.RecordOutcome(ev.MessageID, store.OutcomeDropped); err != nil {
				slog.Warn("ledger outcome write failed", "message_id", ev.MessageID, "error", err)
			}
		}
		return ok
	}

	handler := webhook.NewHandler(cfg.Lark.VerificationToken, cfg.Webhook.RateLimitRPM, dispatch, seen)

	mux := http.NewServeMux()
	mux.Handle(cfg.Webhook.Path, handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Webhook.Host, cfg.Webhook.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Hourly ledger pruning keeps the dedup table bounded.
	var pruner *cron.Cron
	if ledger != nil && cfg.Ledger.RetentionHours > 0 {
		retention := time.Duration(cfg.Ledger.RetentionHours) * time.Hour
		pruner = cron.New()
		pruner.AddFunc("@hourly", func() {
			if n, err := ledger.Prune(retention); err != nil {
				slog.Warn("ledger prune failed", "error", err)
			} else if n > 0 {
				slog.Debug("ledger pruned", "rows", n)
			}
		})
		pruner.Start()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return q.Run(ctx)
	})

	g.Go(func() error {
		slog.Info("webhook server listening",
			"addr", server.Addr, "path", cfg.Webhook.Path, "version", Version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("webhook server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			slog.Info("graceful shutdown initiated", "signal", sig)
		case <-ctx.Done():
		}
		if pruner != nil {
			pruner.Stop()
		}
		shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
		defer stop()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("server shutdown incomplete", "error", err)
		}
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete", "jobs_dropped", q.Dropped())
}
