package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/mailhive-io/mailhive/internal/classify"
	"github.com/mailhive-io/mailhive/internal/config"
	"github.com/mailhive-io/mailhive/internal/extract"
	"github.com/mailhive-io/mailhive/internal/logbuf"
	"github.com/mailhive-io/mailhive/internal/mailindex"
	"github.com/mailhive-io/mailhive/internal/pipeline"
	"github.com/mailhive-io/mailhive/internal/provider"
	"github.com/mailhive-io/mailhive/internal/spool"
	"github.com/mailhive-io/mailhive/internal/ticket"
	"github.com/mailhive-io/mailhive/internal/triage"
	"github.com/mailhive-io/mailhive/pkg/protocol"
)

// daemonIntent is the standing request the daemon applies to spooled mail
// when triage falls back to keyword rules.
const daemonIntent = "create tickets for incoming work mail"

func main() {
	configPath := flag.String("config", "", "Path to config JSON file")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	// Set up logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}

	// Load config (2 modes: file, env)
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logBuf := logbuf.New(cfg.Hive.LogSize)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(logbuf.NewHandler(jsonHandler, logBuf))

	logger.Info("mailhived starting", "hive_id", cfg.Hive.ID)

	if err := os.MkdirAll(cfg.Hive.DataDir, 0o755); err != nil {
		logger.Error("failed to create data dir", "path", cfg.Hive.DataDir, "error", err)
		os.Exit(1)
	}

	// 1. Initialize provider(s)
	providers := make(map[string]provider.Provider)
	for name, pcfg := range cfg.Providers {
		switch pcfg.Type {
		case "anthropic":
			var opts []provider.AnthropicOption
			if pcfg.BaseURL != "" {
				opts = append(opts, provider.WithAnthropicBaseURL(pcfg.BaseURL))
			}
			if pcfg.Model != "" {
				opts = append(opts, provider.WithAnthropicModel(pcfg.Model))
			}
			providers[name] = provider.NewAnthropic(pcfg.APIKey, opts...)
		default: // "openai" or empty
			var opts []provider.OpenAIOption
			if pcfg.BaseURL != "" {
				opts = append(opts, provider.WithBaseURL(pcfg.BaseURL))
			}
			if pcfg.Model != "" {
				opts = append(opts, provider.WithModel(pcfg.Model))
			}
			providers[name] = provider.NewOpenAI(pcfg.APIKey, opts...)
		}
		logger.Info("provider initialized", "name", name, "type", pcfg.Type, "model", pcfg.Model)
	}

	// 2. Open the stores
	retry := ticket.RetryPolicy{
		Attempts: cfg.Stores.BusyAttempts,
		Backoff:  time.Duration(cfg.Stores.BusyBackoff) * time.Millisecond,
	}

	store, err := ticket.NewSQLiteStore(cfg.Stores.TicketDB, retry)
	if err != nil {
		logger.Error("failed to open ticket store", "path", cfg.Stores.TicketDB, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	idx, err := mailindex.Open(cfg.Stores.IndexDB, retry)
	if err != nil {
		logger.Error("failed to open mail index", "path", cfg.Stores.IndexDB, "error", err)
		os.Exit(1)
	}
	defer idx.Close()

	// 3. Assemble the pipeline
	classifier := classify.New(cfg.Domains.Internal, cfg.Domains.External,
		classify.WithCacheFile(filepath.Join(cfg.Hive.DataDir, "domain_cache.json")),
		classify.WithLogger(logger.With("component", "classify")))

	var engineOpts []triage.Option
	engineOpts = append(engineOpts, triage.WithLogger(logger.With("component", "triage")))
	if cfg.Triage.Provider != "" {
		prov, ok := providers[cfg.Triage.Provider]
		if !ok {
			logger.Error("triage provider not configured", "name", cfg.Triage.Provider)
			os.Exit(1)
		}
		engineOpts = append(engineOpts,
			triage.WithProvider(prov, cfg.Providers[cfg.Triage.Provider].Model, cfg.Triage.MaxTokens))
		logger.Info("triage using external judgment", "provider", cfg.Triage.Provider)
	} else {
		logger.Info("triage running on keyword rules")
	}
	engine := triage.New(store, engineOpts...)

	orch := pipeline.New(
		extract.New(logger.With("component", "extract")),
		classifier, engine, store, idx,
		logger.With("component", "pipeline"))

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Start pipeline workers
	mails := make(chan protocol.RawMail, 64)
	var wg sync.WaitGroup
	for i := 0; i < cfg.Spool.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			safeGo(logger, fmt.Sprintf("worker-%d", id), func() {
				runWorker(ctx, orch, mails, logger)
			})
		}(i)
	}
	logger.Info("pipeline workers started", "count", cfg.Spool.Workers)

	// 5. Start the spool watcher
	watcher, err := spool.New(cfg.Spool.Dir, mails, logger.With("component", "spool"))
	if err != nil {
		logger.Error("failed to prepare spool", "dir", cfg.Spool.Dir, "error", err)
		os.Exit(1)
	}
	go safeGo(logger, "spool-watcher", func() {
		if err := watcher.Run(ctx, cfg.Spool.Schedule); err != nil && ctx.Err() == nil {
			logger.Error("spool watcher exited, mail intake is dead", "error", err)
		}
	})

	// 6. Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()
	wg.Wait()

	// Leave the recent log tail on disk for mailhivectl logs.
	dumpLogs(logBuf, filepath.Join(cfg.Hive.DataDir, "mailhived.log"), logger)
	logger.Info("mailhived stopped")
}

// runWorker drains the mail channel through the orchestrator until the
// channel closes or the context is cancelled.
func runWorker(ctx context.Context, orch *pipeline.Orchestrator, mails <-chan protocol.RawMail, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case mail, ok := <-mails:
			if !ok {
				return
			}
			res, err := orch.Process(ctx, mail, daemonIntent)
			if err != nil {
				logger.Error("mail processing failed", "mail_id", mail.ID, "error", err)
				continue
			}
			logger.Debug("mail processed", "mail_id", mail.ID, "decision", res.Decision, "reason", res.Reason)
		}
	}
}

func dumpLogs(buf *logbuf.Buffer, path string, logger *slog.Logger) {
	f, err := os.Create(path)
	if err != nil {
		logger.Warn("failed to write log snapshot", "path", path, "error", err)
		return
	}
	defer f.Close()
	if err := buf.Dump(f); err != nil {
		logger.Warn("failed to write log snapshot", "path", path, "error", err)
	}
}

// safeGo runs fn with panic recovery.
func safeGo(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("goroutine panicked", "name", name, "panic", fmt.Sprintf("%v", r))
		}
	}()
	fn()
}
