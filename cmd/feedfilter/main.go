package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"feedfilter/internal/bot"
	"feedfilter/internal/config"
	"feedfilter/internal/control"
	"feedfilter/internal/dom"
	"feedfilter/internal/engine"
	"feedfilter/internal/filter"
	"feedfilter/internal/ruleset"
	"feedfilter/internal/scheduler"
	"feedfilter/internal/settings"
	"feedfilter/internal/storage"
	"feedfilter/internal/watcher"
)

// maxPosts bounds the document so a long-running timeline does not grow forever.
const maxPosts = 500

func main() {
	if _, err := config.LoadEnvFiles(".env"); err != nil {
		slog.Error("load env file", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st := settings.New(store, log)
	if cfg.RulesPath != "" {
		importRules(ctx, st, cfg.RulesPath, log)
	}

	doc, err := openDocument(cfg.InputPath)
	if err != nil {
		log.Error("open document", "path", cfg.InputPath, "error", err)
		os.Exit(1)
	}
	doc.SetLimit(maxPosts)

	rs := st.LoadRuleSet(ctx)
	log.Info("rule set loaded", "rules", len(rs.Rules), "exempt_users", len(rs.Exemptions.Usernames))

	eng := engine.New(doc, ruleset.New(rs), log)
	eng.SetClassifier(filter.New(cfg.HostDomains...))
	eng.SetMetrics(engine.NewMetrics(prometheus.DefaultRegisterer))

	handler := control.NewHandler(log)
	handler.Attach(eng)
	pusher := control.NewPusher(handler, st, log)
	defer pusher.Stop()

	mutations, unsubscribe := doc.Subscribe(64)
	defer unsubscribe()

	w := watcher.New(eng, mutations, log)
	w.SetDebounce(cfg.Debounce)
	w.SetInterval(cfg.ScanInterval)
	w.SetThemer(doc)
	w.OnScan(func(engine.Result) {
		if err := doc.WriteFile(cfg.OutputPath); err != nil {
			log.Error("write document", "path", cfg.OutputPath, "error", err)
		}
	})

	sched := scheduler.New(store, doc, log)

	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, cfg.MetricsAddr, log)
	}

	log.Info("starting feed filter", "output", cfg.OutputPath, "bot", cfg.BotEnabled())

	go sched.Run(ctx)

	if cfg.BotEnabled() {
		b, err := bot.New(cfg.TelegramBotToken, store, st, handler, pusher, cfg, log)
		if err != nil {
			log.Error("create bot", "error", err)
			os.Exit(1)
		}
		go b.Run(ctx)
	}

	w.Run(ctx)

	log.Info("feed filter stopped")
}

func openDocument(path string) (*dom.Document, error) {
	if path == "" {
		return dom.ParseString(dom.Timeline)
	}
	return dom.ParseFile(path)
}

// importRules seeds the settings from a rule file when nothing is stored yet,
// so edits made through the bot survive restarts.
func importRules(ctx context.Context, st *settings.Store, path string, log *slog.Logger) {
	if len(st.Rules(ctx)) > 0 {
		log.Debug("rules already stored, skipping import", "path", path)
		return
	}
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		log.Warn("read rule file", "path", path, "error", err)
		return
	}
	rules, ex, err := settings.ParseFile(data)
	if err != nil {
		log.Warn("parse rule file", "path", path, "error", err)
		return
	}
	if err := st.Save(ctx, rules, ex); err != nil {
		log.Warn("save imported rules", "path", path, "error", err)
		return
	}
	log.Info("rules imported", "path", path, "rules", len(rules))
}

func serveMetrics(ctx context.Context, addr string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics server", "error", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
