// Command filterhtml filters a saved timeline document against a YAML rule
// file and writes the result. With -watch it re-runs whenever either file
// changes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"feedfilter/internal/dom"
	"feedfilter/internal/engine"
	"feedfilter/internal/ruleset"
	"feedfilter/internal/settings"
)

const debounceInterval = 300 * time.Millisecond

func main() {
	in := flag.String("in", "", "timeline HTML to filter")
	out := flag.String("out", "-", "output path, - for stdout")
	rules := flag.String("rules", "", "YAML rule file")
	watch := flag.Bool("watch", false, "re-run when the input or rule file changes")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if *in == "" || *rules == "" {
		fmt.Fprintln(os.Stderr, "Usage: filterhtml -in page.html -rules rules.yaml [-out filtered.html] [-watch]")
		os.Exit(2)
	}

	lvl := slog.LevelInfo
	if *verbose {
		lvl = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))

	run := func() {
		res, err := filterFile(*in, *out, *rules, log)
		if err != nil {
			log.Error("filter", "error", err)
			return
		}
		log.Info("filtered", "classified", res.Classified, "hidden", res.Hidden)
	}

	run()
	if !*watch {
		return
	}
	if *out == "-" {
		log.Error("-watch needs -out")
		os.Exit(2)
	}
	// Writing the output would trigger the next run.
	if samePath(*out, *in) || samePath(*out, *rules) {
		log.Error("-watch needs -out to differ from -in and -rules")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := watchFiles(ctx, []string{*in, *rules}, run, log); err != nil {
		log.Error("watch", "error", err)
		os.Exit(1)
	}
}

// filterFile runs one full scan of the document at in with the rules at
// rulesPath and writes the filtered document to out.
func filterFile(in, out, rulesPath string, log *slog.Logger) (engine.Result, error) {
	rs, err := settings.LoadFile(rulesPath)
	if err != nil {
		return engine.Result{}, err
	}
	doc, err := dom.ParseFile(in)
	if err != nil {
		return engine.Result{}, err
	}

	eng := engine.New(doc, ruleset.New(rs), log)
	res := eng.Scan(context.Background())
	doc.ApplyTheme()

	if out == "-" {
		return res, doc.Render(os.Stdout)
	}
	return res, doc.WriteFile(out)
}

// watchFiles calls fn after changes to any of paths settle. Parent
// directories are watched so editors that replace files atomically are seen.
func watchFiles(ctx context.Context, paths []string, fn func(), log *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	targets := make(map[string]bool, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", p, err)
		}
		targets[abs] = true
		if err := w.Add(filepath.Dir(abs)); err != nil {
			return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
		}
	}
	log.Info("watching", "files", len(targets))

	debounce := time.NewTimer(debounceInterval)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !relevantEvent(ev, targets) {
				continue
			}
			log.Debug("file changed", "path", ev.Name, "op", ev.Op.String())
			debounce.Reset(debounceInterval)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", "error", err)
		case <-debounce.C:
			fn()
		}
	}
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return absA == absB
}

func relevantEvent(ev fsnotify.Event, targets map[string]bool) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		return false
	}
	return targets[abs]
}
