package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asheshgoplani/history-deck/internal/history"
	"github.com/asheshgoplani/history-deck/internal/logging"
	"github.com/asheshgoplani/history-deck/internal/platform"
)

// handleWatch runs the foreground watch daemon: it keeps the cache current as
// rollout files appear or change, until interrupted.
func handleWatch(rootOverride string, args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	quiet := fs.Bool("q", false, "Suppress per-refresh output")

	fs.Usage = func() {
		fmt.Println("Usage: history-deck watch [options]")
		fmt.Println()
		fmt.Println("Watch the sessions directory and refresh the index on changes.")
		fmt.Println("Runs until interrupted with Ctrl+C.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		os.Exit(1)
	}

	cfg := loadConfigWithRoot(rootOverride)
	setupLogging(cfg)
	defer logging.Shutdown()

	refresher, err := history.NewRefresher(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	root := refresher.Root()

	if warning := platform.CheckFsnotifySupport(root); warning != "" {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
	}

	refresh := func(force bool) {
		res, err := refresher.RefreshDetailed(context.Background(), force)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s refresh failed: %v\n", errorSymbol, err)
			return
		}
		if !*quiet {
			fmt.Printf("%s %s  %d sessions (%d extracted, %d reused)\n",
				bulletSymbol,
				time.Now().Format("15:04:05"),
				res.Stats.Discovered,
				res.Stats.Extracted,
				res.Stats.Reused)
		}
	}

	// Initial pass before watching so the cache starts warm
	refresh(false)

	watcher, err := history.NewWatcher(root, cfg.WatchDebounce(), cfg.WatchMaxRefreshPerSec(), func() {
		refresh(false)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := watcher.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to watch %s: %v\n", root, err)
		os.Exit(1)
	}
	defer watcher.Stop()

	fmt.Printf("%s Watching %s (Ctrl+C to stop)\n", successSymbol, root)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	fmt.Println("\nStopped.")
}
