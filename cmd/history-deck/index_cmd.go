package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/asheshgoplani/history-deck/internal/history"
)

// handleIndex refreshes the cache and reports what was reused versus
// re-extracted.
func handleIndex(rootOverride string, args []string) {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	force := fs.Bool("force", false, "Re-extract every file, ignoring the cache")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	quiet := fs.Bool("q", false, "Suppress output")

	fs.Usage = func() {
		fmt.Println("Usage: history-deck index [options]")
		fmt.Println()
		fmt.Println("Scan the sessions directory and refresh the summary cache.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  history-deck index")
		fmt.Println("  history-deck index -force        # Rebuild from scratch")
	}

	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		os.Exit(1)
	}

	out := NewCLIOutput(*jsonOutput, *quiet)

	cfg := loadConfigWithRoot(rootOverride)
	refresher, err := history.NewRefresher(cfg)
	if err != nil {
		out.Error(err.Error(), ErrCodeInvalidOperation)
		os.Exit(1)
	}

	res, err := refresher.RefreshDetailed(context.Background(), *force)
	if err != nil {
		out.Error(fmt.Sprintf("index failed: %v", err), ErrCodeInvalidOperation)
		os.Exit(1)
	}

	stats := res.Stats
	out.Success(
		fmt.Sprintf("Indexed %d sessions in %s", stats.Discovered, res.Took.Round(time.Millisecond)),
		map[string]interface{}{
			"success":    true,
			"root":       refresher.Root(),
			"discovered": stats.Discovered,
			"reused":     stats.Reused,
			"extracted":  stats.Extracted,
			"failed":     stats.Failed,
			"dropped":    stats.Dropped,
			"took_ms":    res.Took.Milliseconds(),
		},
	)
	if !*jsonOutput && !*quiet {
		fmt.Printf("  %s reused:    %d\n", bulletSymbol, stats.Reused)
		fmt.Printf("  %s extracted: %d\n", bulletSymbol, stats.Extracted)
		if stats.Failed > 0 {
			fmt.Printf("  %s failed:    %d\n", bulletSymbol, stats.Failed)
		}
		if stats.Dropped > 0 {
			fmt.Printf("  %s dropped:   %d\n", bulletSymbol, stats.Dropped)
		}
	}
}
