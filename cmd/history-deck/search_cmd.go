package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/asheshgoplani/history-deck/internal/history"
)

type searchJSON struct {
	Query     string                 `json:"query"`
	Scope     string                 `json:"scope"`
	Scanned   int                    `json:"scanned"`
	TotalHits int                    `json:"totalHits"`
	Sessions  []*history.SessionHits `json:"sessions"`
}

// handleSearch runs a one-shot search over session files. Ctrl+C cancels the
// scan; a cancelled search exits with code 130 and prints nothing.
func handleSearch(rootOverride string, args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	scopeFlag := fs.String("scope", "", "Date scope: YYYY, YYYY-MM, or YYYY-MM-DD")
	project := fs.String("project", "", "Only sessions recorded in this working directory")
	maxResults := fs.Int("max", 0, "Maximum total hits (0 = config default)")
	caseSensitive := fs.Bool("case", false, "Case-sensitive matching")
	jsonOutput := fs.Bool("json", false, "Output as JSON")

	fs.Usage = func() {
		fmt.Println("Usage: history-deck search <query> [options]")
		fmt.Println()
		fmt.Println("Search conversation text across all indexed sessions.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  history-deck search \"deploy\"")
		fmt.Println("  history-deck search \"race condition\" -scope 2024-05 -max 20")
		fmt.Println("  history-deck search TODO -case -json")
	}

	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		os.Exit(1)
	}

	out := NewCLIOutput(*jsonOutput, false)

	query := fs.Arg(0)
	if query == "" {
		out.Error("search query is required", ErrCodeInvalidOperation)
		if !*jsonOutput {
			fs.Usage()
		}
		os.Exit(1)
	}

	scope, err := history.ParseScope(*scopeFlag)
	if err != nil {
		out.Error(err.Error(), ErrCodeInvalidOperation)
		os.Exit(1)
	}

	cfg := loadConfigWithRoot(rootOverride)
	refresher, err := history.NewRefresher(cfg)
	if err != nil {
		out.Error(err.Error(), ErrCodeInvalidOperation)
		os.Exit(1)
	}

	// Ctrl+C cancels the context so a long scan stops promptly
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	idx, err := refresher.Refresh(ctx, false)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		out.Error(fmt.Sprintf("failed to build index: %v", err), ErrCodeInvalidOperation)
		os.Exit(1)
	}

	candidates := history.FilterCandidates(idx.Sessions, scope, *project)
	opts := history.SearchOptions{
		MaxResults:    *maxResults,
		CaseSensitive: *caseSensitive,
	}
	if opts.MaxResults == 0 {
		opts.MaxResults = cfg.MaxResults()
	}

	// Live progress on stderr when attached to a terminal
	var progress history.ProgressFunc
	showProgress := !*jsonOutput && term.IsTerminal(int(os.Stderr.Fd()))
	if showProgress {
		progress = func(scanned, total int) {
			fmt.Fprintf(os.Stderr, "\rscanning %d/%d", scanned, total)
		}
	}

	res, err := history.Search(ctx, candidates, query, scope, opts, progress)
	if showProgress {
		fmt.Fprint(os.Stderr, "\r")
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		out.Error(fmt.Sprintf("search failed: %v", err), ErrCodeInvalidOperation)
		os.Exit(1)
	}

	if *jsonOutput {
		out.Print("", searchJSON{
			Query:     res.Query,
			Scope:     res.Scope.String(),
			Scanned:   res.Scanned,
			TotalHits: res.TotalHits,
			Sessions:  res.PerSession,
		})
		return
	}

	if res.TotalHits == 0 {
		fmt.Printf("No matches for %q (scanned %d files)\n", query, res.Scanned)
		return
	}

	fmt.Printf("%d hits in %d sessions (scanned %d files)\n",
		res.TotalHits, len(res.PerSession), res.Scanned)

	for _, sh := range res.PerSession {
		s := sh.Summary
		title := s.Snippet
		if title == "" {
			title = s.Meta.ID
		}
		fmt.Printf("\n%s %s  %s  %s\n", s.LocalDate, s.TimeLabel,
			truncate(title, tableColSnippet), s.CWDShort)
		for _, hit := range sh.Hits {
			fmt.Printf("  #%d %s: %s\n", hit.DisplayIndex, hit.Role, hit.Snippet)
		}
	}
}
