package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/asheshgoplani/history-deck/internal/history"
)

// Table column widths for list command output
const (
	tableColTime    = 8
	tableColSnippet = 48
	tableColCWD     = 28
)

// handleList prints indexed sessions, newest first, grouped by day.
func handleList(rootOverride string, args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	scopeFlag := fs.String("scope", "", "Date scope: YYYY, YYYY-MM, or YYYY-MM-DD")
	project := fs.String("project", "", "Only sessions recorded in this working directory")
	limit := fs.Int("limit", 0, "Maximum sessions to print (0 = all)")
	jsonOutput := fs.Bool("json", false, "Output as JSON")

	fs.Usage = func() {
		fmt.Println("Usage: history-deck list [options]")
		fmt.Println()
		fmt.Println("List indexed sessions, newest first.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  history-deck list")
		fmt.Println("  history-deck list -scope 2024-05")
		fmt.Println("  history-deck list -project /home/dev/proj -limit 10")
		fmt.Println("  history-deck list -json | jq '.[].localDate'")
	}

	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		os.Exit(1)
	}

	out := NewCLIOutput(*jsonOutput, false)

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

	idx, err := refresher.Refresh(context.Background(), false)
	if err != nil {
		out.Error(fmt.Sprintf("failed to build index: %v", err), ErrCodeInvalidOperation)
		os.Exit(1)
	}

	sessions := history.FilterCandidates(idx.Sessions, scope, *project)
	if *limit > 0 && len(sessions) > *limit {
		sessions = sessions[:*limit]
	}

	if *jsonOutput {
		out.Print("", sessions)
		return
	}

	if len(sessions) == 0 {
		fmt.Printf("No sessions found under %s\n", idx.Root)
		return
	}

	fmt.Printf("Root: %s\n", idx.Root)

	lastDate := ""
	for _, s := range sessions {
		if s.LocalDate != lastDate {
			lastDate = s.LocalDate
			fmt.Printf("\n%s\n", s.LocalDate)
		}

		snippet := s.Snippet
		if snippet == "" {
			snippet = s.Meta.ID
		}
		fmt.Printf("  %-*s %-*s %s\n",
			tableColTime, s.TimeLabel,
			tableColSnippet, truncate(snippet, tableColSnippet),
			truncate(s.CWDShort, tableColCWD))
	}

	fmt.Printf("\nTotal: %d sessions\n", len(sessions))
}
