package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/asheshgoplani/history-deck/internal/history"
	"github.com/asheshgoplani/history-deck/internal/logging"
	"github.com/asheshgoplani/history-deck/internal/ui"
)

const Version = "0.3.1"

// init sets up color profile for consistent terminal colors across environments
func init() {
	initColorProfile()
}

// initColorProfile configures lipgloss color profile based on terminal
// capabilities. Prefers TrueColor, falls back to ANSI256.
func initColorProfile() {
	// HISTORYDECK_COLOR: truecolor, 256, 16, none
	if colorEnv := os.Getenv("HISTORYDECK_COLOR"); colorEnv != "" {
		switch strings.ToLower(colorEnv) {
		case "truecolor", "true", "24bit":
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		case "256", "ansi256":
			lipgloss.SetColorProfile(termenv.ANSI256)
			return
		case "16", "ansi", "basic":
			lipgloss.SetColorProfile(termenv.ANSI)
			return
		case "none", "off", "ascii":
			lipgloss.SetColorProfile(termenv.Ascii)
			return
		}
	}

	colorTerm := os.Getenv("COLORTERM")
	if colorTerm == "truecolor" || colorTerm == "24bit" {
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}

	termName := os.Getenv("TERM")
	trueColorTerms := []string{
		"xterm-256color",
		"screen-256color",
		"tmux-256color",
		"xterm-direct",
		"alacritty",
		"kitty",
		"wezterm",
	}
	for _, t := range trueColorTerms {
		if strings.Contains(termName, t) || termName == t {
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		}
	}

	if os.Getenv("WT_SESSION") != "" ||
		os.Getenv("ITERM_SESSION_ID") != "" ||
		os.Getenv("TERMINAL_EMULATOR") != "" ||
		os.Getenv("KONSOLE_VERSION") != "" {
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}

	lipgloss.SetColorProfile(termenv.ANSI256)
}

func main() {
	// Extract global -root/--root flag before subcommand dispatch
	rootOverride, args := extractRootFlag(os.Args[1:])

	if len(args) > 0 {
		switch args[0] {
		case "version", "--version", "-v":
			fmt.Printf("History Deck v%s\n", Version)
			return
		case "help", "--help", "-h":
			printHelp()
			return
		case "list", "ls":
			handleList(rootOverride, args[1:])
			return
		case "search":
			handleSearch(rootOverride, args[1:])
			return
		case "index":
			handleIndex(rootOverride, args[1:])
			return
		case "watch":
			handleWatch(rootOverride, args[1:])
			return
		case "serve":
			handleServe(rootOverride, args[1:])
			return
		}
	}

	runTUI(rootOverride)
}

// loadConfigWithRoot loads the user config and applies a -root override
// without persisting it.
func loadConfigWithRoot(rootOverride string) *history.UserConfig {
	cfg, err := history.LoadUserConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: config error, using defaults: %v\n", err)
	}
	if rootOverride != "" {
		override := *cfg
		override.Sessions.Root = rootOverride
		cfg = &override
	}
	return cfg
}

// setupLogging initializes structured logging. When HISTORYDECK_DEBUG is set,
// logs go to ~/.history-deck/debug.log; otherwise they are discarded so the
// TUI stays clean. Returns the base dir for the SIGUSR1 dump path.
func setupLogging(cfg *history.UserConfig) string {
	baseDir, err := history.GetHistoryDeckDir()
	if err != nil {
		return ""
	}

	debugMode := os.Getenv("HISTORYDECK_DEBUG") != ""
	logCfg := logging.Config{
		Debug:                 debugMode,
		LogDir:                baseDir,
		Level:                 "debug",
		Format:                "json",
		MaxSizeMB:             10,
		MaxBackups:            5,
		MaxAgeDays:            10,
		Compress:              true,
		RingBufferSize:        4 * 1024 * 1024,
		AggregateIntervalSecs: 30,
	}

	ls := cfg.Logs
	if ls.DebugLevel != "" {
		logCfg.Level = ls.DebugLevel
	}
	if ls.DebugFormat != "" {
		logCfg.Format = ls.DebugFormat
	}
	if ls.DebugMaxMB > 0 {
		logCfg.MaxSizeMB = ls.DebugMaxMB
	}
	if ls.DebugBackups > 0 {
		logCfg.MaxBackups = ls.DebugBackups
	}
	if ls.DebugRetentionDays > 0 {
		logCfg.MaxAgeDays = ls.DebugRetentionDays
	}
	if ls.DebugCompress {
		logCfg.Compress = ls.DebugCompress
	}
	if ls.RingBufferMB > 0 {
		logCfg.RingBufferSize = ls.RingBufferMB * 1024 * 1024
	}
	if ls.AggregateIntervalS > 0 {
		logCfg.AggregateIntervalSecs = ls.AggregateIntervalS
	}

	logging.Init(logCfg)

	// SIGUSR1 dumps the ring buffer for post-mortem debugging
	usr1Chan := make(chan os.Signal, 1)
	signal.Notify(usr1Chan, syscall.SIGUSR1)
	go func() {
		for range usr1Chan {
			dumpPath := filepath.Join(baseDir, fmt.Sprintf("crash-dump-%d.jsonl", time.Now().Unix()))
			if err := logging.DumpRingBuffer(dumpPath); err != nil {
				logging.ForComponent(logging.CompCLI).Error("crash_dump_failed",
					slog.String("error", err.Error()))
			} else {
				logging.ForComponent(logging.CompCLI).Info("crash_dump_written",
					slog.String("path", dumpPath))
			}
		}
	}()

	return baseDir
}

func runTUI(rootOverride string) {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stderr, "Error: the interactive browser needs a terminal")
		fmt.Fprintln(os.Stderr)
		printHelp()
		os.Exit(1)
	}

	cfg := loadConfigWithRoot(rootOverride)
	setupLogging(cfg)
	defer logging.Shutdown()

	ui.InitTheme(history.ResolveTheme())

	refresher, err := history.NewRefresher(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	browser := ui.NewBrowser(cfg, refresher)
	p := tea.NewProgram(browser, tea.WithAltScreen())

	// Live refresh while the browser is open. Watch setup failure is not
	// fatal; manual refresh still works.
	watcher, err := history.NewWatcher(refresher.Root(), cfg.WatchDebounce(), cfg.WatchMaxRefreshPerSec(), func() {
		p.Send(ui.WatchRefreshMsg{})
	})
	if err == nil {
		if startErr := watcher.Start(); startErr == nil {
			defer watcher.Stop()
		}
	}

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// extractRootFlag extracts -root or --root from args, returning the override
// and remaining args. A global flag so it works before any subcommand.
func extractRootFlag(args []string) (string, []string) {
	var root string
	var remaining []string

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-root=") {
			root = strings.TrimPrefix(arg, "-root=")
			continue
		}
		if strings.HasPrefix(arg, "--root=") {
			root = strings.TrimPrefix(arg, "--root=")
			continue
		}
		if arg == "-root" || arg == "--root" {
			if i+1 < len(args) {
				root = args[i+1]
				i++
				continue
			}
		}

		remaining = append(remaining, arg)
	}

	return root, remaining
}

func printHelp() {
	fmt.Println("History Deck - browse and search CLI session history")
	fmt.Println()
	fmt.Println("Usage: history-deck [-root DIR] [command]")
	fmt.Println()
	fmt.Println("Running with no command opens the interactive browser.")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  list      List indexed sessions")
	fmt.Println("  search    Search conversation text")
	fmt.Println("  index     Rebuild the session index cache")
	fmt.Println("  watch     Watch the sessions directory and keep the index fresh")
	fmt.Println("  serve     Serve the index and search over HTTP")
	fmt.Println("  version   Print version")
	fmt.Println("  help      Show this help")
	fmt.Println()
	fmt.Println("Global options:")
	fmt.Println("  -root DIR   Override the sessions root directory")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  history-deck                          # Open the browser")
	fmt.Println("  history-deck list -scope 2024-05")
	fmt.Println("  history-deck search \"deploy\" -max 20")
	fmt.Println("  history-deck -root /tmp/sessions index -force")
	fmt.Println("  history-deck serve -addr 127.0.0.1:8460")
	fmt.Println()
	fmt.Println("Run 'history-deck <command> -h' for command-specific options.")
}
