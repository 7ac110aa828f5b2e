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
	"github.com/asheshgoplani/history-deck/internal/web"
)

// handleServe runs the HTTP/websocket API server until interrupted.
func handleServe(rootOverride string, args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", "", "Listen address (default from config, 127.0.0.1:8460)")
	token := fs.String("token", "", "Require this bearer token on API requests")

	fs.Usage = func() {
		fmt.Println("Usage: history-deck serve [options]")
		fmt.Println()
		fmt.Println("Serve the session index and search over HTTP.")
		fmt.Println()
		fmt.Println("Endpoints:")
		fmt.Println("  GET /healthz            Liveness probe")
		fmt.Println("  GET /api/index          Full session index")
		fmt.Println("  GET /api/search?q=...   One-shot search")
		fmt.Println("  GET /ws/search          Streaming search over websocket")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  history-deck serve")
		fmt.Println("  history-deck serve -addr 0.0.0.0:8460 -token s3cret")
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

	listenAddr := *addr
	if listenAddr == "" {
		listenAddr = cfg.ListenAddr()
	}
	authToken := *token
	if authToken == "" {
		authToken = cfg.Web.AuthToken
	}

	srv := web.NewServer(web.Config{
		ListenAddr: listenAddr,
		Token:      authToken,
	}, refresher)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: shutdown: %v\n", err)
			os.Exit(1)
		}
	}()

	fmt.Printf("%s Serving session history on http://%s\n", successSymbol, srv.Addr())
	fmt.Printf("  %s root:  %s\n", bulletSymbol, refresher.Root())
	if authToken != "" {
		fmt.Printf("  %s auth:  bearer token required\n", bulletSymbol)
	}

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
