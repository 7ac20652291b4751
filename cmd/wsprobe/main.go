// wsprobe runs a one-shot connectivity check against a WebSocket endpoint.
// Usage: go run ./cmd/wsprobe --url wss://example.com/ws --message '{"op":"ping"}'
//
// Exits non-zero when the probe fails.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/wstool/internal/connection"
	"github.com/rickgao/wstool/internal/model"
)

func main() {
	url := flag.String("url", "", "ws:// or wss:// endpoint to probe")
	headers := flag.String("headers", "", `extra handshake headers as a JSON object, e.g. {"X-Api-Key":"..."}`)
	token := flag.String("token", "", "auth token; sent as a Bearer Authorization header")
	message := flag.String("message", "", "text frame to send after the handshake")
	handshake := flag.Duration("handshake-timeout", 10*time.Second, "handshake timeout")
	wait := flag.Duration("wait", 5*time.Second, "how long to wait for a reply to --message")
	verbose := flag.Bool("verbose", false, "debug logging")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *url == "" {
		logger.Error("--url is required")
		flag.Usage()
		os.Exit(2)
	}

	hdrs, err := model.ParseHeaders(*headers)
	if err != nil {
		logger.Error("invalid --headers", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := connection.DefaultConfig()
	cfg.HandshakeTimeout = *handshake
	cfg.ProbeResponseTimeout = *wait

	res := connection.NewProber(cfg, logger, nil).Test(ctx, connection.ProbeRequest{
		URL:       *url,
		Headers:   hdrs,
		AuthToken: *token,
		Message:   *message,
	})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(struct {
		connection.ProbeResult
		ElapsedMS int64 `json:"elapsed_ms"`
	}{res, res.ElapsedMillis()})

	if !res.Success {
		stop()
		os.Exit(1)
	}
}
