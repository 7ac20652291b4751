package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/wstool/internal/metrics"
)

// ProbeRequest describes a one-shot connectivity check.
type ProbeRequest struct {
	URL       string            `json:"ws_url"`
	Headers   map[string]string `json:"headers,omitempty"`
	AuthToken string            `json:"auth_token,omitempty"`
	Message   string            `json:"test_message,omitempty"` // empty: handshake only
}

// ProbeResult is the outcome of Prober.Test.
type ProbeResult struct {
	Success  bool          `json:"success"`
	Message  string        `json:"message"`
	Elapsed  time.Duration `json:"-"` // handshake latency
	Received string        `json:"received,omitempty"`
}

// ElapsedMillis returns the handshake latency in milliseconds.
func (r ProbeResult) ElapsedMillis() int64 {
	return r.Elapsed.Milliseconds()
}

// Prober runs connectivity checks that never touch a Registry.
type Prober struct {
	cfg     Config
	logger  *slog.Logger
	metrics metrics.Collector
}

// NewProber creates a prober. A nil collector disables metrics; zero fields
// of cfg take their DefaultConfig values.
func NewProber(cfg Config, logger *slog.Logger, collector metrics.Collector) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = metrics.Noop()
	}
	return &Prober{cfg: cfg.withDefaults(), logger: logger, metrics: collector}
}

// Test connects to req.URL and, when req.Message is set, sends it and waits
// for one frame. A peer that stays silent past the response timeout still
// counts as reachable. The socket is always released before Test returns.
func (p *Prober) Test(ctx context.Context, req ProbeRequest) ProbeResult {
	res := p.test(ctx, req)

	outcome := "failure"
	if res.Success {
		outcome = "success"
	}
	p.metrics.IncProbes(outcome)
	p.logger.Info("probe finished",
		"url", req.URL,
		"success", res.Success,
		"elapsed_ms", res.ElapsedMillis(),
	)
	return res
}

func (p *Prober) test(ctx context.Context, req ProbeRequest) ProbeResult {
	start := time.Now()
	conn, err := dial(ctx, req.URL, buildHeader(req.Headers, req.AuthToken), p.cfg.HandshakeTimeout)
	elapsed := time.Since(start)
	if err != nil {
		return ProbeResult{
			Message: fmt.Sprintf("Connection failed: %v", err),
			Elapsed: elapsed,
		}
	}
	defer closeSocket(conn)

	if req.Message == "" {
		return ProbeResult{Success: true, Message: "Connection successful", Elapsed: elapsed}
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	_ = conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(req.Message)); err != nil {
		return ProbeResult{
			Message: fmt.Sprintf("Failed to send test message: %v", err),
			Elapsed: elapsed,
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(p.cfg.ProbeResponseTimeout))
	msgType, data, err := conn.ReadMessage()

	var closeErr *websocket.CloseError
	switch {
	case err == nil && msgType == websocket.TextMessage:
		return ProbeResult{
			Success:  true,
			Message:  "Connection successful, received: " + string(data),
			Elapsed:  elapsed,
			Received: string(data),
		}
	case err == nil:
		return ProbeResult{Success: true, Message: "Connection successful, received non-text message", Elapsed: elapsed}
	case ctx.Err() != nil:
		return ProbeResult{Message: fmt.Sprintf("Probe cancelled: %v", ctx.Err()), Elapsed: elapsed}
	case isTimeout(err):
		return ProbeResult{Success: true, Message: "Connection successful, no response within timeout", Elapsed: elapsed}
	case errors.As(err, &closeErr):
		return ProbeResult{Message: "Connection closed unexpectedly", Elapsed: elapsed}
	default:
		return ProbeResult{Message: fmt.Sprintf("Connection error: %v", err), Elapsed: elapsed}
	}
}
