package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/wstool/internal/model"
)

// mockWSServer creates a test WebSocket server. handshakes counts upgrade
// requests as they arrive.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	var handshakes atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handshakes.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(server.Close)

	return server, &handshakes
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// drain keeps a server-side connection open until the client goes away.
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func testConfig() Config {
	return Config{
		HandshakeTimeout:     2 * time.Second,
		WriteTimeout:         time.Second,
		ReadTimeout:          5 * time.Second,
		ProbeResponseTimeout: 5 * time.Second,
		ReconnectBaseWait:    10 * time.Millisecond,
		ReconnectMaxWait:     50 * time.Millisecond,
		ReconnectAttempts:    3,
		SendBufferSize:       16,
	}
}

func newTestRegistry(t *testing.T, cfg Config, opts ...Option) *Registry {
	t.Helper()
	r := NewRegistry(cfg, nil, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Close(ctx)
	})
	return r
}

func connConfig(id, url string, kind model.Kind) model.ConnectionConfig {
	return model.ConnectionConfig{
		ID:   id,
		Name: id,
		URL:  url,
		Kind: kind,
	}
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type recordingSink struct {
	mu   sync.Mutex
	msgs []model.Message
}

func (s *recordingSink) Record(msg model.Message) {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
}

func (s *recordingSink) byDirection(d model.Direction) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, m := range s.msgs {
		if m.Direction == d {
			out = append(out, m)
		}
	}
	return out
}
