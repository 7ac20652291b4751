package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/wstool/internal/connection"
	"github.com/rickgao/wstool/internal/model"
	"github.com/rickgao/wstool/internal/store"
)

// fakeStore is an in-memory ConfigSource.
type fakeStore struct {
	mu       sync.Mutex
	configs  map[string]model.ConnectionConfig
	statuses map[string]model.ConfigStatus
	messages []model.Message

	limit, offset int
}

func newFakeStore(configs ...model.ConnectionConfig) *fakeStore {
	s := &fakeStore{
		configs:  make(map[string]model.ConnectionConfig),
		statuses: make(map[string]model.ConfigStatus),
	}
	for _, c := range configs {
		s.configs[c.ID] = c
	}
	return s
}

func (s *fakeStore) Get(_ context.Context, id string) (model.ConnectionConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.configs[id]
	if !ok {
		return model.ConnectionConfig{}, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return c, nil
}

func (s *fakeStore) SetStatus(_ context.Context, id string, status model.ConfigStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.configs[id]; !ok {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	s.statuses[id] = status
	return nil
}

func (s *fakeStore) status(id string) model.ConfigStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[id]
}

func (s *fakeStore) Messages(_ context.Context, _ string, limit, offset int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limit, s.offset = limit, offset
	return s.messages, nil
}

func (s *fakeStore) CountMessages(context.Context, string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.messages)), nil
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type sinkRecorder struct {
	mu   sync.Mutex
	msgs []model.Message
}

func (s *sinkRecorder) Record(m model.Message) {
	s.mu.Lock()
	s.msgs = append(s.msgs, m)
	s.mu.Unlock()
}

func (s *sinkRecorder) all() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.msgs...)
}

type reply struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// wsBackend is a WebSocket endpoint that echoes frames and, when ticking,
// pushes a JSON event every 10ms.
func wsBackend(t *testing.T, ticking bool) (string, <-chan string) {
	t.Helper()
	received := make(chan string, 16)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if ticking {
			go func() {
				for {
					if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"tick"}`)); err != nil {
						return
					}
					time.Sleep(10 * time.Millisecond)
				}
			}()
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case received <- string(data):
			default:
			}
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http"), received
}

func testConnConfig() connection.Config {
	cfg := connection.DefaultConfig()
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.ProbeResponseTimeout = time.Second
	cfg.ReconnectBaseWait = 10 * time.Millisecond
	cfg.PingInterval = -1
	return cfg
}

type harness struct {
	srv      *httptest.Server
	store    *fakeStore
	sink     *sinkRecorder
	registry *connection.Registry
}

func newHarness(t *testing.T, st *fakeStore, opts ...Option) *harness {
	t.Helper()
	cfg := testConnConfig()
	reg := connection.NewRegistry(cfg, nil)
	sink := &sinkRecorder{}

	opts = append([]Option{WithSink(sink), WithKeepAlive(50 * time.Millisecond)}, opts...)
	api := New(reg, connection.NewProber(cfg, nil, nil), st, nil, opts...)
	srv := httptest.NewServer(api.Handler())

	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = reg.Close(ctx)
	})
	return &harness{srv: srv, store: st, sink: sink, registry: reg}
}

func (h *harness) do(t *testing.T, method, path string, body any) (int, reply) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out reply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	h := newHarness(t, newFakeStore(), WithPinger(pingerFunc(func(context.Context) error { return nil })))

	code, body := h.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, body.Success)

	var health healthResponse
	require.NoError(t, json.Unmarshal(body.Data, &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "connected", health.Database)
	assert.Equal(t, 0, health.Connections)
}

func TestHealth_DatabaseDown(t *testing.T) {
	h := newHarness(t, newFakeStore(), WithPinger(pingerFunc(func(context.Context) error {
		return errors.New("connection refused")
	})))

	code, body := h.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, body.Success)
}

func TestProbeEndpoint(t *testing.T) {
	url, _ := wsBackend(t, false)
	h := newHarness(t, newFakeStore())

	code, body := h.do(t, http.MethodPost, "/websocket/test", map[string]any{
		"ws_url":  url,
		"headers": `{"X-Test":"1"}`,
	})
	require.Equal(t, http.StatusOK, code)

	var res testResponse
	require.NoError(t, json.Unmarshal(body.Data, &res))
	assert.True(t, res.Success)
	assert.Equal(t, "Connection successful", res.Message)
	assert.GreaterOrEqual(t, res.ElapsedMS, int64(0))
}

func TestProbeEndpoint_Validation(t *testing.T) {
	h := newHarness(t, newFakeStore())

	code, body := h.do(t, http.MethodPost, "/websocket/test", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body.Message, "ws_url")

	code, body = h.do(t, http.MethodPost, "/websocket/test", map[string]any{"ws_url": "ws://127.0.0.1:1/none"})
	require.Equal(t, http.StatusOK, code)
	var res testResponse
	require.NoError(t, json.Unmarshal(body.Data, &res))
	assert.False(t, res.Success)
	assert.True(t, strings.HasPrefix(res.Message, "Connection failed"))
}

func TestSend_ConnectsOnDemand(t *testing.T) {
	url, received := wsBackend(t, false)
	st := newFakeStore(model.ConnectionConfig{ID: "s1", URL: url, Kind: model.KindSender})
	h := newHarness(t, st)

	code, body := h.do(t, http.MethodPost, "/websocket/send", sendRequest{ConfigID: "s1", Message: "hello"})
	require.Equal(t, http.StatusOK, code, body.Message)
	assert.True(t, body.Success)

	select {
	case got := <-received:
		assert.Equal(t, "hello", got)
	case <-time.After(2 * time.Second):
		t.Fatal("backend never received the message")
	}
	assert.Equal(t, model.StatusActive, st.status("s1"))
}

func TestSend_Errors(t *testing.T) {
	subURL, _ := wsBackend(t, false)
	st := newFakeStore(
		model.ConnectionConfig{ID: "sub", URL: subURL, Kind: model.KindSubscriber},
		model.ConnectionConfig{ID: "down", URL: "ws://127.0.0.1:1/none", Kind: model.KindSender},
		model.ConnectionConfig{ID: "empty", URL: subURL, Kind: model.KindSender},
	)
	h := newHarness(t, st)

	code, _ := h.do(t, http.MethodPost, "/websocket/send", sendRequest{ConfigID: "missing", Message: "x"})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = h.do(t, http.MethodPost, "/websocket/send", sendRequest{ConfigID: "sub", Message: "x"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(t, http.MethodPost, "/websocket/send", sendRequest{ConfigID: "empty"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := h.do(t, http.MethodPost, "/websocket/send", sendRequest{ConfigID: "down", Message: "lost"})
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, body.Success)
	assert.Equal(t, model.StatusError, st.status("down"))

	recorded := h.sink.all()
	require.Len(t, recorded, 1)
	assert.Equal(t, model.MessageFailed, recorded[0].Status)
	assert.Equal(t, "lost", recorded[0].Content)
	assert.NotEmpty(t, recorded[0].Error)
}

func TestSubscribeStatusStop(t *testing.T) {
	url, _ := wsBackend(t, false)
	st := newFakeStore(model.ConnectionConfig{ID: "feed", URL: url, Kind: model.KindSubscriber})
	h := newHarness(t, st)

	code, body := h.do(t, http.MethodPost, "/websocket/subscribe", subscribeRequest{ConfigID: "feed"})
	require.Equal(t, http.StatusOK, code, body.Message)
	assert.Equal(t, model.StatusActive, st.status("feed"))

	code, body = h.do(t, http.MethodGet, "/websocket/status/feed", nil)
	require.Equal(t, http.StatusOK, code)
	var info map[string]any
	require.NoError(t, json.Unmarshal(body.Data, &info))
	assert.Equal(t, "connected", info["state"])
	assert.Equal(t, "subscriber", info["config_type"])

	code, body = h.do(t, http.MethodGet, "/websocket/status", nil)
	require.Equal(t, http.StatusOK, code)
	var all map[string]any
	require.NoError(t, json.Unmarshal(body.Data, &all))
	assert.Contains(t, all, "feed")

	code, _ = h.do(t, http.MethodPost, "/websocket/unsubscribe/feed", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.StatusInactive, st.status("feed"))

	code, _ = h.do(t, http.MethodGet, "/websocket/status/feed", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSubscribe_WrongKind(t *testing.T) {
	url, _ := wsBackend(t, false)
	st := newFakeStore(model.ConnectionConfig{ID: "snd", URL: url, Kind: model.KindSender})
	h := newHarness(t, st)

	code, _ := h.do(t, http.MethodPost, "/websocket/subscribe", subscribeRequest{ConfigID: "snd"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStartAndReconnect(t *testing.T) {
	url, _ := wsBackend(t, false)
	st := newFakeStore(model.ConnectionConfig{ID: "c1", URL: url, Kind: model.KindSender})
	h := newHarness(t, st)

	code, body := h.do(t, http.MethodPost, "/websocket/start/c1", nil)
	require.Equal(t, http.StatusOK, code, body.Message)

	code, body = h.do(t, http.MethodPost, "/websocket/reconnect/c1", nil)
	require.Equal(t, http.StatusOK, code, body.Message)
	assert.Equal(t, model.StatusActive, st.status("c1"))

	code, _ = h.do(t, http.MethodPost, "/websocket/stop/c1", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, h.registry.Len())

	code, _ = h.do(t, http.MethodPost, "/websocket/start/nope", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStart_ConnectFailed(t *testing.T) {
	st := newFakeStore(model.ConnectionConfig{ID: "down", URL: "ws://127.0.0.1:1/none", Kind: model.KindSubscriber})
	h := newHarness(t, st)

	code, body := h.do(t, http.MethodPost, "/websocket/start/down", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body.Message, "connect failed")
	assert.Equal(t, model.StatusError, st.status("down"))
}

func TestMessagesPaging(t *testing.T) {
	st := newFakeStore()
	st.messages = []model.Message{{ConnectionID: "c1", Content: "a", Direction: model.DirectionSent}}
	h := newHarness(t, st)

	code, body := h.do(t, http.MethodGet, "/websocket/messages/c1?page=2&limit=500", nil)
	require.Equal(t, http.StatusOK, code)

	var page messagePage
	require.NoError(t, json.Unmarshal(body.Data, &page))
	assert.Equal(t, 100, page.Limit)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, int64(1), page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, 100, st.limit)
	assert.Equal(t, 100, st.offset)

	code, _ = h.do(t, http.MethodGet, "/websocket/messages/c1?page=0", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = h.do(t, http.MethodGet, "/websocket/messages/c1?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStream(t *testing.T) {
	url, _ := wsBackend(t, true)
	st := newFakeStore(model.ConnectionConfig{ID: "live", URL: url, Kind: model.KindSubscriber})
	h := newHarness(t, st)

	code, body := h.do(t, http.MethodPost, "/websocket/subscribe", subscribeRequest{ConfigID: "live"})
	require.Equal(t, http.StatusOK, code, body.Message)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.srv.URL+"/websocket/stream/live", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			event = strings.TrimPrefix(line, "event: ")
		}
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	require.Equal(t, "tick", event)

	var msg model.Message
	require.NoError(t, json.Unmarshal([]byte(data), &msg))
	assert.Equal(t, "live", msg.ConnectionID)
	assert.Equal(t, model.DirectionReceived, msg.Direction)
}

func TestStream_NotConnected(t *testing.T) {
	h := newHarness(t, newFakeStore())

	code, _ := h.do(t, http.MethodGet, "/websocket/stream/ghost", nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t, newFakeStore())

	req, err := http.NewRequest(http.MethodOptions, h.srv.URL+"/websocket/send", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", store.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", connection.ErrWrongConnectionKind), http.StatusBadRequest},
		{fmt.Errorf("x: %w", connection.ErrInvalidConfig), http.StatusBadRequest},
		{fmt.Errorf("x: %w", connection.ErrNotConnected), http.StatusConflict},
		{fmt.Errorf("x: %w", connection.ErrConnectFailed), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
