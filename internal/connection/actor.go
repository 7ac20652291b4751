package connection

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/rickgao/wstool/internal/metrics"
	"github.com/rickgao/wstool/internal/model"
)

type outbound struct {
	content string
}

// actor owns one connection: its socket, its outbound queue and its info.
// Only the actor's goroutines touch the socket.
type actor struct {
	cfg     model.ConnectionConfig
	opts    Config
	header  http.Header
	sink    MessageSink
	metrics metrics.Collector
	logger  *slog.Logger
	now     func() time.Time
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	outbound chan outbound
	info     *sharedInfo
	fanout   *fanout
}

type actorDeps struct {
	opts    Config
	sink    MessageSink
	metrics metrics.Collector
	logger  *slog.Logger
	now     func() time.Time
}

func newActor(parent context.Context, cfg model.ConnectionConfig, deps actorDeps) *actor {
	ctx, cancel := context.WithCancel(parent)

	a := &actor{
		cfg:      cfg,
		opts:     deps.opts,
		header:   buildHeader(cfg.Headers, cfg.AuthToken),
		sink:     deps.sink,
		metrics:  deps.metrics,
		logger:   deps.logger.With("conn_id", cfg.ID, "kind", cfg.Kind),
		now:      deps.now,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		outbound: make(chan outbound, max(deps.opts.SendBufferSize, 1)),
		info: &sharedInfo{info: ConnectionInfo{
			ID:    cfg.ID,
			Kind:  cfg.Kind,
			State: StateDisconnected,
		}},
		fanout: newFanout(),
	}
	if deps.opts.SendRate > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(deps.opts.SendRate), max(int(deps.opts.SendRate), 1))
	}
	return a
}

// entry is the registry's view of the actor.
func (a *actor) entry() *entry {
	return &entry{
		kind:     a.cfg.Kind,
		template: a.cfg.MessageTemplate,
		cancel:   a.cancel,
		outbound: a.outbound,
		info:     a.info,
		fanout:   a.fanout,
		done:     a.done,
	}
}

// start performs the initial handshake and launches the loops. A failed
// initial handshake finishes the actor regardless of AutoReconnect.
func (a *actor) start(ctx context.Context) error {
	a.setState(StateConnecting)

	// The caller's context bounds the handshake, and so does the actor's.
	hctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(a.ctx, cancel)
	defer stop()

	conn, err := a.handshake(hctx)
	if err != nil {
		a.recordError(err)
		a.setState(StateError)
		a.logger.Warn("websocket connect failed", "url", a.cfg.URL, "error", err)
		a.finish()
		return err
	}

	go a.run(conn)
	return nil
}

func (a *actor) handshake(ctx context.Context) (*websocket.Conn, error) {
	start := time.Now()
	conn, err := dial(ctx, a.cfg.URL, a.header, a.opts.HandshakeTimeout)
	if err != nil {
		return nil, err
	}
	a.metrics.ObserveHandshake(a.cfg.ID, time.Since(start))

	connectedAt := a.now()
	a.info.update(func(i *ConnectionInfo) {
		i.State = StateConnected
		i.ConnectedAt = connectedAt
	})
	a.metrics.SetConnected(a.cfg.ID, true)
	a.logger.Info("websocket connected", "url", a.cfg.URL)
	return conn, nil
}

// run drives the actor until it stops, fails or exhausts reconnects.
func (a *actor) run(conn *websocket.Conn) {
	defer a.finish()

	for {
		err := a.serve(conn)

		switch {
		case a.ctx.Err() != nil:
			a.setState(StateDisconnected)
			a.logger.Info("websocket disconnected")
			return
		case errors.Is(err, errPeerClosed):
			a.setState(StateDisconnected)
			a.logger.Info("websocket closed by peer")
			return
		}

		a.recordError(err)
		if !a.cfg.AutoReconnect {
			a.setState(StateError)
			a.logger.Warn("websocket connection lost", "error", err)
			return
		}

		a.logger.Warn("websocket connection lost, reconnecting", "error", err)
		if conn = a.reconnect(); conn == nil {
			return
		}
	}
}

// serve runs the send and receive loops on one socket. It always returns a
// non-nil error describing why the socket stopped.
func (a *actor) serve(conn *websocket.Conn) error {
	g, ctx := errgroup.WithContext(a.ctx)

	var once sync.Once
	release := func() { once.Do(func() { closeSocket(conn) }) }

	g.Go(func() error { return a.sendLoop(ctx, conn) })
	g.Go(func() error { return a.receiveLoop(ctx, conn) })
	g.Go(func() error {
		// Unblocks ReadMessage once either loop has failed or we are stopping.
		<-ctx.Done()
		release()
		return ctx.Err()
	})

	err := g.Wait()
	release()
	return err
}

func (a *actor) sendLoop(ctx context.Context, conn *websocket.Conn) error {
	var ping <-chan time.Time
	if a.opts.PingInterval > 0 {
		ticker := time.NewTicker(a.opts.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ping:
			deadline := time.Now().Add(a.opts.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return fmt.Errorf("%w: ping: %v", ErrTransport, err)
			}

		case msg := <-a.outbound:
			if a.limiter != nil {
				if err := a.limiter.Wait(ctx); err != nil {
					a.recordSent(msg, err)
					return err
				}
			}
			if err := a.write(conn, msg); err != nil {
				return err
			}
		}
	}
}

func (a *actor) write(conn *websocket.Conn, msg outbound) error {
	_ = conn.SetWriteDeadline(time.Now().Add(a.opts.WriteTimeout))
	err := conn.WriteMessage(websocket.TextMessage, []byte(msg.content))
	a.recordSent(msg, err)
	if err != nil {
		return fmt.Errorf("%w: write: %v", ErrTransport, err)
	}
	return nil
}

func (a *actor) receiveLoop(ctx context.Context, conn *websocket.Conn) error {
	extend := func() error {
		if a.opts.ReadTimeout <= 0 {
			return nil
		}
		return conn.SetReadDeadline(time.Now().Add(a.opts.ReadTimeout))
	}
	_ = extend()

	conn.SetPongHandler(func(string) error { return extend() })
	conn.SetPingHandler(func(data string) error {
		_ = extend()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(a.opts.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return fmt.Errorf("%w: %v", errPeerClosed, err)
			}
			if isTimeout(err) {
				return fmt.Errorf("%w: %w: no frames for %s", ErrTransport, ErrTimeout, a.opts.ReadTimeout)
			}
			return fmt.Errorf("%w: read: %v", ErrTransport, err)
		}
		_ = extend()

		a.handleInbound(msgType, data)
	}
}

func (a *actor) handleInbound(msgType int, data []byte) {
	now := a.now()
	a.info.update(func(i *ConnectionInfo) {
		i.MessageCount++
		i.LastMessageAt = now
	})
	a.metrics.IncMessages(a.cfg.ID, string(model.DirectionReceived))

	var content string
	if msgType == websocket.TextMessage {
		content = string(data)
		if a.logger.Enabled(a.ctx, slog.LevelDebug) {
			a.logger.Debug("frame received", "bytes", len(data), "event", FrameEvent(content))
		}
	} else {
		content = base64.StdEncoding.EncodeToString(data)
		a.logger.Debug("binary frame received", "bytes", len(data))
	}

	msg := model.Message{
		ConnectionID: a.cfg.ID,
		Direction:    model.DirectionReceived,
		Content:      content,
		Timestamp:    now,
		Status:       model.MessageSuccess,
	}
	a.sink.Record(msg)
	a.fanout.publish(msg)
}

func (a *actor) recordSent(out outbound, err error) {
	msg := model.Message{
		ConnectionID: a.cfg.ID,
		Direction:    model.DirectionSent,
		Content:      out.content,
		Timestamp:    a.now(),
		Status:       model.MessageSuccess,
	}
	if err != nil {
		msg.Status = model.MessageFailed
		msg.Error = err.Error()
	} else {
		a.info.update(func(i *ConnectionInfo) { i.MessageCount++ })
		a.metrics.IncMessages(a.cfg.ID, string(model.DirectionSent))
	}
	a.sink.Record(msg)
}

// reconnect retries the handshake with exponential backoff. It returns nil
// when the actor was stopped or the attempts ran out.
func (a *actor) reconnect() *websocket.Conn {
	b := &backoff.Backoff{
		Min:    a.opts.ReconnectBaseWait,
		Max:    a.opts.ReconnectMaxWait,
		Factor: 2,
	}

	for attempt := 1; attempt <= a.opts.ReconnectAttempts; attempt++ {
		a.setState(StateReconnectPending)

		wait := b.Duration()
		timer := time.NewTimer(wait)
		select {
		case <-a.ctx.Done():
			timer.Stop()
			a.setState(StateDisconnected)
			return nil
		case <-timer.C:
		}

		a.setState(StateConnecting)
		a.metrics.IncReconnects(a.cfg.ID)
		a.logger.Info("attempting reconnection", "attempt", attempt, "waited", wait)

		conn, err := a.handshake(a.ctx)
		if err == nil {
			a.logger.Info("reconnected", "attempt", attempt)
			return conn
		}
		if a.ctx.Err() != nil {
			a.setState(StateDisconnected)
			return nil
		}

		a.recordError(err)
		a.logger.Warn("reconnection failed", "attempt", attempt, "error", err)
	}

	a.setState(StateError)
	a.logger.Error("reconnect attempts exhausted", "attempts", a.opts.ReconnectAttempts)
	return nil
}

func (a *actor) setState(s State) {
	a.info.update(func(i *ConnectionInfo) { i.State = s })
	a.metrics.SetConnected(a.cfg.ID, s == StateConnected)
}

func (a *actor) recordError(err error) {
	a.info.update(func(i *ConnectionInfo) {
		i.ErrorCount++
		i.LastError = err.Error()
	})
	a.metrics.IncErrors(a.cfg.ID)
}

// finish releases subscribers and marks the actor done. Called exactly once.
func (a *actor) finish() {
	a.fanout.close()
	a.cancel()
	close(a.done)
}
