package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tabcast/relay/internal/config"
	"github.com/tabcast/relay/internal/metrics"
	"github.com/tabcast/relay/internal/session"
)

// viewer bridges one WebSocket connection to the command queue (inbound)
// and to a bus subscription (outbound).
type viewer struct {
	id      string
	conn    *websocket.Conn
	sub     *session.Subscription
	queue   *session.Queue
	limiter *rate.Limiter
	cfg     config.ViewerConfig
	metrics *metrics.Collector
	logger  *log.Logger

	// Written by the write pump only.
	sentURL string
	sentSeq uint64
}

func newViewer(conn *websocket.Conn, bus *session.Bus, queue *session.Queue, cfg config.ViewerConfig, m *metrics.Collector, logger *log.Logger) *viewer {
	id := uuid.NewString()
	limit := rate.Inf
	if cfg.CommandsPerSecond > 0 {
		limit = rate.Limit(cfg.CommandsPerSecond)
	}
	return &viewer{
		id:      id,
		conn:    conn,
		sub:     bus.Subscribe(),
		queue:   queue,
		limiter: rate.NewLimiter(limit, max(cfg.CommandBurst, 1)),
		cfg:     cfg,
		metrics: m,
		logger:  logger.With("viewer", id[:8]),
	}
}

func (v *viewer) Prime() {
	v.sub.Prime()
}

// run serves the connection until the peer goes away, a write fails, the
// session ends or ctx is cancelled. It closes the connection and the
// subscription before returning.
func (v *viewer) run(ctx context.Context) {
	defer v.sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		v.readPump()
	}()

	v.writePump(ctx, done)
	v.conn.Close()
	<-done
}

func (v *viewer) readPump() {
	if v.cfg.MaxMessageBytes > 0 {
		v.conn.SetReadLimit(v.cfg.MaxMessageBytes)
	}
	v.extendReadDeadline()
	v.conn.SetPongHandler(func(string) error {
		v.extendReadDeadline()
		return nil
	})

	for {
		typ, data, err := v.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				v.logger.Debug("read failed", "err", err)
			}
			return
		}
		if typ != websocket.TextMessage {
			v.logger.Debug("ignoring non-text message", "type", typ)
			continue
		}
		v.handleMessage(data)
	}
}

func (v *viewer) handleMessage(data []byte) {
	cmd, err := decodeCommand(data)
	if err != nil {
		v.logger.Warn("ignoring message", "err", err)
		v.metrics.CommandDropped(metrics.DropMalformed)
		return
	}
	if !v.limiter.Allow() {
		v.logger.Debug("rate limited", "cmd", cmd)
		v.metrics.CommandDropped(metrics.DropRateLimited)
		return
	}
	if !v.queue.TryEnqueue(cmd) {
		v.logger.Debug("queue full, dropping", "cmd", cmd)
		v.metrics.CommandDropped(metrics.DropQueueFull)
	}
}

func (v *viewer) extendReadDeadline() {
	if v.cfg.PongTimeout > 0 {
		_ = v.conn.SetReadDeadline(time.Now().Add(v.cfg.PongTimeout))
	}
}

func (v *viewer) writePump(ctx context.Context, done <-chan struct{}) {
	interval := v.cfg.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Shutdown often follows the session ending; report how it ended.
			if _, _, busErr := v.sub.Next(); busErr != nil {
				v.finish(busErr)
				return
			}
			v.writeClose(websocket.CloseGoingAway, "server shutting down")
			return
		case <-done:
			return
		case <-v.sub.Ready():
			st, ok, busErr := v.sub.Next()
			if ok {
				if err := v.push(st); err != nil {
					v.logger.Debug("write failed", "err", err)
					return
				}
			}
			if busErr != nil {
				v.finish(busErr)
				return
			}
		case <-ticker.C:
			v.setWriteDeadline()
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				v.logger.Debug("ping failed", "err", err)
				return
			}
		}
	}
}

// push writes what changed since the last push: the URL as a text message,
// then the frame as a binary message.
func (v *viewer) push(st session.State) error {
	if st.URL != "" && st.URL != v.sentURL {
		v.setWriteDeadline()
		if err := v.conn.WriteMessage(websocket.TextMessage, []byte(st.URL)); err != nil {
			return err
		}
		v.sentURL = st.URL
	}
	if st.HasFrame() && st.FrameSeq != v.sentSeq {
		v.setWriteDeadline()
		if err := v.conn.WriteMessage(websocket.BinaryMessage, st.Frame); err != nil {
			return err
		}
		v.sentSeq = st.FrameSeq
	}
	return nil
}

// finish tells the viewer the session is over and closes the connection.
func (v *viewer) finish(busErr error) {
	msg := statusMessage(busErr)
	if data, err := json.Marshal(msg); err == nil {
		v.setWriteDeadline()
		_ = v.conn.WriteMessage(websocket.TextMessage, data)
	}
	if errors.Is(busErr, session.ErrBusClosed) {
		v.writeClose(websocket.CloseGoingAway, "session closed")
		return
	}
	v.writeClose(websocket.CloseInternalServerErr, "browser session failed")
}

func (v *viewer) writeClose(code int, text string) {
	deadline := time.Now().Add(v.writeTimeout())
	_ = v.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}

func (v *viewer) setWriteDeadline() {
	_ = v.conn.SetWriteDeadline(time.Now().Add(v.writeTimeout()))
}

func (v *viewer) writeTimeout() time.Duration {
	if v.cfg.WriteTimeout > 0 {
		return v.cfg.WriteTimeout
	}
	return 10 * time.Second
}
