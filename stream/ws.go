package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sightline/forensic/id"
	"github.com/sightline/forensic/job"
)

// SubscribeFunc opens a live result subscription for a job. When
// replay is true, previously stored results are delivered before live
// ones. The returned channel is closed when the subscription ends.
type SubscribeFunc func(ctx context.Context, jobID id.JobID, replay bool) (<-chan *job.Result, error)

// Bridge relays a job's result stream over a WebSocket connection.
// Each result is written as two messages: a text message carrying the
// metadata JSON, then a binary message with the raw frame bytes,
// empty when the result carries no frame.
type Bridge struct {
	subscribe SubscribeFunc
	logger    *slog.Logger
	upgrader  websocket.Upgrader

	writeTimeout time.Duration
	pingInterval time.Duration
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithWriteTimeout sets the per-message write deadline.
func WithWriteTimeout(d time.Duration) BridgeOption {
	return func(b *Bridge) { b.writeTimeout = d }
}

// WithPingInterval sets the keepalive ping interval.
func WithPingInterval(d time.Duration) BridgeOption {
	return func(b *Bridge) { b.pingInterval = d }
}

// NewBridge creates a WebSocket bridge on top of a subscription source.
func NewBridge(subscribe SubscribeFunc, logger *slog.Logger, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		subscribe:    subscribe,
		logger:       logger,
		writeTimeout: 10 * time.Second,
		pingInterval: 30 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ServeHTTP upgrades the request and streams results for the job named
// in the last path segment until the job finishes or the client
// disconnects. The "replay" query parameter requests stored history
// before the live stream.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/results")
	rawID := path[strings.LastIndexByte(path, '/')+1:]
	jobID, err := id.ParseJobID(rawID)
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	replay := r.URL.Query().Get("replay") == "true"

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", "job_id", jobID, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	results, err := b.subscribe(ctx, jobID, replay)
	if err != nil {
		b.writeClose(conn, websocket.CloseInternalServerErr, err.Error())
		return
	}

	// Drain reads so control frames are processed and client
	// disconnects cancel the subscription.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	b.logger.Debug("websocket subscriber attached", "job_id", jobID, "replay", replay)

	ticker := time.NewTicker(b.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.writeControl(conn, websocket.PingMessage); err != nil {
				return
			}
		case res, ok := <-results:
			if !ok {
				b.writeClose(conn, websocket.CloseNormalClosure, "stream ended")
				return
			}
			if err := b.writeResult(conn, res); err != nil {
				b.logger.Debug("websocket write failed", "job_id", jobID, "error", err)
				return
			}
			if res.Final {
				b.writeClose(conn, websocket.CloseNormalClosure, "job finished")
				return
			}
		}
	}
}

// writeResult sends the metadata text frame followed by the frame
// payload as a binary message. The binary message is always sent, empty
// when the result carries no frame, so clients can rely on a strict
// text/binary pairing.
func (b *Bridge) writeResult(conn *websocket.Conn, res *job.Result) error {
	payload, err := json.Marshal(res.Meta)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(b.writeTimeout)); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(b.writeTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, res.Frame)
}

func (b *Bridge) writeControl(conn *websocket.Conn, messageType int) error {
	return conn.WriteControl(messageType, nil, time.Now().Add(b.writeTimeout))
}

func (b *Bridge) writeClose(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(b.writeTimeout))
}
