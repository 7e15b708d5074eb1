package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sightline/forensic/id"
	"github.com/sightline/forensic/job"
)

// Subscription is one open result stream. Next is not safe for
// concurrent use.
type Subscription struct {
	conn        *websocket.Conn
	jobID       id.JobID
	readTimeout time.Duration
}

// Next returns the next result. The bridge sends every result as a
// metadata text frame immediately followed by a binary frame, empty
// when the result carries no image. Next returns io.EOF when the bridge
// closes the stream, which happens after the terminal result.
func (s *Subscription) Next(ctx context.Context) (*job.Result, error) {
	meta, err := s.readMeta(ctx)
	if err != nil {
		return nil, err
	}

	frame, err := s.readFrame(ctx)
	if err != nil {
		return nil, err
	}

	res := &job.Result{
		JobID: s.jobID,
		Meta:  *meta,
		At:    time.Now().UTC(),
	}
	if len(frame) > 0 {
		res.Frame = frame
	}
	return res, nil
}

func (s *Subscription) readMeta(ctx context.Context) (*job.Meta, error) {
	kind, data, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	if kind != websocket.TextMessage {
		return nil, fmt.Errorf("client: expected metadata text frame, got message type %d", kind)
	}
	var meta job.Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("client: decode metadata: %w", err)
	}
	return &meta, nil
}

func (s *Subscription) readFrame(ctx context.Context) ([]byte, error) {
	kind, data, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	if kind != websocket.BinaryMessage {
		return nil, fmt.Errorf("client: expected binary frame, got message type %d", kind)
	}
	return data, nil
}

func (s *Subscription) read(ctx context.Context) (int, []byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
		return 0, nil, err
	}
	kind, data, err := s.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			return 0, nil, io.EOF
		}
		return 0, nil, fmt.Errorf("client: read stream: %w", err)
	}
	return kind, data, nil
}

// Close tears down the stream connection.
func (s *Subscription) Close() error {
	return s.conn.Close()
}
