// Package client provides a Go client for the forensicd result bridge.
// It consumes the WebSocket stream a bridge serves per job: metadata
// text frames strictly paired with binary frame payloads.
//
// Usage:
//
//	c := client.New("ws://bridge.local:8089", nil)
//
//	sub, err := c.Results(ctx, jobID, client.WithReplay())
//	if err != nil {
//	    return err
//	}
//	defer sub.Close()
//
//	for {
//	    res, err := sub.Next(ctx)
//	    if errors.Is(err, io.EOF) {
//	        break
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Printf("%s score=%.2f\n", res.Meta.Kind, res.Meta.Score)
//	}
package client

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sightline/forensic/id"
)

// DefaultReadTimeout bounds each wait for a stream message. The bridge
// pings idle connections well inside this window.
const DefaultReadTimeout = 60 * time.Second

// Client dials result subscriptions against one bridge endpoint.
type Client struct {
	baseURL     string
	dialer      *websocket.Dialer
	logger      *slog.Logger
	readTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithReadTimeout sets the per-message read deadline.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Client) { c.readTimeout = d }
}

// WithDialer sets a custom WebSocket dialer, for TLS or proxy settings.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// New creates a bridge client for a base URL such as
// "ws://bridge.local:8089".
func New(baseURL string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:     baseURL,
		dialer:      websocket.DefaultDialer,
		logger:      logger,
		readTimeout: DefaultReadTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubscribeOption configures one subscription.
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	replay bool
}

// WithReplay requests the stored result history before the live stream.
func WithReplay() SubscribeOption {
	return func(cfg *subscribeConfig) { cfg.replay = true }
}

// Results opens the result stream for a job. The caller owns the
// returned subscription and must Close it.
func (c *Client) Results(ctx context.Context, jobID id.JobID, opts ...SubscribeOption) (*Subscription, error) {
	var cfg subscribeConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	url := fmt.Sprintf("%s/jobs/%s/results?replay=%t", c.baseURL, jobID, cfg.replay)
	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", url, err)
	}

	c.logger.Debug("result stream opened",
		slog.String("job_id", jobID.String()),
		slog.Bool("replay", cfg.replay),
	)
	return &Subscription{
		conn:        conn,
		jobID:       jobID,
		readTimeout: c.readTimeout,
	}, nil
}
