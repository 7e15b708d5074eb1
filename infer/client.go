package infer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	forensic "github.com/sightline/forensic"
	"github.com/sightline/forensic/job"
)

// Default request tunables.
const (
	DefaultConfidenceThreshold = 0.5
	DefaultOverlapThreshold    = 0.3
	DefaultResponseTimeout     = 10 * time.Second
	DefaultResponseReads       = 32
)

// Client talks to the inference service. The describe handshake runs
// once per client lifetime; model channels open lazily and stay open
// until Close.
type Client struct {
	addr       string
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *slog.Logger

	confidenceThreshold float64
	overlapThreshold    float64
	responseTimeout     time.Duration
	responseReads       int

	mu       sync.Mutex
	desc     *Describe
	channels map[string]*channel
	seq      int64
	closed   bool
}

// Option configures a Client.
type Option func(*Client)

// WithConfidenceThreshold sets the detector confidence threshold sent
// with every request.
func WithConfidenceThreshold(v float64) Option {
	return func(c *Client) { c.confidenceThreshold = v }
}

// WithOverlapThreshold sets the detector overlap threshold sent with
// every request.
func WithOverlapThreshold(v float64) Option {
	return func(c *Client) { c.overlapThreshold = v }
}

// WithResponseTimeout sets the per-read deadline while waiting for a
// terminal response message.
func WithResponseTimeout(d time.Duration) Option {
	return func(c *Client) { c.responseTimeout = d }
}

// WithHTTPClient sets the client used for the describe handshake.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// NewClient creates an inference client for the given host:port.
func NewClient(addr string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		addr:                addr,
		httpClient:          &http.Client{Timeout: 10 * time.Second},
		dialer:              websocket.DefaultDialer,
		logger:              logger,
		confidenceThreshold: DefaultConfidenceThreshold,
		overlapThreshold:    DefaultOverlapThreshold,
		responseTimeout:     DefaultResponseTimeout,
		responseReads:       DefaultResponseReads,
		channels:            make(map[string]*channel),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Describe returns the cached describe response, fetching and
// version-gating it on first use.
func (c *Client) Describe(ctx context.Context) (*Describe, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, &forensic.InferenceError{Op: "describe", Err: fmt.Errorf("client closed")}
	}
	if c.desc != nil {
		return c.desc, nil
	}

	d, err := fetchDescribe(ctx, c.httpClient, c.addr)
	if err != nil {
		return nil, err
	}
	c.desc = d

	c.logger.Info("inference server described",
		slog.String("version", fmt.Sprintf("%d.%d.%d", d.Version[0], d.Version[1], d.Version[2])),
		slog.Int("models", len(d.Models)),
	)
	return d, nil
}

// channelFor returns the model's persistent channel, dialing it on
// first use.
func (c *Client) channelFor(ctx context.Context, model string) (*channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, &forensic.InferenceError{Model: model, Op: "open channel", Err: fmt.Errorf("client closed")}
	}
	if ch, ok := c.channels[model]; ok {
		return ch, nil
	}

	url := "ws://" + c.addr + model + "/requestsQueue"
	ws, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, &forensic.InferenceError{Model: model, Op: "open channel", Err: err}
	}

	ch := &channel{ws: ws, logger: c.logger, model: model}
	c.channels[model] = ch

	c.logger.Debug("inference channel opened", slog.String("model", model))
	return ch, nil
}

// nextSeq returns the next request sequence number.
func (c *Client) nextSeq() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Close closes all model channels. The client cannot be reused.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var firstErr error
	for model, ch := range c.channels {
		if err := ch.close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.channels, model)
	}
	return firstErr
}

// Detect runs object detection on one frame through the model's
// channel and returns the raw detections.
func (c *Client) Detect(ctx context.Context, model string, img *Payload) ([]job.Detection, error) {
	ch, err := c.channelFor(ctx, model)
	if err != nil {
		return nil, err
	}

	resp, err := ch.request(ctx, c.requestContext(true), img, c.nextSeq(), c.responseTimeout, c.responseReads)
	if err != nil {
		return nil, err
	}
	return resp.detections(), nil
}

// Classify runs one classification head on a cropped thumbnail and
// returns the head's label probabilities.
func (c *Client) Classify(ctx context.Context, model string, img *Payload) (map[string]float64, error) {
	ch, err := c.channelFor(ctx, model)
	if err != nil {
		return nil, err
	}

	resp, err := ch.request(ctx, c.requestContext(false), img, c.nextSeq(), c.responseTimeout, c.responseReads)
	if err != nil {
		return nil, err
	}
	return resp.Classifiers, nil
}

// requestContext builds the JSON control frame preceding a request.
func (c *Client) requestContext(bbox bool) map[string]any {
	return map[string]any{
		"confidenceThreshold": c.confidenceThreshold,
		"overlapThreshold":    c.overlapThreshold,
		"bbox":                bbox,
	}
}
