package camera

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"sort"
	"time"
)

// Default connection timeouts, matching the camera server's expectations.
const (
	DefaultDialTimeout = 5 * time.Second
	DefaultReadTimeout = 10 * time.Second
)

// SystemInfo is the camera topology returned by the server, keyed by
// camera GUID.
type SystemInfo map[string]json.RawMessage

// Cameras returns the camera GUIDs in deterministic order.
func (s SystemInfo) Cameras() []string {
	out := make([]string, 0, len(s))
	for guid := range s {
		out = append(out, guid)
	}
	sort.Strings(out)
	return out
}

// Frame is one decoded video frame with its capture timestamp.
type Frame struct {
	Image     image.Image
	Timestamp time.Time
}

// Stream is a sequence of decoded frames. Next blocks for the next
// frame; io.EOF signals the end of the stream and any other error is
// fatal to it. Close releases the underlying connection.
type Stream interface {
	Next(ctx context.Context) (*Frame, error)
	Close() error
}

// Client talks to the camera-management server. Each call opens its
// own connection; the client itself holds no state besides configuration
// and is safe for concurrent use.
type Client struct {
	addr        string
	dialTimeout time.Duration
	readTimeout time.Duration
	logger      *slog.Logger
	codecs      *Registry
}

// Option configures a Client.
type Option func(*Client)

// WithDialTimeout sets the connect and write timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) { c.dialTimeout = d }
}

// WithReadTimeout sets the per-message read timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Client) { c.readTimeout = d }
}

// WithCodecs sets the decoder registry used by replay streams.
func WithCodecs(r *Registry) Option {
	return func(c *Client) { c.codecs = r }
}

// NewClient creates a camera client for the given server endpoint.
func NewClient(host string, port int, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		addr:        fmt.Sprintf("%s:%d", host, port),
		dialTimeout: DefaultDialTimeout,
		readTimeout: DefaultReadTimeout,
		logger:      logger,
		codecs:      DefaultRegistry,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SystemInfo fetches the camera topology.
func (c *Client) SystemInfo(ctx context.Context) (SystemInfo, error) {
	body := methodcall(0, "systeminfo")

	cn, err := dial(c.addr, c.dialTimeout, c.readTimeout, body, c.logger)
	if err != nil {
		return nil, err
	}
	defer cn.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	msg, err := cn.next()
	if err != nil {
		return nil, err
	}

	info := make(SystemInfo)
	if err := decodeJSONBody(msg, &info); err != nil {
		return nil, err
	}
	return info, nil
}

// Live opens a live stream for the camera. The server's initial
// acknowledgement message is consumed before the stream is returned.
func (c *Client) Live(ctx context.Context, cameraID string) (Stream, error) {
	body := methodcall(1, "live", [2]string{"cameraid", cameraID})

	cn, err := dial(c.addr, c.dialTimeout, c.readTimeout, body, c.logger)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		cn.Close()
		return nil, err
	}

	// First message acknowledges the request; frames follow.
	if _, err := cn.next(); err != nil {
		cn.Close()
		return nil, err
	}

	return &liveStream{conn: cn}, nil
}

// Replay opens a replay stream over [from, to]. Gap is the server-side
// frame-skip count; zero replays every frame.
func (c *Client) Replay(ctx context.Context, cameraID string, from, to time.Time, gap int) (Stream, error) {
	body := methodcall(1, "replay",
		[2]string{"cameraid", cameraID},
		[2]string{"fromtime", from.Format(time.RFC3339Nano)},
		[2]string{"totime", to.Format(time.RFC3339Nano)},
		[2]string{"gap", fmt.Sprintf("%d", gap)},
	)

	cn, err := dial(c.addr, c.dialTimeout, c.readTimeout, body, c.logger)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		cn.Close()
		return nil, err
	}

	return &replayStream{conn: cn, codecs: c.codecs, logger: c.logger}, nil
}
