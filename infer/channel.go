package infer

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	forensic "github.com/sightline/forensic"
	"github.com/sightline/forensic/job"
)

// Payload is one image ready to be sent over a model channel: a single
// JPEG blob, or three ordered YUV420 planes with their resolution.
type Payload struct {
	jpeg    []byte
	y, u, v []byte
	width   int
	height  int
}

// JPEGPayload wraps an encoded JPEG image.
func JPEGPayload(data []byte) *Payload {
	return &Payload{jpeg: data}
}

// PlanarPayload extracts contiguous Y, U, V planes from a 4:2:0 image.
func PlanarPayload(img *image.YCbCr) (*Payload, error) {
	if img.SubsampleRatio != image.YCbCrSubsampleRatio420 {
		return nil, &forensic.InferenceError{
			Op:  "build planar payload",
			Err: fmt.Errorf("subsample ratio %v, want 4:2:0", img.SubsampleRatio),
		}
	}

	w, h := img.Rect.Dx(), img.Rect.Dy()
	cw, ch := (w+1)/2, (h+1)/2

	return &Payload{
		y:      packPlane(img.Y, img.YStride, w, h),
		u:      packPlane(img.Cb, img.CStride, cw, ch),
		v:      packPlane(img.Cr, img.CStride, cw, ch),
		width:  w,
		height: h,
	}, nil
}

// packPlane copies a strided plane into a tight width*height buffer.
func packPlane(pix []byte, stride, w, h int) []byte {
	if stride == w {
		return pix[:w*h]
	}
	out := make([]byte, 0, w*h)
	for row := range h {
		out = append(out, pix[row*stride:row*stride+w]...)
	}
	return out
}

// planar reports whether the payload carries raw planes.
func (p *Payload) planar() bool { return p.jpeg == nil }

// wirePoint, wireBox and wireDetection mirror the detector's response
// shape: a box of normalized min/max points with its per-class
// probabilities nested alongside them.
type wirePoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type wireBox struct {
	Min           wirePoint          `json:"min"`
	Max           wirePoint          `json:"max"`
	Probabilities map[string]float64 `json:"probabilities"`
}

type wireDetection struct {
	Bbox wireBox `json:"bbox"`
}

// response is a terminal message off a model channel.
type response struct {
	Msg         string             `json:"msg"`
	Message     string             `json:"message"`
	Detections  []wireDetection    `json:"detections"`
	Classifiers map[string]float64 `json:"classifiers"`
}

// detections converts the wire boxes to the normalized Detection form.
func (r *response) detections() []job.Detection {
	out := make([]job.Detection, 0, len(r.Detections))
	for _, d := range r.Detections {
		out = append(out, job.Detection{
			Box: job.Box{
				MinX: d.Bbox.Min.X,
				MinY: d.Bbox.Min.Y,
				MaxX: d.Bbox.Max.X,
				MaxY: d.Bbox.Max.Y,
			},
			Probabilities: d.Bbox.Probabilities,
		})
	}
	return out
}

// channel is one persistent WebSocket to a model's request queue.
// Requests are serialized: the control frame, envelope, and image
// blobs of one request are never interleaved with another's.
type channel struct {
	mu     sync.Mutex
	ws     *websocket.Conn
	logger *slog.Logger
	model  string
}

// request performs one full request/response exchange.
func (ch *channel) request(ctx context.Context, control map[string]any, img *Payload, seq int64, timeout time.Duration, maxReads int) (*response, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := ch.ws.WriteJSON(control); err != nil {
		return nil, ch.fail("send control frame", err)
	}

	envelope := map[string]any{
		"userDefinedParameters": map[string]any{"id": seq},
	}
	if img.planar() {
		envelope["image"] = map[string]any{
			"type": "YUV420P",
			"resolution": map[string]any{
				"width":  img.width,
				"height": img.height,
			},
		}
	} else {
		envelope["image"] = map[string]any{"type": "jpeg"}
	}
	if err := ch.ws.WriteJSON(envelope); err != nil {
		return nil, ch.fail("send envelope", err)
	}

	blobs := [][]byte{img.jpeg}
	if img.planar() {
		blobs = [][]byte{img.y, img.u, img.v}
	}
	for _, blob := range blobs {
		if err := ch.ws.WriteMessage(websocket.BinaryMessage, blob); err != nil {
			return nil, ch.fail("send image blob", err)
		}
	}

	return ch.readResponse(ctx, timeout, maxReads)
}

// readResponse reads until a terminal message, bounded by maxReads
// attempts with a per-read deadline.
func (ch *channel) readResponse(ctx context.Context, timeout time.Duration, maxReads int) (*response, error) {
	for range maxReads {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := ch.ws.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, ch.fail("set read deadline", err)
		}
		kind, data, err := ch.ws.ReadMessage()
		if err != nil {
			return nil, ch.fail("read response", err)
		}
		if kind != websocket.TextMessage {
			continue
		}

		var resp response
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, ch.fail("decode response", err)
		}

		switch resp.Msg {
		case "response":
			return &resp, nil
		case "error":
			return nil, &forensic.InferenceError{
				Model: ch.model,
				Op:    "request",
				Err:   fmt.Errorf("server error: %s", resp.Message),
			}
		default:
			ch.logger.Debug("skipping non-terminal message",
				slog.String("model", ch.model),
				slog.String("msg", resp.Msg),
			)
		}
	}

	return nil, &forensic.InferenceError{
		Model: ch.model,
		Op:    "read response",
		Err:   fmt.Errorf("no terminal message after %d reads", maxReads),
	}
}

func (ch *channel) fail(op string, err error) error {
	return &forensic.InferenceError{Model: ch.model, Op: op, Err: err}
}

func (ch *channel) close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.ws.Close()
}
