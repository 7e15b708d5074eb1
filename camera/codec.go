package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	forensic "github.com/sightline/forensic"
)

// Decoder turns encoded video packets into frames. Decoders may keep
// inter-frame state; Reset discards it after a corrupt packet so the
// stream can resynchronize on the next keyframe.
type Decoder interface {
	// Decode consumes one packet and returns zero or more frames.
	// The pts is a synthetic monotonically increasing counter.
	Decode(packet []byte, pts int64) ([]image.Image, error)

	// Reset discards decoder state.
	Reset()
}

// Registry maps codec names to decoder factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]func() Decoder
}

// NewRegistry creates an empty codec registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]func() Decoder)}
}

// Register adds a decoder factory under the codec name.
func (r *Registry) Register(name string, factory func() Decoder) {
	r.mu.Lock()
	r.factories[name] = factory
	r.mu.Unlock()
}

// New instantiates a decoder for the codec name.
func (r *Registry) New(name string) (Decoder, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &forensic.ProtocolError{
			Op:  "create decoder",
			Err: fmt.Errorf("unsupported codec %q", name),
		}
	}
	return factory(), nil
}

// DefaultRegistry carries the built-in decoders.
var DefaultRegistry = NewRegistry()

func init() {
	DefaultRegistry.Register("mjpeg", func() Decoder { return &mjpegDecoder{} })
}

// Magic byte prefixes used to sniff the codec of the first packet.
var (
	jpegMagic   = []byte{0xff, 0xd8, 0xff}
	annexBLong  = []byte{0x00, 0x00, 0x00, 0x01}
	annexBShort = []byte{0x00, 0x00, 0x01}
)

// SniffCodec guesses the codec from a packet's leading bytes. An
// unrecognizable packet returns "".
func SniffCodec(packet []byte) string {
	switch {
	case bytes.HasPrefix(packet, jpegMagic):
		return "mjpeg"
	case bytes.HasPrefix(packet, annexBLong), bytes.HasPrefix(packet, annexBShort):
		return "h264"
	default:
		return ""
	}
}

// mjpegDecoder decodes motion-JPEG packets. Each packet is one
// complete JPEG image, so there is no inter-frame state.
type mjpegDecoder struct{}

func (d *mjpegDecoder) Decode(packet []byte, _ int64) ([]image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(packet))
	if err != nil {
		return nil, fmt.Errorf("camera: decode mjpeg packet: %w", err)
	}
	return []image.Image{img}, nil
}

func (d *mjpegDecoder) Reset() {}
