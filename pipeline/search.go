package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sightline/forensic/camera"
	"github.com/sightline/forensic/infer"
	"github.com/sightline/forensic/job"
)

// JobSearch is the handler name the search pipeline registers under.
const JobSearch = "forensic.search"

// Default pipeline tunables.
const (
	DefaultProgressInterval = time.Second
	DefaultThumbnailScale   = infer.DefaultThumbnailScale
)

// FrameSource provides camera discovery and historical frame replay.
// *camera.Client satisfies it.
type FrameSource interface {
	SystemInfo(ctx context.Context) (camera.SystemInfo, error)
	Replay(ctx context.Context, cameraID string, from, to time.Time, gap int) (camera.Stream, error)
}

// Inferencer provides remote detection and attribute classification.
// *infer.Client satisfies it.
type Inferencer interface {
	Describe(ctx context.Context) (*infer.Describe, error)
	Detect(ctx context.Context, model string, img *infer.Payload) ([]job.Detection, error)
	Attributes(ctx context.Context, target job.Target, img *infer.Payload) (job.Attributes, error)
}

// Search drives the detection pipeline for one search job.
type Search struct {
	cameras FrameSource
	ai      Inferencer
	logger  *slog.Logger

	progressInterval time.Duration
	thumbnailScale   float64
	concurrency      int
	observers        []job.Observer
}

// Option configures a Search.
type Option func(*Search)

// WithProgressInterval sets the minimum interval between progress
// notifications per source.
func WithProgressInterval(d time.Duration) Option {
	return func(s *Search) { s.progressInterval = d }
}

// WithThumbnailScale sets the symmetric expansion applied to detection
// crops.
func WithThumbnailScale(scale float64) Option {
	return func(s *Search) { s.thumbnailScale = scale }
}

// WithSourceConcurrency allows up to n sources to be replayed in
// parallel. The default of 1 keeps sources strictly sequential.
func WithSourceConcurrency(n int) Option {
	return func(s *Search) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithObserver attaches observers notified of every emitted result.
func WithObserver(obs ...job.Observer) Option {
	return func(s *Search) { s.observers = append(s.observers, obs...) }
}

// NewSearch creates the search pipeline over a camera source and an
// inference client.
func NewSearch(cameras FrameSource, ai Inferencer, logger *slog.Logger, opts ...Option) *Search {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Search{
		cameras:          cameras,
		ai:               ai,
		logger:           logger,
		progressInterval: DefaultProgressInterval,
		thumbnailScale:   DefaultThumbnailScale,
		concurrency:      1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register installs the search handler on a registry.
func (s *Search) Register(registry *job.Registry) {
	registry.Register(JobSearch, s.Run)
}

// Run executes one search job to exhaustion. Preconditions (served
// detector model, known cameras) are checked before any frame is read.
func (s *Search) Run(ctx context.Context, j *job.Job, emitter job.Emitter) error {
	params := j.Params
	tier := TierFor(params.Tier())

	model, ok := infer.DetectorModel(params.Target)
	if !ok {
		return fmt.Errorf("pipeline: no detector model for target %q", params.Target)
	}
	desc, err := s.ai.Describe(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: describe inference server: %w", err)
	}
	if _, err := desc.Model(model); err != nil {
		return fmt.Errorf("pipeline: detector model unavailable: %w", err)
	}

	info, err := s.cameras.SystemInfo(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: fetch system info: %w", err)
	}
	known := make(map[string]bool, len(info))
	for _, cam := range info.Cameras() {
		known[cam] = true
	}
	for _, src := range params.Sources {
		if !known[src] {
			return fmt.Errorf("pipeline: unknown camera %q", src)
		}
	}

	if len(s.observers) > 0 {
		emitter = &observedEmitter{emitter: emitter, observers: s.observers}
	}

	s.logger.Info("search started",
		slog.String("job_id", j.ID.String()),
		slog.String("target", string(params.Target)),
		slog.Int("sources", len(params.Sources)),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, src := range params.Sources {
		g.Go(func() error {
			return s.runSource(gctx, src, model, tier, params, emitter)
		})
	}
	return g.Wait()
}

// runSource replays one camera over the job's time range and feeds
// every frame through the detection pipeline.
func (s *Search) runSource(ctx context.Context, source, model string, tier Tier, params job.Params, emitter job.Emitter) (err error) {
	from, to := params.TimeRange.From, params.TimeRange.To

	// The 100% marker is emitted for this source on every exit, clean
	// or not, so subscribers can tell a finished source from a stalled
	// one. Emission must survive cancellation of the job context.
	defer func() {
		mErr := emitProgress(context.WithoutCancel(ctx), emitter, source, to, 100)
		if mErr != nil && err == nil {
			err = mErr
		}
	}()

	stream, err := s.cameras.Replay(ctx, source, from, to, params.Gap)
	if err != nil {
		return fmt.Errorf("pipeline: replay %s: %w", source, err)
	}
	defer stream.Close()

	limiter := rate.NewLimiter(rate.Every(s.progressInterval), 1)
	var previous []job.Box
	frames := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("pipeline: stream %s: %w", source, err)
		}
		frames++

		if limiter.Allow() {
			progress := progressFor(frame.Timestamp, from, to)
			if err := emitProgress(ctx, emitter, source, frame.Timestamp, progress); err != nil {
				return err
			}
		}

		accepted, err := s.processFrame(ctx, frame, source, model, tier, params, previous, emitter)
		if err != nil {
			return err
		}
		previous = accepted
	}

	s.logger.Info("source replay finished",
		slog.String("source", source),
		slog.Int("frames", frames),
	)
	return nil
}

// processFrame runs detection on one frame and emits the detections
// that clear the scoring stages. It returns the boxes accepted for the
// next frame's dedup comparison.
func (s *Search) processFrame(ctx context.Context, frame *camera.Frame, source, model string, tier Tier, params job.Params, previous []job.Box, emitter job.Emitter) ([]job.Box, error) {
	payload, err := framePayload(frame.Image)
	if err != nil {
		return nil, err
	}

	detections, err := s.ai.Detect(ctx, model, payload)
	if err != nil {
		return nil, fmt.Errorf("pipeline: detect: %w", err)
	}

	bounds := frame.Image.Bounds()
	var accepted []job.Box

	for _, det := range detections {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rect := infer.PixelBox(det.Box, bounds.Dx(), bounds.Dy())
		object := sizeScore(rect.Dx(), rect.Dy()) * classScore(det.Probabilities, params.Target)
		if object <= Epsilon {
			continue
		}
		if overlapsPrevious(det.Box, previous) {
			continue
		}
		accepted = append(accepted, det.Box)

		if err := s.classifyAndEmit(ctx, frame, source, det, object, tier, params, emitter); err != nil {
			return nil, err
		}
	}
	return accepted, nil
}

// classifyAndEmit crops the detection, classifies it across the
// target's heads, applies the emission gate, and emits the result.
func (s *Search) classifyAndEmit(ctx context.Context, frame *camera.Frame, source string, det job.Detection, objectScore float64, tier Tier, params job.Params, emitter job.Emitter) error {
	if classScore(det.Probabilities, params.Target) < tier.PerClassFloor {
		return nil
	}

	thumb, err := infer.Thumbnail(frame.Image, det.Box, s.thumbnailScale)
	if err != nil {
		s.logger.Debug("thumbnail crop failed, dropping detection",
			slog.String("source", source),
			slog.String("error", err.Error()),
		)
		return nil
	}

	attrs, err := s.ai.Attributes(ctx, params.Target, infer.JPEGPayload(thumb))
	if err != nil {
		return fmt.Errorf("pipeline: classify: %w", err)
	}

	appearance := matchScore(attrs, params.AppearanceFilters(), tier)
	attributes := matchScore(attrs, params.AttributeFilters(), tier)
	combined := objectScore * appearance * attributes
	if combined < tier.GlobalFloor {
		return nil
	}

	ts := frame.Timestamp
	meta := job.Meta{
		Kind:       job.KindDetection,
		Source:     source,
		Timestamp:  &ts,
		Score:      combined,
		FrameID:    uuid.NewString(),
		Attributes: attrs,
	}
	return emitter.Emit(ctx, meta, thumb)
}

// framePayload converts a stream frame to the inference wire form:
// 4:2:0 planar images go raw, everything else is JPEG-encoded.
func framePayload(img image.Image) (*infer.Payload, error) {
	if ycbcr, ok := img.(*image.YCbCr); ok && ycbcr.SubsampleRatio == image.YCbCrSubsampleRatio420 {
		return infer.PlanarPayload(ycbcr)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
		return nil, fmt.Errorf("pipeline: encode frame: %w", err)
	}
	return infer.JPEGPayload(buf.Bytes()), nil
}

// progressFor places a frame timestamp inside the replay window as a
// 0..100 percentage.
func progressFor(ts time.Time, from, to time.Time) float64 {
	total := to.Sub(from).Seconds()
	if total <= 0 {
		return 100
	}
	elapsed := ts.Sub(from).Seconds()
	return min(100, max(0, elapsed/total*100))
}

func emitProgress(ctx context.Context, emitter job.Emitter, source string, ts time.Time, progress float64) error {
	meta := job.Meta{
		Kind:      job.KindProgress,
		Progress:  progress,
		Source:    source,
		Timestamp: &ts,
	}
	return emitter.Emit(ctx, meta, nil)
}
