package client_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sightline/forensic/client"
	"github.com/sightline/forensic/id"
	"github.com/sightline/forensic/job"
	"github.com/sightline/forensic/stream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newBridgeServer runs a real stream.Bridge over the given subscribe
// function and returns its ws:// base URL.
func newBridgeServer(t *testing.T, subscribe stream.SubscribeFunc) string {
	t.Helper()
	srv := httptest.NewServer(stream.NewBridge(subscribe, testLogger()))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func feedResults(results ...*job.Result) stream.SubscribeFunc {
	return func(ctx context.Context, jobID id.JobID, replay bool) (<-chan *job.Result, error) {
		out := make(chan *job.Result, len(results))
		for _, r := range results {
			out <- r
		}
		close(out)
		return out, nil
	}
}

func TestClient_Results(t *testing.T) {
	jobID := id.NewJobID()
	ts := time.Date(2024, 3, 1, 12, 3, 0, 0, time.UTC)

	frame := []byte{0xff, 0xd8, 0xff, 0x01, 0x02}
	results := []*job.Result{
		{JobID: jobID, Meta: job.Meta{Kind: job.KindProgress, Progress: 30, Source: "cam-1"}},
		{JobID: jobID, Meta: job.Meta{
			Kind:      job.KindDetection,
			Source:    "cam-1",
			Timestamp: &ts,
			Score:     0.42,
			FrameID:   "frame-1",
		}, Frame: frame},
		{JobID: jobID, Meta: job.Meta{Kind: job.KindProgress, Progress: 100}, Final: true},
	}

	var gotJobID id.JobID
	var gotReplay bool
	base := newBridgeServer(t, func(ctx context.Context, jid id.JobID, replay bool) (<-chan *job.Result, error) {
		gotJobID, gotReplay = jid, replay
		return feedResults(results...)(ctx, jid, replay)
	})

	c := client.New(base, testLogger())
	sub, err := c.Results(t.Context(), jobID)
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	defer sub.Close()

	first, err := sub.Next(t.Context())
	if err != nil {
		t.Fatalf("Next (progress): %v", err)
	}
	if first.Meta.Kind != job.KindProgress || first.Meta.Progress != 30 {
		t.Fatalf("first result = %+v", first.Meta)
	}
	if first.Frame != nil {
		t.Fatal("progress result should carry no frame")
	}

	second, err := sub.Next(t.Context())
	if err != nil {
		t.Fatalf("Next (detection): %v", err)
	}
	if second.Meta.Kind != job.KindDetection || second.Meta.Score != 0.42 {
		t.Fatalf("second result = %+v", second.Meta)
	}
	if !bytes.Equal(second.Frame, frame) {
		t.Fatalf("detection frame = %v, want %v", second.Frame, frame)
	}
	if second.JobID != jobID {
		t.Fatalf("result job id = %s, want %s", second.JobID, jobID)
	}

	third, err := sub.Next(t.Context())
	if err != nil {
		t.Fatalf("Next (final): %v", err)
	}
	if third.Meta.Progress != 100 {
		t.Fatalf("final result = %+v", third.Meta)
	}

	if _, err := sub.Next(t.Context()); !errors.Is(err, io.EOF) {
		t.Fatalf("err after final = %v, want io.EOF", err)
	}

	if gotJobID != jobID || gotReplay {
		t.Fatalf("bridge saw job=%s replay=%v", gotJobID, gotReplay)
	}
}

func TestClient_ReplayFlag(t *testing.T) {
	jobID := id.NewJobID()

	var gotReplay bool
	base := newBridgeServer(t, func(ctx context.Context, jid id.JobID, replay bool) (<-chan *job.Result, error) {
		gotReplay = replay
		return feedResults()(ctx, jid, replay)
	})

	c := client.New(base, testLogger())
	sub, err := c.Results(t.Context(), jobID, client.WithReplay())
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	defer sub.Close()

	if _, err := sub.Next(t.Context()); !errors.Is(err, io.EOF) {
		t.Fatalf("err on empty stream = %v, want io.EOF", err)
	}
	if !gotReplay {
		t.Fatal("replay flag was not propagated")
	}
}

func TestClient_SubscribeError(t *testing.T) {
	base := newBridgeServer(t, func(ctx context.Context, jid id.JobID, replay bool) (<-chan *job.Result, error) {
		return nil, errors.New("job not found")
	})

	c := client.New(base, testLogger())
	sub, err := c.Results(t.Context(), id.NewJobID())
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	defer sub.Close()

	// The bridge closes the stream with an error before any result.
	if _, err := sub.Next(t.Context()); err == nil {
		t.Fatal("expected error from a failed subscription")
	}
}

func TestClient_InvalidJobID(t *testing.T) {
	base := newBridgeServer(t, feedResults())

	// The bridge rejects the malformed job id before the upgrade, so
	// the dial itself fails.
	c := client.New(base, testLogger())
	if _, err := c.Results(t.Context(), id.JobID{}); err == nil {
		t.Fatal("expected dial error for an invalid job id")
	}
}
