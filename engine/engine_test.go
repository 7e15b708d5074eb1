package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	forensic "github.com/sightline/forensic"
	"github.com/sightline/forensic/engine"
	"github.com/sightline/forensic/id"
	"github.com/sightline/forensic/job"
	"github.com/sightline/forensic/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() forensic.Config {
	cfg := forensic.DefaultConfig()
	cfg.CameraHost = "camera.local"
	cfg.CameraPort = 4250
	cfg.InferenceAddr = "inference.local:8080"
	cfg.PollInterval = 10 * time.Millisecond
	cfg.SettlePolls = 1
	return cfg
}

func newEngine(t *testing.T, opts ...engine.Option) (*engine.Engine, *memory.Store) {
	t.Helper()
	store := memory.New(testLogger())
	t.Cleanup(func() { store.Close(context.Background()) })

	eng, err := engine.New(store, testConfig(), testLogger(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return eng, store
}

func vehicleParams() job.Params {
	return job.Params{
		Sources: []string{"cam-1"},
		TimeRange: job.TimeRange{
			From: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			To:   time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC),
		},
		Target: job.TargetVehicle,
		Vehicle: &job.VehicleQuery{
			Confidence: job.ConfidenceMedium,
			Types:      []string{"car"},
			Colors:     []string{"black"},
		},
	}
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := engine.New(nil, testConfig(), testLogger())
	if !errors.Is(err, forensic.ErrNoStore) {
		t.Fatalf("err = %v, want ErrNoStore", err)
	}
}

func TestSubmit(t *testing.T) {
	eng, store := newEngine(t)

	j, err := eng.Submit(context.Background(), "forensic.search", vehicleParams())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if j.ID.IsNil() {
		t.Fatal("job has no ID")
	}
	if j.Queue != "forensic" {
		t.Errorf("queue = %q, want %q", j.Queue, "forensic")
	}

	stored, err := store.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.State != job.StatePending {
		t.Errorf("state = %q, want %q", stored.State, job.StatePending)
	}
	if stored.CreatedAt.IsZero() {
		t.Error("CreatedAt not recorded")
	}
	if stored.Name != "forensic.search" {
		t.Errorf("name = %q", stored.Name)
	}
}

func TestSubmit_InvalidParams(t *testing.T) {
	eng, _ := newEngine(t)

	params := vehicleParams()
	params.Sources = nil
	if _, err := eng.Submit(context.Background(), "forensic.search", params); err == nil {
		t.Fatal("Submit accepted params without sources")
	}

	params = vehicleParams()
	params.Vehicle = nil
	if _, err := eng.Submit(context.Background(), "forensic.search", params); err == nil {
		t.Fatal("Submit accepted target without its query")
	}
}

func TestSubmitRaw(t *testing.T) {
	eng, _ := newEngine(t)

	payload := []byte(`{
		"sources": ["cam-1", "cam-2"],
		"timerange": {"time_from": "2024-03-01T12:00:00Z", "time_to": "2024-03-01T12:05:00Z"},
		"type": "person",
		"appearances": {"confidence": "high", "gender": ["female"]}
	}`)

	j, err := eng.SubmitRaw(context.Background(), "forensic.search", payload)
	if err != nil {
		t.Fatalf("SubmitRaw: %v", err)
	}
	if j.Params.Person == nil {
		t.Fatal("person query not decoded")
	}
	if j.Params.Person.Confidence != job.ConfidenceHigh {
		t.Errorf("confidence = %q", j.Params.Person.Confidence)
	}
}

func TestStatus_Mapping(t *testing.T) {
	eng, store := newEngine(t)

	j, err := eng.Submit(context.Background(), "forensic.search", vehicleParams())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	tests := []struct {
		stored job.State
		want   job.State
	}{
		{job.StatePending, job.StatePending},
		{job.StateStarted, job.StateStarted},
		{job.StateRetry, job.StateStarted},
		{job.StateSuccess, job.StateSuccess},
		{job.State("exploded"), job.StateFailure},
	}
	for _, tt := range tests {
		if err := store.SetState(context.Background(), j.ID, tt.stored, "", ""); err != nil {
			t.Fatalf("SetState(%q): %v", tt.stored, err)
		}
		got, err := eng.Status(context.Background(), j.ID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if got != tt.want {
			t.Errorf("stored %q: status = %q, want %q", tt.stored, got, tt.want)
		}
	}
}

func TestStatus_UnknownJob(t *testing.T) {
	eng, _ := newEngine(t)

	if _, err := eng.Status(context.Background(), id.NewJobID()); !errors.Is(err, forensic.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestErr(t *testing.T) {
	eng, store := newEngine(t)

	j, err := eng.Submit(context.Background(), "forensic.search", vehicleParams())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	msg, stack, err := eng.Err(context.Background(), j.ID)
	if err != nil || msg != "" || stack != "" {
		t.Fatalf("Err before failure = (%q, %q, %v)", msg, stack, err)
	}

	if err := store.SetState(context.Background(), j.ID, job.StateFailure, "camera unreachable", "goroutine 1 [running]"); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	msg, stack, err = eng.Err(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("Err: %v", err)
	}
	if msg != "camera unreachable" || stack != "goroutine 1 [running]" {
		t.Errorf("Err = (%q, %q)", msg, stack)
	}
}

func TestCancel(t *testing.T) {
	eng, store := newEngine(t)

	j, err := eng.Submit(context.Background(), "forensic.search", vehicleParams())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	sub, err := store.SubscribeResults(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("SubscribeResults: %v", err)
	}
	defer sub.Close()

	if err := eng.Cancel(context.Background(), j.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	state, err := eng.Status(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if state != job.StateRevoked {
		t.Errorf("state = %q, want %q", state, job.StateRevoked)
	}

	res, err := sub.Next(context.Background(), time.Second)
	if err != nil || res == nil {
		t.Fatalf("Next: %v, %v", res, err)
	}
	if !res.Final || res.Meta.Kind != job.KindCancelled {
		t.Errorf("result = kind %q final %v, want final cancelled", res.Meta.Kind, res.Final)
	}

	// A revoked job cannot be cancelled again.
	if err := eng.Cancel(context.Background(), j.ID); !errors.Is(err, forensic.ErrInvalidState) {
		t.Fatalf("second Cancel = %v, want ErrInvalidState", err)
	}
}

func TestCancel_UnknownJob(t *testing.T) {
	eng, _ := newEngine(t)

	if err := eng.Cancel(context.Background(), id.NewJobID()); !errors.Is(err, forensic.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func appendDetection(t *testing.T, store *memory.Store, jobID id.JobID, source string, score float64, ts time.Time) {
	t.Helper()
	err := store.AppendResult(context.Background(), &job.Result{
		JobID: jobID,
		Meta: job.Meta{
			Kind:      job.KindDetection,
			Source:    source,
			Score:     score,
			Timestamp: &ts,
		},
		At: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("AppendResult: %v", err)
	}
}

func TestResults(t *testing.T) {
	eng, store := newEngine(t)

	j, err := eng.Submit(context.Background(), "forensic.search", vehicleParams())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	appendDetection(t, store, j.ID, "cam-1", 0.4, base.Add(2*time.Minute))
	appendDetection(t, store, j.ID, "cam-1", 0.9, base)
	appendDetection(t, store, j.ID, "cam-1", 0.6, base.Add(time.Minute))

	items, total, err := eng.Results(context.Background(), j.ID, job.ListOpts{SortBy: "score", Desc: true})
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if total != 3 || len(items) != 3 {
		t.Fatalf("total = %d, items = %d", total, len(items))
	}
	if items[0].Meta.Score != 0.9 || items[2].Meta.Score != 0.4 {
		t.Errorf("score order = %v, %v, %v", items[0].Meta.Score, items[1].Meta.Score, items[2].Meta.Score)
	}

	items, _, err = eng.Results(context.Background(), j.ID, job.ListOpts{SortBy: "date", Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("page size = %d", len(items))
	}
	if !items[0].Meta.Timestamp.Equal(base) {
		t.Errorf("first by date = %v, want %v", items[0].Meta.Timestamp, base)
	}
}

func TestDelete_Idempotent(t *testing.T) {
	eng, store := newEngine(t)

	j, err := eng.Submit(context.Background(), "forensic.search", vehicleParams())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	appendDetection(t, store, j.ID, "cam-1", 0.5, time.Now().UTC())

	// An unrelated job's data must survive the delete.
	other, err := eng.Submit(context.Background(), "forensic.search", vehicleParams())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	appendDetection(t, store, other.ID, "cam-2", 0.7, time.Now().UTC())

	existed, err := eng.Delete(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !existed {
		t.Error("first Delete reported not found")
	}

	existed, err = eng.Delete(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if existed {
		t.Error("second Delete reported found")
	}

	if _, total, err := eng.Results(context.Background(), other.ID, job.ListOpts{}); err != nil || total != 1 {
		t.Errorf("unrelated job results = %d, %v", total, err)
	}
}

func TestSubscribe_UnknownJob(t *testing.T) {
	eng, _ := newEngine(t)

	if _, err := eng.Subscribe(context.Background(), id.NewJobID(), false); !errors.Is(err, forensic.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestSubscribe_LiveUntilFinal(t *testing.T) {
	eng, store := newEngine(t)

	j, err := eng.Submit(context.Background(), "forensic.search", vehicleParams())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ch, err := eng.Subscribe(context.Background(), j.ID, false)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		appendDetection(t, store, j.ID, "cam-1", 0.8, time.Now().UTC())
		store.AppendResult(context.Background(), &job.Result{
			JobID: j.ID,
			Meta:  job.Meta{Kind: job.KindProgress, Progress: 100},
			Final: true,
			At:    time.Now().UTC(),
		})
	}()

	var got []*job.Result
	deadline := time.After(2 * time.Second)
	for {
		select {
		case res, ok := <-ch:
			if !ok {
				if len(got) != 2 {
					t.Fatalf("received %d results, want 2", len(got))
				}
				if got[0].Meta.Kind != job.KindDetection {
					t.Errorf("first = %q", got[0].Meta.Kind)
				}
				if !got[1].Final {
					t.Error("last result not final")
				}
				return
			}
			got = append(got, res)
		case <-deadline:
			t.Fatalf("subscription never closed, received %d results", len(got))
		}
	}
}

func TestSubscribe_ReplayThenSettle(t *testing.T) {
	eng, store := newEngine(t)

	j, err := eng.Submit(context.Background(), "forensic.search", vehicleParams())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	appendDetection(t, store, j.ID, "cam-1", 0.8, base)
	appendDetection(t, store, j.ID, "cam-1", 0.6, base.Add(time.Minute))
	if err := store.SetState(context.Background(), j.ID, job.StateSuccess, "", ""); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	// The job is already terminal: replay the history, then the settle
	// polls find only silence and the channel closes.
	ch, err := eng.Subscribe(context.Background(), j.ID, true)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	var got []*job.Result
	deadline := time.After(2 * time.Second)
	for {
		select {
		case res, ok := <-ch:
			if !ok {
				if len(got) != 2 {
					t.Fatalf("replayed %d results, want 2", len(got))
				}
				if !got[0].Meta.Timestamp.Equal(base) {
					t.Errorf("replay out of order: first = %v", got[0].Meta.Timestamp)
				}
				return
			}
			got = append(got, res)
		case <-deadline:
			t.Fatalf("subscription never closed, received %d results", len(got))
		}
	}
}

func TestSubscribe_ReplayDeliversFinalMarker(t *testing.T) {
	eng, store := newEngine(t)

	j, err := eng.Submit(context.Background(), "forensic.search", vehicleParams())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	appendDetection(t, store, j.ID, "cam-1", 0.8, base)
	if err := store.AppendResult(context.Background(), &job.Result{
		JobID: j.ID,
		Meta:  job.Meta{Kind: job.KindProgress, Progress: 100},
		Final: true,
		At:    time.Now().UTC(),
	}); err != nil {
		t.Fatalf("AppendResult: %v", err)
	}
	if err := store.SetState(context.Background(), j.ID, job.StateSuccess, "", ""); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	// A subscriber joining after completion gets the retained stream
	// including its final marker, then the channel closes immediately,
	// no settle polls needed.
	ch, err := eng.Subscribe(context.Background(), j.ID, true)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	var got []*job.Result
	deadline := time.After(2 * time.Second)
	for {
		select {
		case res, ok := <-ch:
			if !ok {
				if len(got) != 2 {
					t.Fatalf("replayed %d results, want 2", len(got))
				}
				if got[0].Meta.Kind != job.KindDetection {
					t.Errorf("first = %q, want detection", got[0].Meta.Kind)
				}
				last := got[1]
				if !last.Final || last.Meta.Kind != job.KindProgress || last.Meta.Progress != 100 {
					t.Errorf("last = %+v final %v, want final progress 100", last.Meta, last.Final)
				}
				return
			}
			got = append(got, res)
		case <-deadline:
			t.Fatalf("subscription never closed, received %d results", len(got))
		}
	}
}

func TestSubscribe_ContextCancel(t *testing.T) {
	eng, _ := newEngine(t)

	j, err := eng.Submit(context.Background(), "forensic.search", vehicleParams())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := eng.Subscribe(ctx, j.ID, false)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("received result after context cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not close on context cancel")
	}
}

func TestEngine_EndToEnd(t *testing.T) {
	eng, _ := newEngine(t)

	eng.Registry().Register("forensic.search", func(ctx context.Context, j *job.Job, emit job.Emitter) error {
		ts := j.Params.TimeRange.From
		return emit.Emit(ctx, job.Meta{
			Kind:      job.KindDetection,
			Source:    j.Params.Sources[0],
			Score:     0.75,
			Timestamp: &ts,
		}, []byte{0xff, 0xd8})
	})

	j, err := eng.Submit(context.Background(), "forensic.search", vehicleParams())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Attach the subscription before the pool starts so the live
	// channel observes every result.
	ch, err := eng.Subscribe(context.Background(), j.ID, false)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		eng.Stop(ctx)
	}()

	var got []*job.Result
	deadline := time.After(5 * time.Second)
	for {
		select {
		case res, ok := <-ch:
			if !ok {
				t.Fatalf("subscription closed before final, received %d results", len(got))
			}
			got = append(got, res)
			if res.Final {
				if len(got) < 2 {
					t.Fatalf("received %d results before final, want detection first", len(got))
				}
				if got[len(got)-2].Meta.Kind != job.KindDetection {
					t.Errorf("penultimate result = %q", got[len(got)-2].Meta.Kind)
				}
				if res.Meta.Progress != 100 {
					t.Errorf("final progress = %v", res.Meta.Progress)
				}
				state, err := eng.Status(context.Background(), j.ID)
				if err != nil {
					t.Fatalf("Status: %v", err)
				}
				if state != job.StateSuccess {
					t.Errorf("state = %q, want %q", state, job.StateSuccess)
				}
				return
			}
		case <-deadline:
			t.Fatalf("no final result, received %d results", len(got))
		}
	}
}
