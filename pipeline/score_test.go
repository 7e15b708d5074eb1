package pipeline

import (
	"math"
	"testing"

	"github.com/sightline/forensic/job"
)

func TestSizeScore(t *testing.T) {
	tests := []struct {
		name string
		w, h int
		want float64
	}{
		{"below reliable minimum", 19, 200, 0},
		{"at reliable minimum", 20, 200, 0},
		{"at trained size", 100, 200, 1},
		{"above trained size", 400, 300, 1},
		{"halfway", 60, 200, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sizeScore(tt.w, tt.h); math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("sizeScore(%d, %d) = %v, want %v", tt.w, tt.h, got, tt.want)
			}
		})
	}
}

func TestClassScore(t *testing.T) {
	probs := map[string]float64{
		"car":    0.3,
		"truck":  0.6,
		"person": 0.9,
		"dog":    0.95,
	}

	if got := classScore(probs, job.TargetVehicle); got != 0.6 {
		t.Fatalf("vehicle class score = %v, want 0.6 (best of car/truck)", got)
	}
	if got := classScore(probs, job.TargetPerson); got != 0.9 {
		t.Fatalf("person class score = %v, want 0.9", got)
	}
	if got := classScore(probs, job.TargetMobility); got != 0 {
		t.Fatalf("mobility class score = %v, want 0 for no vocabulary class", got)
	}
}

func TestIoU(t *testing.T) {
	a := job.Box{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1}

	tests := []struct {
		name string
		b    job.Box
		want float64
	}{
		{"identical", a, 1},
		{"disjoint", job.Box{MinX: 2, MinY: 2, MaxX: 3, MaxY: 3}, 0},
		{"touching edge", job.Box{MinX: 1, MinY: 0, MaxX: 2, MaxY: 1}, 0},
		{"half overlap", job.Box{MinX: 0.5, MinY: 0, MaxX: 1.5, MaxY: 1}, 1.0 / 3.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := iou(a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("iou = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOverlapsPrevious(t *testing.T) {
	previous := []job.Box{{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1}}

	overlapping := job.Box{MinX: 0.1, MinY: 0.1, MaxX: 1.1, MaxY: 1.1}
	if !overlapsPrevious(overlapping, previous) {
		t.Fatal("heavily overlapping box should be suppressed")
	}

	// IoU just over the threshold on one axis.
	distant := job.Box{MinX: 0.9, MinY: 0.9, MaxX: 1.9, MaxY: 1.9}
	if overlapsPrevious(distant, previous) {
		t.Fatal("corner-touching box is below the overlap threshold")
	}
	if overlapsPrevious(overlapping, nil) {
		t.Fatal("no previous boxes, nothing to suppress")
	}
}

func TestTierFor(t *testing.T) {
	if got := TierFor(job.ConfidenceHigh); got.TopK != 1 || got.GlobalFloor != 0.30 {
		t.Fatalf("high tier = %+v", got)
	}
	if got := TierFor(job.Confidence("nonsense")); got != TierFor(job.ConfidenceMedium) {
		t.Fatalf("unknown confidence should fall back to medium, got %+v", got)
	}
}

func TestTopLabels(t *testing.T) {
	probs := map[string]float64{
		"black": 0.5,
		"white": 0.3,
		"red":   0.15,
		"blue":  0.05,
	}

	got := topLabels(probs, 2, 0.1)
	if len(got) != 2 {
		t.Fatalf("topLabels = %v, want black and white only", got)
	}
	if got["black"] != 0.5 || got["white"] != 0.3 {
		t.Fatalf("topLabels = %v", got)
	}

	// The floor removes candidates before the top-k cut.
	got = topLabels(probs, 5, 0.2)
	if len(got) != 2 {
		t.Fatalf("floored topLabels = %v, want 2 entries", got)
	}
}

func TestMatchScore(t *testing.T) {
	attrs := job.Attributes{
		"vehicle_type":  {"car": 0.8, "truck": 0.1},
		"vehicle_color": {"black": 0.6, "white": 0.3},
	}
	tier := TierFor(job.ConfidenceMedium)

	// Unconstrained filters contribute 1.
	if got := matchScore(attrs, nil, tier); got != 1 {
		t.Fatalf("unconstrained score = %v, want 1", got)
	}

	filters := map[string][]string{
		"vehicle_type":  {"car"},
		"vehicle_color": {"black"},
	}
	if got := matchScore(attrs, filters, tier); math.Abs(got-0.48) > 1e-9 {
		t.Fatalf("score = %v, want 0.8*0.6", got)
	}

	// A constrained head with no matching label zeroes the score.
	filters["vehicle_color"] = []string{"green"}
	if got := matchScore(attrs, filters, tier); got != 0 {
		t.Fatalf("score = %v, want 0 for unmatched color", got)
	}

	// High tier considers only the single top label per head.
	high := TierFor(job.ConfidenceHigh)
	filters = map[string][]string{"vehicle_color": {"white"}}
	if got := matchScore(attrs, filters, high); got != 0 {
		t.Fatalf("score = %v, want 0: white is not the top color at topK=1", got)
	}
}
