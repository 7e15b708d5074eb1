package pipeline

import (
	"sort"

	"github.com/sightline/forensic/job"
)

// Detection filter constants. Boxes smaller than MinReliableDim pixels
// on their shorter side score 0; boxes at or above TrainedDim score 1.
const (
	MinReliableDim = 20
	TrainedDim     = 100

	// Epsilon is the object-score cutoff applied before any
	// classification call.
	Epsilon = 0.01

	// OverlapThreshold is the IoU above which a detection is
	// suppressed by a box accepted in the previous frame.
	OverlapThreshold = 0.2
)

// vocabularies are the raw detector classes counted as each target
// type, unioned across the detector's source datasets.
var vocabularies = map[job.Target][]string{
	job.TargetVehicle: {
		"car", "truck", "bus", "van", "taxi", "ambulance", "limousine", "trailer",
	},
	job.TargetPerson: {
		"person", "pedestrian", "man", "woman",
	},
	job.TargetMobility: {
		"bicycle", "motorcycle", "motorbike", "scooter", "moped", "skateboard",
	},
}

// Vocabulary returns the detector class set for a target type.
func Vocabulary(target job.Target) []string {
	return vocabularies[target]
}

// Tier holds the floors and classifier depth of one confidence tier.
type Tier struct {
	// TopK is how many top-ranked classifier outputs per head are
	// considered when matching requested labels.
	TopK int
	// ClassifierFloor is the minimum probability a classifier output
	// must carry before it can match a requested label.
	ClassifierFloor float64
	// PerClassFloor is the minimum detector class probability.
	PerClassFloor float64
	// GlobalFloor is the minimum combined object times classification
	// score.
	GlobalFloor float64
}

var tiers = map[job.Confidence]Tier{
	job.ConfidenceHigh:   {TopK: 1, ClassifierFloor: 0.35, PerClassFloor: 0.40, GlobalFloor: 0.30},
	job.ConfidenceMedium: {TopK: 3, ClassifierFloor: 0.20, PerClassFloor: 0.25, GlobalFloor: 0.15},
	job.ConfidenceLow:    {TopK: 5, ClassifierFloor: 0.10, PerClassFloor: 0.12, GlobalFloor: 0.05},
}

// TierFor returns the tier settings for a confidence level, defaulting
// to medium for unknown values.
func TierFor(c job.Confidence) Tier {
	if t, ok := tiers[c]; ok {
		return t
	}
	return tiers[job.ConfidenceMedium]
}

// sizeScore rates detection reliability from the box's shorter pixel
// dimension: 0 below MinReliableDim, 1 at or above TrainedDim, linear
// in between.
func sizeScore(w, h int) float64 {
	dim := w
	if h < w {
		dim = h
	}
	switch {
	case dim < MinReliableDim:
		return 0
	case dim >= TrainedDim:
		return 1
	default:
		return float64(dim-MinReliableDim) / float64(TrainedDim-MinReliableDim)
	}
}

// classScore is the maximum probability among the target vocabulary's
// classes.
func classScore(probs map[string]float64, target job.Target) float64 {
	best := 0.0
	for _, class := range vocabularies[target] {
		if p, ok := probs[class]; ok && p > best {
			best = p
		}
	}
	return best
}

// iou is the intersection-over-union of two normalized boxes.
func iou(a, b job.Box) float64 {
	ix := min(a.MaxX, b.MaxX) - max(a.MinX, b.MinX)
	iy := min(a.MaxY, b.MaxY) - max(a.MinY, b.MinY)
	if ix <= 0 || iy <= 0 {
		return 0
	}
	inter := ix * iy
	areaA := (a.MaxX - a.MinX) * (a.MaxY - a.MinY)
	areaB := (b.MaxX - b.MinX) * (b.MaxY - b.MinY)
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// overlapsPrevious reports whether the box is suppressed by any box
// accepted in the previous frame.
func overlapsPrevious(box job.Box, previous []job.Box) bool {
	for _, p := range previous {
		if iou(box, p) > OverlapThreshold {
			return true
		}
	}
	return false
}

// topLabels returns the head's k highest-probability labels at or above
// the floor.
func topLabels(probs map[string]float64, k int, floor float64) map[string]float64 {
	type entry struct {
		label string
		prob  float64
	}
	entries := make([]entry, 0, len(probs))
	for label, p := range probs {
		if p >= floor {
			entries = append(entries, entry{label, p})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].prob != entries[j].prob {
			return entries[i].prob > entries[j].prob
		}
		return entries[i].label < entries[j].label
	})
	if len(entries) > k {
		entries = entries[:k]
	}
	out := make(map[string]float64, len(entries))
	for _, e := range entries {
		out[e.label] = e.prob
	}
	return out
}

// matchScore computes the product, over each requested head, of the
// maximum probability among the requested labels present in the head's
// considered outputs. Heads the job does not constrain contribute 1;
// a constrained head with no matching label contributes 0.
func matchScore(attrs job.Attributes, filters map[string][]string, tier Tier) float64 {
	score := 1.0
	for head, wanted := range filters {
		considered := topLabels(attrs[head], tier.TopK, tier.ClassifierFloor)
		best := 0.0
		for _, label := range wanted {
			if p, ok := considered[label]; ok && p > best {
				best = p
			}
		}
		score *= best
	}
	return score
}
