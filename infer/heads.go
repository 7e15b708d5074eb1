package infer

import (
	"context"
	"strings"

	"github.com/sightline/forensic/job"
)

// Detector model paths keyed by search target.
var detectorModels = map[job.Target]string{
	job.TargetVehicle:  "/vehicle",
	job.TargetPerson:   "/person",
	job.TargetMobility: "/mobility",
}

// Classifier head paths keyed by search target. Vehicle and mobility
// share the vehicle heads; person carries the clothing heads on top of
// gender and age.
var classifierHeads = map[job.Target][]string{
	job.TargetVehicle:  {"/vehicle_type", "/vehicle_color"},
	job.TargetPerson:   {"/gender", "/age", "/clothing_upper", "/clothing_lower"},
	job.TargetMobility: {"/vehicle_type", "/vehicle_color"},
}

// DetectorModel returns the detection model path for a target.
func DetectorModel(target job.Target) (string, bool) {
	m, ok := detectorModels[target]
	return m, ok
}

// ClassifierModels returns the classifier head paths for a target.
func ClassifierModels(target job.Target) []string {
	return classifierHeads[target]
}

// HeadName converts a model path to the head name used in results and
// filters, "/vehicle_type" to "vehicle_type".
func HeadName(model string) string {
	return strings.TrimPrefix(model, "/")
}

// Attributes runs every classifier head for the target over the crop
// and merges the per-head label probabilities. Heads the runtime does
// not serve are skipped.
func (c *Client) Attributes(ctx context.Context, target job.Target, img *Payload) (job.Attributes, error) {
	desc, err := c.Describe(ctx)
	if err != nil {
		return nil, err
	}

	attrs := make(job.Attributes)
	for _, model := range ClassifierModels(target) {
		if _, err := desc.Model(model); err != nil {
			c.logger.Debug("classifier head not served, skipping",
				"model", model)
			continue
		}
		probs, err := c.Classify(ctx, model, img)
		if err != nil {
			return nil, err
		}
		attrs.Merge(job.Attributes{HeadName(model): probs})
	}
	return attrs, nil
}
