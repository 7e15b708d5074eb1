package pipeline

import (
	"context"
	"time"

	"github.com/sightline/forensic/job"
)

// observedEmitter forwards every emission to the wrapped emitter and
// then to the attached observers.
type observedEmitter struct {
	emitter   job.Emitter
	observers []job.Observer
}

func (o *observedEmitter) Emit(ctx context.Context, meta job.Meta, frame []byte) error {
	if err := o.emitter.Emit(ctx, meta, frame); err != nil {
		return err
	}
	r := &job.Result{Meta: meta, Frame: frame, At: time.Now().UTC()}
	for _, obs := range o.observers {
		obs.OnUpdate(r)
	}
	return nil
}
