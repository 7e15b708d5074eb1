package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sightline/forensic/job"
)

// Logging returns middleware that logs search start and outcome. The
// start line carries the search shape (target, source fan-out, replay
// window) so a single log line identifies what a worker picked up.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		logger.Info("job started",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("queue", j.Queue),
			slog.String("target", string(j.Params.Target)),
			slog.Int("sources", len(j.Params.Sources)),
			slog.Duration("window", j.Params.TimeRange.To.Sub(j.Params.TimeRange.From)),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		switch {
		case errors.Is(err, context.Canceled) || ctx.Err() != nil:
			// Revocation is an operator action, not a failure.
			logger.Info("job revoked",
				slog.String("job_id", j.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		case err != nil:
			logger.Error("job failed",
				slog.String("job_id", j.ID.String()),
				slog.String("job_name", j.Name),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		default:
			logger.Info("job completed",
				slog.String("job_id", j.ID.String()),
				slog.String("job_name", j.Name),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
