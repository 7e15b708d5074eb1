package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/sightline/forensic/job"
)

// PanicError is the error produced when a handler panics. It carries
// the recovered value and the goroutine stack so the job record can
// store both.
type PanicError struct {
	Value any
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Recover returns middleware that recovers from panics in the handler
// chain. Panics are converted to *PanicError and logged with the stack.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("job handler panicked",
					slog.String("job_name", j.Name),
					slog.String("job_id", j.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = &PanicError{Value: r, Stack: stack}
			}
		}()
		return next(ctx)
	}
}
