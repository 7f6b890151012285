package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ligustah/cfa/internal/progress"
)

// Options configures Run.
type Options struct {
	// Workers is the number of parallel workers (default: 8).
	Workers int

	// MaxFailures is the number of failed jobs after which the remaining
	// jobs are cancelled (default: 1).
	MaxFailures int

	// Progress is an optional progress reporter.
	Progress *progress.Reporter

	Logger *slog.Logger
}

// Job is one unit of work. Run returns the number of bytes moved.
type Job struct {
	Index int
	Name  string
	Run   func(ctx context.Context) (int64, error)
}

// FailedJob records a job that returned an error.
type FailedJob struct {
	Index int
	Name  string
	Error error
}

// Error is returned when at least one job failed.
//
// Use errors.As to extract it and inspect Failed; errors.Is and the
// errkind classes see through to the first failure.
type Error struct {
	Failed []FailedJob

	cause error
}

func (e *Error) Error() string {
	if len(e.Failed) == 1 {
		f := e.Failed[0]
		return fmt.Sprintf("transfer: %s: %v", f.Name, f.Error)
	}
	names := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		names[i] = f.Name
	}
	return fmt.Sprintf("transfer: %d jobs failed (%s): %v", len(e.Failed), strings.Join(names, ", "), e.cause)
}

// Unwrap returns the first failure to occur.
func (e *Error) Unwrap() error {
	return e.cause
}

// Run executes jobs with at most opts.Workers running at once.
func Run(ctx context.Context, jobs []Job, opts Options) error {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var (
		mu     sync.Mutex
		failed []FailedJob
		cause  error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	for _, job := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			if opts.Progress != nil {
				opts.Progress.PartitionStarted()
			}
			n, err := job.Run(gctx)
			if err != nil {
				if opts.Progress != nil {
					opts.Progress.PartitionFailed()
				}
				if gctx.Err() != nil && errors.Is(err, context.Canceled) {
					// Cancelled because another job tripped the limit.
					return nil
				}
				logger.Debug("job failed", "index", job.Index, "name", job.Name, "error", err)
				mu.Lock()
				failed = append(failed, FailedJob{Index: job.Index, Name: job.Name, Error: err})
				if cause == nil {
					cause = err
				}
				trip := len(failed) >= opts.MaxFailures
				mu.Unlock()
				if trip {
					return err
				}
				return nil
			}
			if opts.Progress != nil {
				opts.Progress.BytesTransferred(n)
				opts.Progress.PartitionCompleted()
			}
			return nil
		})
	}
	g.Wait()

	if len(failed) > 0 {
		sort.Slice(failed, func(i, j int) bool { return failed[i].Index < failed[j].Index })
		return &Error{Failed: failed, cause: cause}
	}
	return ctx.Err()
}
