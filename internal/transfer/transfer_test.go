package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ligustah/cfa/internal/progress"
	"github.com/ligustah/cfa/pkg/errkind"
)

func TestRunAllJobs(t *testing.T) {
	var ran atomic.Int32
	var running, peak atomic.Int32
	jobs := make([]Job, 20)
	for i := range jobs {
		jobs[i] = Job{Index: i, Name: fmt.Sprintf("job-%d", i), Run: func(ctx context.Context) (int64, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
			ran.Add(1)
			return 10, nil
		}}
	}
	reporter := progress.NewReporter(progress.Options{TotalPartitions: len(jobs)})
	if err := Run(context.Background(), jobs, Options{Workers: 3, Progress: reporter}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ran.Load() != 20 {
		t.Errorf("ran %d jobs, want 20", ran.Load())
	}
	if peak.Load() > 3 {
		t.Errorf("%d jobs ran concurrently, want at most 3", peak.Load())
	}
}

func TestRunStopsOnFailure(t *testing.T) {
	boom := errkind.Transport.New("backend down")
	var ran atomic.Int32
	jobs := make([]Job, 50)
	for i := range jobs {
		jobs[i] = Job{Index: i, Name: fmt.Sprintf("part-%d", i), Run: func(ctx context.Context) (int64, error) {
			ran.Add(1)
			if i == 2 {
				return 0, boom
			}
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(5 * time.Millisecond):
			}
			return 1, nil
		}}
	}
	err := Run(context.Background(), jobs, Options{Workers: 2})

	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("Run = %v, want *Error", err)
	}
	if len(terr.Failed) != 1 || terr.Failed[0].Index != 2 {
		t.Errorf("Failed = %+v, want only job 2", terr.Failed)
	}
	if !errkind.Transport.Has(err) {
		t.Errorf("error class lost: %v", err)
	}
	if ran.Load() == 50 {
		t.Error("all jobs ran after a failure")
	}
}

func TestRunToleratesFailuresBelowLimit(t *testing.T) {
	jobs := make([]Job, 6)
	for i := range jobs {
		jobs[i] = Job{Index: i, Name: fmt.Sprint(i), Run: func(ctx context.Context) (int64, error) {
			if i%3 == 0 {
				return 0, errors.New("flaky")
			}
			return 0, nil
		}}
	}
	err := Run(context.Background(), jobs, Options{Workers: 1, MaxFailures: 10})
	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("Run = %v, want *Error", err)
	}
	if len(terr.Failed) != 2 || terr.Failed[0].Index != 0 || terr.Failed[1].Index != 3 {
		t.Errorf("Failed = %+v", terr.Failed)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Run(ctx, []Job{{Name: "x", Run: func(ctx context.Context) (int64, error) { return 0, nil }}}, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}
