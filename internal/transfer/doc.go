// Package transfer runs independent partition transfers on a bounded set
// of workers.
//
// Partitions occupy disjoint files, so jobs have no ordering
// dependency. Run stops scheduling new jobs once MaxFailures jobs have
// failed and returns an *Error naming every failed job.
//
// # Usage
//
//	jobs := make([]transfer.Job, len(parts))
//	for i, p := range parts {
//	    jobs[i] = transfer.Job{Index: i, Name: p.Subarray.File, Run: func(ctx context.Context) (int64, error) {
//	        return writeFragment(ctx, p)
//	    }}
//	}
//	err := transfer.Run(ctx, jobs, transfer.Options{Workers: 8})
package transfer
