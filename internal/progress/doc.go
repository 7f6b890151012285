// Package progress reports partition transfer progress.
//
// This package outputs human-readable progress information to stderr,
// including completion percentage, transfer speed and partition counts.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    Operation:       "Splitting",
//	    Target:          "out/data.nca",
//	    TotalPartitions: n,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	// Update as partitions complete
//	reporter.PartitionStarted()
//	reporter.BytesTransferred(size)
//	reporter.PartitionCompleted()
//
// # Output Format
//
//	[cfa] Splitting: out/data.nca
//	[cfa] Partitions: 64 | Workers: 8
//	[cfa] Progress: 45.2% | 1.1 GiB | Speed: 120 MiB/s | 29 done, 8 in-progress, 27 pending
//	[cfa] 64 partitions | 0 failed | 2.5 GiB in 21s | Average speed: 121 MiB/s
package progress
