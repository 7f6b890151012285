package main

import (
	"fmt"
	"os"

	"github.com/ligustah/cfa/pkg/aggregate"
)

// runAgg aggregates netCDF files along one axis into a master-array file
// whose partitions reference the input files in place.
func runAgg(args []string) int {
	var common commonFlags
	fs := newFlagSet("agg", "[options] <output.nca> <input>...",
		"Aggregate netCDF files along an axis into a CFA master-array file. Each\ninput may be a file, a directory or a glob pattern, locally or on s3://.\nThe input files are referenced in place, not copied.",
		&common)

	axis := fs.StringP("axis", "a", "time", "Dimension to aggregate along")
	commonUnits := fs.StringP("common-units", "c", "", `Re-express time coordinates in these units, e.g. "days since 1970-01-01"`)
	irregular := fs.Bool("allow-irregular", false, "Accept axis coordinates with non-uniform spacing")

	if code, ok := parse(fs, args, 2, -1); !ok {
		return code
	}
	output := fs.Arg(0)

	env, err := common.setup()
	if err != nil {
		return fail(err)
	}
	defer env.Close()

	ctx, cancel := signalContext()
	defer cancel()

	var files []string
	for _, p := range fs.Args()[1:] {
		found, err := aggregate.ListFiles(ctx, env.pool, p)
		if err != nil {
			return fail(err)
		}
		files = append(files, found...)
	}
	env.logger.Debug("aggregating", "files", len(files), "axis", *axis)

	ds, err := aggregate.Aggregate(ctx, files, output, aggregate.Options{
		Axis:                  *axis,
		CommonUnits:           *commonUnits,
		AllowIrregularSpacing: *irregular,
		Dataset:               env.datasetOptions(),
	})
	if err != nil {
		return fail(err)
	}
	if err := ds.Close(ctx); err != nil {
		return fail(err)
	}

	fmt.Fprintf(os.Stderr, "[cfa] Aggregated %d files: %s\n", len(files), output)
	return ExitSuccess
}
