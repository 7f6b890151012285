package main

import (
	"fmt"
	"os"

	"github.com/ligustah/cfa/internal/progress"
	"github.com/ligustah/cfa/pkg/split"
)

// runSplit fragments the data variables of a netCDF file into subarray
// files and writes the master-array file referencing them.
func runSplit(args []string) int {
	var common commonFlags
	fs := newFlagSet("split", "[options] <input.nc> <output.nca>",
		"Fragment the data variables of a netCDF file into subarray files stored\nnext to a CFA master-array file. Input and output may be local paths or\ns3:// URLs.",
		&common)

	maxElements := fs.Int("max-elements", split.DefaultMaxElements, "Maximum number of values per subarray")
	shape := fs.IntSlice("fragment-shape", nil, "Fixed subarray shape, one length per dimension")
	vars := fs.StringSlice("variables", nil, "Only fragment these variables")
	maxFailures := fs.Int("max-failures", 1, "Abort after this many failed subarray writes")

	if code, ok := parse(fs, args, 2, 2); !ok {
		return code
	}
	input, output := fs.Arg(0), fs.Arg(1)

	env, err := common.setup()
	if err != nil {
		return fail(err)
	}
	defer env.Close()

	ctx, cancel := signalContext()
	defer cancel()

	reporter := env.reporter("Splitting", input, 0)
	result, err := split.File(ctx, input, output, split.Options{
		MaxElements:   *maxElements,
		FragmentShape: *shape,
		Variables:     *vars,
		Dataset:       env.datasetOptions(),
		MaxFailures:   *maxFailures,
		Progress:      reporter,
	})
	if reporter != nil {
		reporter.Stop()
	}
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "[cfa] Split interrupted")
			return ExitGeneralError
		}
		return fail(err)
	}

	fmt.Fprintf(os.Stderr, "[cfa] Split complete: %s\n", result.Master)
	fmt.Fprintf(os.Stderr, "[cfa] Variables: %d | Subarrays: %d | %s\n",
		len(result.Variables), result.Partitions, progress.FormatBytes(result.Bytes))
	return ExitSuccess
}
