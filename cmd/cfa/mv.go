package main

import (
	"fmt"
	"os"

	"github.com/ligustah/cfa/pkg/nca"
)

// runMove rewrites the subarray references of a master-array file so they
// point at a new prefix. The subarray files themselves are not copied.
func runMove(args []string) int {
	var common commonFlags
	fs := newFlagSet("mv", "[options] <master.nca> <prefix>",
		"Point the subarray files of a master-array file at a new directory or\nbucket prefix, keeping each file name. Move the files separately.",
		&common)

	group := fs.StringP("group", "g", "", "Only rewrite partitions of this group")
	variable := fs.StringP("variable", "V", "", "Only rewrite partitions of this variable")
	partition := fs.IntSlice("partition", nil, "Only rewrite the partition at this index, e.g. 0,1,0")

	if code, ok := parse(fs, args, 2, 2); !ok {
		return code
	}
	master, prefix := fs.Arg(0), fs.Arg(1)

	env, err := common.setup()
	if err != nil {
		return fail(err)
	}
	defer env.Close()

	ctx, cancel := signalContext()
	defer cancel()

	ds, err := nca.OpenForUpdate(ctx, master, env.datasetOptions())
	if err != nil {
		return fail(err)
	}
	n, err := ds.Move(prefix, nca.Filter{Group: *group, Variable: *variable, Partition: *partition})
	if err != nil {
		// Not closed: closing would write the partial rewrite.
		return fail(err)
	}
	if err := ds.Close(ctx); err != nil {
		return fail(err)
	}

	fmt.Fprintf(os.Stderr, "[cfa] Moved %d partitions to %s\n", n, prefix)
	return ExitSuccess
}
