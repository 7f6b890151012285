package main

import (
	"os"

	"github.com/ligustah/cfa/pkg/nca"
)

// runInfo prints the header of a master-array file, optionally with its
// partition tables.
func runInfo(args []string) int {
	var common commonFlags
	fs := newFlagSet("info", "[options] <file>",
		"Print the dimensions, variables and attributes of a master-array file.",
		&common)

	group := fs.StringP("group", "g", "", "Only show this group")
	variable := fs.StringP("variable", "V", "", "Only show this variable")
	partitions := fs.BoolP("partitions", "p", false, "List the partitions of fragmented variables")

	if code, ok := parse(fs, args, 1, 1); !ok {
		return code
	}

	env, err := common.setup()
	if err != nil {
		return fail(err)
	}
	defer env.Close()

	ctx, cancel := signalContext()
	defer cancel()

	ds, err := nca.Open(ctx, fs.Arg(0), env.datasetOptions())
	if err != nil {
		return fail(err)
	}
	defer ds.Close(ctx)

	err = ds.Describe(os.Stdout, nca.DescribeOptions{
		Group:      *group,
		Variable:   *variable,
		Partitions: *partitions,
	})
	if err != nil {
		return fail(err)
	}
	return ExitSuccess
}
