package main

import (
	"fmt"

	"github.com/ligustah/cfa/pkg/nca"
)

// runValidate checks that the partitions of every fragmented variable tile
// it without gaps or overlaps and that every subarray file exists.
func runValidate(args []string) int {
	var common commonFlags
	fs := newFlagSet("validate", "[options] <master.nca>",
		"Verify that partitions tile every fragmented variable and that all\nsubarray files exist. With --deep, every subarray is read and its\nshape compared with the partition record.",
		&common)

	deep := fs.Bool("deep", false, "Read every subarray file and check its shape")

	if code, ok := parse(fs, args, 1, 1); !ok {
		return code
	}
	master := fs.Arg(0)

	env, err := common.setup()
	if err != nil {
		return fail(err)
	}
	defer env.Close()

	ctx, cancel := signalContext()
	defer cancel()

	result, err := nca.Validate(ctx, master, env.datasetOptions(), nca.ValidateOptions{Deep: *deep})
	if err != nil {
		return fail(err)
	}

	fmt.Printf("File: %s\n", master)
	fmt.Printf("Fragmented variables: %d\n", result.Variables)
	fmt.Printf("Partitions: %d\n", result.Partitions)

	if result.Valid {
		fmt.Println("Status: VALID")
		return ExitSuccess
	}

	fmt.Println("Status: INVALID")
	fmt.Printf("Missing files: %d\n", result.MissingFiles)
	fmt.Printf("Shape mismatches: %d\n", result.ShapeMismatches)
	fmt.Printf("Tiling errors: %d\n", result.TilingErrors)

	if len(result.Errors) > 0 {
		fmt.Println("\nErrors:")
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}

	return ExitValidationFailed
}
