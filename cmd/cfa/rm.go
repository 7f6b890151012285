package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/ligustah/cfa/pkg/nca"
)

// runRemove deletes a master-array file and every subarray file it
// references. Prompts for confirmation unless --force is given.
func runRemove(args []string) int {
	var common commonFlags
	fs := newFlagSet("rm", "[options] <master.nca>",
		"Remove a master-array file and all subarray files it references.",
		&common)

	force := fs.BoolP("force", "f", false, "Skip confirmation prompt")

	if code, ok := parse(fs, args, 1, 1); !ok {
		return code
	}
	master := fs.Arg(0)

	if !*force {
		fmt.Printf("Delete %s and all its subarray files? [y/N]: ", master)
		reader := bufio.NewReader(os.Stdin)
		response, _ := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(os.Stderr, "Cancelled")
			return ExitSuccess
		}
	}

	env, err := common.setup()
	if err != nil {
		return fail(err)
	}
	defer env.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if err := nca.Delete(ctx, master, env.datasetOptions()); err != nil {
		return fail(err)
	}

	fmt.Fprintf(os.Stderr, "[cfa] Deleted: %s\n", master)
	return ExitSuccess
}
