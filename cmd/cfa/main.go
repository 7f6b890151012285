package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/ligustah/cfa/pkg/errkind"
)

// Exit codes
const (
	ExitSuccess           = 0
	ExitGeneralError      = 1
	ExitInvalidArgs       = 2
	ExitNotFound          = 3
	ExitUnsupported       = 4
	ExitStorageError      = 5
	ExitInvalidPartition  = 6
	ExitValidationFailed  = 7
	ExitConflict          = 8
	ExitRangeNotSatisfied = 9
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "split":
		return runSplit(cmdArgs)
	case "agg":
		return runAgg(cmdArgs)
	case "info":
		return runInfo(cmdArgs)
	case "mv":
		return runMove(cmdArgs)
	case "rm":
		return runRemove(cmdArgs)
	case "validate":
		return runValidate(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: cfa <command> [options]

Commands:
  split     Fragment a netCDF file into a master-array file and subarray files
  agg       Aggregate netCDF files along an axis into a master-array file
  info      Print the structure of a master-array or netCDF file
  mv        Point subarray references of a master-array file at a new prefix
  rm        Remove a master-array file and all its subarray files
  validate  Verify that partitions tile every variable and all subarrays exist

Run 'cfa <command> -h' for command-specific help.`)
}

// exitCode maps an error to the process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, errArgs):
		return ExitInvalidArgs
	case errkind.NotFound.Has(err):
		return ExitNotFound
	case errkind.UnsupportedCombination.Has(err), errkind.UnsupportedOperation.Has(err):
		return ExitUnsupported
	case errkind.Transport.Has(err):
		return ExitStorageError
	case errkind.InvalidPartition.Has(err):
		return ExitInvalidPartition
	case errkind.Conflict.Has(err):
		return ExitConflict
	case errkind.Range.Has(err):
		return ExitRangeNotSatisfied
	default:
		return ExitGeneralError
	}
}

var errArgs = errors.New("invalid arguments")

// fail reports err on stderr and returns its exit code.
func fail(err error) int {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return exitCode(err)
}
