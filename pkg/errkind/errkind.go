// Package errkind defines the error kinds shared by the CFA packages.
//
// Every kind is an [errs.Class]. Errors created or wrapped by a class keep
// their kind through fmt.Errorf("%w") wrapping, so callers classify with
// Has:
//
//	if errkind.NotFound.Has(err) {
//	    // unknown name, partition or object
//	}
package errkind

import (
	"github.com/zeebo/errs"
	"gocloud.dev/gcerrors"
)

var (
	// Conflict is returned when creating a name that already exists.
	Conflict = errs.Class("conflict")

	// NotFound is returned for unknown names, partitions and objects.
	NotFound = errs.Class("not found")

	// InvalidPartition is returned when an index, shape or location
	// invariant would be violated.
	InvalidPartition = errs.Class("invalid partition")

	// UnsupportedCombination is returned when a CFA version or feature is
	// requested against a container format that cannot express it.
	UnsupportedCombination = errs.Class("unsupported combination")

	// Range is returned for seeks or reads outside an object's bounds.
	Range = errs.Class("out of range")

	// Transport is returned for network and storage backend failures.
	Transport = errs.Class("transport")

	// UnsupportedOperation is returned for operations a stream mode does
	// not allow, such as seeking while writing.
	UnsupportedOperation = errs.Class("unsupported operation")
)

// Storage classifies an error returned by a gocloud blob operation.
// Missing objects become NotFound, everything else Transport.
func Storage(err error) error {
	if err == nil {
		return nil
	}
	if gcerrors.Code(err) == gcerrors.NotFound {
		return NotFound.Wrap(err)
	}
	return Transport.Wrap(err)
}
