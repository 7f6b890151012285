// Package cfa implements the CFA master-array data model.
//
// A logical N-dimensional array is stored as a matrix of rectangular
// sub-arrays, each held in its own container file. The master-array
// descriptor records where each fragment sits in the global array.
//
// # Hierarchy
//
//	Dataset
//	  Group ("root" always exists)
//	    Dimension (length 0 denotes unlimited)
//	    Variable  (Inline, or Fragmented with a PartitionMatrix)
//	      PartitionMatrix (pmdimensions, pmshape)
//	        Partition (index, location, Subarray)
//
// Variables refer back to their group by id; [Dataset.GroupOf] resolves
// the id through the dataset's registry.
//
// # Invariants
//
// [Variable.WritePartition] rejects a partition whose index is out of the
// matrix bounds, whose location does not cover every variable dimension
// or runs past a fixed-length one, or whose subarray shape disagrees
// with its location. Rejections leave
// the matrix untouched. Partitions are upserted by index and never
// removed individually.
//
// # Fragmentation shape
//
// [ComputeShape] balances the number of fragments touched by a whole
// field read at one time step against a whole time series read at one
// point. [Bounds] turns the result into exact per-axis boundaries.
//
// # Wire format
//
// [MarshalArray] and [UnmarshalArray] encode a partition matrix as the
// cfa_array JSON attribute. Parsing is strict: unknown fields and missing
// required fields are rejected.
package cfa
