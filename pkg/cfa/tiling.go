package cfa

import (
	"sort"

	"github.com/ligustah/cfa/pkg/errkind"
)

// CheckTiling verifies that the partitions of a fragmented variable cover
// the box [0, shape) exactly: every location lies inside the box, no two
// partitions overlap, and along each dimension the distinct ranges form a
// contiguous run from 0 to the dimension length.
func (v *Variable) CheckTiling(shape []int) error {
	parts := v.Partitions()
	name := v.Name()
	dims := v.Dimensions()
	if v.Kind() != Fragmented {
		return errkind.InvalidPartition.New("variable %q is not fragmented", name)
	}
	if len(shape) != len(dims) {
		return errkind.InvalidPartition.New("variable %q: shape %v for %d dimensions", name, shape, len(dims))
	}

	total := 1
	for _, n := range shape {
		total *= n
	}
	covered := 0
	for i, p := range parts {
		vol := 1
		for d, r := range p.Location {
			if r.Start < 0 || r.End > shape[d] {
				return errkind.InvalidPartition.New("variable %q: partition %v location [%d, %d) outside %q of length %d",
					name, p.Index, r.Start, r.End, dims[d], shape[d])
			}
			vol *= r.Len()
		}
		covered += vol
		for _, q := range parts[:i] {
			if overlaps(p.Location, q.Location) {
				return errkind.InvalidPartition.New("variable %q: partitions %v and %v overlap", name, q.Index, p.Index)
			}
		}
	}
	if covered != total {
		return errkind.InvalidPartition.New("variable %q: partitions cover %d of %d elements", name, covered, total)
	}

	for d := range dims {
		seen := make(map[Range]bool)
		var ranges []Range
		for _, p := range parts {
			if r := p.Location[d]; !seen[r] {
				seen[r] = true
				ranges = append(ranges, r)
			}
		}
		sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })
		next := 0
		for _, r := range ranges {
			if r.Start != next {
				return errkind.InvalidPartition.New("variable %q: ranges along %q break at %d", name, dims[d], next)
			}
			next = r.End
		}
		if next != shape[d] {
			return errkind.InvalidPartition.New("variable %q: ranges along %q end at %d, want %d", name, dims[d], next, shape[d])
		}
	}
	return nil
}

func overlaps(a, b []Range) bool {
	for i := range a {
		if a[i].End <= b[i].Start || b[i].End <= a[i].Start {
			return false
		}
	}
	return true
}
