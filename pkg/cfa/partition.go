package cfa

import (
	"strconv"
	"strings"
)

// Range is a half-open interval [Start, End) along one dimension.
type Range struct {
	Start int
	End   int
}

// Len returns End - Start.
func (r Range) Len() int {
	return r.End - r.Start
}

// Subarray references the container file holding one fragment.
type Subarray struct {
	File   string
	Format string
	NCVar  string
	Shape  []int
}

// Partition is one fragment: its matrix index, its location in the
// global array and the file that holds it.
type Partition struct {
	Index    []int
	Location []Range
	Subarray Subarray
}

// Clone returns a deep copy.
func (p Partition) Clone() Partition {
	return Partition{
		Index:    append([]int(nil), p.Index...),
		Location: append([]Range(nil), p.Location...),
		Subarray: Subarray{
			File:   p.Subarray.File,
			Format: p.Subarray.Format,
			NCVar:  p.Subarray.NCVar,
			Shape:  append([]int(nil), p.Subarray.Shape...),
		},
	}
}

// PartitionMatrix is the set of partitions of one variable, addressed by
// index tuple.
type PartitionMatrix struct {
	dims  []string
	shape []int
	base  string
	parts map[string]*Partition
}

func newPartitionMatrix(dims []string, shape []int) *PartitionMatrix {
	return &PartitionMatrix{
		dims:  append([]string(nil), dims...),
		shape: append([]int(nil), shape...),
		parts: make(map[string]*Partition),
	}
}

// Dimensions returns the pmdimensions.
func (m *PartitionMatrix) Dimensions() []string {
	return append([]string(nil), m.dims...)
}

// Shape returns the pmshape.
func (m *PartitionMatrix) Shape() []int {
	return append([]int(nil), m.shape...)
}

// Base returns the prefix for relative subarray file names.
func (m *PartitionMatrix) Base() string {
	return m.base
}

// Len returns the number of partitions written.
func (m *PartitionMatrix) Len() int {
	return len(m.parts)
}

func (m *PartitionMatrix) clone() *PartitionMatrix {
	out := newPartitionMatrix(m.dims, m.shape)
	out.base = m.base
	for k, p := range m.parts {
		c := p.Clone()
		out.parts[k] = &c
	}
	return out
}

// IndexKey encodes an index tuple as a map key, e.g. [1 0 4] -> "1.0.4".
func IndexKey(index []int) string {
	if len(index) == 1 {
		return strconv.Itoa(index[0])
	}
	var sb strings.Builder
	for i, idx := range index {
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(strconv.Itoa(idx))
	}
	return sb.String()
}

// ResolveFile joins base and a subarray file name. Absolute paths and
// URIs are returned unchanged.
func ResolveFile(base, file string) string {
	if base == "" || strings.HasPrefix(file, "/") || strings.Contains(file, "://") {
		return file
	}
	return strings.TrimSuffix(base, "/") + "/" + file
}

// lessIndex orders index tuples row-major.
func lessIndex(a, b []int) bool {
	for i := range a {
		if i >= len(b) {
			return false
		}
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
