package cfa

import (
	"sort"
	"sync"

	"github.com/ligustah/cfa/pkg/errkind"
)

// Kind distinguishes variables whose data lives in the master file from
// variables split into partitions.
type Kind int

const (
	Inline Kind = iota
	Fragmented
)

func (k Kind) String() string {
	switch k {
	case Inline:
		return "inline"
	case Fragmented:
		return "fragmented"
	default:
		return "unknown"
	}
}

// Variable is a named n-dimensional array. All partition operations are
// serialized by the variable's lock.
type Variable struct {
	Metadata Metadata

	mu       sync.RWMutex
	name     string
	dataType string
	dims     []string
	groupID  int
	kind     Kind
	matrix   *PartitionMatrix

	// lookup resolves the variable's dimensions for bounds checks.
	lookup func(name string) (*Dimension, error)
}

// Name returns the variable name.
func (v *Variable) Name() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.name
}

// Type returns the element type name (byte, short, int, float, double,
// char).
func (v *Variable) Type() string {
	return v.dataType
}

// Dimensions returns the dimension names, in order.
func (v *Variable) Dimensions() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]string(nil), v.dims...)
}

// Kind reports whether a partition matrix is attached.
func (v *Variable) Kind() Kind {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.kind
}

func (v *Variable) renameDimension(oldName, newName string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	replaceName(v.dims, oldName, newName)
	if v.matrix != nil {
		replaceName(v.matrix.dims, oldName, newName)
	}
}

// PartitionMatrix returns a snapshot of the attached matrix.
func (v *Variable) PartitionMatrix() (*PartitionMatrix, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.matrix == nil {
		return nil, false
	}
	return v.matrix.clone(), true
}

// AttachPartitionMatrix makes the variable fragmented. pmdims must be
// dimensions of the variable, pmshape gives the partition count along
// each of them.
func (v *Variable) AttachPartitionMatrix(pmdims []string, pmshape []int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.matrix != nil {
		return errkind.Conflict.New("variable %q already has a partition matrix", v.name)
	}
	if len(pmdims) != len(pmshape) {
		return errkind.InvalidPartition.New("variable %q: %d pmdimensions but %d pmshape entries",
			v.name, len(pmdims), len(pmshape))
	}
	for i, d := range pmdims {
		if v.dimIndex(d) < 0 {
			return errkind.InvalidPartition.New("variable %q has no dimension %q", v.name, d)
		}
		if pmshape[i] < 0 {
			return errkind.InvalidPartition.New("variable %q: negative pmshape %d", v.name, pmshape[i])
		}
	}
	v.matrix = newPartitionMatrix(pmdims, pmshape)
	v.kind = Fragmented
	return nil
}

// SetBase sets the prefix used to resolve relative subarray file names.
func (v *Variable) SetBase(base string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.matrix == nil {
		return errkind.InvalidPartition.New("variable %q is not fragmented", v.name)
	}
	v.matrix.base = base
	return nil
}

func (v *Variable) dimIndex(name string) int {
	for i, d := range v.dims {
		if d == name {
			return i
		}
	}
	return -1
}

// dimLengths resolves the length of each dimension. 0 stands for an
// unlimited or unknown dimension. It must not be called with v.mu held,
// since group locks are taken before variable locks.
func (v *Variable) dimLengths() []int {
	v.mu.RLock()
	dims, lookup := append([]string(nil), v.dims...), v.lookup
	v.mu.RUnlock()
	lengths := make([]int, len(dims))
	if lookup == nil {
		return lengths
	}
	for i, name := range dims {
		if dim, err := lookup(name); err == nil {
			lengths[i] = dim.Len()
		}
	}
	return lengths
}

func (v *Variable) checkPartition(p Partition, lengths []int) error {
	m := v.matrix
	if m == nil {
		return errkind.InvalidPartition.New("variable %q is not fragmented", v.name)
	}
	if len(p.Index) != len(m.dims) {
		return errkind.InvalidPartition.New("variable %q: index %v has %d components, want %d",
			v.name, p.Index, len(p.Index), len(m.dims))
	}
	for i, idx := range p.Index {
		if idx < 0 || idx >= m.shape[i] {
			return errkind.InvalidPartition.New("variable %q: index %v outside pmshape %v", v.name, p.Index, m.shape)
		}
	}
	if len(p.Location) != len(v.dims) {
		return errkind.InvalidPartition.New("variable %q: location has %d ranges, want %d",
			v.name, len(p.Location), len(v.dims))
	}
	if len(p.Subarray.Shape) != len(v.dims) {
		return errkind.InvalidPartition.New("variable %q: subarray shape %v has wrong rank",
			v.name, p.Subarray.Shape)
	}
	for i, r := range p.Location {
		if r.Start < 0 || r.End < r.Start {
			return errkind.InvalidPartition.New("variable %q: bad location [%d, %d) on %q",
				v.name, r.Start, r.End, v.dims[i])
		}
		if i < len(lengths) && lengths[i] > 0 && r.End > lengths[i] {
			return errkind.InvalidPartition.New("variable %q: location [%d, %d) exceeds length %d of %q",
				v.name, r.Start, r.End, lengths[i], v.dims[i])
		}
		if p.Subarray.Shape[i] != r.Len() {
			return errkind.InvalidPartition.New("variable %q: subarray shape %d does not match location [%d, %d) on %q",
				v.name, p.Subarray.Shape[i], r.Start, r.End, v.dims[i])
		}
	}
	if p.Subarray.File == "" {
		return errkind.InvalidPartition.New("variable %q: partition %v has no file", v.name, p.Index)
	}
	return nil
}

// WritePartition stores p, replacing any partition at the same index. An
// invalid partition leaves the matrix untouched. Locations must stay
// within fixed-length dimensions; unlimited ones take any extent.
func (v *Variable) WritePartition(p Partition) error {
	lengths := v.dimLengths()
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkPartition(p, lengths); err != nil {
		return err
	}
	c := p.Clone()
	v.matrix.parts[IndexKey(c.Index)] = &c
	return nil
}

// GetPartition returns the partition at index.
func (v *Variable) GetPartition(index []int) (Partition, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.matrix == nil {
		return Partition{}, errkind.InvalidPartition.New("variable %q is not fragmented", v.name)
	}
	p, ok := v.matrix.parts[IndexKey(index)]
	if !ok {
		return Partition{}, errkind.NotFound.New("variable %q: partition %v", v.name, index)
	}
	return p.Clone(), nil
}

// Partitions returns every written partition ordered by index.
func (v *Variable) Partitions() []Partition {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.matrix == nil {
		return nil
	}
	return v.matrix.sorted()
}

func (m *PartitionMatrix) sorted() []Partition {
	out := make([]Partition, 0, len(m.parts))
	for _, p := range m.parts {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return lessIndex(out[i].Index, out[j].Index) })
	return out
}

// GrowPartitionMatrix adds one slot along pmdim and returns the new
// slot's index.
func (v *Variable) GrowPartitionMatrix(pmdim string) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.matrix == nil {
		return 0, errkind.InvalidPartition.New("variable %q is not fragmented", v.name)
	}
	for i, d := range v.matrix.dims {
		if d == pmdim {
			v.matrix.shape[i]++
			return v.matrix.shape[i] - 1, nil
		}
	}
	return 0, errkind.NotFound.New("variable %q: pmdimension %q", v.name, pmdim)
}

// Extent returns the length of the variable along each dimension as
// covered by its partitions, i.e. the largest location end.
func (v *Variable) Extent() []int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]int, len(v.dims))
	if v.matrix == nil {
		return out
	}
	for _, p := range v.matrix.parts {
		for i, r := range p.Location {
			if r.End > out[i] {
				out[i] = r.End
			}
		}
	}
	return out
}
