package cfa

import (
	"sort"

	"github.com/ligustah/cfa/pkg/errkind"
)

// SortPartitions reorders the partitions so that their index along pmdim
// follows ascending location start on the matching variable dimension,
// then stitches the ranges along that dimension end to start. Each
// partition keeps its extent; the first starts at 0. If dimLen is
// positive the last partition of every line must end exactly at dimLen.
//
// The matrix is only replaced once the whole pass has succeeded.
func (v *Variable) SortPartitions(pmdim string, dimLen int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	m := v.matrix
	if m == nil {
		return errkind.InvalidPartition.New("variable %q is not fragmented", v.name)
	}
	axis := -1
	for i, d := range m.dims {
		if d == pmdim {
			axis = i
		}
	}
	if axis < 0 {
		return errkind.NotFound.New("variable %q: pmdimension %q", v.name, pmdim)
	}
	vd := v.dimIndex(pmdim)

	// A line is the set of partitions sharing every index component
	// except the one along axis.
	lines := make(map[string][]*Partition)
	var keys []string
	for _, p := range m.sorted() {
		p := p
		lineIdx := append([]int(nil), p.Index...)
		lineIdx[axis] = 0
		k := IndexKey(lineIdx)
		if _, ok := lines[k]; !ok {
			keys = append(keys, k)
		}
		lines[k] = append(lines[k], &p)
	}

	out := newPartitionMatrix(m.dims, m.shape)
	out.base = m.base
	for _, k := range keys {
		line := lines[k]
		sort.SliceStable(line, func(i, j int) bool {
			return line[i].Location[vd].Start < line[j].Location[vd].Start
		})
		end := 0
		for i, p := range line {
			extent := p.Location[vd].Len()
			p.Index[axis] = i
			p.Location[vd] = Range{Start: end, End: end + extent}
			end += extent
			out.parts[IndexKey(p.Index)] = p
		}
		if dimLen > 0 && end != dimLen {
			return errkind.InvalidPartition.New("variable %q: partitions along %q cover %d of %d",
				v.name, pmdim, end, dimLen)
		}
	}
	if len(keys) > 0 {
		longest := 0
		for _, line := range lines {
			if len(line) > longest {
				longest = len(line)
			}
		}
		out.shape[axis] = longest
	}
	v.matrix = out
	return nil
}
