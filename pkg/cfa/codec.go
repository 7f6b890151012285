package cfa

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ligustah/cfa/pkg/errkind"
)

// Master-array attribute names.
const (
	AttrRole       = "cf_role"
	AttrArray      = "cfa_array"
	AttrDimensions = "cfa_dimensions"
	RoleValue      = "cfa_variable"
)

// wire types mirror the cfa_array JSON document. Pointers distinguish a
// missing field from a zero value.
type wireArray struct {
	PMDimensions *[]string        `json:"pmdimensions"`
	PMShape      *[]int           `json:"pmshape"`
	Base         *string          `json:"base,omitempty"`
	Partitions   *[]wirePartition `json:"Partitions"`
}

type wirePartition struct {
	Index    *[]int        `json:"index"`
	Location *[][]int      `json:"location"`
	Subarray *wireSubarray `json:"subarray"`
}

type wireSubarray struct {
	Format *string `json:"format"`
	Shape  *[]int  `json:"shape"`
	File   *string `json:"file"`
	NCVar  *string `json:"ncvar"`
}

// MarshalArray encodes the partition matrix of v as a cfa_array document.
func MarshalArray(v *Variable) ([]byte, error) {
	m, ok := v.PartitionMatrix()
	if !ok {
		return nil, errkind.InvalidPartition.New("variable %q is not fragmented", v.Name())
	}
	parts := m.sorted()
	wps := make([]wirePartition, len(parts))
	for i, p := range parts {
		loc := make([][]int, len(p.Location))
		for j, r := range p.Location {
			loc[j] = []int{r.Start, r.End}
		}
		sa := p.Subarray
		wps[i] = wirePartition{
			Index:    &p.Index,
			Location: &loc,
			Subarray: &wireSubarray{Format: &sa.Format, Shape: &sa.Shape, File: &sa.File, NCVar: &sa.NCVar},
		}
	}
	w := wireArray{PMDimensions: &m.dims, PMShape: &m.shape, Partitions: &wps}
	if m.base != "" {
		w.Base = &m.base
	}
	return json.Marshal(w)
}

// UnmarshalArray parses a cfa_array document and attaches the matrix it
// describes to v. Unknown fields, missing required fields and trailing
// data are rejected, as is any partition that breaks the matrix
// invariants. v is left untouched on error.
func UnmarshalArray(data []byte, v *Variable) error {
	var w wireArray
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return errkind.InvalidPartition.Wrap(fmt.Errorf("cfa_array: %w", err))
	}
	if _, err := dec.Token(); err != io.EOF {
		return errkind.InvalidPartition.New("cfa_array: trailing data")
	}
	switch {
	case w.PMDimensions == nil:
		return missing("pmdimensions")
	case w.PMShape == nil:
		return missing("pmshape")
	case w.Partitions == nil:
		return missing("Partitions")
	}
	parts := make([]Partition, len(*w.Partitions))
	for i, wp := range *w.Partitions {
		p, err := wp.partition()
		if err != nil {
			return fmt.Errorf("cfa_array: partition %d: %w", i, err)
		}
		parts[i] = p
	}

	// Validate against a scratch variable so v only changes on success.
	scratch := &Variable{name: v.Name(), dims: v.Dimensions()}
	if err := scratch.AttachPartitionMatrix(*w.PMDimensions, *w.PMShape); err != nil {
		return err
	}
	for _, p := range parts {
		if err := scratch.WritePartition(p); err != nil {
			return err
		}
	}
	if w.Base != nil {
		scratch.matrix.base = *w.Base
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.matrix != nil {
		return errkind.Conflict.New("variable %q already has a partition matrix", v.name)
	}
	v.matrix = scratch.matrix
	v.kind = Fragmented
	return nil
}

func missing(field string) error {
	return errkind.InvalidPartition.New("cfa_array: missing required field %q", field)
}

func (wp wirePartition) partition() (Partition, error) {
	switch {
	case wp.Index == nil:
		return Partition{}, missing("index")
	case wp.Location == nil:
		return Partition{}, missing("location")
	case wp.Subarray == nil:
		return Partition{}, missing("subarray")
	}
	sa := wp.Subarray
	switch {
	case sa.Format == nil:
		return Partition{}, missing("subarray.format")
	case sa.Shape == nil:
		return Partition{}, missing("subarray.shape")
	case sa.File == nil:
		return Partition{}, missing("subarray.file")
	case sa.NCVar == nil:
		return Partition{}, missing("subarray.ncvar")
	}
	loc := make([]Range, len(*wp.Location))
	for i, r := range *wp.Location {
		if len(r) != 2 {
			return Partition{}, errkind.InvalidPartition.New("cfa_array: location entry %d has %d values", i, len(r))
		}
		loc[i] = Range{Start: r[0], End: r[1]}
	}
	return Partition{
		Index:    *wp.Index,
		Location: loc,
		Subarray: Subarray{File: *sa.File, Format: *sa.Format, NCVar: *sa.NCVar, Shape: *sa.Shape},
	}, nil
}
