// Package aggregate merges netCDF files that share every dimension but
// one into a single CFA dataset, with one partition per input file along
// the aggregation axis.
//
// Aggregation is not atomic. An error part way through the file list
// aborts the operation; the returned dataset is never written, so callers
// simply discard it.
package aggregate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"sort"

	"github.com/ligustah/cfa/internal/cftime"
	"github.com/ligustah/cfa/internal/ncfile"
	"github.com/ligustah/cfa/pkg/cfa"
	"github.com/ligustah/cfa/pkg/errkind"
	"github.com/ligustah/cfa/pkg/nca"
	"github.com/ligustah/cfa/pkg/objstore"
	"github.com/ligustah/cfa/pkg/split"
)

// Options configures Aggregate.
type Options struct {
	// Axis names the aggregation dimension. Required.
	Axis string
	// CommonUnits re-expresses time coordinates, e.g. "days since
	// 1970-01-01", before they are merged. Every file must use the same
	// calendar.
	CommonUnits string
	// AllowIrregularSpacing accepts axis coordinates whose steps differ.
	AllowIrregularSpacing bool
	// Dataset configures storage access for inputs and output.
	Dataset nca.Options
}

// contribution is one input file's span of the aggregation axis.
type contribution struct {
	file   string
	values []float64
}

// fragment ties an appended partition to the file it came from.
type fragment struct {
	v     *cfa.Variable
	index []int
	file  int
}

type aggregator struct {
	opts   Options
	logger *slog.Logger
	out    *nca.Dataset
	root   *cfa.Group

	contribs []contribution
	frags    []fragment
	concat   map[string][]*ncfile.Array
	seen     map[*cfa.Variable]bool
	units    *cftime.Units
}

// Aggregate merges files along opts.Axis into a new dataset at output.
// The dataset is written when the caller closes it.
func Aggregate(ctx context.Context, files []string, output string, opts Options) (*nca.Dataset, error) {
	if opts.Axis == "" {
		return nil, errkind.NotFound.New("aggregate: no aggregation axis given")
	}
	if len(files) == 0 {
		return nil, errkind.NotFound.New("aggregate: no input files")
	}
	out, err := nca.Create(output, cfa.FormatCFA3, opts.Dataset)
	if err != nil {
		return nil, err
	}
	a := &aggregator{
		opts:   opts,
		logger: opts.Dataset.Logger,
		out:    out,
		root:   out.Model().Root(),
		concat: make(map[string][]*ncfile.Array),
		seen:   make(map[*cfa.Variable]bool),
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.CommonUnits != "" {
		a.units = &cftime.Units{}
	}
	for _, f := range files {
		if err := a.add(ctx, f); err != nil {
			return nil, fmt.Errorf("aggregate: %s: %w", f, err)
		}
	}
	if err := a.finish(); err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	return out, nil
}

func (a *aggregator) add(ctx context.Context, file string) error {
	src, err := nca.ReadFile(ctx, file, a.opts.Dataset)
	if err != nil {
		return err
	}
	if len(src.Subgroups) > 0 {
		return errkind.UnsupportedCombination.New("files with groups cannot be aggregated into %s", cfa.FormatCFA3)
	}
	ref := file
	if !objstore.IsRemote(file) {
		if abs, err := filepath.Abs(file); err == nil {
			ref = abs
		}
	}
	for _, nv := range src.Variables {
		if nv.Attributes[cfa.AttrRole] == cfa.RoleValue {
			return errkind.UnsupportedOperation.New("%q is already fragmented", nv.Name)
		}
	}

	fileNo := len(a.contribs)
	values, err := a.axisValues(src)
	if err != nil {
		return err
	}
	a.contribs = append(a.contribs, contribution{file: ref, values: values})

	if err := a.dimensions(src); err != nil {
		return err
	}
	for _, nv := range src.Variables {
		if err := a.variable(src, nv, ref, fileNo); err != nil {
			return fmt.Errorf("variable %q: %w", nv.Name, err)
		}
	}
	a.logger.Debug("aggregated file", "file", file, "axis values", len(values))
	return nil
}

// axisValues returns the aggregation axis coordinates of src, converted
// to the common units, or nil if src does not have the axis.
func (a *aggregator) axisValues(src *ncfile.File) ([]float64, error) {
	cv := src.Variable(a.opts.Axis)
	if cv == nil {
		for _, d := range src.Dimensions() {
			if d.Name == a.opts.Axis {
				return nil, errkind.NotFound.New("dimension %q has no coordinate variable", a.opts.Axis)
			}
		}
		return nil, nil
	}
	if cv.Array == nil || len(cv.Dimensions) != 1 {
		return nil, errkind.InvalidPartition.New("coordinate %q is not a numeric vector", a.opts.Axis)
	}
	values := cv.Array.Float64s()
	if err := checkSpacing(values, a.opts.AllowIrregularSpacing); err != nil {
		return nil, err
	}
	if a.units == nil {
		return values, nil
	}

	units, _ := cv.Attributes["units"].(string)
	calendar, _ := cv.Attributes["calendar"].(string)
	from, err := cftime.ParseUnits(units, calendar)
	if err != nil {
		return nil, err
	}
	to, err := cftime.ParseUnits(a.opts.CommonUnits, calendar)
	if err != nil {
		return nil, err
	}
	if a.units.Unit != "" && a.units.Calendar != to.Calendar {
		return nil, errkind.UnsupportedOperation.New("calendar %s differs from %s", to.Calendar, a.units.Calendar)
	}
	*a.units = to
	return cftime.Convert(values, from, to)
}

// checkSpacing rejects coordinates that are not strictly increasing with
// a constant step, unless irregular spacing is allowed.
func checkSpacing(values []float64, irregular bool) error {
	if len(values) < 2 {
		return nil
	}
	step := (values[len(values)-1] - values[0]) / float64(len(values)-1)
	if step <= 0 {
		return errkind.InvalidPartition.New("axis coordinates are not increasing")
	}
	for i := 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		if d <= 0 {
			return errkind.InvalidPartition.New("axis coordinates are not increasing at %d", i)
		}
		if !irregular && math.Abs(d-step) > 1e-6*math.Abs(step) {
			return errkind.InvalidPartition.New("axis spacing %g at %d differs from %g", d, i, step)
		}
	}
	return nil
}

func (a *aggregator) dimensions(src *ncfile.File) error {
	for _, d := range src.Dimensions() {
		dim, err := a.root.GetDimension(d.Name)
		if err != nil {
			length := d.Len
			if d.Name == a.opts.Axis {
				length = 0
			}
			if _, err := a.root.CreateDimension(d.Name, length, nil); err != nil {
				return err
			}
			continue
		}
		if d.Name != a.opts.Axis && dim.Len() != d.Len {
			return errkind.InvalidPartition.New("dimension %q has length %d, want %d", d.Name, d.Len, dim.Len())
		}
	}
	return nil
}

func axisPos(dims []string, axis string) int {
	for i, d := range dims {
		if d == axis {
			return i
		}
	}
	return -1
}

func (a *aggregator) variable(src *ncfile.File, nv *ncfile.Variable, file string, fileNo int) error {
	fragmented := split.Splittable(nv)
	v, err := a.root.GetVariable(nv.Name)
	if errkind.NotFound.Has(err) {
		v, err = a.create(nv, fragmented)
	}
	if err != nil {
		return err
	}
	pos := axisPos(nv.Dimensions, a.opts.Axis)

	if !fragmented {
		switch {
		case pos >= 0 && nv.Array != nil:
			arr := nv.Array
			if nv.Name == a.opts.Axis && a.units != nil {
				arr, err = ncfile.NewArray("double", nv.Array.Shape)
				if err != nil {
					return err
				}
				if err := arr.SetFloat64s(a.contribs[fileNo].values); err != nil {
					return err
				}
			}
			a.concat[nv.Name] = append(a.concat[nv.Name], arr)
		case a.seen[v]:
		case nv.Array != nil:
			a.seen[v] = true
			return a.out.SetData(v, nv.Array)
		case nv.Values != nil:
			a.seen[v] = true
			return a.out.SetValues(v, nv.Values)
		}
		return nil
	}

	if v.Kind() != cfa.Fragmented {
		return errkind.InvalidPartition.New("inline in an earlier file")
	}
	if pos < 0 {
		// Without the axis there is a single partition; the first file
		// wins, as for inline variables.
		if a.seen[v] {
			return nil
		}
		a.seen[v] = true
	}
	shape := nv.Array.Shape
	index := make([]int, len(shape))
	loc := make([]cfa.Range, len(shape))
	for i, n := range shape {
		loc[i] = cfa.Range{Start: 0, End: n}
	}
	if pos >= 0 {
		if n := len(a.contribs[fileNo].values); n != shape[pos] {
			return errkind.InvalidPartition.New("%d values along %q, coordinate has %d", shape[pos], a.opts.Axis, n)
		}
		index[pos], err = v.GrowPartitionMatrix(a.opts.Axis)
		if err != nil {
			return err
		}
		// Provisional placement in file order; finish re-places the
		// partition by coordinate value.
		start := 0
		for _, c := range a.contribs[:fileNo] {
			start += len(c.values)
		}
		loc[pos] = cfa.Range{Start: start, End: start + shape[pos]}
		a.frags = append(a.frags, fragment{v: v, index: index, file: fileNo})
	}
	return v.WritePartition(cfa.Partition{
		Index:    index,
		Location: loc,
		Subarray: cfa.Subarray{
			File:   file,
			Format: split.SubarrayFormat,
			NCVar:  nv.Name,
			Shape:  append([]int(nil), shape...),
		},
	})
}

func (a *aggregator) create(nv *ncfile.Variable, fragmented bool) (*cfa.Variable, error) {
	md := cfa.Metadata(nv.Attributes).Clone()
	typ := nv.Type
	if nv.Name == a.opts.Axis && a.units != nil {
		typ = "double"
		md["units"] = a.opts.CommonUnits
	}
	v, err := a.out.Model().CreateVariable(a.root, nv.Name, typ, nv.Dimensions, md)
	if err != nil {
		return nil, err
	}
	if !fragmented {
		return v, nil
	}
	pmshape := make([]int, len(nv.Dimensions))
	for i, d := range nv.Dimensions {
		if d != a.opts.Axis {
			pmshape[i] = 1
		}
	}
	if err := v.AttachPartitionMatrix(nv.Dimensions, pmshape); err != nil {
		return nil, err
	}
	return v, nil
}

// finish places every partition by coordinate value, sorts the partition
// matrices along the axis and reorders the concatenated variables to
// match.
func (a *aggregator) finish() error {
	var all []float64
	for _, c := range a.contribs {
		all = append(all, c.values...)
	}
	order := make([]int, len(all))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return all[order[i]] < all[order[j]] })
	sorted := make([]float64, len(all))
	for i, o := range order {
		sorted[i] = all[o]
	}
	if err := checkSpacing(sorted, a.opts.AllowIrregularSpacing); err != nil {
		return fmt.Errorf("merged %q: %w", a.opts.Axis, err)
	}

	files := make([]int, 0, len(a.contribs))
	for i, c := range a.contribs {
		if len(c.values) > 0 {
			files = append(files, i)
		}
	}
	sort.SliceStable(files, func(i, j int) bool {
		return a.contribs[files[i]].values[0] < a.contribs[files[j]].values[0]
	})
	starts := make(map[int]int, len(files))
	next := 0
	for _, f := range files {
		starts[f] = next
		next += len(a.contribs[f].values)
	}

	sortVars := make(map[*cfa.Variable]bool)
	for _, fr := range a.frags {
		p, err := fr.v.GetPartition(fr.index)
		if err != nil {
			return err
		}
		pos := axisPos(fr.v.Dimensions(), a.opts.Axis)
		start := starts[fr.file]
		p.Location[pos] = cfa.Range{Start: start, End: start + p.Location[pos].Len()}
		if err := fr.v.WritePartition(p); err != nil {
			return err
		}
		sortVars[fr.v] = true
	}
	for v := range sortVars {
		if err := v.SortPartitions(a.opts.Axis, len(all)); err != nil {
			return err
		}
	}

	for name, arrays := range a.concat {
		v, err := a.root.GetVariable(name)
		if err != nil {
			return err
		}
		pos := axisPos(v.Dimensions(), a.opts.Axis)
		merged, err := ncfile.Concat(pos, arrays...)
		if err != nil {
			return fmt.Errorf("variable %q: %w", name, err)
		}
		if merged.Shape[pos] != len(order) {
			return errkind.InvalidPartition.New("variable %q has %d values along %q, axis has %d",
				name, merged.Shape[pos], a.opts.Axis, len(order))
		}
		if merged, err = merged.Take(pos, order); err != nil {
			return err
		}
		if err := a.out.SetData(v, merged); err != nil {
			return err
		}
	}
	return nil
}
