// Package split fragments the variables of a netCDF file into sub-array
// files referenced by a CFA master-array file.
package split

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/ligustah/cfa/internal/ncfile"
	"github.com/ligustah/cfa/internal/progress"
	"github.com/ligustah/cfa/internal/transfer"
	"github.com/ligustah/cfa/pkg/cfa"
	"github.com/ligustah/cfa/pkg/errkind"
	"github.com/ligustah/cfa/pkg/nca"
)

// DefaultMaxElements bounds fragment size when no other limit is given.
const DefaultMaxElements = 1 << 22

// SubarrayFormat is the format tag recorded for written fragments.
const SubarrayFormat = "netCDF"

// Options configures a split.
type Options struct {
	// MaxElements bounds the number of values per fragment. Zero means
	// DefaultMaxElements.
	MaxElements int
	// FragmentShape fixes the fragment extent per dimension instead of
	// computing it. Variables of a different rank are rejected.
	FragmentShape []int
	// Variables restricts which variables are fragmented.
	Variables []string
	// Dataset configures storage access for input, master and fragments.
	Dataset nca.Options
	// MaxFailures is the number of failed fragment writes tolerated
	// before the split is abandoned (default: 1).
	MaxFailures int
	Progress    *progress.Reporter
}

// Result summarizes a split.
type Result struct {
	Master     string
	Variables  []string
	Files      []string
	Partitions int
	Bytes      int64
}

// File splits input into a master-array file at output and one fragment
// file per partition under a directory named after output.
func File(ctx context.Context, input, output string, opts Options) (*Result, error) {
	src, err := nca.ReadFile(ctx, input, opts.Dataset)
	if err != nil {
		return nil, fmt.Errorf("split: read %s: %w", input, err)
	}
	if len(src.Subgroups) > 0 {
		return nil, errkind.UnsupportedCombination.New("split: %s has groups, which %s cannot hold", input, cfa.FormatCFA3)
	}

	ds, err := nca.Create(output, cfa.FormatCFA3, opts.Dataset)
	if err != nil {
		return nil, err
	}
	if err := Prepare(ds, src); err != nil {
		return nil, err
	}

	result := &Result{Master: output}
	selected := make(map[string]bool)
	for _, name := range opts.Variables {
		if src.Variable(name) == nil {
			return nil, errkind.NotFound.New("split: variable %q in %s", name, input)
		}
		selected[name] = true
	}
	for _, nv := range src.Variables {
		if !Splittable(nv) || (len(selected) > 0 && !selected[nv.Name]) {
			continue
		}
		_, files, n, err := Variable(ctx, ds, src, nv.Name, opts)
		if err != nil {
			return nil, err
		}
		result.Variables = append(result.Variables, nv.Name)
		result.Files = append(result.Files, files...)
		result.Partitions += len(files)
		result.Bytes += n
	}

	if err := ds.Close(ctx); err != nil {
		return nil, fmt.Errorf("split: write master %s: %w", output, err)
	}
	return result, nil
}

// Splittable reports whether nv is a data variable: it has dimensions and
// numeric values, and is not a coordinate variable.
func Splittable(nv *ncfile.Variable) bool {
	if nv.Array == nil || len(nv.Dimensions) == 0 || nv.Array.Len() == 0 {
		return false
	}
	return !isCoordinate(nv)
}

func isCoordinate(nv *ncfile.Variable) bool {
	return len(nv.Dimensions) == 1 && nv.Dimensions[0] == nv.Name
}

// Prepare copies dimensions, global attributes and every variable of src
// into ds as inline variables. Variable then converts data variables into
// fragmented ones.
func Prepare(ds *nca.Dataset, src *ncfile.File) error {
	model := ds.Model()
	root := model.Root()
	for k, v := range src.Attributes {
		model.Metadata[k] = v
	}
	for _, dim := range src.Dimensions() {
		if _, err := root.CreateDimension(dim.Name, dim.Len, nil); err != nil {
			return err
		}
	}
	for _, nv := range src.Variables {
		v, err := model.CreateVariable(root, nv.Name, nv.Type, nv.Dimensions, cfa.Metadata(nv.Attributes))
		if err != nil {
			return err
		}
		switch {
		case nv.Array != nil:
			err = ds.SetData(v, nv.Array)
		case nv.Values != nil:
			err = ds.SetValues(v, nv.Values)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// roles classifies the dimensions of nv using the axis attribute of their
// coordinate variables.
func roles(src *ncfile.File, nv *ncfile.Variable) []cfa.Role {
	out := make([]cfa.Role, len(nv.Dimensions))
	for i, d := range nv.Dimensions {
		tag := ""
		if cv := src.Variable(d); cv != nil {
			tag, _ = cv.Attributes["axis"].(string)
		}
		out[i] = cfa.ClassifyAxis(d, tag)
	}
	return out
}

// Bounds returns the fragment ranges per dimension for an array of shape.
func Bounds(shape []int, r []cfa.Role, opts Options) ([][]cfa.Range, error) {
	out := make([][]cfa.Range, len(shape))
	if opts.FragmentShape != nil {
		if len(opts.FragmentShape) != len(shape) {
			return nil, errkind.InvalidPartition.New("split: fragment shape %v for array of shape %v", opts.FragmentShape, shape)
		}
		for i, n := range shape {
			out[i] = cfa.FixedBounds(n, opts.FragmentShape[i])
		}
		return out, nil
	}
	limit := opts.MaxElements
	if limit <= 0 {
		limit = DefaultMaxElements
	}
	div, _ := cfa.ComputeShape(shape, r, limit)
	for i, n := range shape {
		out[i] = cfa.Bounds(n, div[i])
	}
	return out, nil
}

// FragmentName names fragment seq of variable v for a master-array file:
// <stem>_<variable>_[<seq>].nc.
func FragmentName(master, v string, seq int) string {
	return fmt.Sprintf("%s_%s_[%d].nc", stem(master), v, seq)
}

func stem(master string) string {
	base := path.Base(strings.ReplaceAll(master, "\\", "/"))
	return strings.TrimSuffix(base, path.Ext(base))
}

// Variable fragments the data of variable name from src. The variable
// must already exist inline in ds (see Prepare); it becomes fragmented,
// with one partition per fragment file. It returns the variable, the
// written files in partition order and the bytes written.
func Variable(ctx context.Context, ds *nca.Dataset, src *ncfile.File, name string, opts Options) (*cfa.Variable, []string, int64, error) {
	nv := src.Variable(name)
	if nv == nil {
		return nil, nil, 0, errkind.NotFound.New("split: variable %q", name)
	}
	if nv.Array == nil {
		return nil, nil, 0, errkind.UnsupportedOperation.New("split: variable %q of type %s has no array data", name, nv.Type)
	}
	v, err := ds.Model().Root().GetVariable(name)
	if err != nil {
		return nil, nil, 0, err
	}

	shape := nv.Array.Shape
	bounds, err := Bounds(shape, roles(src, nv), opts)
	if err != nil {
		return nil, nil, 0, err
	}
	pmshape := make([]int, len(bounds))
	for i, b := range bounds {
		pmshape[i] = len(b)
	}
	if err := v.AttachPartitionMatrix(nv.Dimensions, pmshape); err != nil {
		return nil, nil, 0, err
	}
	if err := v.SetBase(stem(ds.Path())); err != nil {
		return nil, nil, 0, err
	}

	var (
		jobs  []transfer.Job
		files []string
		mu    sync.Mutex
		total int64
	)
	seq := 0
	eachIndex(pmshape, func(index []int) {
		loc := make([]cfa.Range, len(index))
		for d, i := range index {
			loc[d] = bounds[d][i]
		}
		fname := FragmentName(ds.Path(), name, seq)
		target := ds.Resolve(v, fname)
		files = append(files, target)
		p := cfa.Partition{
			Index:    index,
			Location: loc,
			Subarray: cfa.Subarray{
				File:   fname,
				Format: SubarrayFormat,
				NCVar:  name,
				Shape:  rangeLens(loc),
			},
		}
		jobs = append(jobs, transfer.Job{
			Index: seq,
			Name:  fname,
			Run: func(ctx context.Context) (int64, error) {
				frag, err := fragment(src, nv, loc)
				if err != nil {
					return 0, err
				}
				n, err := nca.WriteFile(ctx, target, frag, opts.Dataset)
				if err != nil {
					return 0, err
				}
				if err := v.WritePartition(p); err != nil {
					return 0, err
				}
				mu.Lock()
				total += n
				mu.Unlock()
				return n, nil
			},
		})
		seq++
	})

	if opts.Dataset.Logger != nil {
		opts.Dataset.Logger.Debug("splitting variable", "variable", name, "shape", shape, "pmshape", pmshape)
	}
	err = transfer.Run(ctx, jobs, transfer.Options{
		Workers:     opts.Dataset.Workers,
		MaxFailures: opts.MaxFailures,
		Progress:    opts.Progress,
		Logger:      opts.Dataset.Logger,
	})
	if err != nil {
		return nil, nil, 0, fmt.Errorf("split: %q: %w", name, err)
	}
	return v, files, total, nil
}

// eachIndex calls fn for every index tuple below shape in row-major order,
// the last axis varying fastest.
func eachIndex(shape []int, fn func([]int)) {
	for _, n := range shape {
		if n == 0 {
			return
		}
	}
	idx := make([]int, len(shape))
	for {
		fn(append([]int(nil), idx...))
		d := len(idx) - 1
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
		if d < 0 {
			return
		}
	}
}

func rangeLens(loc []cfa.Range) []int {
	out := make([]int, len(loc))
	for i, r := range loc {
		out[i] = r.Len()
	}
	return out
}

// fragment builds the container for one box of nv: the data slice, the
// coordinate slices of its dimensions, and the grid_mapping variable if
// one is named.
func fragment(src *ncfile.File, nv *ncfile.Variable, loc []cfa.Range) (*ncfile.File, error) {
	start := make([]int, len(loc))
	end := make([]int, len(loc))
	for i, r := range loc {
		start[i], end[i] = r.Start, r.End
	}
	data, err := nv.Array.Slice(start, end)
	if err != nil {
		return nil, err
	}
	f := &ncfile.File{Format: ncfile.FormatClassic, Group: ncfile.Group{Attributes: src.Attributes}}
	for i, d := range nv.Dimensions {
		cv := src.Variable(d)
		if cv == nil || cv.Array == nil || !isCoordinate(cv) {
			continue
		}
		coord, err := cv.Array.Slice([]int{start[i]}, []int{end[i]})
		if err != nil {
			return nil, err
		}
		f.Variables = append(f.Variables, &ncfile.Variable{
			Name: cv.Name, Type: cv.Type, Dimensions: cv.Dimensions, Attributes: cv.Attributes, Array: coord,
		})
	}
	f.Variables = append(f.Variables, &ncfile.Variable{
		Name: nv.Name, Type: nv.Type, Dimensions: nv.Dimensions, Attributes: nv.Attributes, Array: data,
	})
	if gm, ok := nv.Attributes["grid_mapping"].(string); ok {
		if gv := src.Variable(gm); gv != nil {
			f.Variables = append(f.Variables, &ncfile.Variable{
				Name: gv.Name, Type: gv.Type, Attributes: gv.Attributes, Values: ncfile.Scalar(gv.Type),
			})
		}
	}
	return f, nil
}
