package ncfile

import (
	"fmt"
	"reflect"

	"github.com/ligustah/cfa/pkg/errkind"
)

// Array is a dense row-major array. Data is a flat slice of one of the
// numeric element types in [Types].
type Array struct {
	Shape []int
	Data  any
}

// Types maps CDL type names to Go element types.
var Types = map[string]reflect.Type{
	"byte":   reflect.TypeOf(int8(0)),
	"ubyte":  reflect.TypeOf(uint8(0)),
	"short":  reflect.TypeOf(int16(0)),
	"ushort": reflect.TypeOf(uint16(0)),
	"int":    reflect.TypeOf(int32(0)),
	"uint":   reflect.TypeOf(uint32(0)),
	"int64":  reflect.TypeOf(int64(0)),
	"uint64": reflect.TypeOf(uint64(0)),
	"float":  reflect.TypeOf(float32(0)),
	"double": reflect.TypeOf(float64(0)),
}

// NewArray allocates a zero-filled array.
func NewArray(dataType string, shape []int) (*Array, error) {
	t, ok := Types[dataType]
	if !ok {
		return nil, errkind.UnsupportedOperation.New("ncfile: no array support for type %q", dataType)
	}
	n := numElements(shape)
	return &Array{
		Shape: append([]int(nil), shape...),
		Data:  reflect.MakeSlice(reflect.SliceOf(t), n, n).Interface(),
	}, nil
}

// Type returns the CDL name of the element type.
func (a *Array) Type() string {
	et := reflect.TypeOf(a.Data).Elem()
	for name, t := range Types {
		if t == et {
			return name
		}
	}
	return et.String()
}

// Len returns the number of elements.
func (a *Array) Len() int {
	return reflect.ValueOf(a.Data).Len()
}

func numElements(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

func strides(shape []int) []int {
	st := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		st[i] = acc
		acc *= shape[i]
	}
	return st
}

// copyBox copies a box of extent count from src at srcStart into dst at
// dstStart, one contiguous row of the last dimension at a time.
func copyBox(dst reflect.Value, dstShape, dstStart []int, src reflect.Value, srcShape, srcStart, count []int) {
	rank := len(count)
	if rank == 0 {
		dst.Index(0).Set(src.Index(0))
		return
	}
	if numElements(count) == 0 {
		return
	}
	ds, ss := strides(dstShape), strides(srcShape)
	row := count[rank-1]
	idx := make([]int, rank-1)
	for {
		do, so := dstStart[rank-1], srcStart[rank-1]
		for i, x := range idx {
			do += (dstStart[i] + x) * ds[i]
			so += (srcStart[i] + x) * ss[i]
		}
		reflect.Copy(dst.Slice(do, do+row), src.Slice(so, so+row))

		i := rank - 2
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < count[i] {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return
		}
	}
}

func (a *Array) checkBox(start, end []int) error {
	if len(start) != len(a.Shape) || len(end) != len(a.Shape) {
		return errkind.Range.New("ncfile: box rank %d/%d for array of rank %d", len(start), len(end), len(a.Shape))
	}
	for i := range start {
		if start[i] < 0 || end[i] < start[i] || end[i] > a.Shape[i] {
			return errkind.Range.New("ncfile: box [%d, %d) outside axis %d of length %d", start[i], end[i], i, a.Shape[i])
		}
	}
	return nil
}

// Slice copies the box [start, end) into a new array.
func (a *Array) Slice(start, end []int) (*Array, error) {
	if err := a.checkBox(start, end); err != nil {
		return nil, err
	}
	count := make([]int, len(start))
	for i := range start {
		count[i] = end[i] - start[i]
	}
	src := reflect.ValueOf(a.Data)
	n := numElements(count)
	dst := reflect.MakeSlice(src.Type(), n, n)
	copyBox(dst, count, make([]int, len(count)), src, a.Shape, start, count)
	return &Array{Shape: count, Data: dst.Interface()}, nil
}

// Paste writes src into a with its origin at start.
func (a *Array) Paste(src *Array, start []int) error {
	if reflect.TypeOf(src.Data) != reflect.TypeOf(a.Data) {
		return errkind.InvalidPartition.New("ncfile: cannot paste %s values into %s array", src.Type(), a.Type())
	}
	end := make([]int, len(start))
	for i := range start {
		if i < len(src.Shape) {
			end[i] = start[i] + src.Shape[i]
		}
	}
	if len(src.Shape) != len(a.Shape) {
		return errkind.Range.New("ncfile: paste of rank %d into rank %d", len(src.Shape), len(a.Shape))
	}
	if err := a.checkBox(start, end); err != nil {
		return err
	}
	copyBox(reflect.ValueOf(a.Data), a.Shape, start, reflect.ValueOf(src.Data), src.Shape, make([]int, len(start)), src.Shape)
	return nil
}

// Float64s returns the values converted to float64.
func (a *Array) Float64s() []float64 {
	v := reflect.ValueOf(a.Data)
	out := make([]float64, v.Len())
	for i := range out {
		e := v.Index(i)
		switch e.Kind() {
		case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			out[i] = float64(e.Int())
		case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			out[i] = float64(e.Uint())
		default:
			out[i] = e.Float()
		}
	}
	return out
}

// SetFloat64s overwrites a one-dimensional array with vals converted to
// its element type.
func (a *Array) SetFloat64s(vals []float64) error {
	v := reflect.ValueOf(a.Data)
	if v.Len() != len(vals) {
		return errkind.Range.New("ncfile: %d values for array of %d", len(vals), v.Len())
	}
	for i, f := range vals {
		e := v.Index(i)
		switch e.Kind() {
		case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			e.SetInt(int64(f))
		case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			e.SetUint(uint64(f))
		default:
			e.SetFloat(f)
		}
	}
	return nil
}

// Concat joins arrays along axis. All other extents must agree.
func Concat(axis int, arrays ...*Array) (*Array, error) {
	if len(arrays) == 0 {
		return nil, errkind.Range.New("ncfile: nothing to concatenate")
	}
	first := arrays[0]
	if axis < 0 || axis >= len(first.Shape) {
		return nil, errkind.Range.New("ncfile: axis %d out of range for rank %d", axis, len(first.Shape))
	}
	shape := append([]int(nil), first.Shape...)
	shape[axis] = 0
	for _, a := range arrays {
		if len(a.Shape) != len(shape) {
			return nil, errkind.InvalidPartition.New("ncfile: concatenating rank %d with rank %d", len(a.Shape), len(shape))
		}
		for i := range shape {
			if i != axis && a.Shape[i] != first.Shape[i] {
				return nil, errkind.InvalidPartition.New("ncfile: extent %d on axis %d, want %d", a.Shape[i], i, first.Shape[i])
			}
		}
		shape[axis] += a.Shape[axis]
	}
	out, err := arrayLike(first, shape)
	if err != nil {
		return nil, err
	}
	start := make([]int, len(shape))
	for _, a := range arrays {
		if err := out.Paste(a, start); err != nil {
			return nil, err
		}
		start[axis] += a.Shape[axis]
	}
	return out, nil
}

// Take reorders a along axis so that position i holds the old position
// order[i].
func (a *Array) Take(axis int, order []int) (*Array, error) {
	if axis < 0 || axis >= len(a.Shape) || len(order) != a.Shape[axis] {
		return nil, errkind.Range.New("ncfile: bad reorder of axis %d", axis)
	}
	out, err := arrayLike(a, a.Shape)
	if err != nil {
		return nil, err
	}
	start := make([]int, len(a.Shape))
	end := append([]int(nil), a.Shape...)
	for i, from := range order {
		start[axis], end[axis] = from, from+1
		row, err := a.Slice(start, end)
		if err != nil {
			return nil, err
		}
		dst := make([]int, len(a.Shape))
		dst[axis] = i
		if err := out.Paste(row, dst); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func arrayLike(a *Array, shape []int) (*Array, error) {
	t := reflect.TypeOf(a.Data)
	if t == nil || t.Kind() != reflect.Slice {
		return nil, fmt.Errorf("ncfile: array data is %T, not a slice", a.Data)
	}
	n := numElements(shape)
	return &Array{Shape: append([]int(nil), shape...), Data: reflect.MakeSlice(t, n, n).Interface()}, nil
}

// flatten converts the nested slices returned by the container library
// into a flat array. A non-slice value is a scalar.
func flatten(values any) (*Array, error) {
	v := reflect.ValueOf(values)
	if !v.IsValid() {
		return nil, errkind.UnsupportedOperation.New("ncfile: no values")
	}
	var shape []int
	t := v.Type()
	for probe := v; t.Kind() == reflect.Slice; t = t.Elem() {
		shape = append(shape, probe.Len())
		if probe.Len() > 0 {
			probe = probe.Index(0)
		} else {
			probe = reflect.Zero(t.Elem())
		}
	}
	if !isNumeric(t) {
		return nil, errkind.UnsupportedOperation.New("ncfile: no array support for %s values", t)
	}
	n := numElements(shape)
	flat := reflect.MakeSlice(reflect.SliceOf(t), 0, n)
	var walk func(reflect.Value, int) error
	walk = func(x reflect.Value, depth int) error {
		if depth == len(shape) {
			flat = reflect.Append(flat, x)
			return nil
		}
		if x.Len() != shape[depth] {
			return errkind.InvalidPartition.New("ncfile: ragged array at depth %d", depth)
		}
		if depth == len(shape)-1 {
			flat = reflect.AppendSlice(flat, x)
			return nil
		}
		for i := 0; i < x.Len(); i++ {
			if err := walk(x.Index(i), depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(v, 0); err != nil {
		return nil, err
	}
	return &Array{Shape: shape, Data: flat.Interface()}, nil
}

// nest converts a flat array back to the nested form the container
// writer expects.
func nest(a *Array) any {
	flat := reflect.ValueOf(a.Data)
	if len(a.Shape) == 0 {
		return flat.Index(0).Interface()
	}
	return nestValue(flat, a.Shape).Interface()
}

func nestValue(flat reflect.Value, shape []int) reflect.Value {
	if len(shape) == 1 {
		out := reflect.MakeSlice(flat.Type(), shape[0], shape[0])
		reflect.Copy(out, flat)
		return out
	}
	inner := numElements(shape[1:])
	elemType := flat.Type()
	for range shape[1:] {
		elemType = reflect.SliceOf(elemType)
	}
	out := reflect.MakeSlice(elemType, shape[0], shape[0])
	for i := 0; i < shape[0]; i++ {
		out.Index(i).Set(nestValue(flat.Slice(i*inner, (i+1)*inner), shape[1:]))
	}
	return out
}

func isNumeric(t reflect.Type) bool {
	for _, nt := range Types {
		if nt == t {
			return true
		}
	}
	return false
}
