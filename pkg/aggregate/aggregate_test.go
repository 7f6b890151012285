package aggregate

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligustah/cfa/internal/ncfile"
	"github.com/ligustah/cfa/pkg/cfa"
	"github.com/ligustah/cfa/pkg/errkind"
	"github.com/ligustah/cfa/pkg/nca"
	"github.com/ligustah/cfa/pkg/split"
)

// writeInput writes pr(time, lat) for the given times; values encode
// their time coordinate.
func writeInput(t *testing.T, path string, times []float64, units string) {
	t.Helper()
	data := make([]float32, 0, 2*len(times))
	for _, tv := range times {
		data = append(data, float32(tv)*10, float32(tv)*10+1)
	}
	require.NoError(t, ncfile.Create(path, &ncfile.File{Group: ncfile.Group{
		Variables: []*ncfile.Variable{
			{Name: "time", Type: "double", Dimensions: []string{"time"},
				Attributes: map[string]any{"units": units, "calendar": "noleap"},
				Array:      &ncfile.Array{Shape: []int{len(times)}, Data: times}},
			{Name: "lat", Type: "float", Dimensions: []string{"lat"},
				Array: &ncfile.Array{Shape: []int{2}, Data: []float32{-45, 45}}},
			{Name: "pr", Type: "float", Dimensions: []string{"time", "lat"},
				Attributes: map[string]any{"units": "kg m-2 s-1"},
				Array:      &ncfile.Array{Shape: []int{len(times), 2}, Data: data}},
		},
	}}))
}

func TestAggregateSplitFragments(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeInput(t, filepath.Join(dir, "source.nc"), []float64{0, 1, 2, 3, 4, 5}, "days since 2000-01-01")

	master := filepath.Join(dir, "split", "data.nca")
	res, err := split.File(ctx, filepath.Join(dir, "source.nc"), master, split.Options{FragmentShape: []int{2, 2}})
	require.NoError(t, err)
	require.Len(t, res.Files, 3)

	files, err := ListFiles(ctx, nil, filepath.Join(dir, "split", "data"))
	require.NoError(t, err)
	require.Equal(t, res.Files, files)
	// Input order does not matter.
	files[0], files[2] = files[2], files[0]

	out, err := Aggregate(ctx, files, filepath.Join(dir, "agg.nca"), Options{Axis: "time"})
	require.NoError(t, err)

	pr, err := out.Model().Root().GetVariable("pr")
	require.NoError(t, err)
	require.Equal(t, cfa.Fragmented, pr.Kind())
	m, ok := pr.PartitionMatrix()
	require.True(t, ok)
	assert.Equal(t, []int{3, 1}, m.Shape())
	require.NoError(t, pr.CheckTiling([]int{6, 2}))

	for i, p := range pr.Partitions() {
		assert.Equal(t, []int{i, 0}, p.Index)
		assert.Equal(t, cfa.Range{Start: 2 * i, End: 2*i + 2}, p.Location[0])
		assert.Equal(t, res.Files[i], p.Subarray.File)
	}

	timeVar, err := out.Model().Root().GetVariable("time")
	require.NoError(t, err)
	times, ok := out.Data(timeVar)
	require.True(t, ok)
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5}, times.Data)

	timeDim, err := out.Model().Root().GetDimension("time")
	require.NoError(t, err)
	assert.True(t, timeDim.Unlimited())

	require.NoError(t, out.Close(ctx))

	// Same data as the split produced.
	ds, err := nca.Open(ctx, filepath.Join(dir, "agg.nca"), nca.Options{})
	require.NoError(t, err)
	pr, err = ds.Model().Root().GetVariable("pr")
	require.NoError(t, err)
	got, err := ds.ReadVariable(ctx, pr)
	require.NoError(t, err)

	orig, err := nca.Open(ctx, master, nca.Options{})
	require.NoError(t, err)
	origPr, err := orig.Model().Root().GetVariable("pr")
	require.NoError(t, err)
	want, err := orig.ReadVariable(ctx, origPr)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestAggregateCommonUnits(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a := filepath.Join(dir, "a.nc")
	b := filepath.Join(dir, "b.nc")
	writeInput(t, a, []float64{0, 1}, "days since 2000-01-03")
	writeInput(t, b, []float64{0, 1}, "days since 2000-01-01")

	out, err := Aggregate(ctx, []string{a, b}, filepath.Join(dir, "agg.nca"),
		Options{Axis: "time", CommonUnits: "days since 2000-01-01"})
	require.NoError(t, err)

	timeVar, err := out.Model().Root().GetVariable("time")
	require.NoError(t, err)
	assert.Equal(t, "double", timeVar.Type())
	assert.Equal(t, "days since 2000-01-01", timeVar.Metadata["units"])
	times, ok := out.Data(timeVar)
	require.True(t, ok)
	assert.Equal(t, []float64{0, 1, 2, 3}, times.Data)

	pr, err := out.Model().Root().GetVariable("pr")
	require.NoError(t, err)
	first, err := pr.GetPartition([]int{0, 0})
	require.NoError(t, err)
	assert.Equal(t, b, first.Subarray.File)

	arr, err := out.ReadVariable(ctx, pr)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 10, 11, 0, 1, 10, 11}, arr.Data)
}

func TestAggregateRejectsIrregularSpacing(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a := filepath.Join(dir, "a.nc")
	b := filepath.Join(dir, "b.nc")
	writeInput(t, a, []float64{0, 1}, "days since 2000-01-01")
	writeInput(t, b, []float64{5, 6}, "days since 2000-01-01")

	_, err := Aggregate(ctx, []string{a, b}, filepath.Join(dir, "agg.nca"), Options{Axis: "time"})
	assert.True(t, errkind.InvalidPartition.Has(err))

	out, err := Aggregate(ctx, []string{a, b}, filepath.Join(dir, "agg.nca"),
		Options{Axis: "time", AllowIrregularSpacing: true})
	require.NoError(t, err)
	timeVar, err := out.Model().Root().GetVariable("time")
	require.NoError(t, err)
	times, _ := out.Data(timeVar)
	assert.Equal(t, []float64{0, 1, 5, 6}, times.Data)
}

func TestAggregateRejectsOverlap(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a := filepath.Join(dir, "a.nc")
	writeInput(t, a, []float64{0, 1}, "days since 2000-01-01")

	_, err := Aggregate(ctx, []string{a, a}, filepath.Join(dir, "agg.nca"),
		Options{Axis: "time", AllowIrregularSpacing: true})
	assert.True(t, errkind.InvalidPartition.Has(err))
}

func TestAggregateErrors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a := filepath.Join(dir, "a.nc")
	writeInput(t, a, []float64{0, 1}, "days since 2000-01-01")

	_, err := Aggregate(ctx, []string{a, filepath.Join(dir, "missing.nc")}, filepath.Join(dir, "agg.nca"), Options{Axis: "time"})
	assert.True(t, errkind.NotFound.Has(err))

	_, err = Aggregate(ctx, []string{a}, filepath.Join(dir, "agg.nca"), Options{})
	assert.True(t, errkind.NotFound.Has(err))

	_, err = Aggregate(ctx, []string{a}, filepath.Join(dir, "agg.nca"), Options{Axis: "lat"})
	assert.NoError(t, err, "a single file aggregates along any axis")

	_, err = Aggregate(ctx, []string{a}, filepath.Join(dir, "agg.nca"),
		Options{Axis: "time", CommonUnits: "fortnights since 2000-01-01"})
	assert.True(t, errkind.UnsupportedOperation.Has(err))
}

func TestAggregateKeepsFirstFragmentWithoutAxis(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	var files []string
	for i, times := range [][]float64{{0, 1}, {2, 3}} {
		path := filepath.Join(dir, []string{"a.nc", "b.nc"}[i])
		orog := []float32{float32(100 * (i + 1)), float32(100*(i+1) + 1)}
		require.NoError(t, ncfile.Create(path, &ncfile.File{Group: ncfile.Group{
			Variables: []*ncfile.Variable{
				{Name: "time", Type: "double", Dimensions: []string{"time"},
					Attributes: map[string]any{"units": "days since 2000-01-01"},
					Array:      &ncfile.Array{Shape: []int{2}, Data: times}},
				{Name: "lat", Type: "float", Dimensions: []string{"lat"},
					Array: &ncfile.Array{Shape: []int{2}, Data: []float32{-45, 45}}},
				{Name: "orog", Type: "float", Dimensions: []string{"lat"},
					Array: &ncfile.Array{Shape: []int{2}, Data: orog}},
			},
		}}))
		files = append(files, path)
	}

	out, err := Aggregate(ctx, files, filepath.Join(dir, "agg.nca"), Options{Axis: "time"})
	require.NoError(t, err)

	orog, err := out.Model().Root().GetVariable("orog")
	require.NoError(t, err)
	require.Equal(t, cfa.Fragmented, orog.Kind())
	parts := orog.Partitions()
	require.Len(t, parts, 1)
	assert.Equal(t, []cfa.Range{{Start: 0, End: 2}}, parts[0].Location)
	assert.Equal(t, files[0], parts[0].Subarray.File)

	arr, err := out.ReadVariable(ctx, orog)
	require.NoError(t, err)
	assert.Equal(t, []float32{100, 101}, arr.Data)
}

func TestFinishRejectsShortConcat(t *testing.T) {
	out, err := nca.Create(filepath.Join(t.TempDir(), "agg.nca"), cfa.FormatCFA3, nca.Options{})
	require.NoError(t, err)
	root := out.Model().Root()
	_, err = root.CreateDimension("time", 0, nil)
	require.NoError(t, err)
	_, err = out.Model().CreateVariable(root, "time", "double", []string{"time"}, nil)
	require.NoError(t, err)

	a := &aggregator{
		opts: Options{Axis: "time"},
		out:  out,
		root: root,
		contribs: []contribution{
			{file: "a.nc", values: []float64{0, 1}},
			{file: "b.nc", values: []float64{2, 3}},
		},
		// Only one file contributed values to the concatenation.
		concat: map[string][]*ncfile.Array{
			"time": {{Shape: []int{2}, Data: []float64{0, 1}}},
		},
	}
	err = a.finish()
	assert.True(t, errkind.InvalidPartition.Has(err), "got %v", err)
}

func TestCheckSpacing(t *testing.T) {
	assert.NoError(t, checkSpacing(nil, false))
	assert.NoError(t, checkSpacing([]float64{3}, false))
	assert.NoError(t, checkSpacing([]float64{0, 0.5, 1, 1.5}, false))
	assert.Error(t, checkSpacing([]float64{0, 1, 3}, false))
	assert.NoError(t, checkSpacing([]float64{0, 1, 3}, true))
	assert.Error(t, checkSpacing([]float64{0, 1, 1}, true))
	assert.Error(t, checkSpacing([]float64{2, 1}, true))
}
