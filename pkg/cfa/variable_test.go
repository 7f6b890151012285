package cfa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligustah/cfa/pkg/errkind"
)

func part(i, start, end int) Partition {
	return Partition{
		Index:    []int{i},
		Location: []Range{{start, end}, {0, 2}},
		Subarray: Subarray{File: "f.nc", Format: "netCDF", NCVar: "tas", Shape: []int{end - start, 2}},
	}
}

// unlimitedTime returns tas(time, lat) where time has no fixed length.
func unlimitedTime(t *testing.T) *Variable {
	t.Helper()
	ds := NewDataset(FormatCFA3)
	root := ds.Root()
	_, err := root.CreateDimension("time", 0, nil)
	require.NoError(t, err)
	_, err = root.CreateDimension("lat", 2, nil)
	require.NoError(t, err)
	v, err := ds.CreateVariable(root, "tas", "float", []string{"time", "lat"}, nil)
	require.NoError(t, err)
	return v
}

func TestAttachPartitionMatrix(t *testing.T) {
	_, v := newTestDataset(t)
	assert.Equal(t, Inline, v.Kind())

	assert.True(t, errkind.InvalidPartition.Has(v.AttachPartitionMatrix([]string{"level"}, []int{1})))
	assert.True(t, errkind.InvalidPartition.Has(v.AttachPartitionMatrix([]string{"time"}, []int{1, 2})))

	require.NoError(t, v.AttachPartitionMatrix([]string{"time"}, []int{2}))
	assert.Equal(t, Fragmented, v.Kind())
	assert.True(t, errkind.Conflict.Has(v.AttachPartitionMatrix([]string{"time"}, []int{2})))
}

func TestWritePartitionRejectsInvalid(t *testing.T) {
	_, v := newTestDataset(t)
	assert.True(t, errkind.InvalidPartition.Has(v.WritePartition(part(0, 0, 2))), "inline variable")
	require.NoError(t, v.AttachPartitionMatrix([]string{"time"}, []int{2}))

	tests := []struct {
		name string
		p    Partition
	}{
		{"index out of bounds", part(2, 0, 2)},
		{"negative index", part(-1, 0, 2)},
		{"shape mismatch", func() Partition { p := part(0, 0, 2); p.Subarray.Shape[0] = 3; return p }()},
		{"missing location", func() Partition { p := part(0, 0, 2); p.Location = p.Location[:1]; return p }()},
		{"reversed range", func() Partition { p := part(0, 2, 0); p.Subarray.Shape[0] = 0; return p }()},
		{"no file", func() Partition { p := part(0, 0, 2); p.Subarray.File = ""; return p }()},
		{"index rank", func() Partition { p := part(0, 0, 2); p.Index = []int{0, 0}; return p }()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.WritePartition(tt.p)
			assert.True(t, errkind.InvalidPartition.Has(err), "got %v", err)
			assert.Empty(t, v.Partitions())
		})
	}
}

func TestWritePartitionWithinDimensions(t *testing.T) {
	ds, v := newTestDataset(t)
	require.NoError(t, v.AttachPartitionMatrix([]string{"time"}, []int{2}))
	assert.True(t, errkind.InvalidPartition.Has(v.WritePartition(part(0, 0, 1000))))
	assert.True(t, errkind.InvalidPartition.Has(v.WritePartition(part(1, 2, 5))))
	assert.Empty(t, v.Partitions())
	require.NoError(t, v.WritePartition(part(1, 2, 4)))

	// Dimensions inherited from the root group are checked as well.
	g, err := ds.CreateGroup("model", nil)
	require.NoError(t, err)
	w, err := ds.CreateVariable(g, "tas", "float", []string{"time", "lat"}, nil)
	require.NoError(t, err)
	require.NoError(t, w.AttachPartitionMatrix([]string{"time"}, []int{2}))
	wide := part(0, 0, 2)
	wide.Location[1] = Range{0, 3}
	wide.Subarray.Shape[1] = 3
	assert.True(t, errkind.InvalidPartition.Has(w.WritePartition(wide)))

	// Renamed dimensions keep their length.
	require.NoError(t, ds.Root().RenameDimension("time", "t"))
	assert.True(t, errkind.InvalidPartition.Has(v.WritePartition(part(0, 3, 6))))

	u := unlimitedTime(t)
	require.NoError(t, u.AttachPartitionMatrix([]string{"time"}, []int{1}))
	require.NoError(t, u.WritePartition(part(0, 0, 1000)))
}

func TestWriteAndGetPartition(t *testing.T) {
	_, v := newTestDataset(t)
	require.NoError(t, v.AttachPartitionMatrix([]string{"time"}, []int{2}))
	require.NoError(t, v.WritePartition(part(1, 2, 4)))
	require.NoError(t, v.WritePartition(part(0, 0, 2)))

	p, err := v.GetPartition([]int{1})
	require.NoError(t, err)
	assert.Equal(t, Range{2, 4}, p.Location[0])

	// Upsert replaces the partition at the same index.
	replaced := part(1, 2, 4)
	replaced.Subarray.File = "g.nc"
	require.NoError(t, v.WritePartition(replaced))
	parts := v.Partitions()
	require.Len(t, parts, 2)
	assert.Equal(t, []int{0}, parts[0].Index)
	assert.Equal(t, "g.nc", parts[1].Subarray.File)

	// Returned partitions are copies.
	parts[0].Location[0].End = 99
	again, err := v.GetPartition([]int{0})
	require.NoError(t, err)
	assert.Equal(t, 2, again.Location[0].End)

	_, err = v.GetPartition([]int{5})
	assert.True(t, errkind.NotFound.Has(err))
	assert.Equal(t, []int{4, 2}, v.Extent())
}

func TestGrowPartitionMatrix(t *testing.T) {
	_, v := newTestDataset(t)
	require.NoError(t, v.AttachPartitionMatrix([]string{"time"}, []int{0}))
	for want := 0; want < 3; want++ {
		got, err := v.GrowPartitionMatrix("time")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	m, _ := v.PartitionMatrix()
	assert.Equal(t, []int{3}, m.Shape())

	_, err := v.GrowPartitionMatrix("lat")
	assert.True(t, errkind.NotFound.Has(err))
}

func TestSortPartitionsStitches(t *testing.T) {
	v := unlimitedTime(t)
	require.NoError(t, v.AttachPartitionMatrix([]string{"time"}, []int{3}))

	// Locations derived from coordinate values, written out of order.
	require.NoError(t, v.WritePartition(part(0, 730020, 730022)))
	require.NoError(t, v.WritePartition(part(1, 730000, 730001)))
	require.NoError(t, v.WritePartition(part(2, 730010, 730011)))

	require.NoError(t, v.SortPartitions("time", 4))
	parts := v.Partitions()
	require.Len(t, parts, 3)
	wantLoc := []Range{{0, 1}, {1, 2}, {2, 4}}
	for i, p := range parts {
		assert.Equal(t, []int{i}, p.Index)
		assert.Equal(t, wantLoc[i], p.Location[0])
		assert.Equal(t, p.Location[0].Len(), p.Subarray.Shape[0])
	}
	assert.Equal(t, 2, parts[2].Subarray.Shape[0])
}

func TestSortPartitionsRejectsBadCoverage(t *testing.T) {
	v := unlimitedTime(t)
	require.NoError(t, v.AttachPartitionMatrix([]string{"time"}, []int{2}))
	require.NoError(t, v.WritePartition(part(0, 5, 7)))
	require.NoError(t, v.WritePartition(part(1, 1, 3)))

	err := v.SortPartitions("time", 5)
	assert.True(t, errkind.InvalidPartition.Has(err))

	// Matrix unchanged.
	p, err := v.GetPartition([]int{0})
	require.NoError(t, err)
	assert.Equal(t, Range{5, 7}, p.Location[0])

	assert.True(t, errkind.NotFound.Has(v.SortPartitions("lat", 0)))
}

func TestIndexKey(t *testing.T) {
	assert.Equal(t, "3", IndexKey([]int{3}))
	assert.Equal(t, "1.0.4", IndexKey([]int{1, 0, 4}))
	assert.Equal(t, "", IndexKey(nil))
}

func TestResolveFile(t *testing.T) {
	assert.Equal(t, "out/data/a.nc", ResolveFile("out/data/", "a.nc"))
	assert.Equal(t, "/abs/a.nc", ResolveFile("out", "/abs/a.nc"))
	assert.Equal(t, "s3://h/b/a.nc", ResolveFile("out", "s3://h/b/a.nc"))
	assert.Equal(t, "a.nc", ResolveFile("", "a.nc"))
}

func TestCheckTiling(t *testing.T) {
	_, v := newTestDataset(t)
	require.NoError(t, v.AttachPartitionMatrix([]string{"time"}, []int{2}))
	require.NoError(t, v.WritePartition(part(0, 0, 3)))
	require.NoError(t, v.WritePartition(part(1, 3, 4)))
	assert.NoError(t, v.CheckTiling([]int{4, 2}))

	assert.True(t, errkind.InvalidPartition.Has(v.CheckTiling([]int{5, 2})), "gap at the end")
	assert.True(t, errkind.InvalidPartition.Has(v.CheckTiling([]int{3, 2})), "outside the box")

	require.NoError(t, v.WritePartition(part(1, 2, 4)))
	assert.True(t, errkind.InvalidPartition.Has(v.CheckTiling([]int{4, 2})), "overlap")
}
