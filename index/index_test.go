package index

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchOrdersByInnerProduct(t *testing.T) {
	idx, err := NewFlatIP(3)
	require.NoError(t, err)

	require.NoError(t, idx.Add([][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}))
	require.Equal(t, 3, idx.Count())

	scores, ids, err := idx.Search([]float32{0.2, 0.9, 0.1}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 0}, ids)
	assert.InDelta(t, 0.9, scores[0], 1e-6)
	assert.InDelta(t, 0.2, scores[1], 1e-6)
}

func TestSearchPadsAbsentSlotsWithMinusOne(t *testing.T) {
	idx, err := NewFlatIP(2)
	require.NoError(t, err)
	require.NoError(t, idx.Add([][]float32{{1, 0}}))

	scores, ids, err := idx.Search([]float32{1, 0}, 4)
	require.NoError(t, err)
	require.Len(t, ids, 4)
	require.Len(t, scores, 4)
	assert.Equal(t, []int64{0, -1, -1, -1}, ids)
}

func TestSearchEmptyIndex(t *testing.T) {
	idx, err := NewFlatIP(2)
	require.NoError(t, err)

	_, ids, err := idx.Search([]float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{-1, -1, -1}, ids)
}

func TestAddRejectsWrongDimension(t *testing.T) {
	idx, err := NewFlatIP(3)
	require.NoError(t, err)
	assert.Error(t, idx.Add([][]float32{{1, 0}}))

	_, _, err = idx.Search([]float32{1, 0}, 1)
	assert.Error(t, err)
}

func TestResetAndTruncate(t *testing.T) {
	idx, err := NewFlatIP(1)
	require.NoError(t, err)
	require.NoError(t, idx.Add([][]float32{{1}, {2}, {3}}))

	idx.Truncate(1)
	assert.Equal(t, 1, idx.Count())

	idx.Truncate(5)
	assert.Equal(t, 1, idx.Count())

	idx.Reset()
	assert.Equal(t, 0, idx.Count())
}

func TestSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vec.index")

	idx, err := NewFlatIP(2)
	require.NoError(t, err)
	require.NoError(t, idx.Add([][]float32{{1, 0}, {0, 1}}))
	require.NoError(t, idx.Save(path))

	loaded, err := LoadOrCreate(path, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Count())

	_, ids, err := loaded.Search([]float32{0, 1}, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)
}

func TestLoadOrCreateNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "vec.index")

	idx, err := LoadOrCreate(path, 4)
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Count())

	// The empty index is persisted on first run.
	again, err := LoadOrCreate(path, 4)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Count())
}

func TestLoadOrCreateDimensionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vec.index")
	idx, err := NewFlatIP(2)
	require.NoError(t, err)
	require.NoError(t, idx.Save(path))

	_, err = LoadOrCreate(path, 3)
	assert.Error(t, err)
}
