// Package store_test contains tests for the store package
package store_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crashgather/internal/aggregate"
	"crashgather/internal/store"
	"crashgather/internal/window"
)

func typeAgg(adi int64) *aggregate.TypeAggregate {
	return &aggregate.TypeAggregate{
		Versions: []string{"42.0"},
		ADI:      adi,
		Buckets:  map[string]float64{"Browser": 100},
	}
}

func TestFilenames(t *testing.T) {
	assert.Equal(t, "Firefox-release-crashes-bytype.json", store.ByTypeFilename("Firefox", "release"))
	assert.Equal(t, "Firefox-beta-crashes-categories.json", store.CategoriesFilename("Firefox", "beta"))
}

func TestOpenMissingFileIsEmptyStore(t *testing.T) {
	st, err := store.Open[*aggregate.TypeAggregate](t.TempDir(), "nope.json")
	require.NoError(t, err)
	assert.Equal(t, 0, st.Len())
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{broken"), 0o644))

	_, err := store.Open[*aggregate.TypeAggregate](dir, "bad.json")
	assert.Error(t, err)
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	name := store.ByTypeFilename("Firefox", "release")

	st, err := store.Open[*aggregate.TypeAggregate](dir, name)
	require.NoError(t, err)
	st.Merge(window.Day("2024-03-14"), typeAgg(1000), false)
	st.Merge(window.Day("2024-03-15"), typeAgg(2000), false)
	require.NoError(t, st.Save())

	reloaded, err := store.Open[*aggregate.TypeAggregate](dir, name)
	require.NoError(t, err)
	require.Equal(t, 2, reloaded.Len())

	rec, ok := reloaded.Get(window.Day("2024-03-15"))
	require.True(t, ok)
	assert.Equal(t, int64(2000), rec.ADI)
	assert.Equal(t, []string{"42.0"}, rec.Versions)
	assert.InDelta(t, 100.0, rec.Buckets["Browser"], 1e-9)
}

func TestMergeSkipsCompleteDaysUnlessForced(t *testing.T) {
	st, err := store.Open[*aggregate.TypeAggregate](t.TempDir(), "x.json")
	require.NoError(t, err)

	d := window.Day("2024-03-15")
	require.True(t, st.Merge(d, typeAgg(1000), false))
	assert.True(t, st.Complete(d))

	// A later unforced run must not clobber the recorded day.
	assert.False(t, st.Merge(d, typeAgg(9999), false))
	rec, _ := st.Get(d)
	assert.Equal(t, int64(1000), rec.ADI)

	// A forced run may.
	assert.True(t, st.Merge(d, typeAgg(9999), true))
	rec, _ = st.Get(d)
	assert.Equal(t, int64(9999), rec.ADI)
}

func TestIncompleteDaysStayRecomputable(t *testing.T) {
	st, err := store.Open[*aggregate.TypeAggregate](t.TempDir(), "x.json")
	require.NoError(t, err)

	d := window.Day("2024-03-15")
	require.True(t, st.Merge(d, typeAgg(0), false))
	assert.False(t, st.Complete(d), "zero-ADI entry is not complete")
	assert.True(t, st.Merge(d, typeAgg(1000), false))
}

func TestDaysSortedChronologically(t *testing.T) {
	st, err := store.Open[*aggregate.TypeAggregate](t.TempDir(), "x.json")
	require.NoError(t, err)

	for _, d := range []window.Day{"2024-03-15", "2023-12-31", "2024-01-01"} {
		st.Merge(d, typeAgg(1), false)
	}

	assert.Equal(t, []window.Day{"2023-12-31", "2024-01-01", "2024-03-15"}, st.Days())
}

func TestSaveIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	name := "doc.json"

	st, err := store.Open[*aggregate.TypeAggregate](dir, name)
	require.NoError(t, err)
	st.Merge(window.Day("2024-03-14"), typeAgg(1000), false)
	st.Merge(window.Day("2024-03-15"), typeAgg(2000), false)
	require.NoError(t, st.Save())
	first, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)

	again, err := store.Open[*aggregate.TypeAggregate](dir, name)
	require.NoError(t, err)
	require.NoError(t, again.Save())
	second, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)

	assert.Equal(t, first, second, "a run that learned nothing must write back byte-identical content")
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()

	st, err := store.Open[*aggregate.TypeAggregate](dir, "doc.json")
	require.NoError(t, err)
	st.Merge(window.Day("2024-03-15"), typeAgg(1), false)
	require.NoError(t, st.Save())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "doc.json", entries[0].Name())
}

func TestCategoryStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	name := store.CategoriesFilename("Firefox", "release")

	st, err := store.Open[*aggregate.CategoryAggregate](dir, name)
	require.NoError(t, err)
	st.Merge(window.Day("2024-03-15"), &aggregate.CategoryAggregate{
		Buckets: map[string]aggregate.CategoryCount{
			"shutdownhang": {Total: 16},
			"startup":      {ByProcess: map[string]float64{"browser": 40, "content": 60}},
		},
	}, false)
	require.NoError(t, st.Save())

	reloaded, err := store.Open[*aggregate.CategoryAggregate](dir, name)
	require.NoError(t, err)
	rec, ok := reloaded.Get(window.Day("2024-03-15"))
	require.True(t, ok)
	assert.InDelta(t, 16.0, rec.Buckets["shutdownhang"].Total, 1e-9)
	assert.InDelta(t, 60.0, rec.Buckets["startup"].ByProcess["content"], 1e-9)
	assert.True(t, reloaded.Complete(window.Day("2024-03-15")))
}
