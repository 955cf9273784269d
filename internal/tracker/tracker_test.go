package tracker

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"

	"github.com/Iron-Ham/livepatch/internal/unit"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	fs      afero.Fs
	loader  *unit.Loader
	tracker *Tracker
}

func newFixture(t *testing.T, files ...string) *fixture {
	t.Helper()
	fsys := afero.NewMemMapFs()
	loader := unit.NewLoader(fsys, nil, nil)
	for _, name := range files {
		path := "/units/" + name + ".star"
		require.NoError(t, afero.WriteFile(fsys, path, []byte("x = 1\n"), 0o644))
		require.NoError(t, fsys.Chtimes(path, base, base))
		_, err := loader.Load(name, path)
		require.NoError(t, err)
	}
	return &fixture{fs: fsys, loader: loader, tracker: New(fsys, loader, nil)}
}

func (f *fixture) touch(t *testing.T, name string, mtime time.Time) {
	t.Helper()
	require.NoError(t, f.fs.Chtimes("/units/"+name+".star", mtime, mtime))
}

func names(records []Record) []string {
	var out []string
	for _, r := range records {
		out = append(out, r.Name)
	}
	return out
}

func TestFirstObservationIsNotReported(t *testing.T) {
	f := newFixture(t, "a", "b")

	assert.Empty(t, f.tracker.ChangedUnits())

	mt, ok := f.tracker.Observed("a")
	require.True(t, ok)
	assert.True(t, mt.Equal(base))
}

func TestNoChangeNoRecords(t *testing.T) {
	f := newFixture(t, "a")
	f.tracker.ChangedUnits()

	assert.Empty(t, f.tracker.ChangedUnits())
	assert.Empty(t, f.tracker.ChangedUnits())
}

func TestChangedUnitIsReportedOnce(t *testing.T) {
	f := newFixture(t, "a", "b", "c")
	f.tracker.ChangedUnits()

	later := base.Add(time.Second)
	f.touch(t, "c", later)
	f.touch(t, "a", later)

	records := f.tracker.ChangedUnits()
	assert.Equal(t, []string{"a", "c"}, names(records))

	r := records[0]
	assert.Equal(t, "/units/a.star", r.Path)
	assert.True(t, r.ModTime.Equal(later))
	assert.True(t, r.Previous.Equal(base))
	require.NotNil(t, r.Unit)
	assert.Equal(t, "a", r.Unit.Name())

	assert.Empty(t, f.tracker.ChangedUnits())
}

func TestOlderTimestampCountsAsChange(t *testing.T) {
	f := newFixture(t, "a")
	f.tracker.ChangedUnits()

	f.touch(t, "a", base.Add(-time.Hour))

	assert.Equal(t, []string{"a"}, names(f.tracker.ChangedUnits()))
}

func TestUnitsWithoutFilesAreSkipped(t *testing.T) {
	f := newFixture(t, "a", "b")
	_, err := f.loader.Define("host", starlark.StringDict{})
	require.NoError(t, err)
	f.tracker.ChangedUnits()

	require.NoError(t, f.fs.Remove("/units/b.star"))
	f.touch(t, "a", base.Add(time.Second))

	assert.Equal(t, []string{"a"}, names(f.tracker.ChangedUnits()))
	_, ok := f.tracker.Observed("host")
	assert.False(t, ok)
}

func TestForget(t *testing.T) {
	f := newFixture(t, "a")
	f.tracker.ChangedUnits()

	f.tracker.Forget("a")
	f.touch(t, "a", base.Add(time.Second))

	assert.Empty(t, f.tracker.ChangedUnits(), "a forgotten unit is observed afresh")
	_, ok := f.tracker.Observed("a")
	assert.True(t, ok)
}

func TestUnitLoadedLaterIsObservedFirst(t *testing.T) {
	f := newFixture(t, "a")
	f.tracker.ChangedUnits()

	require.NoError(t, afero.WriteFile(f.fs, "/units/late.star", []byte("y = 2\n"), 0o644))
	_, err := f.loader.Load("late", "/units/late.star")
	require.NoError(t, err)

	assert.Empty(t, f.tracker.ChangedUnits())

	f.touch(t, "late", base.Add(time.Minute))
	assert.Equal(t, []string{"late"}, names(f.tracker.ChangedUnits()))
}
