// Package tracker reports which loaded units have a newer file on disk than
// when they were last observed.
package tracker

import (
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/livepatch/internal/logging"
	"github.com/Iron-Ham/livepatch/internal/unit"
)

// Record describes one changed unit.
type Record struct {
	Name     string
	Path     string
	ModTime  time.Time // Modification time just observed
	Previous time.Time // Modification time observed before; zero means never
	Unit     *unit.Unit
}

// UnitSource lists the currently loaded units.
type UnitSource interface {
	Units() []*unit.Unit
}

// Tracker caches the last observed modification time of every unit.
type Tracker struct {
	fs     afero.Fs
	units  UnitSource
	logger *logging.Logger

	mu       sync.Mutex
	observed map[string]time.Time
}

// New creates a tracker over the units of src, statting files on fsys.
func New(fsys afero.Fs, src UnitSource, logger *logging.Logger) *Tracker {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Tracker{
		fs:       fsys,
		units:    src,
		logger:   logger.WithComponent("tracker"),
		observed: make(map[string]time.Time),
	}
}

// ChangedUnits stats the backing file of every loaded unit and returns the
// units whose modification time differs from the cached one. The cache is
// updated for every difference, but a unit seen for the first time is not
// reported. Units without a backing file, or whose file no longer exists,
// are skipped. Records come back in loader order.
func (t *Tracker) ChangedUnits() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	var changed []Record
	for _, u := range t.units.Units() {
		path := u.Path()
		if path == "" {
			continue
		}
		info, err := t.fs.Stat(path)
		if err != nil {
			continue
		}

		modTime := info.ModTime()
		previous := t.observed[u.Name()]
		if modTime.Equal(previous) {
			continue
		}
		t.observed[u.Name()] = modTime
		if previous.IsZero() {
			continue
		}

		t.logger.Debug("unit changed",
			"unit", u.Name(),
			"path", path,
			"mod_time", modTime,
			"previous", previous)
		changed = append(changed, Record{
			Name:     u.Name(),
			Path:     path,
			ModTime:  modTime,
			Previous: previous,
			Unit:     u,
		})
	}
	return changed
}

// Observed returns the cached modification time of a unit.
func (t *Tracker) Observed(name string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	mt, ok := t.observed[name]
	return mt, ok
}

// Forget drops the cached time of a unit, so its next observation counts as
// the first one again.
func (t *Tracker) Forget(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.observed, name)
}
