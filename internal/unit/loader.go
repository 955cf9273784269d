package unit

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/Iron-Ham/livepatch/internal/errors"
	"github.com/Iron-Ham/livepatch/internal/logging"
	"github.com/Iron-Ham/livepatch/internal/object"
)

// Ext is the file extension of unit sources.
const Ext = ".star"

// Loader executes unit sources and keeps the current version of every loaded
// unit. It is safe for concurrent use, but loads and reinitializations are
// expected to come from one goroutine at a time.
type Loader struct {
	fs         afero.Fs
	population object.Population
	logger     *logging.Logger

	mu    sync.RWMutex
	units map[string]*Unit
	order []string
	now   func() time.Time
}

// NewLoader creates a loader reading sources from fsys. Instances built by
// classes the loaded units declare are added to pop, which may be nil.
func NewLoader(fsys afero.Fs, pop object.Population, logger *logging.Logger) *Loader {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Loader{
		fs:         fsys,
		population: pop,
		logger:     logger.WithComponent("unit"),
		units:      make(map[string]*Unit),
		now:        time.Now,
	}
}

// Fs returns the file system the loader reads from.
func (l *Loader) Fs() afero.Fs { return l.fs }

// NameFor derives a unit name from a file path: the path relative to root,
// without extension, with separators replaced by dots. Paths outside root
// use their base name.
func NameFor(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		rel = filepath.Base(path)
	}
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	return strings.ReplaceAll(filepath.ToSlash(rel), "/", ".")
}

// Load executes the file at path as a new unit called name.
func (l *Loader) Load(name, path string) (*Unit, error) {
	if _, ok := l.Lookup(name); ok {
		return nil, errors.NewUnitError("load", errors.ErrUnitExists).WithUnit(name).WithPath(path)
	}
	u, err := l.exec(name, path, filepath.Dir(path), 1, map[string]bool{name: true})
	if err != nil {
		return nil, err
	}
	l.store(u)
	return u, nil
}

// LoadDir loads every file under dir whose base name matches pattern, in
// lexical order. Files already loaded as a dependency of an earlier file are
// returned without being executed again.
func (l *Loader) LoadDir(dir, pattern string) ([]*Unit, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid unit pattern %q: %w", pattern, err)
	}

	var paths []string
	err := afero.Walk(l.fs, dir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != dir && strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if ok, _ := filepath.Match(pattern, info.Name()); ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "scan unit directory %s", dir)
	}

	units := make([]*Unit, 0, len(paths))
	for _, path := range paths {
		name := NameFor(dir, path)
		if u, ok := l.Lookup(name); ok && u.path == path {
			units = append(units, u)
			continue
		}
		u, err := l.exec(name, path, dir, 1, map[string]bool{name: true})
		if err != nil {
			return units, err
		}
		l.store(u)
		units = append(units, u)
	}

	l.logger.Info("loaded unit directory", "dir", dir, "units", len(units))
	return units, nil
}

// Define registers a unit built from Go values. It has no backing file, so
// it is never reported as changed and cannot be reinitialized.
func (l *Loader) Define(name string, globals starlark.StringDict) (*Unit, error) {
	if _, ok := l.Lookup(name); ok {
		return nil, errors.NewUnitError("define", errors.ErrUnitExists).WithUnit(name)
	}
	copied := make(starlark.StringDict, len(globals))
	for k, v := range globals {
		copied[k] = v
	}
	copied.Freeze()

	u := &Unit{name: name, generation: 1, globals: copied, loadedAt: l.now()}
	l.store(u)
	return u, nil
}

// Reinitialize executes the current content of u's file into a fresh unit
// and makes it the loaded version. On failure the loaded version is left as
// it was. Invalid source yields a *errors.DefinitionError.
func (l *Loader) Reinitialize(u *Unit) (*Unit, error) {
	if u.path == "" {
		return nil, errors.NewUnitError("reinitialize", errors.ErrNoBackingFile).WithUnit(u.name)
	}

	generation := u.generation
	if current, ok := l.Lookup(u.name); ok && current.generation > generation {
		generation = current.generation
	}

	fresh, err := l.exec(u.name, u.path, u.root, generation+1, map[string]bool{u.name: true})
	if err != nil {
		return nil, err
	}
	l.store(fresh)
	return fresh, nil
}

// Lookup returns the loaded version of a unit.
func (l *Loader) Lookup(name string) (*Unit, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	u, ok := l.units[name]
	return u, ok
}

// Units returns the loaded units in the order they were first loaded.
func (l *Loader) Units() []*Unit {
	l.mu.RLock()
	defer l.mu.RUnlock()
	units := make([]*Unit, 0, len(l.order))
	for _, name := range l.order {
		units = append(units, l.units[name])
	}
	return units
}

// Unload forgets a unit. Values it defined stay usable by whoever holds them.
func (l *Loader) Unload(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.units[name]; !ok {
		return errors.NewUnitError("unload", errors.ErrUnitNotFound).WithUnit(name)
	}
	delete(l.units, name)
	l.order = slices.DeleteFunc(l.order, func(n string) bool { return n == name })
	return nil
}

// Roots returns every global of every loaded unit.
func (l *Loader) Roots() []starlark.Value {
	var roots []starlark.Value
	for _, u := range l.Units() {
		for _, v := range u.globals {
			roots = append(roots, v)
		}
	}
	return roots
}

// Call calls the unit global fn with args on a thread that reports prints
// and class declarations on behalf of u.
func (l *Loader) Call(ctx context.Context, u *Unit, fn string, args ...starlark.Value) (starlark.Value, error) {
	v, ok := u.globals[fn]
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", u.name, fn, errors.ErrGlobalNotFound)
	}
	return object.Call(ctx, l.thread(u.name, nil), v, args...)
}

func (l *Loader) store(u *Unit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.units[u.name]; !ok {
		l.order = append(l.order, u.name)
	}
	l.units[u.name] = u
}

func (l *Loader) thread(name string, load func(*starlark.Thread, string) (starlark.StringDict, error)) *starlark.Thread {
	logger := l.logger.WithUnit(name)
	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			logger.Debug("unit output", "output", msg)
		},
		Load: load,
	}
	thread.SetLocal(localUnit, name)
	return thread
}

// exec reads and executes one unit. loading holds the units whose execution
// is in progress on this call chain.
func (l *Loader) exec(name, path, root string, generation int, loading map[string]bool) (*Unit, error) {
	src, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return nil, errors.NewUnitError("read source", err).
			WithUnit(name).
			WithPath(path).
			WithSeverity(errors.SeverityCritical)
	}

	thread := l.thread(name, l.loadFunc(path, root, loading))
	start := l.now()
	globals, err := starlark.ExecFile(thread, path, src, l.predeclared())
	if err != nil {
		return nil, definitionError(name, path, err)
	}

	l.logger.Debug("executed unit",
		"unit", name,
		"path", path,
		"generation", generation,
		"duration_ms", l.now().Sub(start).Milliseconds())

	return &Unit{
		name:       name,
		path:       path,
		root:       root,
		generation: generation,
		globals:    globals,
		loadedAt:   l.now(),
	}, nil
}

// loadFunc resolves load statements of the unit at fromPath. A module ending
// in the unit extension is a file relative to the loading unit; anything else
// is a unit name, looked up among loaded units first and then as a file
// under root.
func (l *Loader) loadFunc(fromPath, root string, loading map[string]bool) func(*starlark.Thread, string) (starlark.StringDict, error) {
	return func(_ *starlark.Thread, module string) (starlark.StringDict, error) {
		var name, path string
		if strings.HasSuffix(module, Ext) {
			path = filepath.Join(filepath.Dir(fromPath), filepath.FromSlash(module))
			name = NameFor(root, path)
		} else {
			name = module
			path = filepath.Join(root, filepath.FromSlash(strings.ReplaceAll(module, ".", "/"))+Ext)
		}

		if loading[name] {
			return nil, fmt.Errorf("%s: %w", name, errors.ErrLoadCycle)
		}
		if u, ok := l.Lookup(name); ok {
			return u.globals, nil
		}

		loading[name] = true
		defer delete(loading, name)

		u, err := l.exec(name, path, root, 1, loading)
		if err != nil {
			return nil, err
		}
		l.store(u)
		return u.globals, nil
	}
}

// definitionError classifies a failure of starlark.ExecFile. Failures of the
// unit's own text (syntax, resolution, evaluation) are definition errors;
// anything else is returned unchanged.
func definitionError(name, path string, err error) error {
	var (
		syntaxErr  syntax.Error
		resolveErr resolve.ErrorList
		evalErr    *starlark.EvalError
	)
	if errors.As(err, &syntaxErr) || errors.As(err, &resolveErr) || errors.As(err, &evalErr) {
		return errors.NewDefinitionError(name, path, err)
	}
	return err
}
