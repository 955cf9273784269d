package reload

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"

	"github.com/Iron-Ham/livepatch/internal/errors"
	"github.com/Iron-Ham/livepatch/internal/event"
	"github.com/Iron-Ham/livepatch/internal/heap"
	"github.com/Iron-Ham/livepatch/internal/logging"
	"github.com/Iron-Ham/livepatch/internal/object"
	"github.com/Iron-Ham/livepatch/internal/registry"
	"github.com/Iron-Ham/livepatch/internal/tracker"
	"github.com/Iron-Ham/livepatch/internal/unit"
)

func greeter(version string) string {
	return fmt.Sprintf(`
def init(self, name):
    self.name = name

def greet(self):
    return "%s " + self.name

Greeter = defclass("Greeter", __init__ = init, greet = greet)
`, version)
}

type harness struct {
	t        *testing.T
	fs       afero.Fs
	pop      *heap.Population
	loader   *unit.Loader
	registry *registry.Registry
	bus      *event.Bus
	logs     *bytes.Buffer
	events   []event.Event
	orch     *Orchestrator
	mtime    time.Time
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		fs:    afero.NewMemMapFs(),
		pop:   heap.NewPopulation(),
		logs:  &bytes.Buffer{},
		mtime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	logger := logging.NewWriterLogger(h.logs, logging.LevelDebug, logging.FormatJSON)
	h.loader = unit.NewLoader(h.fs, h.pop, logger)
	h.registry = registry.New(logger)
	h.bus = event.NewBus(logger)
	h.bus.SubscribeAll(func(e event.Event) { h.events = append(h.events, e) })

	enum := heap.NewEnumerator(h.pop, logger, heap.RootFunc(h.loader.Roots))
	trk := tracker.New(h.fs, h.loader, logger)
	opts = append([]Option{WithLogger(logger)}, opts...)
	h.orch = New(trk, h.loader, h.registry, enum, h.bus, opts...)
	return h
}

// write stores src for unit name with a modification time later than any
// written before.
func (h *harness) write(name, src string) {
	h.t.Helper()
	path := "/units/" + name + ".star"
	require.NoError(h.t, afero.WriteFile(h.fs, path, []byte(src), 0o644))
	h.mtime = h.mtime.Add(time.Second)
	require.NoError(h.t, h.fs.Chtimes(path, h.mtime, h.mtime))
}

func (h *harness) load(name, src string) *unit.Unit {
	h.t.Helper()
	h.write(name, src)
	u, err := h.loader.Load(name, "/units/"+name+".star")
	require.NoError(h.t, err)
	return u
}

// construct calls a unit's class the way host code would.
func (h *harness) construct(unitName, class string, args ...starlark.Value) *object.Instance {
	h.t.Helper()
	u, ok := h.loader.Lookup(unitName)
	require.True(h.t, ok)
	v, err := h.loader.Call(context.Background(), u, class, args...)
	require.NoError(h.t, err)
	return v.(*object.Instance)
}

func (h *harness) cycle() Report {
	h.t.Helper()
	report, err := h.orch.RunCycle(context.Background())
	require.NoError(h.t, err)
	return report
}

func (h *harness) eventTypes() []string {
	var types []string
	for _, e := range h.events {
		types = append(types, e.EventType())
	}
	return types
}

func greet(t *testing.T, inst *object.Instance) string {
	t.Helper()
	v, err := object.Invoke(context.Background(), inst, "greet")
	require.NoError(t, err)
	s, _ := starlark.AsString(v)
	return s
}

func TestNoOpCycle(t *testing.T) {
	h := newHarness(t)
	h.load("greeter", greeter("v1"))
	c := h.construct("greeter", "Greeter", starlark.String("amy"))

	// The first cycle only observes timestamps.
	assert.True(t, h.cycle().Empty())
	assert.True(t, h.cycle().Empty())

	current, _ := h.loader.Lookup("greeter")
	assert.Equal(t, 1, current.Generation(), "nothing was reinitialized")
	assert.Equal(t, "v1 amy", greet(t, c))
	assert.Empty(t, h.events)
}

func TestFirstObservationIsNotAChange(t *testing.T) {
	h := newHarness(t)
	h.load("greeter", greeter("v1"))
	h.cycle()

	// A unit loaded after the first cycle is new to the tracker.
	h.load("late", greeter("late"))

	assert.True(t, h.cycle().Empty())
}

func TestReloadPatchesLiveInstance(t *testing.T) {
	h := newHarness(t)
	h.load("greeter", greeter("v1"))
	c := h.construct("greeter", "Greeter", starlark.String("amy"))
	h.cycle()

	id := c.ID()
	class := c.Class()
	fields := c.Fields()
	require.Equal(t, "v1 amy", greet(t, c))

	h.write("greeter", greeter("v2"))
	report := h.cycle()

	assert.Equal(t, "v2 amy", greet(t, c))
	assert.Equal(t, id, c.ID())
	assert.Same(t, class, c.Class())
	assert.Equal(t, fields, c.Fields())

	assert.NotEmpty(t, report.CycleID)
	assert.Equal(t, []string{"greeter"}, report.Changed)
	assert.Equal(t, []string{"greeter"}, report.Reloaded)
	assert.Empty(t, report.Failed)
	assert.Equal(t, map[string]int{"greeter.Greeter": 1}, report.Patched)
	assert.Contains(t, h.logs.String(), `"msg":"unit reloaded"`)

	assert.Equal(t, []string{
		event.TypeUnitChanged,
		event.TypeUnitReloaded,
		event.TypeInstancesPatched,
		event.TypeCycleCompleted,
	}, h.eventTypes())
}

func TestSyntaxErrorKeepsOldBindingsUntilFixed(t *testing.T) {
	h := newHarness(t)
	h.load("greeter", greeter("v1"))
	c := h.construct("greeter", "Greeter", starlark.String("amy"))
	h.cycle()

	h.write("greeter", "def greet(self)\n    return 'broken'\n")
	report := h.cycle()

	assert.Equal(t, "v1 amy", greet(t, c))
	require.Contains(t, report.Failed, "greeter")
	assert.True(t, errors.IsDefinitionError(report.Failed["greeter"]))
	assert.Empty(t, report.Reloaded)
	assert.Contains(t, h.logs.String(), `"msg":"cannot reload unit"`)
	assert.Contains(t, h.eventTypes(), event.TypeUnitReloadFailed)

	h.write("greeter", greeter("fixed"))
	report = h.cycle()

	assert.Equal(t, []string{"greeter"}, report.Reloaded)
	assert.Equal(t, "fixed amy", greet(t, c))
}

func TestFailuresAreIsolatedPerUnit(t *testing.T) {
	h := newHarness(t)
	h.load("a", greeter("a1"))
	h.load("b", greeter("b1"))
	ca := h.construct("a", "Greeter", starlark.String("x"))
	cb := h.construct("b", "Greeter", starlark.String("y"))
	h.cycle()

	h.write("a", "Greeter = defclass(")
	h.write("b", greeter("b2"))
	report := h.cycle()

	assert.Equal(t, []string{"a", "b"}, report.Changed)
	assert.Equal(t, []string{"b"}, report.Reloaded)
	assert.Contains(t, report.Failed, "a")
	assert.Equal(t, map[string]int{"b.Greeter": 1}, report.Patched)
	assert.Equal(t, "a1 x", greet(t, ca))
	assert.Equal(t, "b2 y", greet(t, cb))
}

func TestNewClassWithoutInstances(t *testing.T) {
	h := newHarness(t)
	h.load("greeter", greeter("v1"))
	c := h.construct("greeter", "Greeter", starlark.String("amy"))
	h.cycle()

	h.write("greeter", greeter("v2")+`
def wave(self):
    return "bye"

Waver = defclass("Waver", wave = wave)
`)
	report := h.cycle()

	assert.Empty(t, report.Failed)
	assert.Equal(t, map[string]int{"greeter.Greeter": 1}, report.Patched)
	assert.NotContains(t, report.Patched, "greeter.Waver")
	assert.Equal(t, "v2 amy", greet(t, c))
}

func TestInstancesOfEveryVersionArePatched(t *testing.T) {
	h := newHarness(t)
	h.load("greeter", greeter("v1"))
	old := h.construct("greeter", "Greeter", starlark.String("old"))
	h.cycle()

	h.write("greeter", greeter("v2"))
	h.cycle()
	newer := h.construct("greeter", "Greeter", starlark.String("new"))
	require.NotSame(t, old.Class(), newer.Class())

	h.write("greeter", greeter("v3"))
	report := h.cycle()

	assert.Equal(t, 2, report.Patched["greeter.Greeter"])
	assert.Equal(t, "v3 old", greet(t, old))
	assert.Equal(t, "v3 new", greet(t, newer))
	assert.Len(t, h.registry.Versions("greeter.Greeter"), 3)
}

func TestRenamedClassLeavesInstancesAlone(t *testing.T) {
	h := newHarness(t)
	h.load("greeter", greeter("v1"))
	c := h.construct("greeter", "Greeter", starlark.String("amy"))
	h.cycle()

	h.write("greeter", `
def greet(self):
    return "renamed"

Welcomer = defclass("Welcomer", greet = greet)
`)
	report := h.cycle()

	assert.Empty(t, report.Failed)
	assert.Empty(t, report.Patched)
	assert.Equal(t, "v1 amy", greet(t, c))
}

func TestClassWithoutMethodsIsNotCountedAsPatched(t *testing.T) {
	h := newHarness(t)
	h.load("tags", `Tag = defclass("Tag", color = "red")`)
	tag := h.construct("tags", "Tag")
	h.cycle()

	h.write("tags", `Tag = defclass("Tag", color = "blue")`)
	report := h.cycle()

	assert.Equal(t, []string{"tags"}, report.Reloaded)
	assert.Empty(t, report.Patched)
	assert.NotContains(t, h.eventTypes(), event.TypeInstancesPatched)
	color, err := tag.Attr("color")
	require.NoError(t, err)
	assert.Equal(t, starlark.String("red"), color, "constants come from the instance's own class version")
}

func TestRemovedMethodKeepsOldBinding(t *testing.T) {
	h := newHarness(t)
	h.load("greeter", greeter("v1"))
	c := h.construct("greeter", "Greeter", starlark.String("amy"))
	h.cycle()

	h.write("greeter", `
def init(self, name):
    self.name = name

Greeter = defclass("Greeter", __init__ = init)
`)
	h.cycle()

	assert.Equal(t, "v1 amy", greet(t, c))
}

func TestInstancesHeldOnlyByOtherInstances(t *testing.T) {
	h := newHarness(t)
	h.load("greeter", greeter("v1"))
	inner := h.construct("greeter", "Greeter", starlark.String("inner"))
	outer := h.construct("greeter", "Greeter", starlark.String("outer"))
	require.NoError(t, outer.SetField("friends", starlark.NewList([]starlark.Value{inner})))
	h.cycle()

	h.write("greeter", greeter("v2"))
	report := h.cycle()

	assert.Equal(t, 2, report.Patched["greeter.Greeter"], "each instance is patched once")
	assert.Equal(t, "v2 inner", greet(t, inner))
}

type failingLoader struct {
	err error
}

func (f failingLoader) Reinitialize(*unit.Unit) (*unit.Unit, error) { return nil, f.err }

func TestUnexpectedErrorAbortsCycle(t *testing.T) {
	h := newHarness(t)
	h.load("greeter", greeter("v1"))
	h.cycle()

	boom := errors.New("disk on fire")
	enum := heap.NewEnumerator(h.pop, nil)
	orch := New(tracker.New(h.fs, h.loader, nil), failingLoader{boom}, h.registry, enum, nil)
	orch.tracker.ChangedUnits() // first observation

	h.write("greeter", greeter("v2"))
	report, err := orch.RunCycle(context.Background())

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"greeter"}, report.Changed)
	assert.Empty(t, report.Reloaded)
}

func TestReadErrorAbortsCycle(t *testing.T) {
	h := newHarness(t)
	h.load("greeter", greeter("v1"))
	h.cycle()

	h.write("greeter", greeter("v2"))
	h.orch.loader = unreadableLoader{h.loader, h.fs}

	report, err := h.orch.RunCycle(context.Background())

	require.Error(t, err)
	assert.False(t, errors.IsRecoverable(err))
	assert.Contains(t, err.Error(), "reinitialize unit greeter")
	assert.Equal(t, []string{"greeter"}, report.Changed)
	assert.Empty(t, report.Failed)
}

// unreadableLoader removes the unit's file right before reinitializing it.
type unreadableLoader struct {
	*unit.Loader
	fs afero.Fs
}

func (l unreadableLoader) Reinitialize(u *unit.Unit) (*unit.Unit, error) {
	if err := l.fs.Remove(u.Path()); err != nil {
		return nil, err
	}
	return l.Loader.Reinitialize(u)
}

func TestCancelledContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.orch.RunCycle(ctx)

	assert.ErrorIs(t, err, context.Canceled)
}

func newPruningHarness(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t)
	h.orch = New(tracker.New(h.fs, h.loader, nil), h.loader, h.registry,
		heap.NewEnumerator(h.pop, nil, heap.RootFunc(h.loader.Roots)), h.bus,
		WithPruning(h.pop), WithCycleIDs(func() string { return "cycle-1" }))
	return h
}

func TestPruningDropsCollectedVersions(t *testing.T) {
	h := newPruningHarness(t)

	h.load("greeter", greeter("v1"))
	c := h.construct("greeter", "Greeter", starlark.String("amy"))
	h.cycle()

	h.write("greeter", greeter("v2"))
	h.cycle()
	h.write("greeter", greeter("v3"))
	report := h.cycle()

	assert.Equal(t, "cycle-1", report.CycleID)
	assert.Zero(t, report.Pruned, "v2 is only retired until it is collected")

	require.Eventually(t, func() bool {
		runtime.GC()
		return len(h.registry.Versions("greeter.Greeter")) == 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, h.registry.Prune(h.pop.CountByClass()))

	versions := h.registry.Versions("greeter.Greeter")
	require.Len(t, versions, 2)
	assert.Same(t, c.Class(), versions[0].Class)
	assert.Equal(t, "v3 amy", greet(t, c))
}

func TestPruningKeepsClassesReachableFromOtherUnits(t *testing.T) {
	h := newPruningHarness(t)

	h.load("shapes", greeter("v1"))
	scene := h.load("scene", `
load("shapes.star", "Greeter")

def make():
    return Greeter("x")
`)
	h.cycle()

	h.write("shapes", greeter("v2"))
	h.cycle()

	// scene still builds instances of the first version through its load
	// binding, although that version had no instances when it was retired.
	v, err := h.loader.Call(context.Background(), scene, "make")
	require.NoError(t, err)
	inst := v.(*object.Instance)
	assert.Equal(t, "v1 x", greet(t, inst))

	runtime.GC()
	h.write("shapes", greeter("v3"))
	report := h.cycle()

	assert.Equal(t, 1, report.Patched["shapes.Greeter"])
	assert.Equal(t, "v3 x", greet(t, inst))
}

func TestReportHelpers(t *testing.T) {
	r := Report{Changed: []string{"a"}, Patched: map[string]int{"a.C": 2, "a.D": 3}}

	assert.False(t, r.Empty())
	assert.Equal(t, 5, r.PatchedInstances())
	assert.True(t, Report{}.Empty())
}
