package heap

import (
	"cmp"
	"runtime"
	"slices"
	"sync"
	"weak"

	"github.com/Iron-Ham/livepatch/internal/object"
)

// Population is the registry of constructed instances. It holds only weak
// pointers, so it never keeps an instance alive; a collected instance is
// removed by a runtime cleanup.
//
// Population is safe for concurrent use: instances are added from whatever
// goroutine runs unit code, and cleanups run on the runtime's own goroutine.
type Population struct {
	mu      sync.Mutex
	entries map[uint64]weak.Pointer[object.Instance]
}

var _ object.Population = (*Population)(nil)

// NewPopulation creates an empty population.
func NewPopulation() *Population {
	return &Population{entries: make(map[uint64]weak.Pointer[object.Instance])}
}

// Add registers inst.
func (p *Population) Add(inst *object.Instance) {
	id := inst.ID()

	p.mu.Lock()
	if _, ok := p.entries[id]; ok {
		p.mu.Unlock()
		return
	}
	p.entries[id] = weak.Make(inst)
	p.mu.Unlock()

	runtime.AddCleanup(inst, p.remove, id)
}

func (p *Population) remove(id uint64) {
	p.mu.Lock()
	delete(p.entries, id)
	p.mu.Unlock()
}

// Snapshot returns strong references to every instance still alive, ordered
// by identity (construction order).
func (p *Population) Snapshot() []*object.Instance {
	p.mu.Lock()
	live := make([]*object.Instance, 0, len(p.entries))
	for _, wp := range p.entries {
		if inst := wp.Value(); inst != nil {
			live = append(live, inst)
		}
	}
	p.mu.Unlock()

	slices.SortFunc(live, func(a, b *object.Instance) int {
		return cmp.Compare(a.ID(), b.ID())
	})
	return live
}

// Len returns the number of registered instances, including ones that were
// collected but whose cleanup has not run yet.
func (p *Population) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// CountByClass returns the number of live instances per class version.
func (p *Population) CountByClass() map[*object.Class]int {
	counts := make(map[*object.Class]int)
	for _, inst := range p.Snapshot() {
		counts[inst.Class()]++
	}
	return counts
}
