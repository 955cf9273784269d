package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/livepatch/internal/event"
)

func TestEventsFeedCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, Gauges{})
	bus := event.NewBus(nil)
	m.Attach(bus)

	bus.Publish(event.NewUnitReloadedEvent("greeter", 2, []string{"greeter.Greeter"}))
	bus.Publish(event.NewUnitReloadedEvent("shapes", 2, nil))
	bus.Publish(event.NewUnitReloadFailedEvent("broken", "broken.star:1:5: got illegal token"))
	bus.Publish(event.NewInstancesPatchedEvent("greeter.Greeter", 3, []string{"greet"}))
	bus.Publish(event.NewInstancesPatchedEvent("greeter.Greeter", 2, []string{"greet"}))
	bus.Publish(event.NewCycleCompletedEvent("c1", 3, 2, 1, 5, 20*time.Millisecond))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycles))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.unitReloads.WithLabelValues(ResultReloaded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.unitReloads.WithLabelValues(ResultFailed)))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.instancesPatched.WithLabelValues("greeter.Greeter")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.cycleDuration))
}

func TestSchedulerGauge(t *testing.T) {
	m := New(prometheus.NewRegistry(), Gauges{})
	bus := event.NewBus(nil)
	m.Attach(bus)

	bus.Publish(event.NewSchedulerStartedEvent(time.Second))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.schedulerUp))

	bus.Publish(event.NewSchedulerStoppedEvent(nil))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.schedulerUp))
}

func TestSampledGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	versions, live := 4, 7
	New(reg, Gauges{
		RegistryVersions: func() int { return versions },
		LiveInstances:    func() int { return live },
	})

	expected := `
# HELP livepatch_heap_live_instances Instances tracked by the heap population
# TYPE livepatch_heap_live_instances gauge
livepatch_heap_live_instances 7
# HELP livepatch_registry_versions Class versions held by the registry
# TYPE livepatch_registry_versions gauge
livepatch_registry_versions 4
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"livepatch_heap_live_instances", "livepatch_registry_versions")
	require.NoError(t, err)

	versions = 1
	assert.Equal(t, 1, testutil.CollectAndCount(reg, "livepatch_registry_versions"))
}

func TestDetach(t *testing.T) {
	m := New(prometheus.NewRegistry(), Gauges{})
	bus := event.NewBus(nil)
	m.Attach(bus)
	require.Equal(t, 6, bus.SubscriptionCount())

	m.Detach()
	assert.Equal(t, 0, bus.SubscriptionCount())

	bus.Publish(event.NewCycleCompletedEvent("c1", 1, 1, 0, 0, time.Millisecond))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.cycles))
}
