package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"go.starlark.net/starlark"
	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/livepatch/internal/config"
	"github.com/Iron-Ham/livepatch/internal/errors"
	"github.com/Iron-Ham/livepatch/internal/event"
	"github.com/Iron-Ham/livepatch/internal/heap"
	"github.com/Iron-Ham/livepatch/internal/logging"
	"github.com/Iron-Ham/livepatch/internal/metrics"
	"github.com/Iron-Ham/livepatch/internal/registry"
	"github.com/Iron-Ham/livepatch/internal/reload"
	"github.com/Iron-Ham/livepatch/internal/scheduler"
	"github.com/Iron-Ham/livepatch/internal/tracker"
	"github.com/Iron-Ham/livepatch/internal/unit"
)

// EntryPoint is the unit global `livepatch run` calls once after loading.
const EntryPoint = "main"

const shutdownTimeout = 5 * time.Second

// engine wires the reload components together for one `livepatch run`.
type engine struct {
	cfg    *config.Config
	logger *logging.Logger

	bus        *event.Bus
	population *heap.Population
	hostRoots  *heap.HostRoots
	loader     *unit.Loader
	registry   *registry.Registry
	tracker    *tracker.Tracker
	reloader   *reload.Orchestrator
	scheduler  *scheduler.Scheduler
	metrics    *metrics.Metrics
	gatherer   *prometheus.Registry
}

func newEngine(fsys afero.Fs, cfg *config.Config, logger *logging.Logger) *engine {
	if logger == nil {
		logger = logging.NopLogger()
	}

	e := &engine{
		cfg:        cfg,
		logger:     logger,
		bus:        event.NewBus(logger),
		population: heap.NewPopulation(),
		hostRoots:  &heap.HostRoots{},
		registry:   registry.New(logger),
		gatherer:   prometheus.NewRegistry(),
	}
	e.loader = unit.NewLoader(fsys, e.population, logger)
	e.tracker = tracker.New(fsys, e.loader, logger)

	enumerator := heap.NewEnumerator(e.population, logger, e.loader, e.hostRoots)
	opts := []reload.Option{reload.WithLogger(logger)}
	if cfg.Reload.PruneVersions {
		opts = append(opts, reload.WithPruning(e.population))
	}
	e.reloader = reload.New(e.tracker, e.loader, e.registry, enumerator, e.bus, opts...)

	e.scheduler = scheduler.New(e.reloader, cfg.Reload.Interval(),
		scheduler.WithLogger(logger),
		scheduler.WithBus(e.bus),
		scheduler.WithDebounce(cfg.Reload.Debounce()),
		scheduler.WithPattern(cfg.Units.Pattern))

	e.gatherer.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	e.metrics = metrics.New(e.gatherer, metrics.Gauges{
		RegistryVersions: e.registry.Len,
		LiveInstances:    e.population.Len,
	})
	e.metrics.Attach(e.bus)

	return e
}

// load loads every unit under dirs, records the classes they declare and
// takes the first modification time snapshot, so that only later edits
// count as changes.
func (e *engine) load(dirs []string) ([]*unit.Unit, error) {
	for _, dir := range dirs {
		if _, err := e.loader.LoadDir(dir, e.cfg.Units.Pattern); err != nil {
			return nil, fmt.Errorf("load units from %s: %w", dir, err)
		}
	}

	units := e.loader.Units()
	for _, u := range units {
		e.registry.Observe(u)
	}
	e.tracker.ChangedUnits()
	return units, nil
}

// start calls the entry point of every unit that defines one, in load
// order. Non-None results are held as host roots so that the objects they
// reach stay alive and get patched.
func (e *engine) start(ctx context.Context) error {
	for _, u := range e.loader.Units() {
		if _, ok := u.Global(EntryPoint); !ok {
			continue
		}
		result, err := e.loader.Call(ctx, u, EntryPoint)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", u.Name(), EntryPoint, err)
		}
		if result != starlark.None {
			e.hostRoots.Hold(result)
		}
		e.logger.Info("unit started", "unit", u.Name(), "result", result.Type())
	}
	return nil
}

// run runs the scheduler, and the metrics server when enabled, until ctx is
// cancelled or one of them fails.
func (e *engine) run(ctx context.Context, dirs []string) error {
	if e.cfg.Reload.Watch {
		if err := e.scheduler.Watch(dirs...); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.scheduler.Run(gctx)
	})

	if e.cfg.Metrics.Enabled {
		srv := &http.Server{
			Addr:              e.cfg.Metrics.Addr,
			Handler:           e.handler(),
			ReadHeaderTimeout: shutdownTimeout,
		}
		g.Go(func() error {
			e.logger.Info("serving metrics", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "metrics server")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func (e *engine) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.gatherer, promhttp.HandlerOpts{}))
	return mux
}

func (e *engine) close() {
	e.metrics.Detach()
	e.logger.Debug("closing engine", "subscriptions", e.bus.SubscriptionCount())
	e.bus.Clear()
	e.hostRoots.Release()
}
