package scraper

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/planwatch/planwatch/internal/metrics"
	"github.com/planwatch/planwatch/internal/policy/ratelimit"
	"github.com/planwatch/planwatch/internal/status"
)

// VariantFactory builds the portal variant for a borough. Injected so tests
// can substitute fakes without a live portal.
type VariantFactory func(borough BoroughConfig) (PortalVariant, error)

// OrchestratorConfig assembles an Orchestrator.
type OrchestratorConfig struct {
	Boroughs    []BoroughConfig
	Keywords    []string
	MaxParallel int
	Factory     VariantFactory
	Store       Store
	Pacer       *ratelimit.Limiter
	Hub         *status.Hub
	Logger      *zap.Logger
}

// Orchestrator fans borough scrapes out over a bounded worker pool. At most
// one run is in flight at a time; a second ScrapeAll while running is
// rejected rather than queued.
type Orchestrator struct {
	boroughs    []BoroughConfig
	keywords    []string
	maxParallel int
	factory     VariantFactory
	store       Store
	pacer       *ratelimit.Limiter
	registry    *status.Registry
	logger      *zap.Logger

	mu      sync.Mutex
	running bool
	stop    atomic.Bool
}

// ErrAlreadyRunning is returned when a scrape is requested mid-run.
var ErrAlreadyRunning = fmt.Errorf("scraper: run already in progress")

// ErrUnknownBorough is returned when a named borough is not configured.
var ErrUnknownBorough = fmt.Errorf("scraper: unknown borough")

// NewOrchestrator wires the borough fan-out.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxParallel := cfg.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 3
	}
	names := make([]string, len(cfg.Boroughs))
	for i, b := range cfg.Boroughs {
		names[i] = b.Name
	}
	return &Orchestrator{
		boroughs:    cfg.Boroughs,
		keywords:    cfg.Keywords,
		maxParallel: maxParallel,
		factory:     cfg.Factory,
		store:       cfg.Store,
		pacer:       cfg.Pacer,
		registry:    status.NewRegistry(names, cfg.Hub),
		logger:      logger,
	}
}

// ScrapeAll runs every configured borough over the worker pool and returns
// one Result per borough, in configuration order.
func (o *Orchestrator) ScrapeAll(ctx context.Context) ([]Result, error) {
	if err := o.begin(); err != nil {
		return nil, err
	}
	defer o.end()
	return o.scrapeAll(ctx), nil
}

// StartAll reserves the run before returning, so a non-nil error is
// authoritative: two concurrent starts cannot both succeed. The scrape itself
// proceeds in the background and is reported through logs and the registry.
func (o *Orchestrator) StartAll(ctx context.Context) error {
	if err := o.begin(); err != nil {
		return err
	}
	go func() {
		defer o.end()
		o.reportRun(o.scrapeAll(ctx))
	}()
	return nil
}

// ScrapeOne runs a single borough by name.
func (o *Orchestrator) ScrapeOne(ctx context.Context, name string) (Result, error) {
	borough, ok := o.findBorough(name)
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownBorough, name)
	}
	if err := o.begin(); err != nil {
		return Result{}, err
	}
	defer o.end()
	return o.runBorough(ctx, borough), nil
}

// StartOne is StartAll's single-borough counterpart.
func (o *Orchestrator) StartOne(ctx context.Context, name string) error {
	borough, ok := o.findBorough(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownBorough, name)
	}
	if err := o.begin(); err != nil {
		return err
	}
	go func() {
		defer o.end()
		o.reportRun([]Result{o.runBorough(ctx, borough)})
	}()
	return nil
}

// scrapeAll fans the boroughs out over the pool. The caller holds the run
// gate.
func (o *Orchestrator) scrapeAll(ctx context.Context) []Result {
	o.logger.Info("starting scrape run",
		zap.Int("boroughs", len(o.boroughs)),
		zap.Int("max_parallel", o.maxParallel),
	)

	results := make([]Result, len(o.boroughs))
	sem := make(chan struct{}, o.maxParallel)
	var wg sync.WaitGroup
	for i, borough := range o.boroughs {
		wg.Add(1)
		go func(i int, borough BoroughConfig) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = o.runBorough(ctx, borough)
		}(i, borough)
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) reportRun(results []Result) {
	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
			continue
		}
		o.logger.Warn("borough scrape failed",
			zap.String("borough", r.Borough),
			zap.String("error", r.Error),
		)
	}
	o.logger.Info("scrape run finished",
		zap.Int("succeeded", succeeded),
		zap.Int("failed", len(results)-succeeded),
	)
}

// runBorough builds the borough's variant and scraper and runs it to
// completion. A panic anywhere below is converted into a failed Result so
// one misbehaving portal cannot take down the run.
func (o *Orchestrator) runBorough(ctx context.Context, borough BoroughConfig) (result Result) {
	start := time.Now()
	result.Borough = borough.Name

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("borough scrape panicked",
				zap.String("borough", borough.Name),
				zap.Any("panic", r),
			)
			result.Success = false
			result.Error = fmt.Sprintf("panic: %v", r)
			result.Duration = time.Since(start)
			o.registry.Update(borough.Name, func(st *status.BoroughStatus) {
				st.State = status.StateError
				st.LastError = result.Error
			})
		}
	}()

	variant, err := o.factory(borough)
	if err != nil {
		result.Error = fmt.Sprintf("build portal variant: %v", err)
		result.Duration = time.Since(start)
		o.registry.Update(borough.Name, func(st *status.BoroughStatus) {
			st.State = status.StateError
			st.LastError = result.Error
		})
		return result
	}
	defer variant.Shutdown()

	worker := NewBoroughScraper(BoroughScraperConfig{
		Borough:  borough,
		Keywords: o.keywords,
		Variant:  variant,
		Store:    o.store,
		Registry: o.registry,
		Pacer:    o.pacer,
		Logger:   o.logger,
		Stopped:  o.stop.Load,
	})

	session, err := worker.Scrape(ctx)
	result.Session = session
	result.Duration = time.Since(start)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = true
	return result
}

// Stop requests a graceful halt of the in-flight run. Workers finish their
// current exchange and abort; no-op when idle.
func (o *Orchestrator) Stop() {
	o.stop.Store(true)
}

// Running reports whether a scrape run is in flight.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// StatusSnapshot is the poll answer for run progress.
type StatusSnapshot struct {
	Running       bool                            `json:"running"`
	Boroughs      map[string]status.BoroughStatus `json:"boroughs"`
	Active        int                             `json:"active"`
	Completed     int                             `json:"completed"`
	Errored       int                             `json:"errored"`
	Total         int                             `json:"total"`
	CompletionPct float64                         `json:"completion_pct"`
}

// Status returns a point-in-time view of every borough's progress.
func (o *Orchestrator) Status() StatusSnapshot {
	snapshot := StatusSnapshot{
		Running:  o.Running(),
		Boroughs: o.registry.Snapshot(),
	}
	snapshot.Total = len(snapshot.Boroughs)
	for _, st := range snapshot.Boroughs {
		switch st.State {
		case status.StateRunning:
			snapshot.Active++
		case status.StateCompleted:
			snapshot.Completed++
		case status.StateError:
			snapshot.Errored++
		}
	}
	if snapshot.Total > 0 {
		snapshot.CompletionPct = float64(snapshot.Completed+snapshot.Errored) / float64(snapshot.Total) * 100
	}
	return snapshot
}

func (o *Orchestrator) begin() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrAlreadyRunning
	}
	o.running = true
	o.stop.Store(false)
	return nil
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
}

func (o *Orchestrator) findBorough(name string) (BoroughConfig, bool) {
	for _, b := range o.boroughs {
		if b.Name == name {
			return b, true
		}
	}
	return BoroughConfig{}, false
}
