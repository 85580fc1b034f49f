// Package orchestrator runs the configured technology groups in order, fans
// each group's dealers out under a concurrency ceiling and folds the results
// into a RunReport.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/WessleyAI/wessley-listings/engine/browser"
	"github.com/WessleyAI/wessley-listings/engine/domain"
	"github.com/WessleyAI/wessley-listings/engine/profile"
	"github.com/WessleyAI/wessley-listings/engine/sink"
	"github.com/WessleyAI/wessley-listings/engine/strategy"
	"github.com/WessleyAI/wessley-listings/pkg/metrics"
	"github.com/WessleyAI/wessley-listings/pkg/resilience"
)

// State is the orchestrator's position in a run.
type State string

const (
	StateIdle           State = "idle"
	StateRunningGroup   State = "running-group"
	StateAggregating    State = "aggregating"
	StateDone           State = "done"
	StateFatallyAborted State = "fatally-aborted"
)

// DefaultSinkTimeout bounds persistence after a run.
const DefaultSinkTimeout = 2 * time.Minute

var tracer = otel.Tracer("engine/orchestrator")

// errDealerFailed feeds a failed dealer result to the breaker.
var errDealerFailed = errors.New("dealer failed")

// Deps holds the collaborators of a run.
type Deps struct {
	Registry *profile.Registry
	Launcher browser.Launcher
	// Sink is optional. Its failure is logged, never returned.
	Sink sink.Sink
	// Metrics is optional.
	Metrics *metrics.Registry
	Logger  *slog.Logger
	// Env tunes the strategies; the zero value means strategy.DefaultEnv.
	Env strategy.Env
	// Classify fingerprints dealers whose profile is generic or unverified
	// and lets the result pick the strategy.
	Classify    bool
	SinkTimeout time.Duration
}

// Orchestrator executes runs. Runs on one Orchestrator are serialized.
type Orchestrator struct {
	deps Deps
	opts domain.RunOptions
	log  *slog.Logger
	obs  *observer

	runMu sync.Mutex
	mu    sync.Mutex
	state State
	group domain.TechGroup

	now func() time.Time
	// beforeGroup runs outside group isolation; tests use it to fail the loop.
	beforeGroup func(domain.GroupConfig)
}

// New creates an orchestrator. Zero options take DefaultRunOptions values.
func New(deps Deps, opts domain.RunOptions) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Registry == nil {
		deps.Registry = profile.NewRegistry()
	}
	if deps.Env.Logger == nil {
		deps.Env.Logger = deps.Logger
	}
	if deps.SinkTimeout <= 0 {
		deps.SinkTimeout = DefaultSinkTimeout
	}
	def := domain.DefaultRunOptions()
	if opts.Concurrency <= 0 {
		opts.Concurrency = def.Concurrency
	}
	if opts.DealerTimeout <= 0 {
		opts.DealerTimeout = def.DealerTimeout
	}
	if opts.DealerDelay < 0 {
		opts.DealerDelay = 0
	}
	if opts.GroupDelay < 0 {
		opts.GroupDelay = 0
	}
	return &Orchestrator{
		deps:  deps,
		opts:  opts,
		log:   deps.Logger,
		obs:   newObserver(deps.Metrics),
		state: StateIdle,
		now:   time.Now,
	}
}

// State returns the current state and, while running, the active group.
func (o *Orchestrator) State() (State, domain.TechGroup) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state, o.group
}

func (o *Orchestrator) transition(s State, g domain.TechGroup) {
	o.mu.Lock()
	o.state, o.group = s, g
	o.mu.Unlock()
	o.log.Debug("orchestrator state", "state", s, "group", g)
}

// run collects what a single Run produces.
type run struct {
	mu        sync.Mutex
	id        string
	started   time.Time
	groups    []domain.GroupResults
	errors    []domain.RunError
	cancelled bool
}

func (r *run) addError(e domain.RunError) {
	r.mu.Lock()
	r.errors = append(r.errors, e)
	r.mu.Unlock()
}

// Run executes every enabled group in configured order and returns the
// report. It never panics and never returns an error: failures are
// recorded in Summary.Errors. Cancelling ctx stops dispatch between dealers
// and between groups; dealers already running finish under their own
// timeout.
func (o *Orchestrator) Run(ctx context.Context, groups []domain.GroupConfig) domain.RunReport {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	r := &run{id: uuid.NewString(), started: o.now()}
	ctx, span := tracer.Start(ctx, "orchestrator.run", trace.WithAttributes(attribute.String("run.id", r.id)))
	defer span.End()
	log := o.log.With("run", r.id)
	log.Info("run started", "groups", len(groups))

	final := StateDone
	if !o.runGroups(ctx, r, groups, log) {
		final = StateFatallyAborted
		span.SetStatus(codes.Error, "fatally aborted")
	}

	o.transition(StateAggregating, "")
	report := o.aggregate(r, final)
	o.persist(ctx, report, log)
	o.obs.run(report.Summary)

	o.transition(final, "")
	log.Info("run finished",
		"state", final,
		"dealers", report.Summary.TotalDealers,
		"succeeded", report.Summary.Succeeded,
		"failed", report.Summary.Failed,
		"records", report.Summary.TotalRecords,
		"errors", len(report.Summary.Errors),
		"cancelled", report.Summary.Cancelled,
		"duration", report.Summary.Duration)
	o.transition(StateIdle, "")
	return report
}

// runGroups is the orchestration loop. It reports false when the loop itself
// panicked.
func (o *Orchestrator) runGroups(ctx context.Context, r *run, groups []domain.GroupConfig, log *slog.Logger) (ok bool) {
	defer func() {
		if v := recover(); v != nil {
			log.Error("orchestration loop panicked", "panic", v)
			r.addError(domain.RunError{Scope: domain.ScopeFatal, Message: (&domain.PanicError{Value: v}).Error(), At: o.now()})
			ok = false
		}
	}()

	executed := 0
	for _, gc := range groups {
		if !gc.Enabled {
			log.Info("group disabled, skipping", "group", gc.Group)
			continue
		}
		if ctx.Err() != nil {
			r.cancelled = true
			break
		}
		if executed > 0 && o.opts.GroupDelay > 0 {
			if browser.Sleep(ctx, o.opts.GroupDelay) != nil {
				r.cancelled = true
				break
			}
		}
		if o.beforeGroup != nil {
			o.beforeGroup(gc)
		}
		executed++
		o.transition(StateRunningGroup, gc.Group)
		results := o.runGroup(ctx, r, gc, log.With("group", gc.Group))
		r.mu.Lock()
		r.groups = append(r.groups, domain.GroupResults{Group: gc.Group, Results: results})
		r.mu.Unlock()
	}
	if ctx.Err() != nil {
		r.cancelled = true
	}
	return true
}

// runGroup runs one group's dealers. A panic outside the dealer wrappers, an
// unknown group or an opened circuit is recorded as a group error; results
// already completed are kept.
func (o *Orchestrator) runGroup(ctx context.Context, r *run, gc domain.GroupConfig, log *slog.Logger) (results []domain.DealerResult) {
	ctx, span := tracer.Start(ctx, "orchestrator.group", trace.WithAttributes(
		attribute.String("group", string(gc.Group)),
		attribute.Int("dealers", len(gc.Dealers)),
	))
	defer span.End()

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	groupErr := func(err error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("group failed", "err", err)
		r.addError(domain.RunError{Scope: domain.ScopeGroup, Group: gc.Group, Message: err.Error(), At: o.now()})
	}
	var collected []domain.DealerResult
	defer func() {
		if v := recover(); v != nil {
			groupErr(fmt.Errorf("%w: %w", domain.ErrGroupFailed, &domain.PanicError{Value: v}))
		}
	}()
	defer func() {
		wg.Wait()
		results = collected
	}()

	if !gc.Group.Valid() {
		groupErr(fmt.Errorf("%w: %w: %q", domain.ErrGroupFailed, domain.ErrUnknownGroup, gc.Group))
		return nil
	}

	concurrency := gc.Concurrency
	if concurrency <= 0 {
		concurrency = o.opts.Concurrency
	}
	limit := rate.Inf
	if o.opts.DealerDelay > 0 {
		limit = rate.Every(o.opts.DealerDelay)
	}
	pacer := rate.NewLimiter(limit, 1)

	var breaker *resilience.Breaker
	if o.opts.BreakerThreshold > 0 {
		breaker = resilience.NewBreaker(resilience.BreakerOpts{
			FailThreshold: o.opts.BreakerThreshold,
			OnStateChange: func(_, to resilience.State) {
				if to == resilience.StateOpen {
					groupErr(fmt.Errorf("%w: %w after %d consecutive dealer failures",
						domain.ErrGroupFailed, domain.ErrCircuitOpen, o.opts.BreakerThreshold))
				}
			},
		})
	}

	sem := make(chan struct{}, concurrency)
	log.Info("group started", "dealers", len(gc.Dealers), "concurrency", concurrency)
	for _, d := range gc.Dealers {
		if !o.acquire(ctx, pacer, sem) {
			r.cancelled = true
			log.Info("run cancelled, no further dealers dispatched")
			break
		}
		wg.Add(1)
		go func(d domain.Dealer) {
			defer wg.Done()
			defer func() { <-sem }()
			res := o.guardedDealer(ctx, gc.Group, d, breaker, log)
			for _, msg := range res.Errors {
				r.addError(domain.RunError{Scope: domain.ScopeDealer, Group: gc.Group, Dealer: d.Name, Message: msg, At: o.now()})
			}
			o.obs.dealer(res)
			mu.Lock()
			collected = append(collected, res)
			mu.Unlock()
		}(d)
	}
	return nil
}

// acquire waits for the pacing interval and a concurrency slot. It reports
// false once ctx is done.
func (o *Orchestrator) acquire(ctx context.Context, pacer *rate.Limiter, sem chan struct{}) bool {
	if ctx.Err() != nil || pacer.Wait(ctx) != nil {
		return false
	}
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return false
	}
	if ctx.Err() != nil {
		<-sem
		return false
	}
	return true
}

// guardedDealer runs a dealer through the group's breaker, when one is set.
func (o *Orchestrator) guardedDealer(ctx context.Context, g domain.TechGroup, d domain.Dealer, breaker *resilience.Breaker, log *slog.Logger) domain.DealerResult {
	if breaker == nil {
		return o.scrapeDealer(ctx, g, d, log)
	}
	var res domain.DealerResult
	err := breaker.Call(ctx, func(ctx context.Context) error {
		res = o.scrapeDealer(ctx, g, d, log)
		if res.Failed() {
			return errDealerFailed
		}
		return nil
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		res = o.newResult(g, d)
		res.Errors = []string{domain.NewDealerError(d.Name, g, domain.ErrCircuitOpen).Error()}
		log.Warn("dealer skipped, circuit open", "dealer", d.Name)
	}
	return res
}

// aggregate builds the summary. Group summaries follow execution order,
// which is configured order.
func (o *Orchestrator) aggregate(r *run, final State) domain.RunReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	finished := o.now()
	s := domain.RunSummary{
		RunID:      r.id,
		StartedAt:  r.started,
		FinishedAt: finished,
		Duration:   finished.Sub(r.started),
		Errors:     append([]domain.RunError{}, r.errors...),
		State:      string(final),
		Cancelled:  r.cancelled,
	}
	for _, gr := range r.groups {
		gs := domain.SummarizeGroup(gr.Group, gr.Results)
		s.GroupSummaries = append(s.GroupSummaries, gs)
		s.TotalDealers += gs.Attempted
		s.Succeeded += gs.Succeeded
		s.Failed += gs.Failed
		s.TotalRecords += gs.TotalRecords
	}
	if s.GroupSummaries == nil {
		s.GroupSummaries = domain.GroupSummaries{}
	}
	return domain.RunReport{Summary: s, Groups: append([]domain.GroupResults(nil), r.groups...)}
}

// persist hands the report to the sink on a context detached from run
// cancellation.
func (o *Orchestrator) persist(ctx context.Context, report domain.RunReport, log *slog.Logger) {
	if o.deps.Sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.deps.SinkTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "orchestrator.persist")
	defer span.End()
	defer func() {
		if v := recover(); v != nil {
			log.Error("sink panicked", "panic", v)
		}
	}()
	if err := o.deps.Sink.Persist(ctx, report, report.Records()); err != nil {
		span.RecordError(err)
		log.Error("persisting run failed", "err", err)
		return
	}
	log.Info("run persisted", "records", report.Summary.TotalRecords)
}
