// Package orchestrator drives AI generation across timeline clusters in
// controlled batches, routing every call through the response cache and
// tagging it with a usage session.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sahanasridhar/medtimeline/internal/cache"
	"github.com/sahanasridhar/medtimeline/internal/state"
	"github.com/sahanasridhar/medtimeline/internal/timeline"
	"github.com/sahanasridhar/medtimeline/internal/usage"
	"github.com/sahanasridhar/medtimeline/pkg/models"
)

const (
	DefaultBatchSize   = 5
	DefaultCallTimeout = 30 * time.Second

	// How long mirrored cluster state stays visible in Redis.
	stateTTL = 30 * time.Minute

	eventBuffer = 64
)

// ErrUnknownCluster is returned by explicit generation for a date key that is
// not part of the loaded timeline.
var ErrUnknownCluster = errors.New("unknown cluster")

// ErrGenerationInFlight is returned by explicit generation when the cluster
// is already being generated elsewhere.
var ErrGenerationInFlight = errors.New("generation already in flight")

// Fetcher produces the record snapshot the timeline is built from.
type Fetcher interface {
	FetchAll(ctx context.Context) (map[string]models.SourceRecord, error)
}

// ResultStore persists generation results for reporting. Persistence is best
// effort from the orchestrator's point of view.
type ResultStore interface {
	UpsertGenerationResult(ctx context.Context, rec *models.GenerationRecord) error
}

// Options configures an Orchestrator.
type Options struct {
	// Model passed to the provider on every call.
	Model string
	// BatchSize is the number of clusters generated concurrently per batch.
	// Zero means DefaultBatchSize.
	BatchSize int
	// CallTimeout is the hard deadline per generation call. Zero means
	// DefaultCallTimeout.
	CallTimeout time.Duration
	// States, when non-nil, receives best-effort cluster state mirrors.
	States state.Store
	// Results, when non-nil, receives completed generation results.
	Results ResultStore
}

type clusterItem struct {
	cluster models.RecordCluster
	state   models.ClusterState
	result  *models.GenerationResult
}

// Orchestrator owns the loaded timeline and its generation lifecycle.
type Orchestrator struct {
	fetcher  Fetcher
	provider models.GenProvider
	cache    cache.Cache
	tracker  *usage.Tracker
	opts     Options

	mu        sync.Mutex
	clusters  []*clusterItem
	nextBatch int
	lastErrs  map[string]error

	// batchMu serializes batches: a new batch may not start until the
	// previous one has fully finished.
	batchMu sync.Mutex
	wg      sync.WaitGroup

	loadMu     sync.Mutex
	loadCtx    context.Context
	loadCancel context.CancelFunc

	events chan models.ClusterEvent
}

// New creates an Orchestrator. fetcher, provider, cache, and tracker are
// required; Options.States and Options.Results are optional collaborators.
func New(fetcher Fetcher, provider models.GenProvider, respCache cache.Cache, tracker *usage.Tracker, opts Options) *Orchestrator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	return &Orchestrator{
		fetcher:  fetcher,
		provider: provider,
		cache:    respCache,
		tracker:  tracker,
		opts:     opts,
		lastErrs: make(map[string]error),
		events:   make(chan models.ClusterEvent, eventBuffer),
	}
}

// Events returns the cluster state change stream. Events are dropped, not
// blocked on, when the subscriber falls behind.
func (o *Orchestrator) Events() <-chan models.ClusterEvent {
	return o.events
}

// Load acquires a fresh record snapshot, rebuilds the timeline, and
// dispatches the first generation batch in the background. Acquisition
// failure is fatal and surfaced; generation failures inside the batch are
// not.
func (o *Orchestrator) Load(ctx context.Context) ([]models.ClusterSnapshot, error) {
	o.tracker.StartSession(ctx)

	records, err := o.fetcher.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire records: %w", err)
	}

	clusters := timeline.Cluster(flatten(records))

	items := make([]*clusterItem, 0, len(clusters))
	for _, c := range clusters {
		items = append(items, &clusterItem{cluster: c, state: models.ClusterPending})
	}

	// Cancel any batch still running against the previous timeline.
	o.loadMu.Lock()
	if o.loadCancel != nil {
		o.loadCancel()
	}
	loadCtx, cancel := context.WithCancel(context.Background())
	o.loadCtx = loadCtx
	o.loadCancel = cancel
	o.loadMu.Unlock()

	o.mu.Lock()
	o.clusters = items
	o.nextBatch = 0
	o.lastErrs = make(map[string]error)
	o.mu.Unlock()

	o.dispatchNextBatch(loadCtx)
	return o.Snapshots(), nil
}

// LoadMore dispatches the next batch in the background. Returns false when
// every cluster has already been dispatched.
func (o *Orchestrator) LoadMore(ctx context.Context) bool {
	o.tracker.StartSession(ctx)

	o.loadMu.Lock()
	loadCtx := o.loadCtx
	o.loadMu.Unlock()
	if loadCtx == nil {
		return false
	}

	return o.dispatchNextBatch(loadCtx)
}

// GenerateCluster runs generation for one cluster synchronously on behalf of
// an explicit user action. Unlike batch generation, failures are surfaced.
// Completed clusters return their existing result without a provider call.
func (o *Orchestrator) GenerateCluster(ctx context.Context, dateKey string) (*models.GenerationResult, error) {
	o.tracker.StartSession(ctx)

	item := o.findCluster(dateKey)
	if item == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCluster, dateKey)
	}

	if proceed, existing := o.beginGeneration(item); !proceed {
		if existing != nil {
			return existing, nil
		}
		return nil, fmt.Errorf("cluster %s: %w", dateKey, ErrGenerationInFlight)
	}

	out := o.generate(ctx, item)
	switch out.kind {
	case outcomeOK:
		o.finishGeneration(item, models.ClusterCompleted, out.result)
		return out.result, nil
	case outcomeCanceled:
		o.finishGeneration(item, models.ClusterPending, nil)
		return nil, out.err
	default:
		o.finishGeneration(item, models.ClusterFailed, nil)
		return nil, out.err
	}
}

// EndSession closes the current usage session. Call when the user action
// that triggered loading is finished.
func (o *Orchestrator) EndSession(ctx context.Context) {
	o.tracker.EndSession(ctx)
}

// Cancel aborts any in-flight background batch. Clusters caught mid-flight
// revert to Pending and stay retryable.
func (o *Orchestrator) Cancel() {
	o.loadMu.Lock()
	defer o.loadMu.Unlock()
	if o.loadCancel != nil {
		o.loadCancel()
	}
}

// Wait blocks until all dispatched background batches have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Snapshots returns a read-only view of every cluster in timeline order.
func (o *Orchestrator) Snapshots() []models.ClusterSnapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]models.ClusterSnapshot, 0, len(o.clusters))
	for _, item := range o.clusters {
		out = append(out, models.ClusterSnapshot{
			DateKey:     item.cluster.DateKey,
			RecordCount: len(item.cluster.Records),
			State:       item.state,
			Result:      item.result,
		})
	}
	return out
}

// LastError returns the most recent background generation error for a
// cluster, for diagnostics only.
func (o *Orchestrator) LastError(dateKey string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErrs[dateKey]
}

// --- batch machinery ---

// dispatchNextBatch claims the next batch slice and runs it in the
// background. Returns false when nothing is left to dispatch.
func (o *Orchestrator) dispatchNextBatch(ctx context.Context) bool {
	o.mu.Lock()
	start := o.nextBatch * o.opts.BatchSize
	if start >= len(o.clusters) {
		o.mu.Unlock()
		return false
	}
	end := start + o.opts.BatchSize
	if end > len(o.clusters) {
		end = len(o.clusters)
	}
	batch := make([]*clusterItem, end-start)
	copy(batch, o.clusters[start:end])
	o.nextBatch++
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.batchMu.Lock()
		defer o.batchMu.Unlock()
		o.runBatch(ctx, batch)
	}()
	return true
}

// runBatch generates every cluster in the batch concurrently and waits for
// all of them. Failures are contained per cluster: a timed-out or failed
// call never cancels its siblings, and background errors are recorded, not
// surfaced.
func (o *Orchestrator) runBatch(ctx context.Context, batch []*clusterItem) {
	var wg sync.WaitGroup
	for _, item := range batch {
		proceed, _ := o.beginGeneration(item)
		if !proceed {
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			out := o.generate(ctx, item)
			switch out.kind {
			case outcomeOK:
				o.finishGeneration(item, models.ClusterCompleted, out.result)
			case outcomeCanceled:
				o.finishGeneration(item, models.ClusterPending, nil)
			default:
				// Retryable: leave the cluster Pending so the next batch or
				// an explicit call can try again.
				slog.Error("background generation failed",
					"date_key", item.cluster.DateKey, "error", out.err)
				o.mu.Lock()
				o.lastErrs[item.cluster.DateKey] = out.err
				o.mu.Unlock()
				o.finishGeneration(item, models.ClusterPending, nil)
			}
		}()
	}
	wg.Wait()
}

// beginGeneration attempts the Pending/Failed -> Generating transition.
// Dispatch is idempotent: clusters that are already generating or already
// have a result are skipped, and the existing result (if any) is returned.
func (o *Orchestrator) beginGeneration(item *clusterItem) (bool, *models.GenerationResult) {
	o.mu.Lock()
	if item.state == models.ClusterGenerating || item.result != nil {
		result := item.result
		o.mu.Unlock()
		return false, result
	}
	item.state = models.ClusterGenerating
	o.mu.Unlock()

	o.publishState(item.cluster.DateKey, models.ClusterGenerating)
	return true, nil
}

func (o *Orchestrator) finishGeneration(item *clusterItem, st models.ClusterState, result *models.GenerationResult) {
	o.mu.Lock()
	item.state = st
	if result != nil {
		// Retries overwrite, they do not append.
		item.result = result
	}
	o.mu.Unlock()

	o.publishState(item.cluster.DateKey, st)
}

func (o *Orchestrator) publishState(dateKey string, st models.ClusterState) {
	select {
	case o.events <- models.ClusterEvent{DateKey: dateKey, State: st}:
	default:
		// Slow subscriber; drop rather than stall generation.
	}

	if o.opts.States != nil {
		if err := o.opts.States.SetClusterState(context.Background(), dateKey, st, stateTTL); err != nil {
			slog.Warn("mirror cluster state", "error", err, "date_key", dateKey)
		}
	}
}

func (o *Orchestrator) findCluster(dateKey string) *clusterItem {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, item := range o.clusters {
		if item.cluster.DateKey == dateKey {
			return item
		}
	}
	return nil
}

// flatten converts the acquisition map into a deterministically ordered
// slice (newest first, ties by ID) so cluster contents do not depend on map
// iteration order.
func flatten(records map[string]models.SourceRecord) []models.SourceRecord {
	out := make([]models.SourceRecord, 0, len(records))
	for _, r := range records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Recency.Equal(out[j].Recency) {
			return out[i].Recency.After(out[j].Recency)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// --- per-call execution ---

type outcomeKind int

const (
	outcomeOK outcomeKind = iota
	// outcomeRetryable leaves the cluster retryable; the batch runner logs
	// and moves on, the explicit path surfaces the error.
	outcomeRetryable
	// outcomeCanceled means the enclosing action was cancelled; the cluster
	// reverts to Pending without being counted as failed.
	outcomeCanceled
)

type callOutcome struct {
	kind   outcomeKind
	result *models.GenerationResult
	err    error
}

func okOutcome(r *models.GenerationResult) callOutcome {
	return callOutcome{kind: outcomeOK, result: r}
}

func retryable(err error) callOutcome {
	return callOutcome{kind: outcomeRetryable, err: err}
}

// generate executes one generation call through the cache. The caller owns
// the state transition for the returned outcome.
func (o *Orchestrator) generate(ctx context.Context, item *clusterItem) callOutcome {
	dateKey := item.cluster.DateKey
	prompt := buildPrompt(item.cluster)
	key := cache.Fingerprint(prompt, o.opts.Model, true)

	cached, hit, err := o.cache.Get(ctx, key)
	if err != nil {
		// Cache trouble must never block generation; treat as a miss.
		slog.Warn("cache read failed", "error", err, "date_key", dateKey)
		hit = false
	}
	if hit {
		// Zero-cost path, still visible in usage accounting.
		o.tracker.Record(ctx, models.CallUsage{
			DateKey: dateKey,
			Kind:    models.CallKindCached,
			Model:   o.opts.Model,
		})
		result, err := parseResult(cached, item.cluster)
		if err != nil {
			return retryable(fmt.Errorf("cluster %s: %w", dateKey, err))
		}
		return okOutcome(result)
	}

	callCtx, cancel := context.WithTimeout(ctx, o.opts.CallTimeout)
	defer cancel()

	resp, err := o.provider.Generate(callCtx, models.GenRequest{
		Prompt: prompt,
		Model:  o.opts.Model,
		Schema: resultSchema,
	})
	if err != nil {
		if ctx.Err() != nil {
			return callOutcome{kind: outcomeCanceled, err: ctx.Err()}
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, models.ErrGenerationTimeout) {
			timeoutErr := fmt.Errorf("cluster %s: %w", dateKey, models.ErrGenerationTimeout)
			slog.Error("generation call timed out", "date_key", dateKey, "timeout", o.opts.CallTimeout)
			return retryable(timeoutErr)
		}
		return retryable(fmt.Errorf("cluster %s: generate: %w", dateKey, err))
	}

	// Write-through before validation: a parse failure must not poison the
	// cache for future clients with fixed parsing.
	if err := o.cache.Put(ctx, key, o.opts.Model, resp.Text); err != nil {
		slog.Warn("cache write failed", "error", err, "date_key", dateKey)
	}

	o.tracker.Record(ctx, models.CallUsage{
		DateKey:      dateKey,
		Kind:         models.CallKindLive,
		Model:        o.opts.Model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	})

	result, err := parseResult(resp.Text, item.cluster)
	if err != nil {
		return retryable(fmt.Errorf("cluster %s: %w", dateKey, err))
	}

	if o.opts.Results != nil {
		rec := &models.GenerationRecord{
			DateKey:  dateKey,
			Provider: o.provider.Name(),
			Model:    o.opts.Model,
			Result:   *result,
		}
		if err := o.opts.Results.UpsertGenerationResult(ctx, rec); err != nil {
			slog.Warn("persist generation result", "error", err, "date_key", dateKey)
		}
	}

	return okOutcome(result)
}
