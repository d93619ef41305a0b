// Package coordinator drives a transaction through its lifecycle:
// received, extracting, enriching, aggregating, then completed or failed.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sells-group/diligence-cli/internal/enrich"
	"github.com/sells-group/diligence-cli/internal/extract"
	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/resilience"
	"github.com/sells-group/diligence-cli/internal/risk"
	"github.com/sells-group/diligence-cli/internal/store"
)

// ErrNotReady is returned when a result is requested before the transaction
// reaches a terminal status.
var ErrNotReady = eris.New("coordinator: assessment not ready")

// fallbackScore and fallbackConfidence are reported when the pipeline itself
// faults: the transaction cannot be cleared, and the score says so without
// claiming evidence.
const (
	fallbackScore      = 0.5
	fallbackConfidence = 0.0
)

// DefaultBudget bounds wall-clock processing per transaction.
const DefaultBudget = 120 * time.Second

// storeRetry bounds retries for store writes the pipeline depends on.
var storeRetry = resilience.RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 200 * time.Millisecond,
}

// Options configures a Coordinator.
type Options struct {
	Store     store.Store
	Extractor extract.Extractor
	// Enrich configures the enrichment pool the coordinator builds. Its
	// OnResult hook is owned by the coordinator and must be left unset.
	Enrich enrich.Options
	Policy risk.Policy
	// Budget is the wall-clock bound per transaction.
	Budget time.Duration
	// Retention is how long terminal transactions are kept before cleanup.
	Retention time.Duration
	// MaxConcurrent bounds transactions processed simultaneously; further
	// submissions queue in the received status.
	MaxConcurrent int64
}

// Coordinator owns transaction processing. Submissions return immediately;
// processing runs in the background under a wall-clock budget. Status always
// moves forward and terminal statuses never change.
type Coordinator struct {
	store     store.Store
	extractor extract.Extractor
	pool      *enrich.Pool
	agg       *risk.Aggregator
	budget    time.Duration
	retention time.Duration
	slots     *semaphore.Weighted

	mu      sync.Mutex
	running map[string]*runState
}

// runState is the in-memory view of one in-flight transaction.
type runState struct {
	done chan struct{}

	mu     sync.Mutex
	status model.TransactionStatus
	tasks  map[string]model.TaskStatus
}

// New creates a coordinator and builds its enrichment pool, hooking the
// pool's result stream into the store.
func New(opts Options) *Coordinator {
	budget := opts.Budget
	if budget <= 0 {
		budget = DefaultBudget
	}
	retention := opts.Retention
	if retention <= 0 {
		retention = 15 * time.Minute
	}
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	c := &Coordinator{
		store:     opts.Store,
		extractor: opts.Extractor,
		agg:       risk.NewAggregator(opts.Policy),
		budget:    budget,
		retention: retention,
		slots:     semaphore.NewWeighted(maxConcurrent),
		running:   make(map[string]*runState),
	}
	opts.Enrich.OnResult = c.onSourceResult
	c.pool = enrich.NewPool(opts.Enrich)
	return c
}

// onSourceResult streams every terminal source result into the store and
// the in-memory progress view as it lands.
func (c *Coordinator) onSourceResult(transactionID string, r model.SourceResult) {
	err := resilience.Do(context.Background(), storeRetry, func(ctx context.Context) error {
		return c.store.PutResult(ctx, transactionID, r)
	})
	if err != nil {
		zap.L().Warn("coordinator: persist source result",
			zap.String("transaction_id", transactionID),
			zap.String("entity_key", r.EntityKey),
			zap.String("source", r.Source),
			zap.Error(err))
	}
	c.recordTask(transactionID, r)
}

// Submit records the transaction and starts processing it in the background.
func (c *Coordinator) Submit(ctx context.Context, rawText string) (*model.Transaction, error) {
	if rawText == "" {
		return nil, eris.New("coordinator: empty transaction text")
	}
	txn, err := c.store.CreateTransaction(ctx, rawText)
	if err != nil {
		return nil, err
	}

	state := &runState{
		done:   make(chan struct{}),
		status: model.StatusReceived,
		tasks:  make(map[string]model.TaskStatus),
	}
	c.mu.Lock()
	c.running[txn.ID] = state
	c.mu.Unlock()

	go c.run(txn, state)

	zap.L().Info("coordinator: transaction submitted",
		zap.String("transaction_id", txn.ID),
		zap.Int("text_len", len(rawText)))
	return txn, nil
}

func (c *Coordinator) run(txn *model.Transaction, state *runState) {
	defer close(state.done)

	// Queue for a processing slot before the budget clock starts.
	if err := c.slots.Acquire(context.Background(), 1); err != nil {
		return
	}
	defer c.slots.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), c.budget)
	defer cancel()

	if !c.advance(ctx, txn.ID, state, model.StatusExtracting) {
		return
	}
	extracted, err := c.extractor.Extract(ctx, txn.RawText)
	if err != nil {
		c.fail(txn.ID, state, eris.Wrap(err, "coordinator: extraction"))
		return
	}

	if !c.advance(ctx, txn.ID, state, model.StatusEnriching) {
		return
	}
	outcome := c.pool.Run(ctx, txn.ID, extracted.Seeds())

	// Aggregation and persistence run outside the budget: an expired clock
	// must not discard a finished snapshot.
	persistCtx, persistCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer persistCancel()

	if !c.advance(persistCtx, txn.ID, state, model.StatusAggregating) {
		return
	}
	assessment := c.agg.Assess(outcome.Snapshot)
	if err := c.persist(persistCtx, txn.ID, outcome, assessment); err != nil {
		c.fail(txn.ID, state, eris.Wrap(err, "coordinator: persist"))
		return
	}
	c.advance(persistCtx, txn.ID, state, model.StatusCompleted)
}

// persist writes the entity set, relationship edges and assessment. The
// assessment write retries: it is the one record the caller is waiting on.
func (c *Coordinator) persist(ctx context.Context, transactionID string, outcome *enrich.Outcome, assessment *model.RiskAssessment) error {
	for _, es := range outcome.Snapshot.Entities {
		if err := c.store.PutEntity(ctx, transactionID, es.Entity); err != nil {
			return err
		}
	}
	for _, rel := range outcome.Relationships {
		if err := c.store.PutRelationship(ctx, rel); err != nil {
			return err
		}
	}
	return resilience.Do(ctx, storeRetry, func(ctx context.Context) error {
		return c.store.PutAssessment(ctx, assessment)
	})
}

// advance moves the transaction forward one status. A refused transition
// means the transaction already went terminal; the caller stops.
func (c *Coordinator) advance(ctx context.Context, transactionID string, state *runState, next model.TransactionStatus) bool {
	state.mu.Lock()
	if !state.status.CanAdvanceTo(next) {
		state.mu.Unlock()
		return false
	}
	state.status = next
	state.mu.Unlock()

	err := resilience.Do(ctx, storeRetry, func(ctx context.Context) error {
		return c.store.UpdateTransactionStatus(ctx, transactionID, next)
	})
	if err != nil {
		zap.L().Warn("coordinator: persist status",
			zap.String("transaction_id", transactionID),
			zap.String("status", string(next)),
			zap.Error(err))
	}
	zap.L().Info("coordinator: status advanced",
		zap.String("transaction_id", transactionID),
		zap.String("status", string(next)))
	return true
}

// fail marks the transaction failed and publishes the fallback assessment so
// a result still exists: a pipeline fault must read as "cannot clear", not
// as silence.
func (c *Coordinator) fail(transactionID string, state *runState, cause error) {
	zap.L().Error("coordinator: transaction failed",
		zap.String("transaction_id", transactionID),
		zap.Error(cause))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	fallback := &model.RiskAssessment{
		TransactionID: transactionID,
		Score:         fallbackScore,
		Confidence:    fallbackConfidence,
		Evidence:      []string{fmt.Sprintf("assessment pipeline fault: %s", eris.Cause(cause).Error())},
		Reason:        "The assessment could not be completed; the transaction requires manual review.",
		Timestamp:     time.Now().UTC(),
	}
	if err := c.store.PutAssessment(ctx, fallback); err != nil {
		zap.L().Warn("coordinator: persist fallback assessment",
			zap.String("transaction_id", transactionID),
			zap.Error(err))
	}
	if err := c.store.SetTransactionError(ctx, transactionID, cause.Error()); err != nil {
		zap.L().Warn("coordinator: persist transaction error",
			zap.String("transaction_id", transactionID),
			zap.Error(err))
	}

	state.mu.Lock()
	terminal := state.status.Terminal()
	if !terminal {
		state.status = model.StatusFailed
	}
	state.mu.Unlock()
	if terminal {
		return
	}
	err := resilience.Do(ctx, storeRetry, func(ctx context.Context) error {
		return c.store.UpdateTransactionStatus(ctx, transactionID, model.StatusFailed)
	})
	if err != nil {
		zap.L().Warn("coordinator: persist failed status",
			zap.String("transaction_id", transactionID),
			zap.Error(err))
	}
}

// recordTask folds a terminal source result into the progress view.
func (c *Coordinator) recordTask(transactionID string, r model.SourceResult) {
	c.mu.Lock()
	state := c.running[transactionID]
	c.mu.Unlock()
	if state == nil {
		return
	}
	state.mu.Lock()
	state.tasks[r.EntityKey+"|"+r.Source] = model.TaskStatus{
		EntityKey: r.EntityKey,
		Source:    r.Source,
		Status:    r.Status,
		Attempts:  r.Attempts,
		Error:     r.Error,
	}
	state.mu.Unlock()
}

// Wait blocks until the transaction reaches a terminal status or ctx
// expires, then behaves like Result.
func (c *Coordinator) Wait(ctx context.Context, transactionID string) (*model.RiskAssessment, error) {
	c.mu.Lock()
	state := c.running[transactionID]
	c.mu.Unlock()

	if state != nil {
		select {
		case <-state.done:
		case <-ctx.Done():
			return nil, ErrNotReady
		}
	}
	return c.Result(ctx, transactionID)
}

// Result returns the assessment for a terminal transaction. ErrNotReady is
// returned while processing is still under way.
func (c *Coordinator) Result(ctx context.Context, transactionID string) (*model.RiskAssessment, error) {
	txn, err := c.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if !txn.Status.Terminal() {
		return nil, ErrNotReady
	}
	return c.store.GetAssessment(ctx, transactionID)
}

// Status returns the current status with per-(entity, source) progress for
// in-flight transactions.
func (c *Coordinator) Status(ctx context.Context, transactionID string) (*model.StatusView, error) {
	txn, err := c.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	view := &model.StatusView{
		TransactionID: transactionID,
		Status:        txn.Status,
	}

	c.mu.Lock()
	state := c.running[transactionID]
	c.mu.Unlock()
	if state != nil {
		state.mu.Lock()
		for _, task := range state.tasks {
			view.Tasks = append(view.Tasks, task)
		}
		state.mu.Unlock()
	}
	return view, nil
}

// RunJanitor deletes terminal transactions older than the retention window
// until ctx is canceled. Call it in its own goroutine.
func (c *Coordinator) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-c.retention)
			n, err := c.store.DeleteTransactionsBefore(ctx, cutoff)
			if err != nil {
				zap.L().Warn("coordinator: retention cleanup", zap.Error(err))
				continue
			}
			if n > 0 {
				c.dropStates()
				zap.L().Info("coordinator: expired transactions removed", zap.Int("count", n))
			}
		}
	}
}

// dropStates clears in-memory state for finished transactions. The store
// row is the durable record; the state only serves in-flight progress.
func (c *Coordinator) dropStates() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, state := range c.running {
		select {
		case <-state.done:
			delete(c.running, id)
		default:
		}
	}
}
