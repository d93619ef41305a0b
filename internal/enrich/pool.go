package enrich

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/resilience"
	"github.com/sells-group/diligence-cli/internal/source"
)

// DefaultMaxConcurrent bounds in-flight source fetches across one run.
const DefaultMaxConcurrent = 16

// DefaultCallTimeout bounds a single adapter call, retries excluded.
const DefaultCallTimeout = 30 * time.Second

// Options configures an enrichment pool.
type Options struct {
	Registry      *source.Registry
	MaxConcurrent int64
	CallTimeout   time.Duration
	Retry         resilience.RetryConfig
	Breaker       resilience.CircuitBreakerConfig
	MaxDepth      int
	MaxEntities   int
	// OnResult, when set, receives every terminal source result as it lands.
	OnResult func(transactionID string, r model.SourceResult)
}

// Outcome is the product of one enrichment run: the sealed snapshot plus the
// relationship edges discovered along the way.
type Outcome struct {
	Snapshot      *model.Snapshot
	Relationships []model.Relationship
}

// Pool fans enrichment out across sources and discovered entities. Fetches
// run under a global concurrency bound, a per-call timeout, retry with
// backoff for retryable failures, and a per-source circuit breaker. A failed
// source never fails the run; the failure lands in the snapshot.
type Pool struct {
	registry    *source.Registry
	sem         *semaphore.Weighted
	callTimeout time.Duration
	retry       resilience.RetryConfig
	breakerCfg  resilience.CircuitBreakerConfig
	discoverer  *Discoverer
	onResult    func(string, model.SourceResult)

	mu       sync.Mutex
	breakers map[string]*resilience.CircuitBreaker
}

// NewPool creates an enrichment pool.
func NewPool(opts Options) *Pool {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	retry := opts.Retry
	if retry.MaxAttempts == 0 {
		retry = resilience.DefaultRetryConfig()
	}
	if retry.ShouldRetry == nil {
		retry.ShouldRetry = source.IsRetryable
	}
	// An open breaker will not close within a retry budget; fail fast.
	shouldRetry := retry.ShouldRetry
	retry.ShouldRetry = func(err error) bool {
		return !eris.Is(err, resilience.ErrCircuitOpen) && shouldRetry(err)
	}
	return &Pool{
		registry:    opts.Registry,
		sem:         semaphore.NewWeighted(opts.MaxConcurrent),
		callTimeout: opts.CallTimeout,
		retry:       retry,
		breakerCfg:  opts.Breaker,
		discoverer:  NewDiscoverer(opts.MaxDepth, opts.MaxEntities),
		onResult:    opts.OnResult,
		breakers:    make(map[string]*resilience.CircuitBreaker),
	}
}

// Run enriches the seed entities and everything discovered from them, wave
// by wave, until the frontier empties or ctx expires. The returned snapshot
// is sealed: nothing mutates it afterward.
func (p *Pool) Run(ctx context.Context, transactionID string, seeds []model.Entity) *Outcome {
	ledger := NewLedger(transactionID, p.discoverer.maxEntities)
	frontier := p.discoverer.AdmitSeeds(ledger, seeds)

	var (
		mu    sync.Mutex
		edges []model.Relationship
	)

	for len(frontier) > 0 && ctx.Err() == nil {
		var next []model.Entity
		g, gctx := errgroup.WithContext(ctx)

		for _, entity := range frontier {
			for _, adapter := range p.registry.For(entity.Type) {
				ledger.Schedule(entity.Key, adapter.Name())
				g.Go(func() error {
					if err := p.sem.Acquire(gctx, 1); err != nil {
						return nil
					}
					defer p.sem.Release(1)
					if !ledger.Claim(entity.Key, adapter.Name()) {
						return nil
					}

					result := p.fetch(gctx, adapter, entity)
					if ledger.Complete(result) && p.onResult != nil {
						p.onResult(transactionID, result)
					}

					if result.Status == model.SourceSuccess && adapter.Discovers() &&
						result.Payload != nil && len(result.Payload.Discovered) > 0 {
						children, found := p.discoverer.Admit(ledger, entity, adapter.Name(), result.Payload.Discovered)
						for i := range found {
							found[i].TransactionID = transactionID
						}
						mu.Lock()
						next = append(next, children...)
						edges = append(edges, found...)
						mu.Unlock()
					}
					return nil
				})
			}
		}

		// Tasks only return nil; Wait is a join point.
		_ = g.Wait()
		frontier = next
	}

	budgetExpired := ctx.Err() != nil
	if budgetExpired {
		if n := ledger.SkipPending("enrichment budget expired"); n > 0 {
			zap.L().Warn("enrich: budget expired with fetches outstanding",
				zap.String("transaction_id", transactionID),
				zap.Int("skipped", n))
		}
	}
	return &Outcome{
		Snapshot:      ledger.Seal(budgetExpired),
		Relationships: edges,
	}
}

// fetch runs one (entity, source) call through the breaker, retry and
// per-call timeout, and folds the outcome into a terminal result.
func (p *Pool) fetch(ctx context.Context, adapter source.Adapter, entity model.Entity) model.SourceResult {
	result := model.SourceResult{
		EntityKey: entity.Key,
		Source:    adapter.Name(),
	}

	retry := p.retry
	retry.OnRetry = resilience.RetryLogger(adapter.Name(), entity.Key)

	payload, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*model.SourcePayload, error) {
		result.Attempts++
		callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
		defer cancel()
		return resilience.ExecuteVal(callCtx, p.breakerFor(adapter.Name()), func(ctx context.Context) (*model.SourcePayload, error) {
			return adapter.Fetch(ctx, entity)
		})
	})
	if err != nil {
		result.Status = model.SourceFailed
		result.Error = err.Error()
		result.ErrorKind = string(source.KindOf(err))
		if eris.Is(err, resilience.ErrCircuitOpen) {
			result.Status = model.SourceSkipped
		}
		zap.L().Warn("enrich: source fetch failed",
			zap.String("source", adapter.Name()),
			zap.String("entity_key", entity.Key),
			zap.Int("attempts", result.Attempts),
			zap.Error(err))
		return result
	}

	result.Status = model.SourceSuccess
	result.Payload = payload
	zap.L().Debug("enrich: source fetch succeeded",
		zap.String("source", adapter.Name()),
		zap.String("entity_key", entity.Key),
		zap.Int("findings", len(payload.Findings)),
		zap.Int("discovered", len(payload.Discovered)))
	return result
}

func (p *Pool) breakerFor(name string) *resilience.CircuitBreaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	cb, ok := p.breakers[name]
	if !ok {
		cb = resilience.NewCircuitBreaker(p.breakerCfg)
		p.breakers[name] = cb
	}
	return cb
}
