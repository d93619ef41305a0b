package enrich

import (
	"sync"
	"time"

	"github.com/sells-group/diligence-cli/internal/model"
)

// pairKey identifies one scheduled (entity, source) fetch.
type pairKey struct {
	entityKey string
	source    string
}

// Ledger tracks one transaction's entity set and per-source results. It
// enforces entity-key uniqueness, at most one in-flight fetch per
// (entity, source) pair, and result immutability once terminal. Sealing
// produces the snapshot exactly once; writes after the seal are discarded.
type Ledger struct {
	mu            sync.Mutex
	transactionID string
	maxEntities   int
	order         []string
	entities      map[string]model.Entity
	results       map[pairKey]model.SourceResult
	claimed       map[pairKey]bool
	sealed        bool
}

// NewLedger creates an empty ledger for one transaction. A non-positive
// maxEntities falls back to the default cap.
func NewLedger(transactionID string, maxEntities int) *Ledger {
	if maxEntities <= 0 {
		maxEntities = DefaultMaxEntities
	}
	return &Ledger{
		transactionID: transactionID,
		maxEntities:   maxEntities,
		entities:      make(map[string]model.Entity),
		results:       make(map[pairKey]model.SourceResult),
		claimed:       make(map[pairKey]bool),
	}
}

// AddEntity records an entity if its key is not already present. Returns
// false when the key exists, the entity cap is reached, or the ledger is
// sealed. The cap check shares the mutex with the insert, so concurrent
// callers can never push the set past maxEntities.
func (l *Ledger) AddEntity(e model.Entity) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sealed {
		return false
	}
	if _, ok := l.entities[e.Key]; ok {
		return false
	}
	if len(l.entities) >= l.maxEntities {
		return false
	}
	l.entities[e.Key] = e
	l.order = append(l.order, e.Key)
	return true
}

// Full reports whether the entity cap has been reached.
func (l *Ledger) Full() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entities) >= l.maxEntities
}

// Entity returns the recorded entity for a key.
func (l *Ledger) Entity(key string) (model.Entity, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entities[key]
	return e, ok
}

// EntityCount returns how many entities the ledger holds, hint-only included.
func (l *Ledger) EntityCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entities)
}

// Schedule records a pending result for the pair. Scheduling the same pair
// twice is a no-op.
func (l *Ledger) Schedule(entityKey, sourceName string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sealed {
		return
	}
	k := pairKey{entityKey, sourceName}
	if _, ok := l.results[k]; ok {
		return
	}
	l.results[k] = model.SourceResult{
		EntityKey: entityKey,
		Source:    sourceName,
		Status:    model.SourcePending,
	}
}

// Claim marks the pair in flight. Exactly one caller wins the claim; all
// others, and any caller arriving after the pair is terminal or the ledger
// sealed, get false and must not fetch.
func (l *Ledger) Claim(entityKey, sourceName string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := pairKey{entityKey, sourceName}
	r, ok := l.results[k]
	if l.sealed || !ok || r.Status.Terminal() || l.claimed[k] {
		return false
	}
	l.claimed[k] = true
	return true
}

// Complete writes the terminal result for a claimed pair. Writes against a
// sealed ledger or an already-terminal pair are discarded.
func (l *Ledger) Complete(r model.SourceResult) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sealed || !r.Status.Terminal() {
		return false
	}
	k := pairKey{r.EntityKey, r.Source}
	existing, ok := l.results[k]
	if !ok || existing.Status.Terminal() {
		return false
	}
	if r.FetchedAt == nil {
		now := time.Now().UTC()
		r.FetchedAt = &now
	}
	l.results[k] = r
	delete(l.claimed, k)
	return true
}

// SkipPending marks every non-terminal pair skipped with the given reason.
// Used when the enrichment budget expires with fetches still outstanding.
func (l *Ledger) SkipPending(reason string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sealed {
		return 0
	}
	n := 0
	for k, r := range l.results {
		if r.Status.Terminal() {
			continue
		}
		r.Status = model.SourceSkipped
		r.Error = reason
		l.results[k] = r
		delete(l.claimed, k)
		n++
	}
	return n
}

// Seal freezes the ledger and returns the snapshot. Entities keep insertion
// order. Calling Seal again returns nil.
func (l *Ledger) Seal(budgetExpired bool) *model.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sealed {
		return nil
	}
	l.sealed = true

	snap := &model.Snapshot{
		TransactionID: l.transactionID,
		BudgetExpired: budgetExpired,
	}
	perEntity := make(map[string]map[string]model.SourceResult, len(l.entities))
	for k, r := range l.results {
		m := perEntity[k.entityKey]
		if m == nil {
			m = make(map[string]model.SourceResult)
			perEntity[k.entityKey] = m
		}
		m[k.source] = r
		snap.Scheduled++
		switch r.Status {
		case model.SourceSuccess:
			snap.Succeeded++
		case model.SourceFailed:
			snap.Failed++
		case model.SourceSkipped:
			snap.Skipped++
		}
	}
	for _, key := range l.order {
		snap.Entities = append(snap.Entities, model.EntitySnapshot{
			Entity:  l.entities[key],
			Results: perEntity[key],
		})
	}
	return snap
}
