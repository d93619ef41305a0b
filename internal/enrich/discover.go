package enrich

import (
	"go.uber.org/zap"

	"github.com/sells-group/diligence-cli/internal/canonical"
	"github.com/sells-group/diligence-cli/internal/model"
)

// DefaultMaxDepth bounds transitive discovery: seeds sit at depth 0 and
// entities at maxDepth or beyond are recorded hint-only, never enriched.
const DefaultMaxDepth = 2

// DefaultMaxEntities caps the total entity set per transaction.
const DefaultMaxEntities = 25

// Discoverer admits sub-entities surfaced during enrichment into a
// transaction's entity set, applying canonical dedupe and the depth and
// count bounds.
type Discoverer struct {
	maxDepth    int
	maxEntities int
}

// NewDiscoverer creates a discoverer; non-positive bounds fall back to the
// defaults.
func NewDiscoverer(maxDepth, maxEntities int) *Discoverer {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if maxEntities <= 0 {
		maxEntities = DefaultMaxEntities
	}
	return &Discoverer{maxDepth: maxDepth, maxEntities: maxEntities}
}

// AdmitSeeds records the extraction-phase entities at depth 0, deduplicating
// by canonical key. Returns the admitted entities in input order.
func (d *Discoverer) AdmitSeeds(ledger *Ledger, seeds []model.Entity) []model.Entity {
	var admitted []model.Entity
	for _, e := range seeds {
		e.Key = canonical.Key(e.Name, e.Type)
		e.Depth = 0
		if ledger.AddEntity(e) {
			admitted = append(admitted, e)
			continue
		}
		if ledger.Full() {
			zap.L().Warn("discover: entity cap reached, dropping seed",
				zap.String("name", e.Name),
				zap.Int("max_entities", d.maxEntities))
			break
		}
	}
	return admitted
}

// Admit records the sub-entities one source surfaced for a parent. Entities
// already known by canonical key only gain a relationship edge. New entities
// at the depth bound are recorded hint-only. Returns the entities that should
// be enriched next and the relationship edges to persist.
func (d *Discoverer) Admit(ledger *Ledger, parent model.Entity, sourceName string, found []model.DiscoveredEntity) ([]model.Entity, []model.Relationship) {
	var (
		next  []model.Entity
		edges []model.Relationship
	)
	childDepth := parent.Depth + 1
	for _, f := range found {
		// A name that normalizes to nothing cannot be queried anywhere.
		if canonical.Normalize(f.Name) == "" {
			continue
		}
		key := canonical.Key(f.Name, f.Type)

		edge := model.Relationship{
			ParentKey: parent.Key,
			ChildKey:  key,
			Relation:  f.Role,
		}
		if _, known := ledger.Entity(key); known {
			edges = append(edges, edge)
			continue
		}

		e := model.Entity{
			Key:   key,
			Name:  f.Name,
			Type:  f.Type,
			Role:  f.Role,
			Depth: childDepth,
			DiscoveredVia: &model.DiscoveredVia{
				ParentKey: parent.Key,
				Source:    sourceName,
			},
			HintOnly: childDepth >= d.maxDepth,
		}
		if !ledger.AddEntity(e) {
			if ledger.Full() {
				zap.L().Warn("discover: entity cap reached, dropping discovery",
					zap.String("parent", parent.Key),
					zap.String("name", f.Name),
					zap.Int("max_entities", d.maxEntities))
				break
			}
			// A sibling goroutine admitted this key first; keep the edge.
			edges = append(edges, edge)
			continue
		}
		edges = append(edges, edge)
		if !e.HintOnly {
			next = append(next, e)
		}
	}
	return next, edges
}
