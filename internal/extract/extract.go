// Package extract pulls the parties out of free-form transaction text.
package extract

import (
	"context"

	"github.com/sells-group/diligence-cli/internal/model"
)

// Organization is an extracted corporate party.
type Organization struct {
	Name         string `json:"name"`
	Role         string `json:"role,omitempty"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
	// EntityType is the extraction sub-type, e.g. "shell_company" when the
	// text itself marks the party as a shell.
	EntityType string `json:"entity_type,omitempty"`
}

// Person is an extracted individual party.
type Person struct {
	Name    string `json:"name"`
	Role    string `json:"role,omitempty"`
	Country string `json:"country,omitempty"`
}

// Result is the structured output of one extraction.
type Result struct {
	Organizations []Organization    `json:"organizations"`
	People        []Person          `json:"people"`
	Jurisdictions []string          `json:"jurisdictions,omitempty"`
	Fields        map[string]string `json:"transaction_fields,omitempty"`
}

// Seeds converts the extraction into the depth-0 entity list for
// enrichment. Canonical keys are assigned later, at admission.
func (r *Result) Seeds() []model.Entity {
	out := make([]model.Entity, 0, len(r.Organizations)+len(r.People))
	for _, o := range r.Organizations {
		out = append(out, model.Entity{
			Name:         o.Name,
			Type:         model.EntityOrganization,
			Role:         o.Role,
			Jurisdiction: o.Jurisdiction,
			SubType:      o.EntityType,
		})
	}
	for _, p := range r.People {
		out = append(out, model.Entity{
			Name:         p.Name,
			Type:         model.EntityPerson,
			Role:         p.Role,
			Jurisdiction: p.Country,
		})
	}
	return out
}

// Extractor turns raw transaction text into structured parties. Extraction
// failure is fatal to the transaction: no entities means nothing downstream
// can run.
type Extractor interface {
	Extract(ctx context.Context, text string) (*Result, error)
}
