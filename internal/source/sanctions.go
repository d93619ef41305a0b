package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/diligence-cli/internal/model"
)

// SanctionsName is the provider identifier for the sanctions screening source.
const SanctionsName = "opensanctions"

// defaultSanctionsMinScore filters the match API down to high-confidence hits.
const defaultSanctionsMinScore = 0.70

// SanctionsOptions configures the OpenSanctions adapter.
type SanctionsOptions struct {
	BaseURL  string
	APIKey   string
	MinScore float64
	Timeout  time.Duration
	RPS      float64
}

// SanctionsAdapter screens organizations and people against the
// OpenSanctions match API.
type SanctionsAdapter struct {
	httpAdapter
	baseURL  string
	apiKey   string
	minScore float64
}

// NewSanctionsAdapter creates the sanctions screening adapter.
func NewSanctionsAdapter(opts SanctionsOptions) *SanctionsAdapter {
	minScore := opts.MinScore
	if minScore <= 0 {
		minScore = defaultSanctionsMinScore
	}
	return &SanctionsAdapter{
		httpAdapter: newHTTPAdapter(SanctionsName, opts.Timeout, opts.RPS),
		baseURL:     opts.BaseURL,
		apiKey:      opts.APIKey,
		minScore:    minScore,
	}
}

func (a *SanctionsAdapter) Name() string                    { return SanctionsName }
func (a *SanctionsAdapter) AppliesTo(model.EntityType) bool { return true }
func (a *SanctionsAdapter) Discovers() bool                 { return false }

type sanctionsMatch struct {
	ID       string   `json:"id"`
	Caption  string   `json:"caption"`
	Score    float64  `json:"score"`
	Datasets []string `json:"datasets,omitempty"`
}

type sanctionsResponse struct {
	Responses map[string]struct {
		Results []sanctionsMatch `json:"results"`
	} `json:"responses"`
}

// Fetch runs a single-query match batch, keeping only matches at or above
// the configured confidence score.
func (a *SanctionsAdapter) Fetch(ctx context.Context, entity model.Entity) (*model.SourcePayload, error) {
	schema := "Company"
	if entity.Type == model.EntityPerson {
		schema = "Person"
	}

	batch := map[string]any{
		"queries": map[string]any{
			"q1": map[string]any{
				"schema":     schema,
				"properties": map[string]any{"name": []string{entity.Name}},
			},
		},
	}
	body, err := json.Marshal(batch)
	if err != nil {
		return nil, NewError(SanctionsName, KindPermanent, eris.Wrap(err, "marshal query"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/match/sanctions?algorithm=best", bytes.NewReader(body))
	if err != nil {
		return nil, NewError(SanctionsName, KindPermanent, eris.Wrap(err, "build request"))
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "ApiKey "+a.apiKey)
	}

	raw, err := a.do(req)
	if err != nil {
		return nil, err
	}

	var parsed sanctionsResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, NewError(SanctionsName, KindPermanent, eris.Wrap(err, "decode response"))
	}

	payload := &model.SourcePayload{Raw: raw}
	for _, m := range parsed.Responses["q1"].Results {
		if m.Score < a.minScore {
			continue
		}
		payload.Findings = append(payload.Findings, model.Finding{
			Signal: model.SignalSanctions,
			Detail: fmt.Sprintf("%q matched sanctions entry %q (score %.2f)", entity.Name, m.Caption, m.Score),
		})
	}
	return payload, nil
}
