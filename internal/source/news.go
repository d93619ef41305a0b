package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/diligence-cli/internal/model"
)

// AdverseMediaName is the provider identifier for the adverse media source.
const AdverseMediaName = "adverse_media"

// adverseQueryTerms narrows the document search to financial-crime coverage.
const adverseQueryTerms = "fraud scam scandal sanctions corruption lawsuit investigation"

// defaultToneThreshold keeps only clearly negative articles.
const defaultToneThreshold = -2.0

// AdverseMediaOptions configures the GDELT adverse media adapter.
type AdverseMediaOptions struct {
	BaseURL       string
	Timeout       time.Duration
	RPS           float64
	ToneThreshold float64
}

// AdverseMediaAdapter searches the GDELT document API for negative press
// about an entity. Applies to organizations and people.
type AdverseMediaAdapter struct {
	httpAdapter
	baseURL       string
	toneThreshold float64
}

// NewAdverseMediaAdapter creates the adverse media adapter.
func NewAdverseMediaAdapter(opts AdverseMediaOptions) *AdverseMediaAdapter {
	threshold := opts.ToneThreshold
	if threshold == 0 {
		threshold = defaultToneThreshold
	}
	return &AdverseMediaAdapter{
		httpAdapter:   newHTTPAdapter(AdverseMediaName, opts.Timeout, opts.RPS),
		baseURL:       opts.BaseURL,
		toneThreshold: threshold,
	}
}

func (a *AdverseMediaAdapter) Name() string { return AdverseMediaName }

func (a *AdverseMediaAdapter) AppliesTo(model.EntityType) bool { return true }

func (a *AdverseMediaAdapter) Discovers() bool { return false }

type gdeltArticle struct {
	Title  string  `json:"title"`
	URL    string  `json:"url"`
	Domain string  `json:"domain"`
	Tone   float64 `json:"tone"`
}

type gdeltResponse struct {
	Articles []gdeltArticle `json:"articles"`
}

// Fetch searches for crime-adjacent coverage naming the entity and keeps
// articles below the tone threshold as one combined adverse news finding.
func (a *AdverseMediaAdapter) Fetch(ctx context.Context, entity model.Entity) (*model.SourcePayload, error) {
	q := url.Values{}
	q.Set("query", entity.Name+" "+adverseQueryTerms)
	q.Set("mode", "artlist")
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/doc/doc?"+q.Encode(), nil)
	if err != nil {
		return nil, NewError(AdverseMediaName, KindPermanent, eris.Wrap(err, "build request"))
	}

	raw, err := a.do(req)
	if err != nil {
		return nil, err
	}

	var parsed gdeltResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, NewError(AdverseMediaName, KindPermanent, eris.Wrap(err, "decode response"))
	}

	payload := &model.SourcePayload{Raw: raw}
	var negative []gdeltArticle
	for _, art := range parsed.Articles {
		if art.Tone < a.toneThreshold {
			negative = append(negative, art)
		}
	}
	if len(negative) > 0 {
		payload.Findings = append(payload.Findings, model.Finding{
			Signal: model.SignalAdverseNews,
			Detail: fmt.Sprintf("%q has %d adverse news articles, e.g. %q (%s)",
				entity.Name, len(negative), negative[0].Title, negative[0].Domain),
		})
	}
	return payload, nil
}
