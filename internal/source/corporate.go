package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/diligence-cli/internal/model"
)

// CorporateName is the provider identifier for the corporate registry source.
const CorporateName = "opencorporates"

// CorporateOptions configures the OpenCorporates adapter.
type CorporateOptions struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	RPS     float64
	// HighRiskJurisdictions maps lowercase jurisdiction names and ISO codes
	// to true. An organization registered in one triggers a jurisdiction flag.
	HighRiskJurisdictions map[string]bool
}

// CorporateAdapter looks organizations up in the OpenCorporates registry and
// derives jurisdiction and shell-company structural signals. Organizations only.
type CorporateAdapter struct {
	httpAdapter
	baseURL  string
	apiKey   string
	highRisk map[string]bool
}

// NewCorporateAdapter creates the corporate registry adapter.
func NewCorporateAdapter(opts CorporateOptions) *CorporateAdapter {
	return &CorporateAdapter{
		httpAdapter: newHTTPAdapter(CorporateName, opts.Timeout, opts.RPS),
		baseURL:     opts.BaseURL,
		apiKey:      opts.APIKey,
		highRisk:    opts.HighRiskJurisdictions,
	}
}

func (a *CorporateAdapter) Name() string { return CorporateName }

func (a *CorporateAdapter) AppliesTo(t model.EntityType) bool { return t == model.EntityOrganization }

func (a *CorporateAdapter) Discovers() bool { return false }

type corporateCompany struct {
	Name             string `json:"name"`
	JurisdictionCode string `json:"jurisdiction_code"`
	CompanyType      string `json:"company_type"`
	CurrentStatus    string `json:"current_status"`
	Inactive         bool   `json:"inactive"`
}

type corporateSearchResponse struct {
	Results struct {
		Companies []struct {
			Company corporateCompany `json:"company"`
		} `json:"companies"`
	} `json:"results"`
}

// Fetch searches the registry by name and normalizes the best match into
// structural signals. A registry miss is an empty payload, not an error.
func (a *CorporateAdapter) Fetch(ctx context.Context, entity model.Entity) (*model.SourcePayload, error) {
	q := url.Values{}
	q.Set("q", entity.Name)
	if a.apiKey != "" {
		q.Set("api_token", a.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.baseURL+"/companies/search?"+q.Encode(), nil)
	if err != nil {
		return nil, NewError(CorporateName, KindPermanent, eris.Wrap(err, "build request"))
	}

	raw, err := a.do(req)
	if err != nil {
		return nil, err
	}

	var parsed corporateSearchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, NewError(CorporateName, KindPermanent, eris.Wrap(err, "decode response"))
	}

	payload := &model.SourcePayload{Raw: raw}
	if len(parsed.Results.Companies) == 0 {
		return payload, nil
	}
	company := parsed.Results.Companies[0].Company

	if j := a.jurisdictionFlag(company, entity); j != "" {
		payload.Findings = append(payload.Findings, model.Finding{
			Signal: model.SignalJurisdiction,
			Detail: fmt.Sprintf("%q is registered in high-risk jurisdiction %q", entity.Name, j),
		})
	}
	if reason := shellIndicator(company, entity); reason != "" {
		payload.Findings = append(payload.Findings, model.Finding{
			Signal: model.SignalShell,
			Detail: fmt.Sprintf("%q shows shell-company indicators: %s", entity.Name, reason),
		})
	}
	return payload, nil
}

func (a *CorporateAdapter) jurisdictionFlag(c corporateCompany, entity model.Entity) string {
	for _, candidate := range []string{c.JurisdictionCode, entity.Jurisdiction} {
		candidate = strings.ToLower(strings.TrimSpace(candidate))
		if candidate != "" && a.highRisk[candidate] {
			return candidate
		}
	}
	return ""
}

func shellIndicator(c corporateCompany, entity model.Entity) string {
	if entity.SubType == "shell_company" {
		return "classified as a shell company at extraction"
	}
	if c.Inactive || strings.EqualFold(c.CurrentStatus, "dissolved") {
		return fmt.Sprintf("registry status %q", c.CurrentStatus)
	}
	if strings.Contains(strings.ToLower(c.CompanyType), "shelf") {
		return fmt.Sprintf("registry company type %q", c.CompanyType)
	}
	return ""
}
