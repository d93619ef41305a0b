package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/diligence-cli/internal/model"
)

func corporateServer(t *testing.T, company map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/companies/search", r.URL.Path)
		companies := []map[string]any{}
		if company != nil {
			companies = append(companies, map[string]any{"company": company})
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results": map[string]any{"companies": companies},
		})
	}))
}

func TestCorporateFetchHighRiskJurisdiction(t *testing.T) {
	srv := corporateServer(t, map[string]any{
		"name":              "Horizon Trade FZE",
		"jurisdiction_code": "vg",
		"current_status":    "Active",
	})
	defer srv.Close()

	a := NewCorporateAdapter(CorporateOptions{
		BaseURL:               srv.URL,
		HighRiskJurisdictions: map[string]bool{"vg": true, "ky": true},
	})
	payload, err := a.Fetch(context.Background(), orgEntity("Horizon Trade FZE"))
	require.NoError(t, err)
	require.Len(t, payload.Findings, 1)
	assert.Equal(t, model.SignalJurisdiction, payload.Findings[0].Signal)
	assert.Contains(t, payload.Findings[0].Detail, `"vg"`)
}

func TestCorporateFetchShellIndicators(t *testing.T) {
	tests := []struct {
		name    string
		company map[string]any
		entity  model.Entity
		detail  string
	}{
		{
			name:    "dissolved status",
			company: map[string]any{"name": "Ghost Ltd", "current_status": "Dissolved"},
			entity:  orgEntity("Ghost Ltd"),
			detail:  "registry status",
		},
		{
			name:    "shelf company type",
			company: map[string]any{"name": "Blank Corp", "company_type": "Shelf Corporation", "current_status": "Active"},
			entity:  orgEntity("Blank Corp"),
			detail:  "company type",
		},
		{
			name:    "extraction sub-type",
			company: map[string]any{"name": "Opaque Holdings", "current_status": "Active"},
			entity:  model.Entity{Key: "org:opaque holdings", Name: "Opaque Holdings", Type: model.EntityOrganization, SubType: "shell_company"},
			detail:  "at extraction",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := corporateServer(t, tt.company)
			defer srv.Close()

			a := NewCorporateAdapter(CorporateOptions{BaseURL: srv.URL})
			payload, err := a.Fetch(context.Background(), tt.entity)
			require.NoError(t, err)
			require.Len(t, payload.Findings, 1)
			assert.Equal(t, model.SignalShell, payload.Findings[0].Signal)
			assert.Contains(t, payload.Findings[0].Detail, tt.detail)
		})
	}
}

func TestCorporateFetchRegistryMissIsEmpty(t *testing.T) {
	srv := corporateServer(t, nil)
	defer srv.Close()

	a := NewCorporateAdapter(CorporateOptions{BaseURL: srv.URL})
	payload, err := a.Fetch(context.Background(), orgEntity("Nonexistent Co"))
	require.NoError(t, err)
	assert.Empty(t, payload.Findings)
	assert.NotEmpty(t, payload.Raw)
}

func TestCorporateFetchCleanCompany(t *testing.T) {
	srv := corporateServer(t, map[string]any{
		"name":              "Acme GmbH",
		"jurisdiction_code": "de",
		"current_status":    "Active",
	})
	defer srv.Close()

	a := NewCorporateAdapter(CorporateOptions{
		BaseURL:               srv.URL,
		HighRiskJurisdictions: map[string]bool{"vg": true},
	})
	payload, err := a.Fetch(context.Background(), orgEntity("Acme GmbH"))
	require.NoError(t, err)
	assert.Empty(t, payload.Findings)
}

func TestCorporateAppliesToOrganizationsOnly(t *testing.T) {
	a := NewCorporateAdapter(CorporateOptions{})
	assert.True(t, a.AppliesTo(model.EntityOrganization))
	assert.False(t, a.AppliesTo(model.EntityPerson))
	assert.False(t, a.Discovers())
}
