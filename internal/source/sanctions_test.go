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

func orgEntity(name string) model.Entity {
	return model.Entity{Key: "org:" + name, Name: name, Type: model.EntityOrganization}
}

func personEntity(name string) model.Entity {
	return model.Entity{Key: "person:" + name, Name: name, Type: model.EntityPerson}
}

func TestSanctionsFetchHighConfidenceMatch(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "ApiKey test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		json.NewEncoder(w).Encode(map[string]any{
			"responses": map[string]any{
				"q1": map[string]any{
					"results": []map[string]any{
						{"id": "NK-1", "caption": "Sberbank of Russia", "score": 0.95},
						{"id": "NK-2", "caption": "Sber Leasing", "score": 0.40},
					},
				},
			},
		})
	}))
	defer srv.Close()

	a := NewSanctionsAdapter(SanctionsOptions{BaseURL: srv.URL, APIKey: "test-key"})
	payload, err := a.Fetch(context.Background(), orgEntity("Sberbank of Russia"))
	require.NoError(t, err)

	// Only the high-confidence match survives the score filter.
	require.Len(t, payload.Findings, 1)
	assert.Equal(t, model.SignalSanctions, payload.Findings[0].Signal)
	assert.Contains(t, payload.Findings[0].Detail, "Sberbank of Russia")
	assert.NotEmpty(t, payload.Raw)

	queries := gotBody["queries"].(map[string]any)
	q1 := queries["q1"].(map[string]any)
	assert.Equal(t, "Company", q1["schema"])
}

func TestSanctionsFetchPersonSchema(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Queries map[string]struct {
				Schema string `json:"schema"`
			} `json:"queries"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Person", body.Queries["q1"].Schema)
		json.NewEncoder(w).Encode(map[string]any{"responses": map[string]any{}})
	}))
	defer srv.Close()

	a := NewSanctionsAdapter(SanctionsOptions{BaseURL: srv.URL})
	payload, err := a.Fetch(context.Background(), personEntity("Vladimir Putin"))
	require.NoError(t, err)
	assert.Empty(t, payload.Findings)
}

func TestSanctionsFetchStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		kind   ErrorKind
	}{
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusInternalServerError, KindTransient},
		{http.StatusNotFound, KindNotFound},
		{http.StatusForbidden, KindPermanent},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		a := NewSanctionsAdapter(SanctionsOptions{BaseURL: srv.URL})
		_, err := a.Fetch(context.Background(), orgEntity("Acme"))
		require.Error(t, err)
		assert.Equal(t, tt.kind, KindOf(err), "status %d", tt.status)
		srv.Close()
	}
}

func TestSanctionsAppliesToBothTypes(t *testing.T) {
	a := NewSanctionsAdapter(SanctionsOptions{})
	assert.True(t, a.AppliesTo(model.EntityOrganization))
	assert.True(t, a.AppliesTo(model.EntityPerson))
	assert.False(t, a.Discovers())
}
