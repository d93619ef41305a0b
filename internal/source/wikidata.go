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

// WikidataName is the provider identifier for the relationship graph source.
const WikidataName = "wikidata"

// defaultMaxAssociates caps how many associated people one lookup may emit.
const defaultMaxAssociates = 10

// WikidataOptions configures the Wikidata SPARQL adapter.
type WikidataOptions struct {
	EndpointURL   string
	Timeout       time.Duration
	RPS           float64
	MaxAssociates int
}

// WikidataAdapter resolves an organization in Wikidata and surfaces its
// officers, founders and owners as discovered sub-entities. Organizations
// only; the only adapter that feeds the network discoverer.
type WikidataAdapter struct {
	httpAdapter
	endpoint      string
	maxAssociates int
}

// NewWikidataAdapter creates the relationship graph adapter.
func NewWikidataAdapter(opts WikidataOptions) *WikidataAdapter {
	maxAssociates := opts.MaxAssociates
	if maxAssociates <= 0 {
		maxAssociates = defaultMaxAssociates
	}
	return &WikidataAdapter{
		httpAdapter:   newHTTPAdapter(WikidataName, opts.Timeout, opts.RPS),
		endpoint:      opts.EndpointURL,
		maxAssociates: maxAssociates,
	}
}

func (a *WikidataAdapter) Name() string { return WikidataName }

func (a *WikidataAdapter) AppliesTo(t model.EntityType) bool { return t == model.EntityOrganization }

func (a *WikidataAdapter) Discovers() bool { return true }

type sparqlResponse struct {
	Results struct {
		Bindings []map[string]struct {
			Value string `json:"value"`
		} `json:"bindings"`
	} `json:"results"`
}

// Fetch resolves the organization's Wikidata item, then queries for people
// linked through officer, founder and owner properties. A miss in the entity
// search is an empty payload, not an error.
func (a *WikidataAdapter) Fetch(ctx context.Context, entity model.Entity) (*model.SourcePayload, error) {
	entityID, err := a.resolveItem(ctx, entity.Name)
	if err != nil {
		return nil, err
	}
	if entityID == "" {
		return &model.SourcePayload{}, nil
	}

	// P169 chief executive officer, P112 founded by, P127 owned by,
	// P3320 board member.
	peopleQuery := fmt.Sprintf(`SELECT DISTINCT ?person ?personLabel ?roleLabel WHERE {
  wd:%s ?rel ?person .
  ?role wikibase:directClaim ?rel .
  FILTER(?role IN (wdt:P169, wdt:P112, wdt:P127, wdt:P3320))
  ?person wdt:P31 wd:Q5 .
  SERVICE wikibase:label { bd:serviceParam wikibase:language "en". }
} LIMIT %d`, entityID, a.maxAssociates)

	parsed, raw, err := a.query(ctx, peopleQuery)
	if err != nil {
		return nil, err
	}

	payload := &model.SourcePayload{Raw: raw}
	seen := make(map[string]bool)
	for _, binding := range parsed.Results.Bindings {
		name := binding["personLabel"].Value
		if name == "" || seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		role := binding["roleLabel"].Value
		if role == "" {
			role = "associated person"
		}
		payload.Discovered = append(payload.Discovered, model.DiscoveredEntity{
			Name: name,
			Type: model.EntityPerson,
			Role: role,
		})
	}
	return payload, nil
}

func (a *WikidataAdapter) resolveItem(ctx context.Context, name string) (string, error) {
	search := fmt.Sprintf(`SELECT ?item WHERE {
  SERVICE wikibase:mwapi {
    bd:serviceParam wikibase:endpoint "www.wikidata.org";
                    wikibase:api "EntitySearch";
                    mwapi:search %q;
                    mwapi:language "en".
    ?item wikibase:apiOutputItem mwapi:item.
  }
} LIMIT 1`, name)

	parsed, _, err := a.query(ctx, search)
	if err != nil {
		return "", err
	}
	if len(parsed.Results.Bindings) == 0 {
		return "", nil
	}
	item := parsed.Results.Bindings[0]["item"].Value
	if i := strings.LastIndex(item, "/"); i >= 0 {
		item = item[i+1:]
	}
	return item, nil
}

func (a *WikidataAdapter) query(ctx context.Context, sparql string) (*sparqlResponse, []byte, error) {
	q := url.Values{}
	q.Set("query", sparql)
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, nil, NewError(WikidataName, KindPermanent, eris.Wrap(err, "build request"))
	}
	req.Header.Set("Accept", "application/sparql-results+json")

	raw, err := a.do(req)
	if err != nil {
		return nil, nil, err
	}

	var parsed sparqlResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, nil, NewError(WikidataName, KindPermanent, eris.Wrap(err, "decode response"))
	}
	return &parsed, raw, nil
}
