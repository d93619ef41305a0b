package source

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/diligence-cli/internal/canonical"
	"github.com/sells-group/diligence-cli/internal/model"
)

// PEPName is the provider identifier for the politically-exposed-persons source.
const PEPName = "pep_registry"

// PEPAdapter screens people against a local PEP dataset (CSV with name,
// aliases, position, country columns). People only.
type PEPAdapter struct {
	path string
}

// NewPEPAdapter creates the PEP registry adapter reading from the given CSV.
func NewPEPAdapter(path string) *PEPAdapter {
	return &PEPAdapter{path: path}
}

func (a *PEPAdapter) Name() string { return PEPName }

func (a *PEPAdapter) AppliesTo(t model.EntityType) bool { return t == model.EntityPerson }

func (a *PEPAdapter) Discovers() bool { return false }

type pepRecord struct {
	Name     string `json:"name"`
	Position string `json:"position,omitempty"`
	Country  string `json:"country,omitempty"`
}

// Fetch scans the dataset for records sharing a significant name token with
// the entity, either in the record name or any alias. Tokens of one or two
// characters are ignored to avoid initials matching everything.
func (a *PEPAdapter) Fetch(ctx context.Context, entity model.Entity) (*model.SourcePayload, error) {
	f, err := os.Open(a.path)
	if err != nil {
		return nil, NewError(PEPName, KindPermanent, eris.Wrapf(err, "open dataset %s", a.path))
	}
	defer f.Close()

	wanted := significantTokens(entity.Name)
	if len(wanted) == 0 {
		return &model.SourcePayload{}, nil
	}

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, NewError(PEPName, KindPermanent, eris.Wrap(err, "read dataset header"))
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}

	var matches []pepRecord
	for {
		if err := ctx.Err(); err != nil {
			return nil, NewError(PEPName, KindTimeout, err)
		}
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, NewError(PEPName, KindPermanent, eris.Wrap(err, "read dataset row"))
		}

		name := field(row, col, "name")
		aliases := strings.Split(field(row, col, "aliases"), ";")
		if tokensOverlap(wanted, name) || anyAliasOverlaps(wanted, aliases) {
			matches = append(matches, pepRecord{
				Name:     name,
				Position: field(row, col, "position"),
				Country:  field(row, col, "country"),
			})
		}
	}

	payload := &model.SourcePayload{}
	if len(matches) > 0 {
		raw, _ := json.Marshal(matches)
		payload.Raw = raw
	}
	for _, m := range matches {
		detail := fmt.Sprintf("%q matched PEP record %q", entity.Name, m.Name)
		if m.Position != "" {
			detail += fmt.Sprintf(" (%s)", m.Position)
		}
		payload.Findings = append(payload.Findings, model.Finding{
			Signal: model.SignalPEP,
			Detail: detail,
		})
	}
	return payload, nil
}

func field(row []string, col map[string]int, name string) string {
	i, ok := col[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func significantTokens(name string) []string {
	var out []string
	for _, tok := range strings.Fields(canonical.Normalize(name)) {
		if len(tok) > 2 {
			out = append(out, tok)
		}
	}
	return out
}

func tokensOverlap(wanted []string, candidate string) bool {
	have := strings.Fields(canonical.Normalize(candidate))
	for _, w := range wanted {
		for _, h := range have {
			if w == h {
				return true
			}
		}
	}
	return false
}

func anyAliasOverlaps(wanted, aliases []string) bool {
	for _, alias := range aliases {
		if alias = strings.TrimSpace(alias); alias == "" {
			continue
		}
		if tokensOverlap(wanted, alias) {
			return true
		}
	}
	return false
}
