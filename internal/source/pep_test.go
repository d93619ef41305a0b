package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/diligence-cli/internal/model"
)

func writePEPDataset(t *testing.T, rows string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pep.csv")
	require.NoError(t, os.WriteFile(path, []byte(rows), 0o644))
	return path
}

func TestPEPFetchMatchesByNameToken(t *testing.T) {
	path := writePEPDataset(t, `name,aliases,position,country
Vladimir Putin,Vladimir Vladimirovich Putin;V. Putin,President of Russia,RU
Angela Merkel,,Former Chancellor,DE
`)
	a := NewPEPAdapter(path)

	payload, err := a.Fetch(context.Background(), personEntity("Vladimir Putin"))
	require.NoError(t, err)
	require.Len(t, payload.Findings, 1)
	assert.Equal(t, model.SignalPEP, payload.Findings[0].Signal)
	assert.Contains(t, payload.Findings[0].Detail, "President of Russia")
	assert.NotEmpty(t, payload.Raw)
}

func TestPEPFetchMatchesByAlias(t *testing.T) {
	path := writePEPDataset(t, `name,aliases,position,country
Mohammed bin Salman,MBS;Mohammed bin Salman Al Saud,Crown Prince,SA
`)
	a := NewPEPAdapter(path)

	payload, err := a.Fetch(context.Background(), personEntity("Mohammed Al Saud"))
	require.NoError(t, err)
	require.Len(t, payload.Findings, 1)
	assert.Contains(t, payload.Findings[0].Detail, "Mohammed bin Salman")
}

func TestPEPFetchNoMatch(t *testing.T) {
	path := writePEPDataset(t, `name,aliases,position,country
Vladimir Putin,,President of Russia,RU
`)
	a := NewPEPAdapter(path)

	payload, err := a.Fetch(context.Background(), personEntity("Jane Smith"))
	require.NoError(t, err)
	assert.Empty(t, payload.Findings)
	assert.Empty(t, payload.Raw)
}

func TestPEPFetchShortTokensIgnored(t *testing.T) {
	path := writePEPDataset(t, `name,aliases,position,country
Xi Jinping,,General Secretary,CN
`)
	a := NewPEPAdapter(path)

	// "Xi Wu" has no token longer than two characters; nothing to match on.
	payload, err := a.Fetch(context.Background(), personEntity("Xi Wu"))
	require.NoError(t, err)
	assert.Empty(t, payload.Findings)
}

func TestPEPFetchMissingDataset(t *testing.T) {
	a := NewPEPAdapter(filepath.Join(t.TempDir(), "absent.csv"))

	_, err := a.Fetch(context.Background(), personEntity("Anyone"))
	require.Error(t, err)
	assert.Equal(t, KindPermanent, KindOf(err))
}

func TestPEPAppliesToPeopleOnly(t *testing.T) {
	a := NewPEPAdapter("unused.csv")
	assert.True(t, a.AppliesTo(model.EntityPerson))
	assert.False(t, a.AppliesTo(model.EntityOrganization))
	assert.False(t, a.Discovers())
}
