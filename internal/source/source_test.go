package source

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"

	"github.com/sells-group/diligence-cli/internal/model"
)

// stubAdapter implements Adapter for registry tests.
type stubAdapter struct {
	name      string
	types     map[model.EntityType]bool
	discovers bool
}

func (s *stubAdapter) Name() string                      { return s.name }
func (s *stubAdapter) AppliesTo(t model.EntityType) bool { return s.types[t] }
func (s *stubAdapter) Discovers() bool                   { return s.discovers }
func (s *stubAdapter) Fetch(context.Context, model.Entity) (*model.SourcePayload, error) {
	return &model.SourcePayload{}, nil
}

func orgOnly() map[model.EntityType]bool {
	return map[model.EntityType]bool{model.EntityOrganization: true}
}

func personOnly() map[model.EntityType]bool {
	return map[model.EntityType]bool{model.EntityPerson: true}
}

func bothTypes() map[model.EntityType]bool {
	return map[model.EntityType]bool{model.EntityOrganization: true, model.EntityPerson: true}
}

func TestRegistryOrderAndLookup(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubAdapter{name: "alpha", types: bothTypes()})
	r.Register(&stubAdapter{name: "beta", types: orgOnly()})
	r.Register(&stubAdapter{name: "gamma", types: personOnly()})

	assert.Equal(t, []string{"alpha", "beta", "gamma"}, r.List())
	assert.NotNil(t, r.Get("beta"))
	assert.Nil(t, r.Get("missing"))

	var orgNames []string
	for _, a := range r.For(model.EntityOrganization) {
		orgNames = append(orgNames, a.Name())
	}
	assert.Equal(t, []string{"alpha", "beta"}, orgNames)

	var personNames []string
	for _, a := range r.For(model.EntityPerson) {
		personNames = append(personNames, a.Name())
	}
	assert.Equal(t, []string{"alpha", "gamma"}, personNames)
}

func TestRegistryReplaceKeepsPosition(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubAdapter{name: "alpha", types: orgOnly()})
	r.Register(&stubAdapter{name: "beta", types: orgOnly()})
	r.Register(&stubAdapter{name: "alpha", types: bothTypes()})

	assert.Equal(t, []string{"alpha", "beta"}, r.List())
	assert.True(t, r.Get("alpha").AppliesTo(model.EntityPerson))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(NewError("x", KindNotFound, eris.New("missing"))))
	assert.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindTransient, KindOf(eris.New("unclassified")))
	assert.Equal(t, ErrorKind(""), KindOf(nil))

	// Wrapped source errors keep their kind.
	wrapped := eris.Wrap(NewError("x", KindRateLimited, eris.New("429")), "fetch")
	assert.Equal(t, KindRateLimited, KindOf(wrapped))
}

func TestIsRetryable(t *testing.T) {
	retryable := []ErrorKind{KindTimeout, KindRateLimited, KindTransient}
	for _, kind := range retryable {
		assert.True(t, IsRetryable(NewError("x", kind, eris.New("e"))), string(kind))
	}
	terminal := []ErrorKind{KindNotFound, KindPermanent}
	for _, kind := range terminal {
		assert.False(t, IsRetryable(NewError("x", kind, eris.New("e"))), string(kind))
	}
}

func TestKindForStatus(t *testing.T) {
	assert.Equal(t, KindNotFound, kindForStatus(404))
	assert.Equal(t, KindRateLimited, kindForStatus(429))
	assert.Equal(t, KindTransient, kindForStatus(500))
	assert.Equal(t, KindTransient, kindForStatus(503))
	assert.Equal(t, KindTransient, kindForStatus(408))
	assert.Equal(t, KindPermanent, kindForStatus(401))
	assert.Equal(t, KindPermanent, kindForStatus(400))
}
