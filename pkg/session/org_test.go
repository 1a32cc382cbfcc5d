package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	acme   = Organization{ID: "org_1", Name: "Acme", BaseCurrency: "USD"}
	globex = Organization{ID: "org_2", Name: "Globex", BaseCurrency: "GHS"}
)

func TestOrgStore_SetOrganizationsPicksFirstWhenNoneActive(t *testing.T) {
	s := NewOrgStore(nil)
	s.SetOrganizations(context.Background(), []Organization{acme, globex})

	assert.Equal(t, "org_1", s.CurrentID())
	assert.Len(t, s.Snapshot().Organizations, 2)
}

func TestOrgStore_SetOrganizationsKeepsActiveWhenStillListed(t *testing.T) {
	ctx := context.Background()
	s := NewOrgStore(nil)
	s.SetCurrent(ctx, globex)

	renamed := globex
	renamed.Name = "Globex Corp"
	s.SetOrganizations(ctx, []Organization{acme, renamed})

	snap := s.Snapshot()
	require.NotNil(t, snap.CurrentOrg)
	assert.Equal(t, "Globex Corp", snap.CurrentOrg.Name)
}

func TestOrgStore_SetOrganizationsEmptyClearsActive(t *testing.T) {
	ctx := context.Background()
	s := NewOrgStore(nil)
	s.SetCurrent(ctx, acme)
	s.SetOrganizations(ctx, nil)

	assert.Empty(t, s.CurrentID())
}

func TestOrgStore_SetCurrentAddsMissing(t *testing.T) {
	ctx := context.Background()
	s := NewOrgStore(nil)
	s.SetOrganizations(ctx, []Organization{acme})
	s.SetCurrent(ctx, globex)
	s.SetCurrent(ctx, globex)

	snap := s.Snapshot()
	assert.Equal(t, "org_2", snap.CurrentOrg.ID)
	assert.Equal(t, []Organization{acme, globex}, snap.Organizations)
}

func TestOrgStore_PersistAndHydrate(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPersister()
	NewOrgStore(p).SetOrganizations(ctx, []Organization{acme, globex})

	s := NewOrgStore(p)
	s.Hydrate(ctx)
	assert.Equal(t, "org_1", s.CurrentID())

	s.Clear(ctx)
	fresh := NewOrgStore(p)
	fresh.Hydrate(ctx)
	assert.Empty(t, fresh.CurrentID())
	assert.Empty(t, fresh.Snapshot().Organizations)
}

func TestOrgStore_UsesOwnKey(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryPersister()
	NewOrgStore(p).SetCurrent(ctx, acme)

	_, err := p.Load(ctx, OrgKey)
	assert.NoError(t, err)
	_, err = p.Load(ctx, AuthKey)
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}
