package session

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// OrgKey is the storage key of the organization snapshot.
const OrgKey = "aptbooks.org.v1"

// Organization is a tenant the user can work in.
type Organization struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	BaseCurrency string `json:"baseCurrency,omitempty"`
}

// OrgSnapshot is the persisted organization state.
type OrgSnapshot struct {
	CurrentOrg    *Organization  `json:"currentOrg"`
	Organizations []Organization `json:"organizations"`
}

func (s OrgSnapshot) clone() OrgSnapshot {
	out := OrgSnapshot{Organizations: slices.Clone(s.Organizations)}
	if s.CurrentOrg != nil {
		o := *s.CurrentOrg
		out.CurrentOrg = &o
	}
	return out
}

// OrgStore holds the organization list and the active organization.
type OrgStore struct {
	mu        sync.RWMutex
	snap      OrgSnapshot
	hydrated  bool
	persister Persister
	key       string
	logger    *slog.Logger
}

// NewOrgStore returns an empty OrgStore backed by p.
func NewOrgStore(p Persister, opts ...Option) *OrgStore {
	o := buildOptions(OrgKey, opts)
	if p == nil {
		p = NewMemoryPersister()
	}
	return &OrgStore{persister: p, key: o.key, logger: o.logger}
}

// Hydrate loads the persisted snapshot once; see Store.Hydrate.
func (s *OrgStore) Hydrate(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hydrated {
		return
	}
	s.hydrated = true

	var snap OrgSnapshot
	if load(ctx, s.persister, s.key, &snap, s.logger) {
		s.snap = snap
	}
}

// Snapshot returns a copy of the current state.
func (s *OrgStore) Snapshot() OrgSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.clone()
}

// CurrentID returns the active organization ID, or "".
func (s *OrgStore) CurrentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap.CurrentOrg == nil {
		return ""
	}
	return s.snap.CurrentOrg.ID
}

// SetOrganizations replaces the list. When the active organization is no
// longer listed it falls back to the first entry (or none).
func (s *OrgStore) SetOrganizations(ctx context.Context, orgs []Organization) {
	s.mutate(ctx, func(snap *OrgSnapshot) {
		snap.Organizations = slices.Clone(orgs)

		if snap.CurrentOrg != nil {
			for _, o := range orgs {
				if o.ID == snap.CurrentOrg.ID {
					cur := o
					snap.CurrentOrg = &cur
					return
				}
			}
		}
		snap.CurrentOrg = nil
		if len(orgs) > 0 {
			first := orgs[0]
			snap.CurrentOrg = &first
		}
	})
}

// SetCurrent marks org as active, adding it to the list if missing.
func (s *OrgStore) SetCurrent(ctx context.Context, org Organization) {
	s.mutate(ctx, func(snap *OrgSnapshot) {
		cur := org
		snap.CurrentOrg = &cur
		if !slices.ContainsFunc(snap.Organizations, func(o Organization) bool { return o.ID == org.ID }) {
			snap.Organizations = append(snap.Organizations, org)
		}
	})
}

// Clear drops the list and the active organization.
func (s *OrgStore) Clear(ctx context.Context) {
	s.mutate(ctx, func(snap *OrgSnapshot) {
		*snap = OrgSnapshot{}
	})
}

func (s *OrgStore) mutate(ctx context.Context, fn func(*OrgSnapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(&s.snap)
	save(ctx, s.persister, s.key, s.snap, s.logger)
}
