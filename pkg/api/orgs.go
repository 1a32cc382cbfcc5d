package api

import (
	"context"
	"net/url"

	apierrors "github.com/Laudkyle/aptbooks/pkg/errors"
	"github.com/Laudkyle/aptbooks/pkg/httpclient"
	"github.com/Laudkyle/aptbooks/pkg/session"
)

// SwitchResponse carries the tokens re-issued for the target organization.
type SwitchResponse struct {
	AccessToken  string               `json:"accessToken"`
	RefreshToken string               `json:"refreshToken,omitempty"`
	Organization session.Organization `json:"organization"`
	Roles        []string             `json:"roles"`
	Permissions  []string             `json:"permissions"`
}

type orgList struct {
	Data []session.Organization `json:"data"`
}

// OrganizationService lists the caller's organizations and switches between
// them.
type OrganizationService struct {
	http *httpclient.Client
	auth *session.Store
	orgs *session.OrgStore
}

// List fetches the organizations the caller belongs to and stores them.
func (s *OrganizationService) List(ctx context.Context) ([]session.Organization, error) {
	var out orgList
	if err := s.http.Get(ctx, "/orgs", &out); err != nil {
		return nil, err
	}
	if s.orgs != nil {
		s.orgs.SetOrganizations(ctx, out.Data)
	}
	return out.Data, nil
}

// Switch makes id the active organization. The backend re-issues tokens
// scoped to it; the roles and permissions of the new scope replace the stored
// ones while the user stays the same.
func (s *OrganizationService) Switch(ctx context.Context, id string) (*SwitchResponse, error) {
	if id == "" {
		return nil, apierrors.InvalidInput("organization id is required", nil)
	}
	var out SwitchResponse
	if err := s.http.Post(ctx, "/orgs/"+url.PathEscape(id)+"/switch", nil, &out); err != nil {
		return nil, err
	}

	refresh := out.RefreshToken
	if refresh == "" {
		refresh = s.auth.RefreshToken()
	}
	snap := s.auth.Snapshot()
	s.auth.SetSession(ctx, session.Snapshot{
		AccessToken:  out.AccessToken,
		RefreshToken: refresh,
		User:         snap.User,
		Roles:        out.Roles,
		Permissions:  out.Permissions,
	})
	if s.orgs != nil {
		s.orgs.SetCurrent(ctx, out.Organization)
	}
	return &out, nil
}

// Current returns the active organization from the store, or nil.
func (s *OrganizationService) Current() *session.Organization {
	if s.orgs == nil {
		return nil
	}
	return s.orgs.Snapshot().CurrentOrg
}
