package api

import (
	"context"

	"github.com/Laudkyle/aptbooks/pkg/httpclient"
	"github.com/Laudkyle/aptbooks/pkg/session"
	"github.com/Laudkyle/aptbooks/pkg/validator"
)

// Credentials log an existing user in.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Registration creates a user together with their first organization.
type Registration struct {
	Name             string `json:"name" validate:"required,max=200"`
	Email            string `json:"email" validate:"required,email"`
	Password         string `json:"password" validate:"required,min=8,max=72"`
	OrganizationName string `json:"organizationName" validate:"required,max=200"`
	BaseCurrency     string `json:"baseCurrency,omitempty" validate:"omitempty,currency"`
}

// AuthResponse is the session the backend hands out on login and
// registration. In cookie refresh mode RefreshToken may be empty; the token
// then travels as a cookie.
type AuthResponse struct {
	AccessToken   string                 `json:"accessToken"`
	RefreshToken  string                 `json:"refreshToken,omitempty"`
	User          *session.User          `json:"user"`
	Roles         []string               `json:"roles"`
	Permissions   []string               `json:"permissions"`
	Organizations []session.Organization `json:"organizations,omitempty"`
	CurrentOrg    *session.Organization  `json:"currentOrg,omitempty"`
}

// Identity is the answer of the identity endpoint.
type Identity struct {
	User        *session.User `json:"user"`
	Roles       []string      `json:"roles"`
	Permissions []string      `json:"permissions"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken,omitempty"`
}

// AuthService covers login, registration, logout and identity.
type AuthService struct {
	http *httpclient.Client
	auth *session.Store
	orgs *session.OrgStore
}

// Login exchanges credentials for a session and stores it.
func (s *AuthService) Login(ctx context.Context, c Credentials) (*AuthResponse, error) {
	if err := validator.Validate(c); err != nil {
		return nil, err
	}
	var out AuthResponse
	if err := s.http.Post(ctx, "/auth/login", c, &out, httpclient.WithoutRecovery()); err != nil {
		return nil, err
	}
	s.apply(ctx, &out)
	return &out, nil
}

// Register creates the account and stores the resulting session.
func (s *AuthService) Register(ctx context.Context, r Registration) (*AuthResponse, error) {
	if err := validator.Validate(r); err != nil {
		return nil, err
	}
	var out AuthResponse
	if err := s.http.Post(ctx, "/auth/register", r, &out, httpclient.WithoutRecovery()); err != nil {
		return nil, err
	}
	s.apply(ctx, &out)
	return &out, nil
}

// Logout revokes the refresh token on the backend. Local state is cleared
// whatever the outcome of the call; its error is still returned.
func (s *AuthService) Logout(ctx context.Context) error {
	var body logoutRequest
	if !s.http.Config().CookieRefreshMode {
		body.RefreshToken = s.auth.RefreshToken()
	}
	err := s.http.Post(ctx, "/auth/logout", body, nil)

	s.auth.Clear(ctx)
	if s.orgs != nil {
		s.orgs.Clear(ctx)
	}
	return err
}

// Me fetches the current identity and replaces the stored one wholesale.
func (s *AuthService) Me(ctx context.Context) (*Identity, error) {
	var out Identity
	if err := s.http.Get(ctx, "/me", &out); err != nil {
		return nil, err
	}
	s.auth.SetIdentity(ctx, out.User, out.Roles, out.Permissions)
	return &out, nil
}

func (s *AuthService) apply(ctx context.Context, r *AuthResponse) {
	s.auth.SetSession(ctx, session.Snapshot{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		User:         r.User,
		Roles:        r.Roles,
		Permissions:  r.Permissions,
	})
	if s.orgs == nil {
		return
	}
	if len(r.Organizations) > 0 {
		s.orgs.SetOrganizations(ctx, r.Organizations)
	}
	if r.CurrentOrg != nil {
		s.orgs.SetCurrent(ctx, *r.CurrentOrg)
	}
}
