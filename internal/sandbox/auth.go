package sandbox

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Laudkyle/aptbooks/pkg/api"
	apierrors "github.com/Laudkyle/aptbooks/pkg/errors"
	"github.com/Laudkyle/aptbooks/pkg/httputil"
	"github.com/Laudkyle/aptbooks/pkg/logger"
	"github.com/Laudkyle/aptbooks/pkg/middleware"
	"github.com/Laudkyle/aptbooks/pkg/session"
	"github.com/Laudkyle/aptbooks/pkg/validator"
)

// RefreshCookie carries the refresh token for browser-style clients.
const RefreshCookie = "aptbooks_refresh"

type refreshBody struct {
	RefreshToken string `json:"refreshToken"`
}

type tokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// authHandler serves /auth, /me and /orgs.
type authHandler struct {
	store      *Store
	tokens     *tokenManager
	refreshTTL time.Duration
	secure     bool
}

func (h *authHandler) routes(r chi.Router) {
	r.Post("/register", h.Register)
	r.Post("/login", h.Login)
	r.Post("/refresh", h.Refresh)
	r.Post("/logout", h.Logout)
}

// issue mints a token pair scoped to orgID, stores the refresh hash and sets
// the refresh cookie. bodyRefresh controls whether the refresh token is also
// returned in the body.
func (h *authHandler) issue(w http.ResponseWriter, u *user, orgID, role string, bodyRefresh bool) (tokenPair, error) {
	access, err := h.tokens.issueAccess(u.ID, u.Email, orgID, []string{role}, permissionsFor(role))
	if err != nil {
		return tokenPair{}, err
	}
	refresh, err := newRefreshToken()
	if err != nil {
		return tokenPair{}, err
	}
	h.store.SaveRefresh(refresh, u.ID, orgID, h.store.now().UTC().Add(h.refreshTTL))
	http.SetCookie(w, h.cookie(refresh, int(h.refreshTTL.Seconds())))

	if !bodyRefresh {
		return tokenPair{AccessToken: access}, nil
	}
	return tokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (h *authHandler) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     RefreshCookie,
		Value:    value,
		Path:     "/auth",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (h *authHandler) session(w http.ResponseWriter, r *http.Request, u *user, status int) {
	orgs := h.store.Organizations(u.ID)
	if len(orgs) == 0 {
		writeFlatError(w, r, apierrors.Forbidden("user has no organization"))
		return
	}
	current := orgs[0]
	_, role, err := h.store.Membership(u.ID, current.ID)
	if err != nil {
		writeFlatError(w, r, err)
		return
	}
	pair, err := h.issue(w, u, current.ID, role, true)
	if err != nil {
		writeFlatError(w, r, err)
		return
	}
	httputil.WriteJSON(w, status, api.AuthResponse{
		AccessToken:   pair.AccessToken,
		RefreshToken:  pair.RefreshToken,
		User:          u.public(),
		Roles:         []string{role},
		Permissions:   permissionsFor(role),
		Organizations: orgs,
		CurrentOrg:    &current,
	})
}

// Register handles POST /auth/register.
func (h *authHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req api.Registration
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		writeFlatError(w, r, err)
		return
	}
	u, _, err := h.store.CreateUser(req.Name, req.Email, req.Password, req.OrganizationName, req.BaseCurrency)
	if err != nil {
		writeFlatError(w, r, err)
		return
	}
	logger.FromContext(r.Context()).InfoContext(r.Context(), "user registered", slog.String("user_id", u.ID))
	h.session(w, r, u, http.StatusCreated)
}

// Login handles POST /auth/login.
func (h *authHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req api.Credentials
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		writeFlatError(w, r, err)
		return
	}
	u, err := h.store.Authenticate(req.Email, req.Password)
	if err != nil {
		logger.FromContext(r.Context()).WarnContext(r.Context(), "login failed", slog.String("email", req.Email))
		writeFlatError(w, r, err)
		return
	}
	h.session(w, r, u, http.StatusOK)
}

// refreshToken reads the token from the cookie, falling back to the body.
func refreshToken(r *http.Request) (string, bool) {
	if c, err := r.Cookie(RefreshCookie); err == nil && c.Value != "" {
		return c.Value, true
	}
	var body refreshBody
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		return "", false
	}
	return body.RefreshToken, false
}

// Refresh handles POST /auth/refresh. The presented token is revoked and a
// new pair scoped to the same organization is issued. A token presented as a
// cookie is only ever answered with a cookie.
func (h *authHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token, fromCookie := refreshToken(r)
	if token == "" {
		writeFlatError(w, r, apierrors.Unauthorized("refresh token is required"))
		return
	}
	rec, err := h.store.RotateRefresh(token)
	if err != nil {
		if fromCookie {
			http.SetCookie(w, h.cookie("", -1))
		}
		writeFlatError(w, r, err)
		return
	}
	u, err := h.store.User(rec.UserID)
	if err != nil {
		writeFlatError(w, r, apierrors.Unauthorized("refresh token owner no longer exists"))
		return
	}
	_, role, err := h.store.Membership(u.ID, rec.OrgID)
	if err != nil {
		writeFlatError(w, r, apierrors.Unauthorized("membership revoked"))
		return
	}
	pair, err := h.issue(w, u, rec.OrgID, role, !fromCookie)
	if err != nil {
		writeFlatError(w, r, err)
		return
	}
	logger.FromContext(r.Context()).DebugContext(r.Context(), "token refreshed", slog.String("user_id", u.ID))
	httputil.WriteJSON(w, http.StatusOK, pair)
}

// Logout handles POST /auth/logout. It always succeeds.
func (h *authHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token, fromCookie := refreshToken(r)
	if token != "" {
		h.store.RevokeRefresh(token)
	}
	if fromCookie {
		http.SetCookie(w, h.cookie("", -1))
	}
	httputil.WriteNoContent(w)
}

// Me handles GET /me.
func (h *authHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	u, err := h.store.User(claims.UserID)
	if err != nil {
		writeFlatError(w, r, apierrors.Unauthorized("user no longer exists"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, api.Identity{
		User:        u.public(),
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
	})
}

// ListOrgs handles GET /orgs.
func (h *authHandler) ListOrgs(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	httputil.WriteJSON(w, http.StatusOK, struct {
		Data []session.Organization `json:"data"`
	}{Data: h.store.Organizations(claims.UserID)})
}

// SwitchOrg handles POST /orgs/{id}/switch by issuing a pair scoped to the
// target organization.
func (h *authHandler) SwitchOrg(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	orgID := chi.URLParam(r, "id")

	org, role, err := h.store.Membership(claims.UserID, orgID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	u, err := h.store.User(claims.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	pair, err := h.issue(w, u, org.ID, role, true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	logger.FromContext(r.Context()).InfoContext(r.Context(), "organization switched", slog.String("org_id", org.ID))
	httputil.WriteJSON(w, http.StatusOK, api.SwitchResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		Organization: org,
		Roles:        []string{role},
		Permissions:  permissionsFor(role),
	})
}
