// Package session holds the client-side authentication and organization
// state. Both stores are explicitly injected into the HTTP client; every
// mutation is a full-snapshot overwrite persisted through a Persister, and the
// last writer wins.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"
)

// AuthKey is the storage key of the auth snapshot.
const AuthKey = "aptbooks.auth.v1"

// User is the identity snapshot returned by the backend.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Snapshot is the persisted auth state.
type Snapshot struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	User         *User    `json:"user"`
	Roles        []string `json:"roles"`
	Permissions  []string `json:"permissions"`
}

func (s Snapshot) clone() Snapshot {
	out := s
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	out.Roles = slices.Clone(s.Roles)
	out.Permissions = slices.Clone(s.Permissions)
	return out
}

// Option configures a store.
type Option func(*options)

type options struct {
	logger *slog.Logger
	key    string
}

// WithLogger sets the logger used to report ignored persistence failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithKey overrides the storage key.
func WithKey(key string) Option {
	return func(o *options) { o.key = key }
}

func buildOptions(defaultKey string, opts []Option) options {
	o := options{logger: slog.Default(), key: defaultKey}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Store is the process-wide auth state: tokens plus identity. It is safe for
// concurrent use.
type Store struct {
	mu        sync.RWMutex
	snap      Snapshot
	hydrated  bool
	persister Persister
	key       string
	logger    *slog.Logger
}

// NewStore returns an empty Store backed by p. Call Hydrate once at startup.
func NewStore(p Persister, opts ...Option) *Store {
	o := buildOptions(AuthKey, opts)
	if p == nil {
		p = NewMemoryPersister()
	}
	return &Store{persister: p, key: o.key, logger: o.logger}
}

// Hydrate loads the persisted snapshot. Only the first call reads storage. A
// missing, unreadable or corrupt snapshot leaves the store empty.
func (s *Store) Hydrate(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hydrated {
		return
	}
	s.hydrated = true

	var snap Snapshot
	if load(ctx, s.persister, s.key, &snap, s.logger) {
		s.snap = snap
	}
}

// AccessToken returns the current access token, or "".
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.AccessToken
}

// RefreshToken returns the current refresh token, or "".
func (s *Store) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.RefreshToken
}

// IsAuthenticated reports whether an access token is held.
func (s *Store) IsAuthenticated() bool {
	return s.AccessToken() != ""
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.clone()
}

// SetTokens replaces both tokens, keeping identity.
func (s *Store) SetTokens(ctx context.Context, accessToken, refreshToken string) {
	s.mutate(ctx, func(snap *Snapshot) {
		snap.AccessToken = accessToken
		snap.RefreshToken = refreshToken
	})
}

// SetIdentity replaces user, roles and permissions wholesale.
func (s *Store) SetIdentity(ctx context.Context, user *User, roles, permissions []string) {
	s.mutate(ctx, func(snap *Snapshot) {
		next := Snapshot{User: user, Roles: roles, Permissions: permissions}.clone()
		snap.User = next.User
		snap.Roles = next.Roles
		snap.Permissions = next.Permissions
	})
}

// SetSession replaces the entire state, as login and registration do.
func (s *Store) SetSession(ctx context.Context, next Snapshot) {
	s.mutate(ctx, func(snap *Snapshot) {
		*snap = next.clone()
	})
}

// Clear drops tokens and identity together.
func (s *Store) Clear(ctx context.Context) {
	s.mutate(ctx, func(snap *Snapshot) {
		*snap = Snapshot{}
	})
}

func (s *Store) mutate(ctx context.Context, fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(&s.snap)
	save(ctx, s.persister, s.key, s.snap, s.logger)
}

// load decodes the blob stored under key into dst. It returns false, logging
// the reason, for anything other than a clean read.
func load(ctx context.Context, p Persister, key string, dst any, l *slog.Logger) bool {
	data, err := p.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrSnapshotNotFound) {
			l.WarnContext(ctx, "session snapshot unreadable, starting empty",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		l.WarnContext(ctx, "session snapshot corrupt, starting empty",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// save writes the full snapshot. Failures are logged and swallowed: the
// in-memory state stays authoritative.
func save(ctx context.Context, p Persister, key string, v any, l *slog.Logger) {
	data, err := json.Marshal(v)
	if err != nil {
		l.WarnContext(ctx, "encode session snapshot", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	if err := p.Save(ctx, key, data); err != nil {
		l.WarnContext(ctx, "persist session snapshot",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}
