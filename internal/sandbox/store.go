package sandbox

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Laudkyle/aptbooks/pkg/api"
	apierrors "github.com/Laudkyle/aptbooks/pkg/errors"
	"github.com/Laudkyle/aptbooks/pkg/session"
)

// bcryptCost is the cost factor for bcrypt password hashing.
const bcryptCost = 10

const (
	RoleOwner      = "owner"
	RoleAccountant = "accountant"
	RoleViewer     = "viewer"
)

var resourceNames = []string{"accounts", "assets", "inventory", "invoices", "bills", "payments", "budgets", "reports"}

// permissionsFor expands a role into the permissions carried by its tokens.
func permissionsFor(role string) []string {
	switch role {
	case RoleOwner:
		return []string{"*"}
	case RoleAccountant:
		perms := make([]string, 0, 2*len(resourceNames))
		for _, r := range resourceNames {
			perms = append(perms, r+":read", r+":write")
		}
		return perms
	default:
		perms := make([]string, 0, len(resourceNames))
		for _, r := range resourceNames {
			perms = append(perms, r+":read")
		}
		return perms
	}
}

type user struct {
	ID           string
	Email        string
	Name         string
	PasswordHash []byte
	CreatedAt    time.Time
}

func (u *user) public() *session.User {
	return &session.User{ID: u.ID, Email: u.Email, Name: u.Name}
}

type membership struct {
	OrgID string
	Role  string
}

type refreshRecord struct {
	UserID    string
	OrgID     string
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// collection keeps items in insertion order.
type collection[T any] struct {
	items map[string]T
	order []string
}

func newCollection[T any]() *collection[T] {
	return &collection[T]{items: make(map[string]T)}
}

func (c *collection[T]) get(id string) (T, bool) {
	v, ok := c.items[id]
	return v, ok
}

func (c *collection[T]) put(id string, v T) {
	if _, ok := c.items[id]; !ok {
		c.order = append(c.order, id)
	}
	c.items[id] = v
}

func (c *collection[T]) remove(id string) {
	if _, ok := c.items[id]; !ok {
		return
	}
	delete(c.items, id)
	c.order = slices.DeleteFunc(c.order, func(s string) bool { return s == id })
}

func (c *collection[T]) all() []T {
	out := make([]T, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id])
	}
	return out
}

// orgData is everything one organization owns.
type orgData struct {
	org       session.Organization
	accounts  *collection[api.Account]
	assets    *collection[api.Asset]
	inventory *collection[api.InventoryItem]
	invoices  *collection[api.Invoice]
	bills     *collection[api.Bill]
	payments  *collection[api.Payment]
	budgets   *collection[api.Budget]

	invoiceSeq int
	billSeq    int

	// system account ids by code
	system map[string]string
}

func newOrgData(org session.Organization) *orgData {
	return &orgData{
		org:       org,
		accounts:  newCollection[api.Account](),
		assets:    newCollection[api.Asset](),
		inventory: newCollection[api.InventoryItem](),
		invoices:  newCollection[api.Invoice](),
		bills:     newCollection[api.Bill](),
		payments:  newCollection[api.Payment](),
		budgets:   newCollection[api.Budget](),
		system:    make(map[string]string),
	}
}

// Codes of the accounts every organization starts with. The ledger posts
// receivables, payables, cash and fixed assets to them.
const (
	codeCash        = "1000"
	codeReceivable  = "1100"
	codeInventory   = "1200"
	codeFixedAssets = "1500"
	codePayable     = "2000"
	codeEquity      = "3000"
	codeSales       = "4000"
	codeExpenses    = "5000"
)

var defaultChart = []struct {
	code string
	name string
	typ  api.AccountType
}{
	{codeCash, "Cash", api.AccountAsset},
	{codeReceivable, "Accounts Receivable", api.AccountAsset},
	{codeInventory, "Inventory", api.AccountAsset},
	{codeFixedAssets, "Fixed Assets", api.AccountAsset},
	{codePayable, "Accounts Payable", api.AccountLiability},
	{codeEquity, "Owner's Equity", api.AccountEquity},
	{codeSales, "Sales Revenue", api.AccountRevenue},
	{codeExpenses, "Operating Expenses", api.AccountExpense},
}

func (d *orgData) seedChart(now time.Time) {
	for _, a := range defaultChart {
		acct := api.Account{
			ID:        uuid.NewString(),
			Code:      a.code,
			Name:      a.name,
			Type:      a.typ,
			Currency:  d.org.BaseCurrency,
			Active:    true,
			System:    true,
			CreatedAt: now,
		}
		d.accounts.put(acct.ID, acct)
		d.system[a.code] = acct.ID
	}
}

func (d *orgData) accountByCode(code string) (api.Account, bool) {
	for _, a := range d.accounts.all() {
		if a.Code == code {
			return a, true
		}
	}
	return api.Account{}, false
}

// Store is the sandbox's in-memory state. All access goes through its lock.
type Store struct {
	mu          sync.RWMutex
	users       map[string]*user        // by id
	emails      map[string]string       // lowercased email -> user id
	memberships map[string][]membership // by user id
	orgs        map[string]*orgData
	refresh     map[string]*refreshRecord // by token hash
	now         func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		users:       make(map[string]*user),
		emails:      make(map[string]string),
		memberships: make(map[string][]membership),
		orgs:        make(map[string]*orgData),
		refresh:     make(map[string]*refreshRecord),
		now:         time.Now,
	}
}

// Ping reports whether the store answers. It backs the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.orgs == nil {
		return fmt.Errorf("store not initialized")
	}
	return nil
}

// CreateUser registers a user and an organization they own.
func (s *Store) CreateUser(name, email, password, orgName, currency string) (*user, session.Organization, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, session.Organization{}, fmt.Errorf("hash password: %w", err)
	}
	if currency == "" {
		currency = "USD"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(email)
	if _, exists := s.emails[key]; exists {
		return nil, session.Organization{}, apierrors.AlreadyExists("user", "email", email)
	}

	now := s.now().UTC()
	u := &user{ID: uuid.NewString(), Email: email, Name: name, PasswordHash: hash, CreatedAt: now}
	s.users[u.ID] = u
	s.emails[key] = u.ID

	od := s.createOrgLocked(orgName, strings.ToUpper(currency), now)
	s.memberships[u.ID] = append(s.memberships[u.ID], membership{OrgID: od.org.ID, Role: RoleOwner})
	return u, od.org, nil
}

// AddOrganization creates another organization for userID with the given role.
func (s *Store) AddOrganization(userID, name, currency, role string) (session.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return session.Organization{}, apierrors.NotFound("user", userID)
	}
	od := s.createOrgLocked(name, strings.ToUpper(currency), s.now().UTC())
	s.memberships[userID] = append(s.memberships[userID], membership{OrgID: od.org.ID, Role: role})
	return od.org, nil
}

func (s *Store) createOrgLocked(name, currency string, now time.Time) *orgData {
	od := newOrgData(session.Organization{ID: uuid.NewString(), Name: name, BaseCurrency: currency})
	od.seedChart(now)
	s.orgs[od.org.ID] = od
	return od
}

// Authenticate checks credentials. Unknown email and wrong password are
// indistinguishable to the caller.
func (s *Store) Authenticate(email, password string) (*user, error) {
	s.mu.RLock()
	id, ok := s.emails[strings.ToLower(email)]
	var u *user
	if ok {
		u = s.users[id]
	}
	s.mu.RUnlock()

	if u == nil {
		return nil, apierrors.Unauthorized("invalid email or password")
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, apierrors.Unauthorized("invalid email or password")
	}
	return u, nil
}

// User returns a user by id.
func (s *Store) User(id string) (*user, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, apierrors.NotFound("user", id)
	}
	return u, nil
}

// Organizations lists the organizations userID belongs to, in join order.
func (s *Store) Organizations(userID string) []session.Organization {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]session.Organization, 0, len(s.memberships[userID]))
	for _, m := range s.memberships[userID] {
		if od, ok := s.orgs[m.OrgID]; ok {
			out = append(out, od.org)
		}
	}
	return out
}

// Membership returns userID's role in orgID, or Forbidden.
func (s *Store) Membership(userID, orgID string) (session.Organization, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.memberships[userID] {
		if m.OrgID == orgID {
			return s.orgs[orgID].org, m.Role, nil
		}
	}
	return session.Organization{}, "", apierrors.Forbidden("not a member of organization " + orgID)
}

// SaveRefresh records a refresh token by hash.
func (s *Store) SaveRefresh(token, userID, orgID string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh[hashToken(token)] = &refreshRecord{UserID: userID, OrgID: orgID, ExpiresAt: expiresAt}
}

// RotateRefresh revokes token and returns the record it belonged to. A token
// that is unknown, expired or already revoked is rejected.
func (s *Store) RotateRefresh(token string) (refreshRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.refresh[hashToken(token)]
	if !ok {
		return refreshRecord{}, apierrors.Unauthorized("refresh token not found")
	}
	if rec.RevokedAt != nil {
		return refreshRecord{}, apierrors.Unauthorized("refresh token has been revoked")
	}
	now := s.now().UTC()
	if now.After(rec.ExpiresAt) {
		return refreshRecord{}, apierrors.Unauthorized("refresh token has expired")
	}
	rec.RevokedAt = &now
	return *rec, nil
}

// RevokeRefresh revokes token if it exists.
func (s *Store) RevokeRefresh(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.refresh[hashToken(token)]; ok && rec.RevokedAt == nil {
		now := s.now().UTC()
		rec.RevokedAt = &now
	}
}

// read runs fn with orgID's data under the read lock.
func (s *Store) read(orgID string, fn func(*orgData) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	od, ok := s.orgs[orgID]
	if !ok {
		return apierrors.NotFound("organization", orgID)
	}
	return fn(od)
}

// write runs fn with orgID's data under the write lock.
func (s *Store) write(orgID string, fn func(*orgData) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	od, ok := s.orgs[orgID]
	if !ok {
		return apierrors.NotFound("organization", orgID)
	}
	return fn(od)
}
