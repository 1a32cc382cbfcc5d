package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/Laudkyle/aptbooks/pkg/errors"
	"github.com/Laudkyle/aptbooks/pkg/health"
	"github.com/Laudkyle/aptbooks/pkg/httpclient"
	"github.com/Laudkyle/aptbooks/pkg/logger"
	"github.com/Laudkyle/aptbooks/pkg/pagination"
	"github.com/Laudkyle/aptbooks/pkg/requestid"
	"github.com/Laudkyle/aptbooks/pkg/session"
	"github.com/Laudkyle/aptbooks/pkg/validator"
)

type recorded struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

// backend records every request and answers through the route table.
type backend struct {
	mu     sync.Mutex
	calls  []recorded
	routes map[string]http.HandlerFunc
}

func newBackend(t *testing.T) (*backend, *httptest.Server) {
	t.Helper()
	b := &backend{routes: map[string]http.HandlerFunc{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.calls = append(b.calls, recorded{r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Clone(), body})
		h, ok := b.routes[r.Method+" "+r.URL.Path]
		b.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{"code": "NOT_FOUND", "message": "no route"}})
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *backend) on(route string, status int, v any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routes[route] = func(w http.ResponseWriter, _ *http.Request) { writeJSON(w, status, v) }
}

func (b *backend) last(t *testing.T) recorded {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.calls)
	return b.calls[len(b.calls)-1]
}

func (b *backend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestAPI(t *testing.T, baseURL string, access, refresh string) (*Client, *session.Store, *session.OrgStore) {
	t.Helper()
	store := session.NewStore(nil)
	if access != "" {
		store.SetSession(context.Background(), session.Snapshot{
			AccessToken:  access,
			RefreshToken: refresh,
			User:         &session.User{ID: "u1", Email: "ada@example.com", Name: "Ada"},
			Roles:        []string{"owner"},
			Permissions:  []string{"*"},
		})
	}
	orgs := session.NewOrgStore(nil)
	cfg := httpclient.DefaultConfig(baseURL)
	cfg.Timeout = 5 * time.Second
	hc, err := httpclient.New(cfg, store, httpclient.WithLogger(logger.Discard()))
	require.NoError(t, err)
	return New(hc, orgs), store, orgs
}

func TestAuth_LoginStoresSessionAndOrganizations(t *testing.T) {
	b, srv := newBackend(t)
	b.on("POST /auth/login", http.StatusOK, map[string]any{
		"accessToken":  "acc-1",
		"refreshToken": "ref-1",
		"user":         map[string]any{"id": "u1", "email": "ada@example.com", "name": "Ada"},
		"roles":        []string{"owner"},
		"permissions":  []string{"*"},
		"organizations": []map[string]any{
			{"id": "o1", "name": "Acme", "baseCurrency": "USD"},
			{"id": "o2", "name": "Globex", "baseCurrency": "EUR"},
		},
		"currentOrg": map[string]any{"id": "o2", "name": "Globex", "baseCurrency": "EUR"},
	})
	c, store, orgs := newTestAPI(t, srv.URL, "", "")

	resp, err := c.Auth.Login(context.Background(), Credentials{Email: "ada@example.com", Password: "Secret123"})
	require.NoError(t, err)
	assert.Equal(t, "acc-1", resp.AccessToken)

	snap := store.Snapshot()
	assert.Equal(t, "acc-1", snap.AccessToken)
	assert.Equal(t, "ref-1", snap.RefreshToken)
	require.NotNil(t, snap.User)
	assert.Equal(t, "Ada", snap.User.Name)
	assert.Equal(t, []string{"owner"}, snap.Roles)

	org := orgs.Snapshot()
	assert.Len(t, org.Organizations, 2)
	require.NotNil(t, org.CurrentOrg)
	assert.Equal(t, "o2", org.CurrentOrg.ID)

	call := b.last(t)
	assert.Empty(t, call.Header.Get("Authorization"))
	assert.NotEmpty(t, call.Header.Get(requestid.HeaderRequestID))
	assert.JSONEq(t, `{"email":"ada@example.com","password":"Secret123"}`, string(call.Body))
}

func TestAuth_LoginValidatesBeforeSending(t *testing.T) {
	b, srv := newBackend(t)
	c, _, _ := newTestAPI(t, srv.URL, "", "")

	_, err := c.Auth.Login(context.Background(), Credentials{Email: "not-an-email"})

	var verr *validator.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "must be a valid email address", verr.Fields()["email"])
	assert.Equal(t, "is required", verr.Fields()["password"])
	assert.Zero(t, b.count())
}

func TestAuth_LoginFailureLeavesStoreUntouched(t *testing.T) {
	b, srv := newBackend(t)
	b.on("POST /auth/login", http.StatusUnauthorized, map[string]any{"code": "UNAUTHORIZED", "message": "invalid email or password"})
	c, store, _ := newTestAPI(t, srv.URL, "", "")

	_, err := c.Auth.Login(context.Background(), Credentials{Email: "ada@example.com", Password: "wrong"})
	require.Error(t, err)

	n := apierrors.Normalize(err)
	assert.Equal(t, http.StatusUnauthorized, n.Status)
	assert.Equal(t, "invalid email or password", n.Message)
	assert.False(t, store.IsAuthenticated())
}

func TestAuth_LogoutClearsStoresEvenOnFailure(t *testing.T) {
	b, srv := newBackend(t)
	b.on("POST /auth/logout", http.StatusInternalServerError, map[string]any{"error": map[string]any{"code": "INTERNAL_ERROR", "message": "boom"}})
	c, store, orgs := newTestAPI(t, srv.URL, "acc", "ref")
	orgs.SetCurrent(context.Background(), session.Organization{ID: "o1", Name: "Acme"})

	err := c.Auth.Logout(context.Background())
	require.Error(t, err)

	assert.False(t, store.IsAuthenticated())
	assert.Nil(t, store.Snapshot().User)
	assert.Nil(t, orgs.Snapshot().CurrentOrg)
	assert.JSONEq(t, `{"refreshToken":"ref"}`, string(b.last(t).Body))
}

func TestAuth_MeReplacesIdentityWholesale(t *testing.T) {
	b, srv := newBackend(t)
	b.on("GET /me", http.StatusOK, map[string]any{
		"user":        map[string]any{"id": "u1", "email": "ada@example.com"},
		"roles":       []string{"viewer"},
		"permissions": []string{"reports:read"},
	})
	c, store, _ := newTestAPI(t, srv.URL, "acc", "ref")

	id, err := c.Auth.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"viewer"}, id.Roles)

	snap := store.Snapshot()
	assert.Equal(t, "acc", snap.AccessToken, "tokens survive an identity update")
	assert.Equal(t, []string{"viewer"}, snap.Roles)
	assert.Equal(t, []string{"reports:read"}, snap.Permissions)
	assert.Empty(t, snap.User.Name, "no merge with the previous user")
	assert.Equal(t, "Bearer acc", b.last(t).Header.Get("Authorization"))
}

func TestOrganizations_ListWritesStore(t *testing.T) {
	b, srv := newBackend(t)
	b.on("GET /orgs", http.StatusOK, map[string]any{"data": []map[string]any{{"id": "o1", "name": "Acme"}}})
	c, _, orgs := newTestAPI(t, srv.URL, "acc", "ref")

	list, err := c.Organizations.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)

	snap := orgs.Snapshot()
	require.NotNil(t, snap.CurrentOrg)
	assert.Equal(t, "o1", snap.CurrentOrg.ID)
	assert.Equal(t, "o1", c.Organizations.Current().ID)
}

func TestOrganizations_SwitchReissuesTokens(t *testing.T) {
	b, srv := newBackend(t)
	b.on("POST /orgs/o2/switch", http.StatusOK, map[string]any{
		"accessToken":  "acc-o2",
		"organization": map[string]any{"id": "o2", "name": "Globex"},
		"roles":        []string{"accountant"},
		"permissions":  []string{"invoices:write"},
	})
	c, store, orgs := newTestAPI(t, srv.URL, "acc", "ref")

	_, err := c.Organizations.Switch(context.Background(), "o2")
	require.NoError(t, err)

	snap := store.Snapshot()
	assert.Equal(t, "acc-o2", snap.AccessToken)
	assert.Equal(t, "ref", snap.RefreshToken, "refresh token kept when none is re-issued")
	assert.Equal(t, "u1", snap.User.ID)
	assert.Equal(t, []string{"accountant"}, snap.Roles)
	assert.Equal(t, "o2", orgs.CurrentID())
}

func TestOrganizations_SwitchRequiresID(t *testing.T) {
	_, srv := newBackend(t)
	c, _, _ := newTestAPI(t, srv.URL, "acc", "ref")

	_, err := c.Organizations.Switch(context.Background(), "")
	assert.ErrorIs(t, err, apierrors.ErrInvalidInput)
}

func TestResource_ListSendsPagination(t *testing.T) {
	b, srv := newBackend(t)
	b.on("GET /accounts", http.StatusOK, pagination.NewResult([]Account{{ID: "a1", Code: "1000", Name: "Cash"}}, 41, pagination.New(3, 20)))
	c, _, _ := newTestAPI(t, srv.URL, "acc", "ref")

	res, err := c.Accounts.List(context.Background(), pagination.New(3, 20))
	require.NoError(t, err)
	assert.Equal(t, 41, res.TotalCount)
	assert.Equal(t, 3, res.TotalPages)
	require.Len(t, res.Data, 1)
	assert.Equal(t, "Cash", res.Data[0].Name)
	assert.Equal(t, "page=3&per_page=20", b.last(t).Query)
}

func TestResource_SearchAddsFilter(t *testing.T) {
	b, srv := newBackend(t)
	b.on("GET /invoices", http.StatusOK, pagination.NewResult([]Invoice{}, 0, pagination.DefaultParams()))
	c, _, _ := newTestAPI(t, srv.URL, "acc", "ref")

	_, err := c.Invoices.Search(context.Background(), pagination.DefaultParams(), map[string][]string{"status": {"posted"}})
	require.NoError(t, err)
	assert.Equal(t, "page=1&per_page=20&status=posted", b.last(t).Query)
}

func TestResource_CreateValidatesBeforeSending(t *testing.T) {
	b, srv := newBackend(t)
	c, _, _ := newTestAPI(t, srv.URL, "acc", "ref")

	_, err := c.Accounts.Create(context.Background(), AccountInput{Code: "1000", Name: "Cash", Type: "cash", Currency: "usd"})

	var verr *validator.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields(), "type")
	assert.Contains(t, verr.Fields(), "currency")
	assert.Zero(t, b.count())
}

func TestResource_CreateWithoutIdempotencyKey(t *testing.T) {
	b, srv := newBackend(t)
	b.on("POST /accounts", http.StatusCreated, Account{ID: "a1", Code: "1000", Name: "Cash", Type: AccountAsset})
	c, _, _ := newTestAPI(t, srv.URL, "acc", "ref")

	acct, err := c.Accounts.Create(context.Background(), AccountInput{Code: "1000", Name: "Cash", Type: AccountAsset, Currency: "USD"})
	require.NoError(t, err)
	assert.Equal(t, "a1", acct.ID)
	assert.Empty(t, b.last(t).Header.Get(requestid.HeaderIdempotencyKey))
}

func validInvoice() InvoiceInput {
	return InvoiceInput{
		CustomerName: "Initech",
		IssueDate:    "2026-01-05",
		DueDate:      "2026-02-04",
		Currency:     "USD",
		Lines:        []Line{{AccountID: "7d3c1a2e-3f4b-4c5d-8e9f-0a1b2c3d4e5f", Quantity: 2, UnitPrice: 5000}},
	}
}

func TestInvoices_MutationsCarryIdempotencyKey(t *testing.T) {
	b, srv := newBackend(t)
	b.on("POST /invoices", http.StatusCreated, Invoice{ID: "i1", Status: StatusDraft})
	b.on("POST /invoices/i1/post", http.StatusOK, Invoice{ID: "i1", Status: StatusPosted})
	b.on("POST /invoices/i1/void", http.StatusOK, Invoice{ID: "i1", Status: StatusVoid})
	c, _, _ := newTestAPI(t, srv.URL, "acc", "ref")
	ctx := context.Background()

	_, err := c.Invoices.Create(ctx, validInvoice())
	require.NoError(t, err)
	createKey := b.last(t).Header.Get(requestid.HeaderIdempotencyKey)
	assert.NotEmpty(t, createKey)

	inv, err := c.Invoices.Post(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, StatusPosted, inv.Status)
	postKey := b.last(t).Header.Get(requestid.HeaderIdempotencyKey)
	assert.NotEmpty(t, postKey)
	assert.NotEqual(t, createKey, postKey)

	inv, err = c.Invoices.Void(ctx, "i1", VoidRequest{Reason: "duplicate"})
	require.NoError(t, err)
	assert.Equal(t, StatusVoid, inv.Status)
	assert.NotEmpty(t, b.last(t).Header.Get(requestid.HeaderIdempotencyKey))
	assert.JSONEq(t, `{"reason":"duplicate"}`, string(b.last(t).Body))
}

func TestInvoices_PinnedKeyIsReused(t *testing.T) {
	b, srv := newBackend(t)
	b.on("POST /payments", http.StatusCreated, Payment{ID: "p1"})
	c, _, _ := newTestAPI(t, srv.URL, "acc", "ref")
	ctx := requestid.WithIdempotencyKey(context.Background(), "pay-once")

	in := PaymentInput{
		Direction: PaymentReceived,
		InvoiceID: "7d3c1a2e-3f4b-4c5d-8e9f-0a1b2c3d4e5f",
		Amount:    10000,
		Currency:  "USD",
		PaidOn:    "2026-02-01",
		Method:    "bank",
	}
	for range 2 {
		_, err := c.Payments.Create(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, "pay-once", b.last(t).Header.Get(requestid.HeaderIdempotencyKey))
	}
}

func TestResource_GetUpdateDelete(t *testing.T) {
	b, srv := newBackend(t)
	b.on("GET /budgets/b1", http.StatusOK, Budget{ID: "b1", Name: "FY26"})
	b.on("PUT /budgets/b1", http.StatusOK, Budget{ID: "b1", Name: "FY26 revised"})
	b.on("DELETE /budgets/b1", http.StatusNoContent, nil)
	c, _, _ := newTestAPI(t, srv.URL, "acc", "ref")
	ctx := context.Background()

	got, err := c.Budgets.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "FY26", got.Name)

	upd, err := c.Budgets.Update(ctx, "b1", BudgetInput{
		Name:       "FY26 revised",
		FiscalYear: 2026,
		Currency:   "USD",
		Lines:      []BudgetLine{{AccountID: "7d3c1a2e-3f4b-4c5d-8e9f-0a1b2c3d4e5f", Period: 1, Amount: 100}},
	})
	require.NoError(t, err)
	assert.Equal(t, "FY26 revised", upd.Name)
	assert.Empty(t, b.last(t).Header.Get(requestid.HeaderIdempotencyKey))

	require.NoError(t, c.Budgets.Delete(ctx, "b1"))
	assert.Equal(t, http.MethodDelete, b.last(t).Method)
}

func TestResource_EmptyIDRejected(t *testing.T) {
	b, srv := newBackend(t)
	c, _, _ := newTestAPI(t, srv.URL, "acc", "ref")

	_, err := c.Assets.Get(context.Background(), "")
	assert.ErrorIs(t, err, apierrors.ErrInvalidInput)
	assert.ErrorIs(t, c.Assets.Delete(context.Background(), ""), apierrors.ErrInvalidInput)
	assert.Zero(t, b.count())
}

func TestResource_NotFoundNormalizes(t *testing.T) {
	_, srv := newBackend(t)
	c, _, _ := newTestAPI(t, srv.URL, "acc", "ref")

	_, err := c.InventoryItems.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(apierrors.Kind(err), apierrors.ErrNotFound))
	assert.Equal(t, "NOT_FOUND", apierrors.Normalize(err).Code)
}

func TestReports_DateRangeQuery(t *testing.T) {
	b, srv := newBackend(t)
	b.on("GET /reports/trial-balance", http.StatusOK, TrialBalance{To: "2026-03-31", TotalDebit: 500, TotalCredit: 500})
	b.on("GET /reports/balance-sheet", http.StatusOK, BalanceSheet{AsOf: "2026-03-31"})
	c, _, _ := newTestAPI(t, srv.URL, "acc", "ref")
	ctx := context.Background()

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)

	tb, err := c.Reports.TrialBalance(ctx, DateRange{From: from, To: to})
	require.NoError(t, err)
	assert.True(t, tb.Balanced())
	assert.Equal(t, "from=2026-01-01&to=2026-03-31", b.last(t).Query)

	_, err = c.Reports.BalanceSheet(ctx, to)
	require.NoError(t, err)
	assert.Equal(t, "to=2026-03-31", b.last(t).Query)
}

func TestReports_InvertedRangeRejected(t *testing.T) {
	b, srv := newBackend(t)
	c, _, _ := newTestAPI(t, srv.URL, "acc", "ref")

	_, err := c.Reports.ProfitAndLoss(context.Background(), DateRange{
		From: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.ErrorIs(t, err, apierrors.ErrInvalidInput)
	assert.Zero(t, b.count())
}

func TestHealth_ReadyDecodesUnavailableBody(t *testing.T) {
	b, srv := newBackend(t)
	b.on("GET /readyz", http.StatusServiceUnavailable, health.Response{
		Status: health.StatusDown,
		Checks: map[string]health.CheckResult{"ledger": {Status: health.StatusDown, Critical: true, Error: "locked"}},
	})
	b.on("GET /healthz", http.StatusOK, health.Response{Status: health.StatusUp})
	c, _, _ := newTestAPI(t, srv.URL, "acc", "ref")

	live, err := c.Health.Live(context.Background())
	require.NoError(t, err)
	assert.Equal(t, health.StatusUp, live.Status)
	assert.Empty(t, b.last(t).Header.Get("Authorization"), "health paths are exempt")

	ready, err := c.Health.Ready(context.Background())
	require.Error(t, err)
	require.NotNil(t, ready)
	assert.Equal(t, []string{"ledger"}, ready.Down())
	assert.ErrorIs(t, apierrors.Kind(err), apierrors.ErrServiceUnavail)
}
