// Package api groups the Aptbooks REST calls by domain. Every service is a
// thin wrapper over httpclient.Client: authentication, request ids, token
// refresh and error normalization happen there. Services that receive session
// state from the backend (login, registration, identity, organization switch)
// write it into the injected stores.
//
// Money amounts are integer minor units of the document currency.
package api

import (
	"github.com/Laudkyle/aptbooks/pkg/httpclient"
	"github.com/Laudkyle/aptbooks/pkg/session"
)

// Client bundles the per-domain services.
type Client struct {
	http *httpclient.Client

	Auth           *AuthService
	Organizations  *OrganizationService
	Accounts       *Resource[Account, AccountInput]
	Assets         *Resource[Asset, AssetInput]
	InventoryItems *Resource[InventoryItem, InventoryItemInput]
	Invoices       *InvoiceService
	Bills          *Resource[Bill, BillInput]
	Payments       *Resource[Payment, PaymentInput]
	Budgets        *Resource[Budget, BudgetInput]
	Reports        *ReportService
	Health         *HealthService
}

// New builds the services over hc. orgs receives the organization list and
// the active organization; the auth store is the one hc was built with.
func New(hc *httpclient.Client, orgs *session.OrgStore) *Client {
	auth := hc.Store()
	return &Client{
		http:           hc,
		Auth:           &AuthService{http: hc, auth: auth, orgs: orgs},
		Organizations:  &OrganizationService{http: hc, auth: auth, orgs: orgs},
		Accounts:       newResource[Account, AccountInput](hc, "/accounts"),
		Assets:         newResource[Asset, AssetInput](hc, "/assets"),
		InventoryItems: newResource[InventoryItem, InventoryItemInput](hc, "/inventory-items"),
		Invoices:       &InvoiceService{Resource: newResource[Invoice, InvoiceInput](hc, "/invoices", idempotentCreate())},
		Bills:          newResource[Bill, BillInput](hc, "/bills", idempotentCreate()),
		Payments:       newResource[Payment, PaymentInput](hc, "/payments", idempotentCreate()),
		Budgets:        newResource[Budget, BudgetInput](hc, "/budgets", idempotentCreate()),
		Reports:        &ReportService{http: hc},
		Health:         &HealthService{http: hc},
	}
}

// HTTP returns the underlying client for calls no service covers.
func (c *Client) HTTP() *httpclient.Client {
	return c.http
}
