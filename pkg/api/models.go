package api

import "time"

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

// AccountType classifies a ledger account.
type AccountType string

const (
	AccountAsset     AccountType = "asset"
	AccountLiability AccountType = "liability"
	AccountEquity    AccountType = "equity"
	AccountRevenue   AccountType = "revenue"
	AccountExpense   AccountType = "expense"
)

// DebitNormal reports whether the account's balance grows with debits.
func (t AccountType) DebitNormal() bool {
	return t == AccountAsset || t == AccountExpense
}

// Account is an entry in the chart of accounts.
type Account struct {
	ID        string      `json:"id"`
	Code      string      `json:"code"`
	Name      string      `json:"name"`
	Type      AccountType `json:"type"`
	ParentID  string      `json:"parentId,omitempty"`
	Currency  string      `json:"currency"`
	Active    bool        `json:"active"`
	System    bool        `json:"system"`
	CreatedAt time.Time   `json:"createdAt"`
}

// AccountInput creates or replaces an account.
type AccountInput struct {
	Code     string      `json:"code" validate:"required,max=20"`
	Name     string      `json:"name" validate:"required,max=200"`
	Type     AccountType `json:"type" validate:"required,oneof=asset liability equity revenue expense"`
	ParentID string      `json:"parentId,omitempty" validate:"omitempty,uuid"`
	Currency string      `json:"currency" validate:"required,currency"`
	Active   *bool       `json:"active,omitempty"`
}

// DepreciationMethod is how a fixed asset loses value.
type DepreciationMethod string

const (
	StraightLine     DepreciationMethod = "straight_line"
	DecliningBalance DepreciationMethod = "declining_balance"
)

// Asset is a fixed asset on the register.
type Asset struct {
	ID                  string             `json:"id"`
	Name                string             `json:"name"`
	Category            string             `json:"category,omitempty"`
	AcquiredOn          string             `json:"acquiredOn"`
	Cost                int64              `json:"cost"`
	SalvageValue        int64              `json:"salvageValue"`
	UsefulLifeMonths    int                `json:"usefulLifeMonths"`
	Method              DepreciationMethod `json:"method"`
	MonthlyDepreciation int64              `json:"monthlyDepreciation"`
	CreatedAt           time.Time          `json:"createdAt"`
}

// AssetInput creates or replaces a fixed asset.
type AssetInput struct {
	Name             string             `json:"name" validate:"required,max=200"`
	Category         string             `json:"category,omitempty" validate:"max=100"`
	AcquiredOn       string             `json:"acquiredOn" validate:"required,datetime=2006-01-02"`
	Cost             int64              `json:"cost" validate:"gt=0"`
	SalvageValue     int64              `json:"salvageValue" validate:"gte=0,ltefield=Cost"`
	UsefulLifeMonths int                `json:"usefulLifeMonths" validate:"gt=0,lte=600"`
	Method           DepreciationMethod `json:"method" validate:"required,oneof=straight_line declining_balance"`
}

// InventoryItem is a stocked product.
type InventoryItem struct {
	ID             string    `json:"id"`
	SKU            string    `json:"sku"`
	Name           string    `json:"name"`
	Unit           string    `json:"unit"`
	QuantityOnHand int64     `json:"quantityOnHand"`
	UnitCost       int64     `json:"unitCost"`
	ReorderLevel   int64     `json:"reorderLevel"`
	NeedsReorder   bool      `json:"needsReorder"`
	CreatedAt      time.Time `json:"createdAt"`
}

// InventoryItemInput creates or replaces an inventory item.
type InventoryItemInput struct {
	SKU            string `json:"sku" validate:"required,max=64"`
	Name           string `json:"name" validate:"required,max=200"`
	Unit           string `json:"unit" validate:"required,max=20"`
	QuantityOnHand int64  `json:"quantityOnHand" validate:"gte=0"`
	UnitCost       int64  `json:"unitCost" validate:"gte=0"`
	ReorderLevel   int64  `json:"reorderLevel" validate:"gte=0"`
}

// Line is one row of an invoice or bill.
type Line struct {
	AccountID   string `json:"accountId" validate:"required,uuid"`
	Description string `json:"description,omitempty" validate:"max=500"`
	Quantity    int64  `json:"quantity" validate:"gt=0"`
	UnitPrice   int64  `json:"unitPrice" validate:"gte=0"`
}

// Amount is quantity times unit price.
func (l Line) Amount() int64 {
	return l.Quantity * l.UnitPrice
}

// DocumentStatus is the lifecycle state of an invoice or bill.
type DocumentStatus string

const (
	StatusDraft  DocumentStatus = "draft"
	StatusPosted DocumentStatus = "posted"
	StatusPaid   DocumentStatus = "paid"
	StatusVoid   DocumentStatus = "void"
)

// Invoice is a sales document billed to a customer.
type Invoice struct {
	ID           string         `json:"id"`
	Number       string         `json:"number"`
	CustomerName string         `json:"customerName"`
	IssueDate    string         `json:"issueDate"`
	DueDate      string         `json:"dueDate"`
	Currency     string         `json:"currency"`
	Lines        []Line         `json:"lines"`
	Status       DocumentStatus `json:"status"`
	Total        int64          `json:"total"`
	AmountPaid   int64          `json:"amountPaid"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// InvoiceInput creates or replaces a draft invoice.
type InvoiceInput struct {
	CustomerName string `json:"customerName" validate:"required,max=200"`
	IssueDate    string `json:"issueDate" validate:"required,datetime=2006-01-02"`
	DueDate      string `json:"dueDate" validate:"required,datetime=2006-01-02"`
	Currency     string `json:"currency" validate:"required,currency"`
	Lines        []Line `json:"lines" validate:"required,min=1,dive"`
}

// Bill is a purchase document owed to a vendor.
type Bill struct {
	ID         string         `json:"id"`
	Number     string         `json:"number"`
	VendorName string         `json:"vendorName"`
	IssueDate  string         `json:"issueDate"`
	DueDate    string         `json:"dueDate"`
	Currency   string         `json:"currency"`
	Lines      []Line         `json:"lines"`
	Status     DocumentStatus `json:"status"`
	Total      int64          `json:"total"`
	AmountPaid int64          `json:"amountPaid"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// BillInput creates or replaces a bill. Bills are posted on creation.
type BillInput struct {
	VendorName string `json:"vendorName" validate:"required,max=200"`
	IssueDate  string `json:"issueDate" validate:"required,datetime=2006-01-02"`
	DueDate    string `json:"dueDate" validate:"required,datetime=2006-01-02"`
	Currency   string `json:"currency" validate:"required,currency"`
	Lines      []Line `json:"lines" validate:"required,min=1,dive"`
}

// PaymentDirection tells money received from money paid out.
type PaymentDirection string

const (
	PaymentReceived PaymentDirection = "received"
	PaymentMade     PaymentDirection = "made"
)

// Payment settles an invoice (received) or a bill (made).
type Payment struct {
	ID        string           `json:"id"`
	Direction PaymentDirection `json:"direction"`
	InvoiceID string           `json:"invoiceId,omitempty"`
	BillID    string           `json:"billId,omitempty"`
	Amount    int64            `json:"amount"`
	Currency  string           `json:"currency"`
	PaidOn    string           `json:"paidOn"`
	Method    string           `json:"method"`
	Reference string           `json:"reference,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

// PaymentInput records a payment.
type PaymentInput struct {
	Direction PaymentDirection `json:"direction" validate:"required,oneof=received made"`
	InvoiceID string           `json:"invoiceId,omitempty" validate:"required_without=BillID"`
	BillID    string           `json:"billId,omitempty" validate:"omitempty,uuid"`
	Amount    int64            `json:"amount" validate:"gt=0"`
	Currency  string           `json:"currency" validate:"required,currency"`
	PaidOn    string           `json:"paidOn" validate:"required,datetime=2006-01-02"`
	Method    string           `json:"method" validate:"required,oneof=cash bank card"`
	Reference string           `json:"reference,omitempty" validate:"max=100"`
}

// BudgetLine is the planned amount for one account in one month.
type BudgetLine struct {
	AccountID string `json:"accountId" validate:"required,uuid"`
	Period    int    `json:"period" validate:"gte=1,lte=12"`
	Amount    int64  `json:"amount" validate:"gte=0"`
}

// Budget is an annual plan per account and month.
type Budget struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	FiscalYear int          `json:"fiscalYear"`
	Currency   string       `json:"currency"`
	Lines      []BudgetLine `json:"lines"`
	Total      int64        `json:"total"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// BudgetInput creates or replaces a budget.
type BudgetInput struct {
	Name       string       `json:"name" validate:"required,max=200"`
	FiscalYear int          `json:"fiscalYear" validate:"gte=2000,lte=2100"`
	Currency   string       `json:"currency" validate:"required,currency"`
	Lines      []BudgetLine `json:"lines" validate:"required,min=1,dive"`
}
