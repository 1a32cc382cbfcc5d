package api

import (
	"context"
	"net/url"
	"time"

	apierrors "github.com/Laudkyle/aptbooks/pkg/errors"
	"github.com/Laudkyle/aptbooks/pkg/httpclient"
)

// DateRange bounds a report. A zero From means "since the beginning", a zero
// To means "today".
type DateRange struct {
	From time.Time
	To   time.Time
}

func (r DateRange) values() (url.Values, error) {
	if !r.From.IsZero() && !r.To.IsZero() && r.To.Before(r.From) {
		return nil, apierrors.InvalidInput("report range ends before it starts", map[string]string{
			"to": "must not be before from",
		})
	}
	v := url.Values{}
	if !r.From.IsZero() {
		v.Set("from", r.From.Format(DateLayout))
	}
	if !r.To.IsZero() {
		v.Set("to", r.To.Format(DateLayout))
	}
	return v, nil
}

// ReportLine is the balance of one account in a report section.
type ReportLine struct {
	AccountID string      `json:"accountId"`
	Code      string      `json:"code"`
	Name      string      `json:"name"`
	Type      AccountType `json:"type"`
	Amount    int64       `json:"amount"`
}

// TrialBalanceRow is one account's debit and credit totals.
type TrialBalanceRow struct {
	AccountID string      `json:"accountId"`
	Code      string      `json:"code"`
	Name      string      `json:"name"`
	Type      AccountType `json:"type"`
	Debit     int64       `json:"debit"`
	Credit    int64       `json:"credit"`
}

// TrialBalance lists every account with activity in the range.
type TrialBalance struct {
	From        string            `json:"from,omitempty"`
	To          string            `json:"to"`
	Currency    string            `json:"currency"`
	Rows        []TrialBalanceRow `json:"rows"`
	TotalDebit  int64             `json:"totalDebit"`
	TotalCredit int64             `json:"totalCredit"`
}

// Balanced reports whether debits equal credits.
func (t TrialBalance) Balanced() bool {
	return t.TotalDebit == t.TotalCredit
}

// ProfitAndLoss is the income statement for the range.
type ProfitAndLoss struct {
	From          string       `json:"from,omitempty"`
	To            string       `json:"to"`
	Currency      string       `json:"currency"`
	Revenue       []ReportLine `json:"revenue"`
	Expenses      []ReportLine `json:"expenses"`
	TotalRevenue  int64        `json:"totalRevenue"`
	TotalExpenses int64        `json:"totalExpenses"`
	NetIncome     int64        `json:"netIncome"`
}

// BalanceSheet is the financial position at a date.
type BalanceSheet struct {
	AsOf             string       `json:"asOf"`
	Currency         string       `json:"currency"`
	Assets           []ReportLine `json:"assets"`
	Liabilities      []ReportLine `json:"liabilities"`
	Equity           []ReportLine `json:"equity"`
	RetainedEarnings int64        `json:"retainedEarnings"`
	TotalAssets      int64        `json:"totalAssets"`
	TotalLiabilities int64        `json:"totalLiabilities"`
	TotalEquity      int64        `json:"totalEquity"`
}

// ReportService fetches the financial statements of the active organization.
type ReportService struct {
	http *httpclient.Client
}

// TrialBalance fetches the trial balance for r.
func (s *ReportService) TrialBalance(ctx context.Context, r DateRange) (*TrialBalance, error) {
	var out TrialBalance
	if err := s.get(ctx, "/reports/trial-balance", r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProfitAndLoss fetches the income statement for r.
func (s *ReportService) ProfitAndLoss(ctx context.Context, r DateRange) (*ProfitAndLoss, error) {
	var out ProfitAndLoss
	if err := s.get(ctx, "/reports/profit-and-loss", r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BalanceSheet fetches the balance sheet as of asOf (today when zero).
func (s *ReportService) BalanceSheet(ctx context.Context, asOf time.Time) (*BalanceSheet, error) {
	var out BalanceSheet
	if err := s.get(ctx, "/reports/balance-sheet", DateRange{To: asOf}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *ReportService) get(ctx context.Context, path string, r DateRange, out any) error {
	q, err := r.values()
	if err != nil {
		return err
	}
	return s.http.Get(ctx, path, out, httpclient.WithQuery(q))
}
