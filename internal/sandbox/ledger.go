package sandbox

import (
	"sort"

	"github.com/Laudkyle/aptbooks/pkg/api"
)

// entry is one side of a journal posting.
type entry struct {
	Date      string
	AccountID string
	Debit     int64
	Credit    int64
}

// journal derives the double-entry postings of every booked document:
//
//	invoice  Dr receivable          Cr line accounts
//	bill     Dr line accounts       Cr payable
//	received Dr cash                Cr receivable
//	made     Dr payable             Cr cash
//	asset    Dr fixed assets        Cr cash
//
// Drafts and voided documents post nothing.
func (d *orgData) journal() []entry {
	var out []entry
	post := func(date, accountID string, debit, credit int64) {
		out = append(out, entry{Date: date, AccountID: accountID, Debit: debit, Credit: credit})
	}

	for _, inv := range d.invoices.all() {
		if inv.Status != api.StatusPosted && inv.Status != api.StatusPaid {
			continue
		}
		post(inv.IssueDate, d.system[codeReceivable], inv.Total, 0)
		for _, l := range inv.Lines {
			post(inv.IssueDate, l.AccountID, 0, l.Amount())
		}
	}
	for _, b := range d.bills.all() {
		if b.Status == api.StatusVoid || b.Status == api.StatusDraft {
			continue
		}
		for _, l := range b.Lines {
			post(b.IssueDate, l.AccountID, l.Amount(), 0)
		}
		post(b.IssueDate, d.system[codePayable], 0, b.Total)
	}
	for _, p := range d.payments.all() {
		if p.Direction == api.PaymentReceived {
			post(p.PaidOn, d.system[codeCash], p.Amount, 0)
			post(p.PaidOn, d.system[codeReceivable], 0, p.Amount)
		} else {
			post(p.PaidOn, d.system[codePayable], p.Amount, 0)
			post(p.PaidOn, d.system[codeCash], 0, p.Amount)
		}
	}
	for _, a := range d.assets.all() {
		post(a.AcquiredOn, d.system[codeFixedAssets], a.Cost, 0)
		post(a.AcquiredOn, d.system[codeCash], 0, a.Cost)
	}
	return out
}

// inRange compares YYYY-MM-DD dates lexically. Empty bounds are open.
func inRange(date, from, to string) bool {
	return (from == "" || date >= from) && (to == "" || date <= to)
}

type balance struct {
	debit, credit int64
}

func (d *orgData) balances(from, to string) map[string]balance {
	out := make(map[string]balance)
	for _, e := range d.journal() {
		if !inRange(e.Date, from, to) {
			continue
		}
		b := out[e.AccountID]
		b.debit += e.Debit
		b.credit += e.Credit
		out[e.AccountID] = b
	}
	return out
}

// sortedAccounts returns the accounts with a balance entry, ordered by code.
func (d *orgData) sortedAccounts(bal map[string]balance) []api.Account {
	accts := make([]api.Account, 0, len(bal))
	for id := range bal {
		if a, ok := d.accounts.get(id); ok {
			accts = append(accts, a)
		}
	}
	sort.Slice(accts, func(i, j int) bool { return accts[i].Code < accts[j].Code })
	return accts
}

func (d *orgData) trialBalance(from, to string) api.TrialBalance {
	tb := api.TrialBalance{From: from, To: to, Currency: d.org.BaseCurrency, Rows: []api.TrialBalanceRow{}}
	bal := d.balances(from, to)
	for _, a := range d.sortedAccounts(bal) {
		net := bal[a.ID].debit - bal[a.ID].credit
		row := api.TrialBalanceRow{AccountID: a.ID, Code: a.Code, Name: a.Name, Type: a.Type}
		if net >= 0 {
			row.Debit = net
		} else {
			row.Credit = -net
		}
		tb.Rows = append(tb.Rows, row)
		tb.TotalDebit += row.Debit
		tb.TotalCredit += row.Credit
	}
	return tb
}

// amount is the account's balance on its normal side.
func amount(a api.Account, b balance) int64 {
	if a.Type.DebitNormal() {
		return b.debit - b.credit
	}
	return b.credit - b.debit
}

func line(a api.Account, b balance) api.ReportLine {
	return api.ReportLine{AccountID: a.ID, Code: a.Code, Name: a.Name, Type: a.Type, Amount: amount(a, b)}
}

func (d *orgData) profitAndLoss(from, to string) api.ProfitAndLoss {
	pl := api.ProfitAndLoss{
		From:     from,
		To:       to,
		Currency: d.org.BaseCurrency,
		Revenue:  []api.ReportLine{},
		Expenses: []api.ReportLine{},
	}
	bal := d.balances(from, to)
	for _, a := range d.sortedAccounts(bal) {
		switch a.Type {
		case api.AccountRevenue:
			l := line(a, bal[a.ID])
			pl.Revenue = append(pl.Revenue, l)
			pl.TotalRevenue += l.Amount
		case api.AccountExpense:
			l := line(a, bal[a.ID])
			pl.Expenses = append(pl.Expenses, l)
			pl.TotalExpenses += l.Amount
		}
	}
	pl.NetIncome = pl.TotalRevenue - pl.TotalExpenses
	return pl
}

// balanceSheet closes revenue and expense into retained earnings, so
// assets always equal liabilities plus equity.
func (d *orgData) balanceSheet(asOf string) api.BalanceSheet {
	bs := api.BalanceSheet{
		AsOf:        asOf,
		Currency:    d.org.BaseCurrency,
		Assets:      []api.ReportLine{},
		Liabilities: []api.ReportLine{},
		Equity:      []api.ReportLine{},
	}
	bal := d.balances("", asOf)
	for _, a := range d.sortedAccounts(bal) {
		l := line(a, bal[a.ID])
		switch a.Type {
		case api.AccountAsset:
			bs.Assets = append(bs.Assets, l)
			bs.TotalAssets += l.Amount
		case api.AccountLiability:
			bs.Liabilities = append(bs.Liabilities, l)
			bs.TotalLiabilities += l.Amount
		case api.AccountEquity:
			bs.Equity = append(bs.Equity, l)
			bs.TotalEquity += l.Amount
		case api.AccountRevenue:
			bs.RetainedEarnings += l.Amount
		case api.AccountExpense:
			bs.RetainedEarnings -= l.Amount
		}
	}
	bs.TotalEquity += bs.RetainedEarnings
	return bs
}
