package sandbox

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Laudkyle/aptbooks/pkg/api"
	apierrors "github.com/Laudkyle/aptbooks/pkg/errors"
)

func requireBaseCurrency(d *orgData, currency string) error {
	if !strings.EqualFold(currency, d.org.BaseCurrency) {
		return apierrors.InvalidInput("currency must match the organization base currency", map[string]string{
			"currency": "must be " + d.org.BaseCurrency,
		})
	}
	return nil
}

func checkDates(issue, due string) error {
	if due < issue {
		return apierrors.InvalidInput("due date is before issue date", map[string]string{
			"dueDate": "must not be before issueDate",
		})
	}
	return nil
}

// checkAccountRefs verifies every referenced account exists and is active.
func checkAccountRefs(d *orgData, field string, ids []string) error {
	details := map[string]string{}
	for i, id := range ids {
		a, ok := d.accounts.get(id)
		switch {
		case !ok:
			details[fmt.Sprintf("%s[%d].accountId", field, i)] = "unknown account"
		case !a.Active:
			details[fmt.Sprintf("%s[%d].accountId", field, i)] = "account is inactive"
		}
	}
	if len(details) > 0 {
		return apierrors.InvalidInput("invalid account reference", details)
	}
	return nil
}

func lineAccounts(lines []api.Line) []string {
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.AccountID
	}
	return ids
}

func linesTotal(lines []api.Line) int64 {
	var total int64
	for _, l := range lines {
		total += l.Amount()
	}
	return total
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// matches reports whether q[key] is unset or equal to value.
func matches(q url.Values, key, value string) bool {
	want := q.Get(key)
	return want == "" || want == value
}

// --- accounts ---

func accountsResource() *resource[api.Account, api.AccountInput] {
	return &resource[api.Account, api.AccountInput]{
		name: "account",
		perm: "accounts",
		coll: func(d *orgData) *collection[api.Account] { return d.accounts },
		id:   func(a api.Account) string { return a.ID },
		create: func(d *orgData, in api.AccountInput, now time.Time) (api.Account, error) {
			a := api.Account{ID: uuid.NewString(), Active: true, CreatedAt: now}
			return applyAccount(d, a, in)
		},
		update: func(d *orgData, cur api.Account, in api.AccountInput) (api.Account, error) {
			if cur.System && in.Type != cur.Type {
				return cur, apierrors.Conflict("the type of a system account cannot change")
			}
			if in.ParentID == cur.ID {
				return cur, apierrors.InvalidInput("account cannot be its own parent", map[string]string{"parentId": "must differ from id"})
			}
			return applyAccount(d, cur, in)
		},
		remove: func(d *orgData, cur api.Account) error {
			if cur.System {
				return apierrors.Conflict("system accounts cannot be deleted")
			}
			if accountInUse(d, cur.ID) {
				return apierrors.Conflict("account is in use; deactivate it instead")
			}
			return nil
		},
		filter: func(a api.Account, q url.Values) bool {
			if !matches(q, "type", string(a.Type)) {
				return false
			}
			return matches(q, "active", strconv.FormatBool(a.Active))
		},
	}
}

func applyAccount(d *orgData, a api.Account, in api.AccountInput) (api.Account, error) {
	if other, ok := d.accountByCode(in.Code); ok && other.ID != a.ID {
		return a, apierrors.AlreadyExists("account", "code", in.Code)
	}
	if in.ParentID != "" {
		if _, ok := d.accounts.get(in.ParentID); !ok {
			return a, apierrors.InvalidInput("unknown parent account", map[string]string{"parentId": "unknown account"})
		}
	}
	a.Code = in.Code
	a.Name = in.Name
	a.Type = in.Type
	a.ParentID = in.ParentID
	a.Currency = strings.ToUpper(in.Currency)
	if in.Active != nil {
		a.Active = *in.Active
	}
	return a, nil
}

func accountInUse(d *orgData, id string) bool {
	for _, a := range d.accounts.all() {
		if a.ParentID == id {
			return true
		}
	}
	for _, inv := range d.invoices.all() {
		for _, l := range inv.Lines {
			if l.AccountID == id {
				return true
			}
		}
	}
	for _, b := range d.bills.all() {
		for _, l := range b.Lines {
			if l.AccountID == id {
				return true
			}
		}
	}
	for _, b := range d.budgets.all() {
		for _, l := range b.Lines {
			if l.AccountID == id {
				return true
			}
		}
	}
	return false
}

// --- fixed assets ---

func assetsResource() *resource[api.Asset, api.AssetInput] {
	return &resource[api.Asset, api.AssetInput]{
		name: "asset",
		perm: "assets",
		coll: func(d *orgData) *collection[api.Asset] { return d.assets },
		id:   func(a api.Asset) string { return a.ID },
		create: func(_ *orgData, in api.AssetInput, now time.Time) (api.Asset, error) {
			return applyAsset(api.Asset{ID: uuid.NewString(), CreatedAt: now}, in), nil
		},
		update: func(_ *orgData, cur api.Asset, in api.AssetInput) (api.Asset, error) {
			return applyAsset(cur, in), nil
		},
		filter: func(a api.Asset, q url.Values) bool {
			return matches(q, "category", a.Category) && matches(q, "method", string(a.Method))
		},
	}
}

func applyAsset(a api.Asset, in api.AssetInput) api.Asset {
	a.Name = in.Name
	a.Category = in.Category
	a.AcquiredOn = in.AcquiredOn
	a.Cost = in.Cost
	a.SalvageValue = in.SalvageValue
	a.UsefulLifeMonths = in.UsefulLifeMonths
	a.Method = in.Method
	a.MonthlyDepreciation = monthlyDepreciation(in.Cost, in.SalvageValue, in.UsefulLifeMonths, in.Method)
	return a
}

// monthlyDepreciation is the first month's charge. Declining balance uses
// the double rate, capped at the depreciable base.
func monthlyDepreciation(cost, salvage int64, months int, method api.DepreciationMethod) int64 {
	base := cost - salvage
	if months <= 0 || base <= 0 {
		return 0
	}
	if method == api.DecliningBalance {
		return min(2*cost/int64(months), base)
	}
	return base / int64(months)
}

// --- inventory ---

func inventoryResource() *resource[api.InventoryItem, api.InventoryItemInput] {
	return &resource[api.InventoryItem, api.InventoryItemInput]{
		name: "inventory item",
		perm: "inventory",
		coll: func(d *orgData) *collection[api.InventoryItem] { return d.inventory },
		id:   func(i api.InventoryItem) string { return i.ID },
		create: func(d *orgData, in api.InventoryItemInput, now time.Time) (api.InventoryItem, error) {
			return applyItem(d, api.InventoryItem{ID: uuid.NewString(), CreatedAt: now}, in)
		},
		update: func(d *orgData, cur api.InventoryItem, in api.InventoryItemInput) (api.InventoryItem, error) {
			return applyItem(d, cur, in)
		},
		filter: func(i api.InventoryItem, q url.Values) bool {
			return matches(q, "needsReorder", strconv.FormatBool(i.NeedsReorder))
		},
	}
}

func applyItem(d *orgData, it api.InventoryItem, in api.InventoryItemInput) (api.InventoryItem, error) {
	for _, other := range d.inventory.all() {
		if other.ID != it.ID && strings.EqualFold(other.SKU, in.SKU) {
			return it, apierrors.AlreadyExists("inventory item", "sku", in.SKU)
		}
	}
	it.SKU = in.SKU
	it.Name = in.Name
	it.Unit = in.Unit
	it.QuantityOnHand = in.QuantityOnHand
	it.UnitCost = in.UnitCost
	it.ReorderLevel = in.ReorderLevel
	it.NeedsReorder = in.QuantityOnHand <= in.ReorderLevel
	return it, nil
}

// --- invoices ---

func invoicesResource() *resource[api.Invoice, api.InvoiceInput] {
	return &resource[api.Invoice, api.InvoiceInput]{
		name:  "invoice",
		perm:  "invoices",
		event: "invoice",
		coll:  func(d *orgData) *collection[api.Invoice] { return d.invoices },
		id:    func(i api.Invoice) string { return i.ID },
		create: func(d *orgData, in api.InvoiceInput, now time.Time) (api.Invoice, error) {
			inv := api.Invoice{ID: uuid.NewString(), Status: api.StatusDraft, CreatedAt: now}
			inv, err := applyInvoice(d, inv, in)
			if err != nil {
				return inv, err
			}
			d.invoiceSeq++
			inv.Number = fmt.Sprintf("INV-%05d", d.invoiceSeq)
			return inv, nil
		},
		update: func(d *orgData, cur api.Invoice, in api.InvoiceInput) (api.Invoice, error) {
			if cur.Status != api.StatusDraft {
				return cur, apierrors.Conflict("only draft invoices can be edited")
			}
			return applyInvoice(d, cur, in)
		},
		remove: func(_ *orgData, cur api.Invoice) error {
			if cur.Status != api.StatusDraft {
				return apierrors.Conflict("only draft invoices can be deleted; void it instead")
			}
			return nil
		},
		filter: func(i api.Invoice, q url.Values) bool {
			if !matches(q, "status", string(i.Status)) {
				return false
			}
			c := q.Get("customer")
			return c == "" || containsFold(i.CustomerName, c)
		},
	}
}

func applyInvoice(d *orgData, inv api.Invoice, in api.InvoiceInput) (api.Invoice, error) {
	if err := requireBaseCurrency(d, in.Currency); err != nil {
		return inv, err
	}
	if err := checkDates(in.IssueDate, in.DueDate); err != nil {
		return inv, err
	}
	if err := checkAccountRefs(d, "lines", lineAccounts(in.Lines)); err != nil {
		return inv, err
	}
	inv.CustomerName = in.CustomerName
	inv.IssueDate = in.IssueDate
	inv.DueDate = in.DueDate
	inv.Currency = strings.ToUpper(in.Currency)
	inv.Lines = append([]api.Line(nil), in.Lines...)
	inv.Total = linesTotal(in.Lines)
	return inv, nil
}

func postInvoice(inv api.Invoice) (api.Invoice, error) {
	if inv.Status != api.StatusDraft {
		return inv, apierrors.Conflict(fmt.Sprintf("invoice is %s; only drafts can be posted", inv.Status))
	}
	inv.Status = api.StatusPosted
	return inv, nil
}

func voidInvoice(inv api.Invoice) (api.Invoice, error) {
	switch {
	case inv.Status == api.StatusVoid:
		return inv, apierrors.Conflict("invoice is already void")
	case inv.Status == api.StatusDraft:
		return inv, apierrors.Conflict("draft invoices are deleted, not voided")
	case inv.AmountPaid > 0:
		return inv, apierrors.Conflict("invoice has payments; delete them first")
	}
	inv.Status = api.StatusVoid
	return inv, nil
}

// --- bills ---

func billsResource() *resource[api.Bill, api.BillInput] {
	return &resource[api.Bill, api.BillInput]{
		name:  "bill",
		perm:  "bills",
		event: "bill",
		coll:  func(d *orgData) *collection[api.Bill] { return d.bills },
		id:    func(b api.Bill) string { return b.ID },
		create: func(d *orgData, in api.BillInput, now time.Time) (api.Bill, error) {
			b := api.Bill{ID: uuid.NewString(), Status: api.StatusPosted, CreatedAt: now}
			b, err := applyBill(d, b, in)
			if err != nil {
				return b, err
			}
			d.billSeq++
			b.Number = fmt.Sprintf("BILL-%05d", d.billSeq)
			return b, nil
		},
		update: func(d *orgData, cur api.Bill, in api.BillInput) (api.Bill, error) {
			if cur.AmountPaid > 0 {
				return cur, apierrors.Conflict("bill has payments and cannot be edited")
			}
			return applyBill(d, cur, in)
		},
		remove: func(_ *orgData, cur api.Bill) error {
			if cur.AmountPaid > 0 {
				return apierrors.Conflict("bill has payments and cannot be deleted")
			}
			return nil
		},
		filter: func(b api.Bill, q url.Values) bool {
			if !matches(q, "status", string(b.Status)) {
				return false
			}
			v := q.Get("vendor")
			return v == "" || containsFold(b.VendorName, v)
		},
	}
}

func applyBill(d *orgData, b api.Bill, in api.BillInput) (api.Bill, error) {
	if err := requireBaseCurrency(d, in.Currency); err != nil {
		return b, err
	}
	if err := checkDates(in.IssueDate, in.DueDate); err != nil {
		return b, err
	}
	if err := checkAccountRefs(d, "lines", lineAccounts(in.Lines)); err != nil {
		return b, err
	}
	b.VendorName = in.VendorName
	b.IssueDate = in.IssueDate
	b.DueDate = in.DueDate
	b.Currency = strings.ToUpper(in.Currency)
	b.Lines = append([]api.Line(nil), in.Lines...)
	b.Total = linesTotal(in.Lines)
	return b, nil
}

// --- payments ---

func paymentsResource() *resource[api.Payment, api.PaymentInput] {
	return &resource[api.Payment, api.PaymentInput]{
		name:  "payment",
		perm:  "payments",
		event: "payment",
		coll:  func(d *orgData) *collection[api.Payment] { return d.payments },
		id:    func(p api.Payment) string { return p.ID },
		create: func(d *orgData, in api.PaymentInput, now time.Time) (api.Payment, error) {
			return recordPayment(d, in, now)
		},
		update: func(_ *orgData, cur api.Payment, _ api.PaymentInput) (api.Payment, error) {
			return cur, apierrors.Conflict("payments cannot be edited; delete and record again")
		},
		remove: func(d *orgData, cur api.Payment) error {
			settle(d, cur, -cur.Amount)
			return nil
		},
		filter: func(p api.Payment, q url.Values) bool {
			return matches(q, "direction", string(p.Direction)) &&
				matches(q, "invoiceId", p.InvoiceID) &&
				matches(q, "billId", p.BillID)
		},
	}
}

func recordPayment(d *orgData, in api.PaymentInput, now time.Time) (api.Payment, error) {
	if err := requireBaseCurrency(d, in.Currency); err != nil {
		return api.Payment{}, err
	}

	var outstanding int64
	switch in.Direction {
	case api.PaymentReceived:
		if in.InvoiceID == "" || in.BillID != "" {
			return api.Payment{}, apierrors.InvalidInput("a received payment settles an invoice", map[string]string{"invoiceId": "is required"})
		}
		inv, ok := d.invoices.get(in.InvoiceID)
		if !ok {
			return api.Payment{}, apierrors.NotFound("invoice", in.InvoiceID)
		}
		if inv.Status != api.StatusPosted {
			return api.Payment{}, apierrors.Conflict(fmt.Sprintf("invoice is %s and cannot take payments", inv.Status))
		}
		outstanding = inv.Total - inv.AmountPaid
	case api.PaymentMade:
		if in.BillID == "" || in.InvoiceID != "" {
			return api.Payment{}, apierrors.InvalidInput("a payment made settles a bill", map[string]string{"billId": "is required"})
		}
		b, ok := d.bills.get(in.BillID)
		if !ok {
			return api.Payment{}, apierrors.NotFound("bill", in.BillID)
		}
		if b.Status != api.StatusPosted {
			return api.Payment{}, apierrors.Conflict(fmt.Sprintf("bill is %s and cannot take payments", b.Status))
		}
		outstanding = b.Total - b.AmountPaid
	}
	if in.Amount > outstanding {
		return api.Payment{}, apierrors.InvalidInput("amount exceeds the outstanding balance", map[string]string{
			"amount": fmt.Sprintf("must be at most %d", outstanding),
		})
	}

	p := api.Payment{
		ID:        uuid.NewString(),
		Direction: in.Direction,
		InvoiceID: in.InvoiceID,
		BillID:    in.BillID,
		Amount:    in.Amount,
		Currency:  strings.ToUpper(in.Currency),
		PaidOn:    in.PaidOn,
		Method:    in.Method,
		Reference: in.Reference,
		CreatedAt: now,
	}
	settle(d, p, p.Amount)
	return p, nil
}

// settle applies delta to the paid amount of the document p references and
// moves it between posted and paid.
func settle(d *orgData, p api.Payment, delta int64) {
	if p.InvoiceID != "" {
		if inv, ok := d.invoices.get(p.InvoiceID); ok {
			inv.AmountPaid += delta
			inv.Status = paidStatus(inv.Status, inv.AmountPaid, inv.Total)
			d.invoices.put(inv.ID, inv)
		}
	}
	if p.BillID != "" {
		if b, ok := d.bills.get(p.BillID); ok {
			b.AmountPaid += delta
			b.Status = paidStatus(b.Status, b.AmountPaid, b.Total)
			d.bills.put(b.ID, b)
		}
	}
}

func paidStatus(cur api.DocumentStatus, paid, total int64) api.DocumentStatus {
	if cur != api.StatusPosted && cur != api.StatusPaid {
		return cur
	}
	if paid >= total {
		return api.StatusPaid
	}
	return api.StatusPosted
}

// --- budgets ---

func budgetsResource() *resource[api.Budget, api.BudgetInput] {
	return &resource[api.Budget, api.BudgetInput]{
		name: "budget",
		perm: "budgets",
		coll: func(d *orgData) *collection[api.Budget] { return d.budgets },
		id:   func(b api.Budget) string { return b.ID },
		create: func(d *orgData, in api.BudgetInput, now time.Time) (api.Budget, error) {
			return applyBudget(d, api.Budget{ID: uuid.NewString(), CreatedAt: now}, in)
		},
		update: func(d *orgData, cur api.Budget, in api.BudgetInput) (api.Budget, error) {
			return applyBudget(d, cur, in)
		},
		filter: func(b api.Budget, q url.Values) bool {
			return matches(q, "fiscalYear", strconv.Itoa(b.FiscalYear))
		},
	}
}

func applyBudget(d *orgData, b api.Budget, in api.BudgetInput) (api.Budget, error) {
	if err := requireBaseCurrency(d, in.Currency); err != nil {
		return b, err
	}
	ids := make([]string, len(in.Lines))
	var total int64
	for i, l := range in.Lines {
		ids[i] = l.AccountID
		total += l.Amount
	}
	if err := checkAccountRefs(d, "lines", ids); err != nil {
		return b, err
	}
	b.Name = in.Name
	b.FiscalYear = in.FiscalYear
	b.Currency = strings.ToUpper(in.Currency)
	b.Lines = append([]api.BudgetLine(nil), in.Lines...)
	b.Total = total
	return b, nil
}
