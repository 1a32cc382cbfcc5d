package sandbox

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Laudkyle/aptbooks/pkg/api"
	apierrors "github.com/Laudkyle/aptbooks/pkg/errors"
	"github.com/Laudkyle/aptbooks/pkg/httputil"
	"github.com/Laudkyle/aptbooks/pkg/middleware"
)

func reportRoutes(r chi.Router, s *Store) {
	r.Use(middleware.RequirePermission("reports:read"))

	r.Get("/trial-balance", reportHandler(s, func(d *orgData, from, to string) any {
		return d.trialBalance(from, to)
	}))
	r.Get("/profit-and-loss", reportHandler(s, func(d *orgData, from, to string) any {
		return d.profitAndLoss(from, to)
	}))
	r.Get("/balance-sheet", reportHandler(s, func(d *orgData, _, to string) any {
		return d.balanceSheet(to)
	}))
}

// dateRange reads from and to. A missing to means today.
func dateRange(r *http.Request, now time.Time) (string, string, error) {
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	details := map[string]string{}
	if from != "" {
		if _, err := time.Parse(api.DateLayout, from); err != nil {
			details["from"] = "must be a date in YYYY-MM-DD format"
		}
	}
	if to == "" {
		to = now.Format(api.DateLayout)
	} else if _, err := time.Parse(api.DateLayout, to); err != nil {
		details["to"] = "must be a date in YYYY-MM-DD format"
	}
	if len(details) > 0 {
		return "", "", apierrors.InvalidInput("invalid date range", details)
	}
	if from != "" && from > to {
		return "", "", apierrors.InvalidInput("invalid date range", map[string]string{"from": "must not be after to"})
	}
	return from, to, nil
}

func reportHandler(s *Store, build func(d *orgData, from, to string) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := orgScope(w, r)
		if !ok {
			return
		}
		from, to, err := dateRange(r, s.now().UTC())
		if err != nil {
			writeError(w, r, err)
			return
		}
		var out any
		err = s.read(orgID, func(d *orgData) error {
			out = build(d, from, to)
			return nil
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, out)
	}
}

// invoiceAction mounts POST /{id}/<name>, applying fn to the stored invoice
// and emitting eventType once it is stored.
func invoiceAction(r chi.Router, s *Store, ev *eventSink, name, eventType string, fn func(api.Invoice) (api.Invoice, error)) {
	r.With(middleware.RequirePermission("invoices:write")).Post("/{id}/"+name, func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := orgScope(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		var out api.Invoice
		err := s.write(orgID, func(d *orgData) error {
			cur, found := d.invoices.get(id)
			if !found {
				return apierrors.NotFound("invoice", id)
			}
			next, err := fn(cur)
			if err != nil {
				return err
			}
			d.invoices.put(id, next)
			out = next
			return nil
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		ev.emit(r, orgID, eventType, "invoice", id, out)
		httputil.WriteJSON(w, http.StatusOK, out)
	})
}
