package cli

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Laudkyle/aptbooks/pkg/api"
	"github.com/Laudkyle/aptbooks/pkg/pagination"
)

type pageFlags struct {
	page    int
	perPage int
}

func (p *pageFlags) bind(cmd *cobra.Command) {
	cmd.Flags().IntVar(&p.page, "page", 1, "page number")
	cmd.Flags().IntVar(&p.perPage, "per-page", 20, "items per page")
}

func (p *pageFlags) params() pagination.Params {
	return pagination.New(p.page, p.perPage)
}

func pageFooter[T any](cmd *cobra.Command, r pagination.Result[T]) {
	fmt.Fprintf(cmd.OutOrStdout(), "\nPage %d of %d (%d total)\n", r.Page, r.TotalPages, r.TotalCount) //nolint:errcheck
}

func (a *app) accountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Browse the chart of accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var (
		pages      pageFlags
		typ        string
		activeOnly bool
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List accounts of the active organization",
		Long: `List accounts of the active organization.

Examples:
  aptbooks accounts list
  aptbooks accounts list --type revenue --active`,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := url.Values{}
			if typ != "" {
				filter.Set("type", typ)
			}
			if activeOnly {
				filter.Set("active", "true")
			}
			return a.run(cmd, func(ctx context.Context, rt *runtime) error {
				if err := requireSession(rt); err != nil {
					return err
				}
				res, err := rt.api.Accounts.Search(ctx, pages.params(), filter)
				if err != nil {
					return apiFailure("list accounts", err)
				}
				if a.output == outputJSON {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				t := newTable(cmd.OutOrStdout(), "CODE", "NAME", "TYPE", "CURRENCY", "ACTIVE")
				for _, acc := range res.Data {
					t.row(acc.Code, acc.Name, string(acc.Type), acc.Currency, strconv.FormatBool(acc.Active))
				}
				if err := t.flush(); err != nil {
					return err
				}
				pageFooter(cmd, res)
				return nil
			})
		},
	}
	pages.bind(list)
	list.Flags().StringVar(&typ, "type", "", "filter by type: asset, liability, equity, revenue or expense")
	list.Flags().BoolVar(&activeOnly, "active", false, "only active accounts")

	cmd.AddCommand(list)
	return cmd
}

func (a *app) invoicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoices",
		Short: "Browse sales invoices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var (
		pages    pageFlags
		status   string
		customer string
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List invoices of the active organization",
		Long: `List invoices of the active organization.

Examples:
  aptbooks invoices list --status posted
  aptbooks invoices list --customer globex -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := url.Values{}
			if status != "" {
				filter.Set("status", status)
			}
			if customer != "" {
				filter.Set("customer", customer)
			}
			return a.run(cmd, func(ctx context.Context, rt *runtime) error {
				if err := requireSession(rt); err != nil {
					return err
				}
				res, err := rt.api.Invoices.Search(ctx, pages.params(), filter)
				if err != nil {
					return apiFailure("list invoices", err)
				}
				if a.output == outputJSON {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				t := newTable(cmd.OutOrStdout(), "NUMBER", "CUSTOMER", "ISSUED", "DUE", "STATUS", "TOTAL", "PAID")
				for _, inv := range res.Data {
					t.row(inv.Number, inv.CustomerName, inv.IssueDate, inv.DueDate, string(inv.Status),
						money(inv.Total)+" "+inv.Currency, money(inv.AmountPaid))
				}
				if err := t.flush(); err != nil {
					return err
				}
				pageFooter(cmd, res)
				return nil
			})
		},
	}
	pages.bind(list)
	list.Flags().StringVar(&status, "status", "", "filter by status: draft, posted, paid or void")
	list.Flags().StringVar(&customer, "customer", "", "filter by customer name (substring)")

	cmd.AddCommand(list)
	return cmd
}

func (a *app) reportsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Financial reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var from, to string
	tb := &cobra.Command{
		Use:   "trial-balance",
		Short: "Debit and credit totals per account",
		Long: `Print the trial balance of the active organization.

Dates use YYYY-MM-DD. Without --to the backend reports up to today; without
--from it reports from the first entry.

Examples:
  aptbooks reports trial-balance --from 2026-01-01 --to 2026-03-31`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rng, err := parseRange(from, to)
			if err != nil {
				return err
			}
			return a.run(cmd, func(ctx context.Context, rt *runtime) error {
				if err := requireSession(rt); err != nil {
					return err
				}
				report, err := rt.api.Reports.TrialBalance(ctx, rng)
				if err != nil {
					return apiFailure("trial balance", err)
				}
				if a.output == outputJSON {
					return writeJSON(cmd.OutOrStdout(), report)
				}
				t := newTable(cmd.OutOrStdout(), "CODE", "ACCOUNT", "DEBIT", "CREDIT")
				for _, r := range report.Rows {
					t.row(r.Code, r.Name, money(r.Debit), money(r.Credit))
				}
				t.row("", "TOTAL", money(report.TotalDebit), money(report.TotalCredit))
				if err := t.flush(); err != nil {
					return err
				}
				if !report.Balanced() {
					fmt.Fprintln(cmd.OutOrStdout(), "\nWARNING: trial balance does not balance") //nolint:errcheck
				}
				return nil
			})
		},
	}
	tb.Flags().StringVar(&from, "from", "", "first day (YYYY-MM-DD)")
	tb.Flags().StringVar(&to, "to", "", "last day (YYYY-MM-DD)")

	cmd.AddCommand(tb)
	return cmd
}

func parseRange(from, to string) (api.DateRange, error) {
	var rng api.DateRange
	var err error
	if from != "" {
		if rng.From, err = time.Parse(api.DateLayout, from); err != nil {
			return rng, fmt.Errorf("invalid --from %q: want YYYY-MM-DD", from)
		}
	}
	if to != "" {
		if rng.To, err = time.Parse(api.DateLayout, to); err != nil {
			return rng, fmt.Errorf("invalid --to %q: want YYYY-MM-DD", to)
		}
	}
	return rng, nil
}
