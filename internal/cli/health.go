package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Laudkyle/aptbooks/pkg/health"
)

func (a *app) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe backend liveness and readiness",
		Long: `Probe the backend's /healthz and /readyz endpoints. No login needed.

Exits non-zero when the backend is not ready.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, rt *runtime) error {
				live, err := rt.api.Health.Live(ctx)
				if err != nil {
					return apiFailure("backend unreachable", err)
				}
				ready, readyErr := rt.api.Health.Ready(ctx)
				if ready == nil {
					return apiFailure("readiness probe", readyErr)
				}

				if a.output == outputJSON {
					if err := writeJSON(cmd.OutOrStdout(), map[string]*health.Response{"live": live, "ready": ready}); err != nil {
						return err
					}
				} else {
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "Live:  %s\n", live.Status)  //nolint:errcheck
					fmt.Fprintf(out, "Ready: %s\n", ready.Status) //nolint:errcheck
					if len(ready.Checks) > 0 {
						fmt.Fprintln(out) //nolint:errcheck
						t := newTable(out, "CHECK", "STATUS", "CRITICAL", "ERROR")
						names := make([]string, 0, len(ready.Checks))
						for name := range ready.Checks {
							names = append(names, name)
						}
						sort.Strings(names)
						for _, name := range names {
							c := ready.Checks[name]
							crit := "no"
							if c.Critical {
								crit = "yes"
							}
							t.row(name, string(c.Status), crit, orDash(c.Error))
						}
						if err := t.flush(); err != nil {
							return err
						}
					}
				}

				if readyErr != nil {
					return fmt.Errorf("backend not ready: %v", ready.Down())
				}
				return nil
			})
		},
	}
}
