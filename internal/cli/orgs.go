package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Laudkyle/aptbooks/pkg/session"
)

func (a *app) orgsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orgs",
		Short: "List and switch organizations",
		Long: `List the organizations you belong to and choose the active one.

Switching re-issues your tokens for the target organization; every later
command runs against it.

Examples:
  aptbooks orgs list
  aptbooks orgs switch "Demo Branch"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(a.orgsListCmd(), a.orgsSwitchCmd())
	return cmd
}

func (a *app) orgsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your organizations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, rt *runtime) error {
				if err := requireSession(rt); err != nil {
					return err
				}
				orgs, err := rt.api.Organizations.List(ctx)
				if err != nil {
					return apiFailure("list organizations", err)
				}
				if a.output == outputJSON {
					return writeJSON(cmd.OutOrStdout(), orgs)
				}

				current := rt.orgs.CurrentID()
				t := newTable(cmd.OutOrStdout(), "", "ID", "NAME", "CURRENCY")
				for _, o := range orgs {
					mark := ""
					if o.ID == current {
						mark = "*"
					}
					t.row(mark, o.ID, o.Name, orDash(o.BaseCurrency))
				}
				return t.flush()
			})
		},
	}
}

func (a *app) orgsSwitchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch <id-or-name>",
		Short: "Make an organization the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, rt *runtime) error {
				if err := requireSession(rt); err != nil {
					return err
				}
				orgs, err := rt.api.Organizations.List(ctx)
				if err != nil {
					return apiFailure("list organizations", err)
				}
				target, err := findOrg(orgs, args[0])
				if err != nil {
					return err
				}
				resp, err := rt.api.Organizations.Switch(ctx, target.ID)
				if err != nil {
					return apiFailure("switch organization", err)
				}
				if a.output == outputJSON {
					return writeJSON(cmd.OutOrStdout(), identityView(rt.auth.Snapshot().User, resp.Roles, resp.Permissions, &resp.Organization))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Switched to %s (%s)\n", resp.Organization.Name, strings.Join(resp.Roles, ", ")) //nolint:errcheck
				return nil
			})
		},
	}
}

// findOrg matches ref against IDs first, then names case-insensitively.
func findOrg(orgs []session.Organization, ref string) (session.Organization, error) {
	for _, o := range orgs {
		if o.ID == ref {
			return o, nil
		}
	}
	var matches []session.Organization
	for _, o := range orgs {
		if strings.EqualFold(o.Name, ref) {
			matches = append(matches, o)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return session.Organization{}, fmt.Errorf("no organization matches %q", ref)
	default:
		return session.Organization{}, fmt.Errorf("%d organizations are named %q, use the id", len(matches), ref)
	}
}
