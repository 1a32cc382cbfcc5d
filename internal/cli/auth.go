package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Laudkyle/aptbooks/pkg/api"
	"github.com/Laudkyle/aptbooks/pkg/session"
)

func (a *app) loginCmd() *cobra.Command {
	var (
		email         string
		password      string
		passwordStdin bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with email and password",
		Long: `Log in to the Aptbooks backend.

The session is saved in the configured session backend and reused by every
other command until you log out or the refresh token expires.

Examples:
  aptbooks login --email you@example.com --password secret
  echo secret | aptbooks login --email you@example.com --password-stdin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return fmt.Errorf("--email is required")
			}
			if passwordStdin {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password from stdin: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return fmt.Errorf("--password or --password-stdin is required")
			}

			return a.run(cmd, func(ctx context.Context, rt *runtime) error {
				resp, err := rt.api.Auth.Login(ctx, api.Credentials{Email: email, Password: password})
				if err != nil {
					return apiFailure("login failed", err)
				}
				if a.output == outputJSON {
					return writeJSON(cmd.OutOrStdout(), identityView(resp.User, resp.Roles, resp.Permissions, resp.CurrentOrg))
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Logged in as %s\n", resp.User.Email) //nolint:errcheck
				if resp.CurrentOrg != nil {
					fmt.Fprintf(out, "Organization: %s\n", resp.CurrentOrg.Name) //nolint:errcheck
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the session and forget it locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, rt *runtime) error {
				out := cmd.OutOrStdout()
				if !rt.auth.IsAuthenticated() {
					fmt.Fprintln(out, "Not logged in.") //nolint:errcheck
					return nil
				}
				// The local session is gone even when revocation fails.
				if err := rt.api.Auth.Logout(ctx); err != nil {
					return apiFailure("logged out locally, backend revocation failed", err)
				}
				fmt.Fprintln(out, "Logged out.") //nolint:errcheck
				return nil
			})
		},
	}
}

func (a *app) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in user and active organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context, rt *runtime) error {
				if err := requireSession(rt); err != nil {
					return err
				}
				me, err := rt.api.Auth.Me(ctx)
				if err != nil {
					return apiFailure("fetch identity", err)
				}
				current := rt.orgs.Snapshot().CurrentOrg
				if a.output == outputJSON {
					return writeJSON(cmd.OutOrStdout(), identityView(me.User, me.Roles, me.Permissions, current))
				}

				out := cmd.OutOrStdout()
				if me.User != nil {
					fmt.Fprintf(out, "User:         %s\n", me.User.Email) //nolint:errcheck
					if me.User.Name != "" {
						fmt.Fprintf(out, "Name:         %s\n", me.User.Name) //nolint:errcheck
					}
				}
				if current != nil {
					fmt.Fprintf(out, "Organization: %s (%s)\n", current.Name, current.ID) //nolint:errcheck
				}
				fmt.Fprintf(out, "Roles:        %s\n", orDash(strings.Join(me.Roles, ", "))) //nolint:errcheck
				return nil
			})
		},
	}
}

type identity struct {
	User         *session.User         `json:"user"`
	Roles        []string              `json:"roles"`
	Permissions  []string              `json:"permissions"`
	Organization *session.Organization `json:"organization,omitempty"`
}

func identityView(u *session.User, roles, perms []string, org *session.Organization) identity {
	return identity{User: u, Roles: roles, Permissions: perms, Organization: org}
}
