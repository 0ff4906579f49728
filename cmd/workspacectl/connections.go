package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pysugar/workspace-nexus/internal/db"
	"github.com/pysugar/workspace-nexus/internal/db/models"
	"github.com/pysugar/workspace-nexus/internal/workspace/scopes"
	"github.com/pysugar/workspace-nexus/internal/workspace/selector"
)

func newConnectionsCmd(c *cli) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "connections",
		Short: "List workspace connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.services()
			if err != nil {
				return err
			}
			conns, err := a.Store.FindConnections(cmd.Context(), db.ConnectionFilter{UserID: userID})
			if err != nil {
				return fmt.Errorf("list connections: %w", err)
			}
			if c.asJSON {
				return c.printJSON(cmd.OutOrStdout(), conns)
			}
			if len(conns) == 0 {
				cmd.Println("No connections found.")
				return nil
			}
			now := time.Now()
			tw := table(cmd.OutOrStdout())
			fmt.Fprintln(tw, "ID\tEMAIL\tPROVIDER\tTYPE\tSTATUS\tHEALTHY")
			for i := range conns {
				conn := &conns[i]
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\n", conn.ID, conn.Email, conn.Provider.DisplayName(), conn.AccountType, conn.Status, conn.Usable(now))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "only connections owned by this user")
	return cmd
}

var errScopesMissing = errors.New("required scopes missing")

func newScopesCmd(c *cli) *cobra.Command {
	scopesCmd := &cobra.Command{
		Use:   "scopes",
		Short: "Inspect OAuth scope coverage",
	}

	var connectionID, granted string
	check := &cobra.Command{
		Use:   "check [provider]",
		Short: "Report scopes missing from a connection or a granted scope string",
		Long: `Compare granted scopes against what a provider requires.

Examples:
  workspacectl scopes check --connection 6f1c...
  workspacectl scopes check google_workspace --granted "openid email https://www.googleapis.com/auth/gmail.send"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var provider models.Provider
			switch {
			case connectionID != "":
				a, err := c.services()
				if err != nil {
					return err
				}
				conn, err := a.Store.GetConnection(cmd.Context(), connectionID)
				if err != nil {
					return fmt.Errorf("load connection %s: %w", connectionID, err)
				}
				provider, granted = conn.Provider, conn.Scopes
			case len(args) == 1:
				p, ok := selector.ParseProvider(args[0])
				if !ok {
					return fmt.Errorf("unknown provider %q", args[0])
				}
				provider = p
			default:
				return errors.New("give a provider or --connection")
			}

			missing := scopes.GetMissingScopes(provider, granted)
			if c.asJSON {
				if err := c.printJSON(cmd.OutOrStdout(), map[string]any{
					"provider": provider, "missing": missing, "valid": len(missing) == 0,
				}); err != nil {
					return err
				}
			} else if len(missing) == 0 {
				cmd.Printf("✅ %s: all required scopes granted\n", provider.DisplayName())
			} else {
				cmd.Printf("⚠️ %s: missing %d scope(s)\n  %s\n", provider.DisplayName(), len(missing), strings.Join(missing, "\n  "))
			}
			if len(missing) > 0 {
				return errScopesMissing
			}
			return nil
		},
	}
	check.Flags().StringVar(&connectionID, "connection", "", "connection id to check")
	check.Flags().StringVar(&granted, "granted", "", "space-delimited granted scopes")

	scopesCmd.AddCommand(check)
	return scopesCmd
}
