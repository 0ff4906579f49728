package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pysugar/workspace-nexus/internal/db"
	"github.com/pysugar/workspace-nexus/internal/db/models"
	"github.com/pysugar/workspace-nexus/internal/workspace/permission"
)

func newGrantCmd(c *cli) *cobra.Command {
	var params permission.GrantParams
	var capability, level string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant an agent a capability on a connection",
		Long: `Grant or re-activate a capability grant.

Example:
  workspacectl grant --agent sales-bot --connection 6f1c... --capability EMAIL_SEND`,
		RunE: func(cmd *cobra.Command, args []string) error {
			params.Capability = models.Capability(capability)
			params.AccessLevel = models.AccessLevel(level)
			a, err := c.services()
			if err != nil {
				return err
			}
			perm, err := a.Permissions.GrantPermission(cmd.Context(), params)
			if err != nil {
				return fmt.Errorf("grant: %w", err)
			}
			if c.asJSON {
				return c.printJSON(cmd.OutOrStdout(), perm)
			}
			cmd.Printf("✅ Granted %s (%s) to %s: %s\n", perm.Capability, perm.AccessLevel, perm.AgentID, perm.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&params.AgentID, "agent", "", "agent id")
	cmd.Flags().StringVar(&params.ConnectionID, "connection", "", "connection id")
	cmd.Flags().StringVar(&capability, "capability", "", "capability, e.g. EMAIL_SEND")
	cmd.Flags().StringVar(&level, "level", "", "access level (default depends on capability)")
	cmd.Flags().StringVar(&params.GrantedBy, "by", "workspacectl", "who granted it")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("connection")
	_ = cmd.MarkFlagRequired("capability")
	return cmd
}

func newRevokeCmd(c *cli) *cobra.Command {
	var connectionID, by string
	cmd := &cobra.Command{
		Use:   "revoke [permission-id]",
		Short: "Revoke one grant, or every grant on a connection",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 1) == (connectionID != "") {
				return errors.New("give exactly one of a permission id or --connection")
			}
			a, err := c.services()
			if err != nil {
				return err
			}
			if connectionID != "" {
				n, err := a.Permissions.RevokeAllConnectionPermissions(cmd.Context(), connectionID, by)
				if err != nil {
					return fmt.Errorf("revoke: %w", err)
				}
				cmd.Printf("🔒 Revoked %d grant(s) on %s\n", n, connectionID)
				return nil
			}
			if err := a.Permissions.RevokePermission(cmd.Context(), args[0], by); err != nil {
				return fmt.Errorf("revoke: %w", err)
			}
			cmd.Printf("🔒 Revoked %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&connectionID, "connection", "", "revoke every grant on this connection")
	cmd.Flags().StringVar(&by, "by", "workspacectl", "who revoked it")
	return cmd
}

func newCapabilitiesCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities <agent-id>",
		Short: "List an agent's active grants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.services()
			if err != nil {
				return err
			}
			caps, err := a.Permissions.GetAgentWorkspaceCapabilities(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("capabilities: %w", err)
			}
			if c.asJSON {
				return c.printJSON(cmd.OutOrStdout(), caps)
			}
			if len(caps) == 0 {
				cmd.Printf("Agent %s has no workspace grants.\n", args[0])
				return nil
			}
			tw := table(cmd.OutOrStdout())
			fmt.Fprintln(tw, "PERMISSION\tCAPABILITY\tLEVEL\tACCOUNT\tPROVIDER")
			for _, cp := range caps {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", cp.PermissionID, cp.Capability, cp.AccessLevel, cp.Email, cp.ProviderName)
			}
			return tw.Flush()
		},
	}
}

func newAuditCmd(c *cli) *cobra.Command {
	var filter db.AuditFilter
	var action string
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent audit log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Action = models.AuditAction(action)
			a, err := c.services()
			if err != nil {
				return err
			}
			logs, err := a.Store.FindAuditLogs(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("audit: %w", err)
			}
			if c.asJSON {
				return c.printJSON(cmd.OutOrStdout(), logs)
			}
			tw := table(cmd.OutOrStdout())
			fmt.Fprintln(tw, "TIME\tACTION\tRESULT\tAGENT\tCAPABILITY\tCONNECTION")
			for _, l := range logs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", l.Timestamp.Format("2006-01-02 15:04:05"), l.Action, l.Result, l.AgentID, l.Capability, l.WorkspaceConnectionID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&filter.WorkspaceConnectionID, "connection", "", "filter by connection id")
	cmd.Flags().StringVar(&filter.AgentID, "agent", "", "filter by agent id")
	cmd.Flags().StringVar(&action, "action", "", "filter by action, e.g. TOOL_EXECUTED")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum rows")
	return cmd
}
