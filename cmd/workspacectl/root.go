package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pysugar/workspace-nexus/internal/app"
	"github.com/pysugar/workspace-nexus/internal/config"
	"github.com/pysugar/workspace-nexus/internal/db"
	"github.com/pysugar/workspace-nexus/internal/version"
)

// opener builds the services for one invocation. dbPath overrides the
// configured database when set.
type opener func(dbPath string) (*app.App, error)

func openApp(dbPath string) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	database, err := db.InitDB(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return app.New(cfg, database)
}

// cli is the state shared by subcommands.
type cli struct {
	open   opener
	dbPath string
	asJSON bool
	app    *app.App
}

func (c *cli) services() (*app.App, error) {
	if c.app != nil {
		return c.app, nil
	}
	a, err := c.open(c.dbPath)
	if err != nil {
		return nil, err
	}
	c.app = a
	return a, nil
}

func (c *cli) printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func table(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func newRootCmd(open opener) *cobra.Command {
	c := &cli{open: open}
	root := &cobra.Command{
		Use:          "workspacectl",
		Short:        "Administer workspace connections, agent grants and scheduled tasks.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.dbPath, "db", "", "sqlite database path (default from NEXUS_DB_PATH)")
	root.PersistentFlags().BoolVar(&c.asJSON, "json", false, "print JSON instead of tables")

	root.AddCommand(
		newConnectionsCmd(c),
		newScopesCmd(c),
		newGrantCmd(c),
		newRevokeCmd(c),
		newCapabilitiesCmd(c),
		newToolsCmd(c),
		newTasksCmd(c),
		newAuditCmd(c),
		&cobra.Command{
			Use:   "version",
			Short: "Print the build version",
			Run: func(cmd *cobra.Command, args []string) {
				cmd.Println("workspacectl " + version.String())
			},
		},
	)
	return root
}
