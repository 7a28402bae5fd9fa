package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/patudom/cds-app/config"
	"github.com/patudom/cds-app/internal/app"
	"github.com/patudom/cds-app/internal/infrastructure/persistence/postgres"
	"github.com/patudom/cds-app/internal/interface/http/handlers"
)

func (c *cli) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference state server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := c.load(cmd)
			if err != nil {
				return err
			}
			log.Info("starting CosmicDS state server",
				"driver", cfg.Database.Driver,
				"address", cfg.Server.HTTP().Address(),
			)
			return app.Serve(cmd.Context(), cfg, log)
		},
	}
	cmd.Flags().String("host", "", "Listen host")
	cmd.Flags().Int("port", 0, "Listen port")
	return cmd
}

func (c *cli) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate [up|down|status]",
		Short:     "Manage the Postgres schema of the state server",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := c.load(cmd)
			if err != nil {
				return err
			}
			if cfg.Database.Driver != config.DriverPostgres {
				return errors.New("migrate needs --db-driver postgres")
			}
			action := "up"
			if len(args) == 1 {
				action = args[0]
			}

			ctx := cmd.Context()
			conn, err := app.OpenPostgres(ctx, cfg.Database, log)
			if err != nil {
				return err
			}
			defer conn.Close()
			m := postgres.NewMigrator(conn)

			switch action {
			case "down":
				return m.Rollback(ctx)
			case "status":
				status, err := m.Status(ctx)
				if err != nil {
					return err
				}
				return writeMigrations(c, status)
			default:
				return m.Migrate(ctx)
			}
		},
	}
	return cmd
}

func writeMigrations(c *cli, status []postgres.Migration) error {
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED")
	for _, m := range status {
		applied := "-"
		if m.IsApplied {
			applied = m.AppliedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", m.Version, m.Name, applied)
	}
	return w.Flush()
}

func (c *cli) hashKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash-key KEY",
		Short: "Print the bcrypt hash of an API key for CDS_SERVER_API_KEY_HASHES",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cost, _ := cmd.Flags().GetInt("cost")
			hash, err := handlers.HashKey(args[0], cost)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(c.out, hash)
			return err
		},
	}
	cmd.Flags().Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}
