// Command cdsctl operates the CosmicDS session runner and state server:
// it serves the reference API, migrates its database, plays scripted
// sessions against an API and transforms class rosters.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/patudom/cds-app/config"
	"github.com/patudom/cds-app/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newCLI(afero.NewOsFs(), os.Stdout, os.Stderr).root().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// cli carries what the commands share. Tests swap the filesystem and the
// output streams.
type cli struct {
	fs     afero.Fs
	out    io.Writer
	errOut io.Writer
}

func newCLI(fs afero.Fs, out, errOut io.Writer) *cli {
	return &cli{fs: fs, out: out, errOut: errOut}
}

func (c *cli) root() *cobra.Command {
	root := &cobra.Command{
		Use:          "cdsctl",
		Short:        "Operate CosmicDS story sessions and the state server",
		SilenceUsage: true,
	}
	root.SetOut(c.out)
	root.SetErr(c.errOut)

	f := root.PersistentFlags()
	f.String("config", "", "Config file (default ./cds.yaml or $HOME/.config/cds/cds.yaml)")
	f.String("log-level", "", "Log level (debug, info, warn, error)")
	f.String("log-format", "", "Log format (text, json)")
	f.String("api-url", "", "State API base URL")
	f.String("api-key", "", "State API key")
	f.String("db-driver", "", "State store driver (memory, sqlite, postgres)")
	f.String("db-path", "", "SQLite database path")
	f.String("db-url", "", "Postgres connection URL")

	root.AddCommand(
		c.serveCmd(),
		c.migrateCmd(),
		c.hashKeyCmd(),
		c.sessionCmd(),
		c.rosterCmd(),
		c.stateCmd(),
	)
	return root
}

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"log-level":  "log.level",
	"log-format": "log.format",
	"api-url":    "api.url",
	"api-key":    "api.key",
	"db-driver":  "database.driver",
	"db-path":    "database.path",
	"db-url":     "database.url",
	"host":       "server.host",
	"port":       "server.port",
	"story":      "sync.story",
	"interval":   "sync.interval",
}

// viperForCmd layers defaults, an optional config file, the environment
// and the command's flags onto a fresh viper instance.
func (c *cli) viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	v.SetFs(c.fs)
	config.Bind(v)

	for name, key := range flagKeys {
		if fl := cmd.Flags().Lookup(name); fl != nil {
			_ = v.BindPFlag(key, fl)
		}
	}

	if file, _ := cmd.Flags().GetString("config"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("cds")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/cds")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(c.errOut, "error reading config file: %v\n", err)
		}
	}
	return v
}

// load returns the configuration and a logger writing to the error
// stream, so that command output stays machine readable.
func (c *cli) load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.viperForCmd(cmd))
	if err != nil {
		return nil, nil, err
	}
	lc := cfg.Log.Logger()
	lc.Output = c.errOut
	log := logger.New(lc)
	return cfg, log, nil
}

// parseFlagOverrides applies --feature name=bool pairs.
func parseFlagOverrides(flags *config.SessionFlags, pairs []string) error {
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			value = "true"
		}
		var enabled bool
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "on":
			enabled = true
		case "false", "off":
		default:
			return fmt.Errorf("feature %s: want true or false, got %q", name, value)
		}
		if err := flags.Set(strings.TrimSpace(name), enabled); err != nil {
			return err
		}
	}
	return nil
}
