package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/patudom/cds-app/internal/app"
	"github.com/patudom/cds-app/internal/application/roster"
	"github.com/patudom/cds-app/internal/domain/shared"
	"github.com/patudom/cds-app/internal/infrastructure/external/cosmicds"
	"github.com/patudom/cds-app/internal/infrastructure/persistence/redis"
	"github.com/patudom/cds-app/internal/infrastructure/scheduler"
	"github.com/patudom/cds-app/internal/infrastructure/scheduler/jobs"
	"github.com/patudom/cds-app/pkg/docdiff"
)

// fixture is a captured class: its raw roster and the per-student records
// the adapters look up. Files are YAML or JSON.
type fixture struct {
	ClassID           int                      `yaml:"class_id"`
	Roster            []map[string]any         `yaml:"roster"`
	Stages            map[int]map[string]any   `yaml:"stages"`
	Measurements      map[int][]map[string]any `yaml:"measurements"`
	ClassMeasurements []map[string]any         `yaml:"class_measurements"`
}

func loadFixture(fs afero.Fs, path string) (*fixture, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var fx fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &fx, nil
}

// docs converts YAML-decoded maps into JSON-shaped documents, so numbers
// arrive as float64 like they do from the API.
func docs(in []map[string]any) ([]docdiff.Document, error) {
	out := make([]docdiff.Document, 0, len(in))
	for _, m := range in {
		d, err := docdiff.FromValue(m)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// fixtureSource answers roster.Source from a fixture.
type fixtureSource struct {
	fx *fixture
}

func (s fixtureSource) GetRoster(_ context.Context, classID int) ([]docdiff.Document, error) {
	if classID != s.fx.ClassID {
		return nil, fmt.Errorf("%w: class %d is not in the fixture", shared.ErrNotFound, classID)
	}
	return docs(s.fx.Roster)
}

func (s fixtureSource) GetStages(_ context.Context, studentID int) (docdiff.Document, error) {
	stages, ok := s.fx.Stages[studentID]
	if !ok {
		return docdiff.Document{}, nil
	}
	return docdiff.FromValue(stages)
}

func (s fixtureSource) GetMeasurements(_ context.Context, studentID int) ([]docdiff.Document, error) {
	return docs(s.fx.Measurements[studentID])
}

func (s fixtureSource) GetClassMeasurements(_ context.Context, classID int) ([]docdiff.Document, error) {
	if classID != s.fx.ClassID {
		return []docdiff.Document{}, nil
	}
	return docs(s.fx.ClassMeasurements)
}

func (c *cli) rosterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roster",
		Short: "Fetch, transform and summarize class rosters",
	}
	cmd.PersistentFlags().StringP("output", "o", "-", "Output file (- for stdout)")
	cmd.PersistentFlags().String("format", "yaml", "Output format (yaml, json)")
	cmd.AddCommand(c.rosterFetchCmd(), c.rosterTransformCmd(), c.rosterSummarizeCmd(), c.rosterWatchCmd())
	return cmd
}

func (c *cli) rosterFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch a class roster from the API and transform it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := c.load(cmd)
			if err != nil {
				return err
			}
			if cfg.API.BaseURL == "" {
				return fmt.Errorf("fetch needs --api-url")
			}
			classID, _ := cmd.Flags().GetInt("class")

			var cache roster.Cache
			rc, err := app.OpenCache(cmd.Context(), cfg.Redis, log)
			if err != nil {
				return err
			}
			if rc != nil {
				defer rc.Close()
				cache = redis.NewRosterCache(rc, cfg.Redis.RosterTTL)
			}

			svc := roster.NewService(cosmicds.NewClient(cfg.API.Client(log)), cache, log)
			if withMeasurements, _ := cmd.Flags().GetBool("measurements"); withMeasurements {
				m, err := svc.Measurements(cmd.Context(), classID)
				if err != nil {
					return err
				}
				return c.write(cmd, m)
			}
			var r *roster.Roster
			if fresh, _ := cmd.Flags().GetBool("fresh"); fresh {
				r, _, err = svc.Refresh(cmd.Context(), classID)
			} else {
				r, err = svc.Get(cmd.Context(), classID)
			}
			if err != nil {
				return err
			}
			return c.write(cmd, r)
		},
	}
	cmd.Flags().Int("class", 0, "Class id")
	cmd.Flags().Bool("fresh", false, "Bypass the roster cache")
	cmd.Flags().Bool("measurements", false, "Print the class and student measurements instead of the roster")
	_ = cmd.MarkFlagRequired("class")
	return cmd
}

func (c *cli) rosterTransformCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transform FIXTURE",
		Short: "Transform the raw roster of a captured class",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, err := c.load(cmd)
			if err != nil {
				return err
			}
			fx, err := loadFixture(c.fs, args[0])
			if err != nil {
				return err
			}
			r, _, err := roster.NewService(fixtureSource{fx: fx}, nil, log).Refresh(cmd.Context(), fx.ClassID)
			if err != nil {
				return err
			}
			return c.write(cmd, r)
		},
	}
	return cmd
}

func (c *cli) rosterSummarizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summarize ROSTER",
		Short: "Summarize a transformed roster written by fetch or transform",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := afero.ReadFile(c.fs, args[0])
			if err != nil {
				return err
			}
			var r struct {
				Version roster.Version   `yaml:"version"`
				Entries []map[string]any `yaml:"entries"`
			}
			if err := yaml.Unmarshal(data, &r); err != nil {
				return fmt.Errorf("parse roster %s: %w", args[0], err)
			}
			entries, err := docs(r.Entries)
			if err != nil {
				return err
			}
			sum := roster.Summarize(r.Version, entries)

			if table, _ := cmd.Flags().GetBool("table"); table {
				return writeSummaryTable(c.out, sum)
			}
			return c.write(cmd, sum)
		},
	}
	cmd.Flags().Bool("table", false, "Print a table instead of structured output")
	return cmd
}

func writeSummaryTable(out io.Writer, sum roster.ClassSummary) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "version: %s\n", sum.Version)
	fmt.Fprintln(w, "STUDENT\tSCORE\tANSWERED\tRESPONSES\tSTAGE\tCOMPLETE")
	for _, s := range sum.Students {
		fmt.Fprintf(w, "%d\t%.0f\t%d\t%d\t%d\t%.1f%%\n",
			s.StudentID, s.Score, s.Answered, s.FreeResponses, s.MaxStageIndex, s.PercentComplete)
	}
	fmt.Fprintf(w, "average\t%.1f\t%.1f\t\t\t%.1f%%\n", sum.AverageScore, sum.AverageAnswered, sum.AverageComplete)
	return w.Flush()
}

func (c *cli) rosterWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the cached rosters of classes fresh on a cron schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := c.load(cmd)
			if err != nil {
				return err
			}
			classes, _ := cmd.Flags().GetIntSlice("class")
			expr, _ := cmd.Flags().GetString("cron")
			schedule, err := scheduler.ParseCron(expr)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			rc, err := app.OpenCache(ctx, cfg.Redis, log)
			if err != nil {
				return err
			}
			var (
				cache  roster.Cache
				locker jobs.ClassLocker
			)
			if rc != nil {
				defer rc.Close()
				rosters := redis.NewRosterCache(rc, cfg.Redis.RosterTTL)
				cache, locker = rosters, rosters
			} else {
				log.Warn("redis disabled, refreshed rosters are not shared")
			}

			svc := roster.NewService(cosmicds.NewClient(cfg.API.Client(log)), cache, log)
			job := jobs.NewRefreshRostersJob(svc, locker, log, jobs.RefreshRostersConfig{Classes: classes})

			sc := scheduler.DefaultSchedulerConfig()
			sc.Logger = log
			sched := scheduler.NewScheduler(sc)
			if err := sched.Register(job, schedule); err != nil {
				return err
			}
			if _, err := sched.RunNow(ctx, job.Name()); err != nil {
				log.Warn("initial roster refresh failed", "error", err)
			}
			if err := sched.Start(ctx); err != nil {
				return err
			}
			log.Info("watching rosters", "classes", classes, "schedule", schedule.String())
			<-ctx.Done()
			return sched.Stop()
		},
	}
	cmd.Flags().IntSlice("class", nil, "Class ids (repeatable)")
	cmd.Flags().String("cron", scheduler.Every10Minutes, "Cron expression of the refresh")
	_ = cmd.MarkFlagRequired("class")
	return cmd
}

// write encodes v in the requested format to --output.
func (c *cli) write(cmd *cobra.Command, v any) error {
	format, _ := cmd.Flags().GetString("format")
	path, _ := cmd.Flags().GetString("output")

	out := c.out
	if path != "" && path != "-" {
		if dir := filepath.Dir(path); dir != "." {
			if err := c.fs.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		f, err := c.fs.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown format %q", format)
}
