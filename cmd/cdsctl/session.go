package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/patudom/cds-app/config"
	"github.com/patudom/cds-app/internal/app"
	"github.com/patudom/cds-app/internal/application/session"
	"github.com/patudom/cds-app/internal/domain/shared"
	"github.com/patudom/cds-app/internal/domain/story"
	"github.com/patudom/cds-app/internal/infrastructure/external/cosmicds"
	"github.com/patudom/cds-app/internal/infrastructure/persistence/memory"
	"github.com/patudom/cds-app/internal/infrastructure/scheduler"
	"github.com/patudom/cds-app/internal/infrastructure/scheduler/jobs"
	"github.com/patudom/cds-app/internal/infrastructure/service"
	"github.com/patudom/cds-app/internal/stories/hubble"
	"github.com/patudom/cds-app/pkg/logger"
)

// script is a recorded sequence of student actions.
type script struct {
	Steps []scriptStep `yaml:"steps"`
}

// scriptStep holds exactly one action.
type scriptStep struct {
	Next         string        `yaml:"next,omitempty"`
	Previous     string        `yaml:"previous,omitempty"`
	GoTo         *goToStep     `yaml:"goto,omitempty"`
	Choice       *choiceStep   `yaml:"multiple_choice,omitempty"`
	FreeResponse *responseStep `yaml:"free_response,omitempty"`
	Route        string        `yaml:"route,omitempty"`
	Sleep        time.Duration `yaml:"sleep,omitempty"`
}

type goToStep struct {
	Stage string `yaml:"stage"`
	Step  string `yaml:"step"`
	Force bool   `yaml:"force"`
}

type choiceStep struct {
	Stage  string `yaml:"stage"`
	Tag    string `yaml:"tag"`
	Score  *int   `yaml:"score"`
	Choice *int   `yaml:"choice"`
	Tries  int    `yaml:"tries"`
}

type responseStep struct {
	Stage string `yaml:"stage"`
	Tag   string `yaml:"tag"`
	Text  string `yaml:"text"`
}

func loadScript(fs afero.Fs, path string) (*script, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	var s script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse script %s: %w", path, err)
	}
	return &s, nil
}

// apply runs one step. A transition refused by a gate is reported, not
// returned as an error.
func (st scriptStep) apply(sess *session.Session) (string, error) {
	switch {
	case st.Next != "":
		ok, err := sess.Next(st.Next)
		return transition("next", st.Next, ok), err
	case st.Previous != "":
		ok, err := sess.Previous(st.Previous)
		return transition("previous", st.Previous, ok), err
	case st.GoTo != nil:
		ok, err := sess.GoTo(st.GoTo.Stage, st.GoTo.Step, st.GoTo.Force)
		return transition("goto "+st.GoTo.Step, st.GoTo.Stage, ok), err
	case st.Choice != nil:
		c := st.Choice
		delta, err := sess.RecordMultipleChoice(c.Stage, c.Tag, c.Score, c.Choice, c.Tries)
		return fmt.Sprintf("%s/%s: piggybank %+d", c.Stage, c.Tag, delta), err
	case st.FreeResponse != nil:
		r := st.FreeResponse
		return fmt.Sprintf("%s/%s: response stored", r.Stage, r.Tag), sess.RecordFreeResponse(r.Stage, r.Tag, r.Text)
	case st.Route != "":
		idx, err := sess.StoreRoute(st.Route)
		return fmt.Sprintf("route %s: max index %d", st.Route, idx), err
	case st.Sleep > 0:
		time.Sleep(st.Sleep)
		return "slept " + st.Sleep.String(), nil
	}
	return "", errors.New("empty script step")
}

func transition(verb, stage string, ok bool) string {
	if ok {
		return fmt.Sprintf("%s/%s: moved", stage, verb)
	}
	return fmt.Sprintf("%s/%s: blocked", stage, verb)
}

// report is printed after a simulation.
type report struct {
	StudentID int               `yaml:"student_id"`
	Story     string            `yaml:"story"`
	Flags     []string          `yaml:"flags"`
	Piggybank int               `yaml:"piggybank"`
	Steps     map[string]string `yaml:"current_steps"`
	Log       []string          `yaml:"log"`
	Sync      jobs.SyncStats    `yaml:"sync"`
	Events    int64             `yaml:"events"`
}

func (c *cli) sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Drive story sessions",
	}
	cmd.AddCommand(c.simulateCmd())
	return cmd
}

func (c *cli) simulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Load a student, play a script of actions and sync the state",
		Long: `Loads the session of --user, applies the actions of --script in order
while the sync job writes the state in the background, and prints a report.
With --local the session runs against an in-process state server.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := c.load(cmd)
			if err != nil {
				return err
			}
			opts, err := simulateOptionsFrom(cmd)
			if err != nil {
				return err
			}
			if err := parseFlagOverrides(&cfg.Session, opts.features); err != nil {
				return err
			}
			rep, err := c.simulate(cmd.Context(), cfg, log, opts)
			if err != nil {
				return err
			}
			return yaml.NewEncoder(c.out).Encode(rep)
		},
	}
	f := cmd.Flags()
	f.String("user", "", "Login reference of the student (email or username)")
	f.String("class-code", "", "Register the user in this class when unknown")
	f.String("script", "", "YAML file of actions")
	f.StringSlice("feature", nil, "Session switch override, e.g. debug_mode=true (repeatable)")
	f.Bool("local", false, "Run against an in-process state server")
	f.Duration("interval", 0, "Sync interval")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

type simulateOptions struct {
	user      string
	classCode string
	script    string
	features  []string
	local     bool
}

func simulateOptionsFrom(cmd *cobra.Command) (simulateOptions, error) {
	var o simulateOptions
	var err error
	f := cmd.Flags()
	if o.user, err = f.GetString("user"); err != nil {
		return o, err
	}
	if o.classCode, err = f.GetString("class-code"); err != nil {
		return o, err
	}
	if o.script, err = f.GetString("script"); err != nil {
		return o, err
	}
	if o.features, err = f.GetStringSlice("feature"); err != nil {
		return o, err
	}
	o.local, err = f.GetBool("local")
	return o, err
}

func (c *cli) simulate(ctx context.Context, cfg *config.Config, log *slog.Logger, opts simulateOptions) (*report, error) {
	var steps []scriptStep
	if opts.script != "" {
		s, err := loadScript(c.fs, opts.script)
		if err != nil {
			return nil, err
		}
		steps = s.Steps
	}

	if opts.local {
		local, err := app.StartLocal(memory.New(), log)
		if err != nil {
			return nil, err
		}
		defer local.Close(context.WithoutCancel(ctx))
		if opts.classCode == "" {
			opts.classCode = "local"
		}
		if _, err := local.SeedClass(ctx, opts.classCode, hubble.StoryID); err != nil {
			return nil, err
		}
		cfg.API.BaseURL = local.URL
		cfg.API.Key = ""
	}
	if err := cfg.RequireAPI(); err != nil {
		return nil, err
	}

	client := cosmicds.NewClient(cfg.API.Client(log))
	if opts.classCode != "" {
		if err := register(ctx, client, opts.user, opts.classCode, log); err != nil {
			return nil, err
		}
	}

	cache, err := app.OpenCache(ctx, cfg.Redis, log)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		defer cache.Close()
	}
	bus, err := app.NewEventBus(ctx, cache, log)
	if err != nil {
		return nil, err
	}
	defer bus.Close()
	var events atomic.Int64
	_ = bus.SubscribeAll(func(e shared.Event) error {
		events.Add(1)
		log.Debug("event", "type", e.EventType(), "aggregate", e.AggregateID())
		return nil
	})

	sess, err := session.New(session.Config{
		Registry:  hubble.NewRegistry(log),
		Remote:    service.NewCosmicDSAdapter(client),
		Flags:     cfg.Session.Story(),
		Publisher: bus,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}
	if err := sess.Load(ctx, opts.user); err != nil {
		return nil, err
	}

	job := jobs.NewSyncStoryStateJob(sess, log, cfg.Sync.Job())
	sc := scheduler.DefaultSchedulerConfig()
	sc.Logger = log
	sched := scheduler.NewScheduler(sc)
	if err := sched.Register(job, scheduler.NewIntervalSchedule(job.Interval())); err != nil {
		return nil, err
	}
	if err := sched.Start(ctx); err != nil {
		return nil, err
	}

	rep := &report{Flags: cfg.Session.Active()}
	for i, st := range steps {
		line, err := st.apply(sess)
		if err != nil {
			_ = sched.Stop()
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		rep.Log = append(rep.Log, line)
	}
	if err := sched.Stop(); err != nil {
		return nil, err
	}
	// Flush whatever the last tick did not write.
	if _, err := sched.RunNow(ctx, job.Name()); err != nil {
		log.Warn("final sync failed", logger.Err(err))
	}

	snap, err := sess.Snapshot()
	if err != nil {
		return nil, err
	}
	rep.StudentID = snap.StudentID
	rep.Story = snap.StoryID
	rep.Steps = map[string]string{}
	sess.Story(func(st story.StoryState) {
		base := st.Base()
		rep.Piggybank = base.PiggybankTotal
		for id, stage := range base.StageStates {
			rep.Steps[id] = stage.Base().CurrentStep.Name()
		}
	})
	rep.Sync = job.Stats()
	rep.Events = events.Load()
	return rep, nil
}

// register creates the student when the API does not know it yet.
func register(ctx context.Context, client *cosmicds.Client, user, classCode string, log *slog.Logger) error {
	hash := client.HashUser(user)
	exists, err := client.UserExists(ctx, hash)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	info, err := client.CreateNewUser(ctx, hash, classCode, hubble.StoryID)
	if err != nil {
		return fmt.Errorf("register %s: %w", user, err)
	}
	log.Info("student registered", logger.StudentID(info.Student.ID), "class_size", info.ClassSize)
	return nil
}
