package main

import (
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/patudom/cds-app/internal/infrastructure/external/cosmicds"
	"github.com/patudom/cds-app/pkg/docdiff"
)

// stateCmd inspects and repairs stored state of single students.
func (c *cli) stateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Read and repair stored stage states and class sizes",
	}
	cmd.PersistentFlags().Int("student", 0, "Student id")
	cmd.PersistentFlags().String("story", "", "Story name (default from sync.story)")
	cmd.PersistentFlags().String("stage", "", "Stage name")
	cmd.PersistentFlags().StringP("output", "o", "-", "Output file (- for stdout)")
	cmd.PersistentFlags().String("format", "yaml", "Output format (yaml, json)")
	cmd.AddCommand(c.stageGetCmd(), c.stagePutCmd(), c.stageDeleteCmd(), c.classSizeCmd())
	return cmd
}

// stageTarget is the stage a state subcommand addresses.
type stageTarget struct {
	client    *cosmicds.Client
	scope     cosmicds.Scope
	studentID int
	story     string
	stage     string
}

func (c *cli) stageTarget(cmd *cobra.Command) (*stageTarget, error) {
	cfg, log, err := c.load(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.API.BaseURL == "" {
		return nil, errors.New("state commands need --api-url")
	}
	t := &stageTarget{
		client: cosmicds.NewClient(cfg.API.Client(log)),
		scope:  cosmicds.Scope{UpdateDB: cfg.Session.UpdateDB},
		story:  cfg.Sync.Story,
	}
	t.studentID, _ = cmd.Flags().GetInt("student")
	t.stage, _ = cmd.Flags().GetString("stage")
	if t.studentID <= 0 || t.stage == "" {
		return nil, errors.New("--student and --stage are required")
	}
	if !t.scope.Persists() {
		return nil, errors.New("persistence is disabled by CDS_DISABLE_DB")
	}
	return t, nil
}

func (c *cli) stageGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the stored state of one stage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := c.stageTarget(cmd)
			if err != nil {
				return err
			}
			state, found, err := t.client.GetStageState(cmd.Context(), t.scope, t.studentID, t.story, t.stage)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("student %d has no %s state", t.studentID, t.stage)
			}
			return c.write(cmd, state)
		},
	}
}

func (c *cli) stagePutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put FILE",
		Short: "Replace the stored state of one stage with a YAML or JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := c.stageTarget(cmd)
			if err != nil {
				return err
			}
			data, err := afero.ReadFile(c.fs, args[0])
			if err != nil {
				return fmt.Errorf("read stage state: %w", err)
			}
			var raw map[string]any
			if err := yaml.Unmarshal(data, &raw); err != nil {
				return fmt.Errorf("parse stage state %s: %w", args[0], err)
			}
			state, err := docdiff.FromValue(raw)
			if err != nil {
				return err
			}
			_, err = t.client.PutStageState(cmd.Context(), t.scope, t.studentID, t.story, t.stage, state)
			return err
		},
	}
}

func (c *cli) stageDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Delete the stored state of one stage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := c.stageTarget(cmd)
			if err != nil {
				return err
			}
			_, err = t.client.DeleteStageState(cmd.Context(), t.scope, t.studentID, t.story, t.stage)
			return err
		},
	}
}

func (c *cli) classSizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "class-size",
		Short: "Print the current size of a class",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := c.load(cmd)
			if err != nil {
				return err
			}
			if cfg.API.BaseURL == "" {
				return errors.New("class-size needs --api-url")
			}
			classID, _ := cmd.Flags().GetInt("class")
			size, err := cosmicds.NewClient(cfg.API.Client(log)).UpdateClassSize(cmd.Context(), classID)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(c.out, size)
			return err
		},
	}
	cmd.Flags().Int("class", 0, "Class id")
	_ = cmd.MarkFlagRequired("class")
	return cmd
}
