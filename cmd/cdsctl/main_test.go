package main

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/patudom/cds-app/config"
	"github.com/patudom/cds-app/internal/app"
	"github.com/patudom/cds-app/internal/application/roster"
	"github.com/patudom/cds-app/internal/domain/story"
	"github.com/patudom/cds-app/internal/domain/student"
	"github.com/patudom/cds-app/internal/infrastructure/persistence/memory"
	"github.com/patudom/cds-app/internal/stories/hubble"
	"github.com/patudom/cds-app/pkg/docdiff"
	"github.com/patudom/cds-app/pkg/logger"
)

func execute(t *testing.T, fs afero.Fs, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newCLI(fs, &out, &errOut).root()
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHashKey(t *testing.T) {
	out, err := execute(t, afero.NewMemMapFs(), "hash-key", "s3cret", "--cost", "4")
	require.NoError(t, err)

	hash := strings.TrimSpace(out)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))
}

const monorepoFixture = `
class_id: 400
roster:
  - student_id: 5
    story_state:
      app:
        drawer: true
        story_state:
          name: hubble
          measurements:
            - galaxy_id: 1
          stage_states:
            introduction:
              max_step: 3
              total_steps: 4
              multiple_choice_responses: {}
              free_responses:
                a: {response: r}
            "spectra_&_velocity":
              max_step: 1
              total_steps: 0
              multiple_choice_responses:
                q: {score: 10}
              free_responses: {}
`

func TestRosterTransformAndSummarize(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "fixtures/class-400.yaml", []byte(monorepoFixture), 0o644))

	_, err := execute(t, fs, "roster", "transform", "fixtures/class-400.yaml", "-o", "out/roster.yaml")
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, "out/roster.yaml")
	require.NoError(t, err)
	var r struct {
		ClassID int              `yaml:"class_id"`
		Version roster.Version   `yaml:"version"`
		Entries []map[string]any `yaml:"entries"`
	}
	require.NoError(t, yaml.Unmarshal(data, &r))
	assert.Equal(t, 400, r.ClassID)
	assert.Equal(t, roster.VersionMonorepo, r.Version)
	require.Len(t, r.Entries, 1)
	assert.Equal(t, map[string]any{"drawer": true}, r.Entries[0]["app_state"])

	out, err := execute(t, fs, "roster", "summarize", "out/roster.yaml", "--format", "yaml")
	require.NoError(t, err)
	var sum roster.ClassSummary
	require.NoError(t, yaml.Unmarshal([]byte(out), &sum))
	assert.Equal(t, roster.VersionMonorepo, sum.Version)
	require.Len(t, sum.Students, 1)
	assert.Equal(t, 5, sum.Students[0].StudentID)
	assert.Equal(t, float64(10), sum.Students[0].Score)
	assert.Equal(t, 1, sum.Students[0].Answered)
	assert.Equal(t, 1, sum.Students[0].FreeResponses)

	out, err = execute(t, fs, "roster", "summarize", "out/roster.yaml", "--table")
	require.NoError(t, err)
	assert.Contains(t, out, "version: monorepo")
	assert.Contains(t, out, "STUDENT")
}

func TestRosterTransform_Errors(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := execute(t, fs, "roster", "transform", "missing.yaml")
	assert.ErrorContains(t, err, "read fixture")

	require.NoError(t, afero.WriteFile(fs, "bad.yaml", []byte("roster: [unterminated"), 0o644))
	_, err = execute(t, fs, "roster", "transform", "bad.yaml")
	assert.ErrorContains(t, err, "parse fixture")
}

func TestParseFlagOverrides(t *testing.T) {
	flags := config.DefaultSessionFlags()
	require.NoError(t, parseFlagOverrides(&flags, []string{"debug_mode", "update_db=false"}))
	assert.True(t, flags.DebugMode)
	assert.False(t, flags.UpdateDB)

	assert.Error(t, parseFlagOverrides(&flags, []string{"debug_mode=maybe"}))

	var ffErr *config.FeatureFlagError
	assert.ErrorAs(t, parseFlagOverrides(&flags, []string{"warp=true"}), &ffErr)
}

const simulationScript = `
steps:
  - goto: {stage: "spectra_&_velocity", step: sel_gal4, force: true}
  - next: "spectra_&_velocity"
  - multiple_choice: {stage: "spectra_&_velocity", tag: which-galaxy, score: 10, choice: 1, tries: 1}
  - free_response: {stage: "spectra_&_velocity", tag: prob, text: "It is moving away."}
  - route: spectra-and-velocity
`

func TestSessionSimulate_Local(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "script.yaml", []byte(simulationScript), 0o644))

	out, err := execute(t, fs, "session", "simulate",
		"--local",
		"--user", "student@example.org",
		"--script", "script.yaml",
		"--feature", "debug_mode=true",
	)
	require.NoError(t, err)

	var rep struct {
		StudentID int               `yaml:"student_id"`
		Story     string            `yaml:"story"`
		Flags     []string          `yaml:"flags"`
		Piggybank int               `yaml:"piggybank"`
		Steps     map[string]string `yaml:"current_steps"`
		Log       []string          `yaml:"log"`
		Events    int64             `yaml:"events"`
		Sync      map[string]any    `yaml:"sync"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &rep))

	assert.Positive(t, rep.StudentID)
	assert.Equal(t, hubble.StoryID, rep.Story)
	assert.Contains(t, rep.Flags, config.FeatureDebugMode)
	assert.Equal(t, 10, rep.Piggybank)
	assert.Equal(t, "sel_gal4", rep.Steps[hubble.StageSpectraAndVelocity])
	require.Len(t, rep.Log, 5)
	assert.Contains(t, rep.Log[1], "blocked")
	assert.Positive(t, rep.Events)
	assert.NotZero(t, rep.Sync["writes"])
}

func TestRosterFetchMeasurements(t *testing.T) {
	ctx := context.Background()
	local, err := app.StartLocal(memory.New(), logger.Discard())
	require.NoError(t, err)
	defer local.Close(ctx)

	class, err := local.SeedClass(ctx, "c1", hubble.StoryID)
	require.NoError(t, err)
	st := &student.Student{Username: "s1"}
	require.NoError(t, local.Store.CreateStudent(ctx, st, "c1"))
	require.NoError(t, local.Store.ReplaceMeasurements(ctx, st.ID, story.MeasurementsStudent,
		[]docdiff.Document{{"galaxy_id": float64(7)}}))

	out, err := execute(t, afero.NewMemMapFs(), "roster", "fetch",
		"--api-url", local.URL,
		"--class", strconv.Itoa(class.ID),
		"--measurements",
	)
	require.NoError(t, err)

	var m struct {
		Version  roster.Version           `yaml:"version"`
		Class    []map[string]any         `yaml:"class"`
		Students map[int][]map[string]any `yaml:"students"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &m))
	assert.Equal(t, roster.VersionLegacy, m.Version)
	assert.Equal(t, []map[string]any{{"galaxy_id": 7}}, m.Class)
	assert.Equal(t, []map[string]any{{"galaxy_id": 7}}, m.Students[st.ID])
}

func TestStateCommands(t *testing.T) {
	ctx := context.Background()
	local, err := app.StartLocal(memory.New(), logger.Discard())
	require.NoError(t, err)
	defer local.Close(ctx)

	class, err := local.SeedClass(ctx, "c2", hubble.StoryID)
	require.NoError(t, err)
	st := &student.Student{Username: "s2"}
	require.NoError(t, local.Store.CreateStudent(ctx, st, "c2"))

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "stage.yaml", []byte("current_step: 2\nmax_step: 3\n"), 0o644))
	target := []string{"--api-url", local.URL, "--student", strconv.Itoa(st.ID), "--stage", "introduction"}

	_, err = execute(t, fs, append([]string{"state", "put", "stage.yaml"}, target...)...)
	require.NoError(t, err)

	out, err := execute(t, fs, append([]string{"state", "get"}, target...)...)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, map[string]any{"current_step": 2, "max_step": 3}, got)

	_, err = execute(t, fs, append([]string{"state", "delete"}, target...)...)
	require.NoError(t, err)
	_, err = execute(t, fs, append([]string{"state", "get"}, target...)...)
	assert.ErrorContains(t, err, "has no introduction state")

	_, err = execute(t, fs, "state", "get", "--api-url", local.URL, "--student", strconv.Itoa(st.ID))
	assert.ErrorContains(t, err, "--stage are required")

	out, err = execute(t, fs, "state", "class-size", "--api-url", local.URL, "--class", strconv.Itoa(class.ID))
	require.NoError(t, err)
	assert.Equal(t, "1", strings.TrimSpace(out))
}
