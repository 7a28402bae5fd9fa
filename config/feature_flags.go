package config

import (
	"slices"
	"strings"

	"github.com/spf13/viper"

	"github.com/patudom/cds-app/internal/domain/story"
)

// Session switches. They are read once at start and never serialized.
const (
	FeatureUpdateDB          = "update_db"
	FeatureDebugMode         = "debug_mode"
	FeatureShowTeamInterface = "show_team_interface"
)

// Features lists the switch names Set accepts.
var Features = []string{FeatureUpdateDB, FeatureDebugMode, FeatureShowTeamInterface}

// SessionFlags are the process-wide session switches.
type SessionFlags struct {
	// UpdateDB is on unless CDS_DISABLE_DB is "true".
	UpdateDB bool

	// DebugMode comes from CDS_DEBUG_MODE.
	DebugMode bool

	// ShowTeamInterface comes from CDS_SHOW_TEAM_INTERFACE.
	ShowTeamInterface bool
}

// DefaultSessionFlags persists state and hides debug and team tooling.
func DefaultSessionFlags() SessionFlags {
	return SessionFlags{UpdateDB: true}
}

func bindSessionFlags(v *viper.Viper) {
	_ = v.BindEnv("session.disable_db", EnvPrefix+"_DISABLE_DB")
	_ = v.BindEnv("session.debug_mode", EnvPrefix+"_DEBUG_MODE")
	_ = v.BindEnv("session.show_team_interface", EnvPrefix+"_SHOW_TEAM_INTERFACE")
}

// LoadSessionFlags reads the switches. A switch is set only by the exact
// word "true", ignoring case and surrounding space; anything else,
// including "1", leaves it at its default.
func LoadSessionFlags(v *viper.Viper) SessionFlags {
	return SessionFlags{
		UpdateDB:          !isTrue(v.GetString("session.disable_db")),
		DebugMode:         isTrue(v.GetString("session.debug_mode")),
		ShowTeamInterface: isTrue(v.GetString("session.show_team_interface")),
	}
}

func isTrue(s string) bool {
	return strings.ToLower(strings.TrimSpace(s)) == "true"
}

// Set overrides one switch by name, for command line use.
func (f *SessionFlags) Set(name string, enabled bool) error {
	switch name {
	case FeatureUpdateDB:
		f.UpdateDB = enabled
	case FeatureDebugMode:
		f.DebugMode = enabled
	case FeatureShowTeamInterface:
		f.ShowTeamInterface = enabled
	default:
		return &FeatureFlagError{Message: "feature not found", Feature: name}
	}
	return nil
}

// Enabled reports a switch by name. Unknown names are off.
func (f SessionFlags) Enabled(name string) bool {
	switch name {
	case FeatureUpdateDB:
		return f.UpdateDB
	case FeatureDebugMode:
		return f.DebugMode
	case FeatureShowTeamInterface:
		return f.ShowTeamInterface
	}
	return false
}

// Active returns the names of the switches that are on, sorted.
func (f SessionFlags) Active() []string {
	var out []string
	for _, name := range Features {
		if f.Enabled(name) {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// Story converts the switches into the flags an AppState carries.
func (f SessionFlags) Story() story.Flags {
	return story.Flags{
		UpdateDB:          f.UpdateDB,
		ShowTeamInterface: f.ShowTeamInterface,
		DebugMode:         f.DebugMode,
	}
}

// --- Errors ---

// FeatureFlagError reports an unknown switch.
type FeatureFlagError struct {
	Message string
	Feature string
}

func (e *FeatureFlagError) Error() string {
	return e.Message + ": " + e.Feature
}
