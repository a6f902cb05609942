package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Problem != "hydrothermal" {
		t.Errorf("expected problem hydrothermal, got %s", cfg.Problem)
	}
	if cfg.Solver.Penalty <= 0 {
		t.Error("penalty should be positive")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestGetPreset(t *testing.T) {
	cfg := GetPreset("hydrothermal", "async")
	if cfg == nil {
		t.Fatal("expected preset, got nil")
	}
	if cfg.Algorithm != "randomized_async" || cfg.Solver.Workers != 4 {
		t.Errorf("preset not applied: %+v", cfg.Solver)
	}
	if DefaultConfig().Algorithm != "progressivehedging" {
		t.Error("preset leaked into defaults")
	}
}

func TestGetPreset_NotFound(t *testing.T) {
	if GetPreset("hydrothermal", "nonexistent") != nil {
		t.Error("expected nil for nonexistent preset")
	}
	if GetPreset("nonexistent", "tutorial") != nil {
		t.Error("expected nil for nonexistent problem")
	}
}

func TestListPresets(t *testing.T) {
	presets := ListPresets("consensus")
	if len(presets) != 2 || presets[0] != "async" || presets[1] != "sync" {
		t.Errorf("expected sorted consensus presets, got %v", presets)
	}
	if ListPresets("nonexistent") != nil {
		t.Error("expected nil for nonexistent problem")
	}
}

func TestAllPresetsValidate(t *testing.T) {
	for problem := range Presets {
		for _, name := range ListPresets(problem) {
			if err := GetPreset(problem, name).Validate(); err != nil {
				t.Errorf("%s/%s: %v", problem, name, err)
			}
		}
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no problem", func(c *Config) { c.Problem = "" }},
		{"unknown algorithm", func(c *Config) { c.Algorithm = "gradient" }},
		{"zero penalty", func(c *Config) { c.Solver.Penalty = 0 }},
		{"zero max iter", func(c *Config) { c.Solver.MaxIter = 0 }},
		{"negative workers", func(c *Config) { c.Solver.Workers = -1 }},
		{"bad sampling", func(c *Config) { c.Solver.Sampling = "zipf" }},
		{"bad stepsize", func(c *Config) { c.Solver.StepSize = "armijo" }},
		{"rain prob one", func(c *Config) { c.Params.RainProb = 1 }},
		{"no rain", func(c *Config) { c.Params.Rain = nil }},
		{"negative rain", func(c *Config) { c.Params.Rain = []float64{-1, 2} }},
		{"too deep", func(c *Config) { c.Params.Stages = 40 }},
		{"alpha two", func(c *Config) { c.Subproblem.Alpha = 2 }},
		{"zero eps", func(c *Config) { c.Subproblem.EpsAbs, c.Subproblem.EpsRel = 0, 0 }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"negative drain", func(c *Config) { c.Solver.DrainTimeout = -time.Second }},
		{"cvar level one", func(c *Config) { c.Params.CVaRAlpha = 1 }},
		{"cvar weight above one", func(c *Config) { c.Params.CVaRWeight = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestSaveLoadKeepsFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	cfg := GetPreset("hydrothermal", "async")
	cfg.Solver.TaskTimeout = 3 * time.Second
	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, got)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	data := []byte(`
problem: consensus
algorithm: randomized_async
solver:
  workers: 3
  max_time: 90s
  seed: 7
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "consensus", cfg.Problem)
	require.Equal(t, 3, cfg.Solver.Workers)
	require.Equal(t, 90*time.Second, cfg.Solver.MaxTime)
	require.NotNil(t, cfg.Solver.Seed)
	require.EqualValues(t, 7, *cfg.Solver.Seed)
	require.Equal(t, DefaultPenalty, cfg.Solver.Penalty)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("solver:\n  penalty: -1\n"), 0644))
	_, err := Load(path)
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestClone(t *testing.T) {
	cfg := GetPreset("consensus", "sync")
	cp := cfg.Clone()
	cp.Params.Rain[0] = 99
	*cp.Solver.Seed = 42
	require.NotEqual(t, 99.0, cfg.Params.Rain[0])
	require.EqualValues(t, 1, *cfg.Solver.Seed)
}
