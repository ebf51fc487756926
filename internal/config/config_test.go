package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100.0, cfg.BlurThreshold)
	assert.Equal(t, 150.0, cfg.FocusThreshold)
	assert.Equal(t, 500*time.Millisecond, cfg.Debounce)
	assert.Equal(t, 3, cfg.AnalyzeEvery)
}

func TestLoad_PartialOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
focus_threshold: 180
debounce: 750ms
landmarks:
  backend: process
  command: ["python3", "-u", "landmarks.py"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 180.0, cfg.FocusThreshold)
	assert.Equal(t, 750*time.Millisecond, cfg.Debounce)
	assert.Equal(t, 100.0, cfg.BlurThreshold, "untouched keys keep defaults")
	assert.Equal(t, BackendProcess, cfg.Landmarks.Backend)
	assert.Equal(t, []string{"python3", "-u", "landmarks.py"}, cfg.Landmarks.Command)
	assert.Equal(t, 2*time.Second, cfg.Landmarks.Timeout)
}

func TestOffline_LiftsBudgetUnlessConfigured(t *testing.T) {
	assert.Equal(t, time.Duration(0), Default().Offline().LandmarkBudget)
	assert.Equal(t, 30*time.Millisecond, Default().LandmarkBudget, "live default untouched")

	cfg, err := Load(writeConfig(t, "debounce: 600ms\n"))
	require.NoError(t, err)
	assert.False(t, cfg.BudgetFromFile)
	assert.Equal(t, time.Duration(0), cfg.Offline().LandmarkBudget)

	cfg, err = Load(writeConfig(t, "landmark_budget: 250ms\n"))
	require.NoError(t, err)
	assert.True(t, cfg.BudgetFromFile)
	assert.Equal(t, 250*time.Millisecond, cfg.Offline().LandmarkBudget)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "blur_threshold: [oops"))
	assert.ErrorContains(t, err, "failed to parse config")

	_, err = Load(writeConfig(t, "analyze_every: 0"))
	assert.ErrorContains(t, err, "analyze_every")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Tuning)
		want   string
	}{
		{"focus below blur", func(c *Tuning) { c.FocusThreshold = 90 }, "focus_threshold"},
		{"stride", func(c *Tuning) { c.SharpnessStride = 0 }, "sharpness_stride"},
		{"samples", func(c *Tuning) { c.BrightnessSamples = 0 }, "brightness_samples"},
		{"lighting order", func(c *Tuning) { c.DarkBelow = 0.9 }, "lighting bounds"},
		{"distance order", func(c *Tuning) { c.MinDistance = 0.8 }, "distance window"},
		{"pigo paths", func(c *Tuning) { c.Landmarks.Backend = BackendPigo }, "face_cascade"},
		{"process command", func(c *Tuning) { c.Landmarks.Backend = BackendProcess }, "command"},
		{"unknown backend", func(c *Tuning) { c.Landmarks.Backend = "coreml" }, "unknown landmark backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
