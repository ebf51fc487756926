package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Landmark backends.
const (
	BackendNone    = "none"
	BackendPigo    = "pigo"
	BackendProcess = "process"
)

// Tuning holds every threshold of the guidance engine. The values are empirical constants
// from the mobile capture flow; they are centralized here so they can be tuned per device.
type Tuning struct {
	// Sharpness
	BlurThreshold   float64 `yaml:"blur_threshold"`   // Default: 100 (below = blurry)
	FocusThreshold  float64 `yaml:"focus_threshold"`  // Default: 150 (above = good for capture)
	SharpnessStride int     `yaml:"sharpness_stride"` // Default: 2

	// Lighting
	BrightnessSamples int     `yaml:"brightness_samples"` // Default: 30
	BrightnessRadius  int     `yaml:"brightness_radius"`  // Default: 50 px
	DarkBelow         float64 `yaml:"dark_below"`         // Default: 0.25
	BrightAbove       float64 `yaml:"bright_above"`       // Default: 0.85

	// Distance window
	MinDistance float64 `yaml:"min_distance"` // Default: 0.3
	MaxDistance float64 `yaml:"max_distance"` // Default: 0.7

	// Timing
	Debounce       time.Duration `yaml:"debounce"`        // Default: 500ms
	AnalyzeEvery   int           `yaml:"analyze_every"`   // Default: 3 (every 3rd frame)
	LandmarkBudget time.Duration `yaml:"landmark_budget"` // Default: 30ms

	// BudgetFromFile records that the loaded file set landmark_budget itself.
	BudgetFromFile bool `yaml:"-"`

	Landmarks LandmarkConfig `yaml:"landmarks"`
}

// LandmarkConfig selects the eye-landmark capability for a session.
type LandmarkConfig struct {
	Backend string `yaml:"backend"` // none, pigo, process

	// pigo
	FaceCascade    string  `yaml:"face_cascade"`
	PuplocCascade  string  `yaml:"puploc_cascade"`
	MinFaceSize    int     `yaml:"min_face_size"`
	MaxFaceSize    int     `yaml:"max_face_size"`
	ScaleFactor    float64 `yaml:"scale_factor"`
	ShiftFactor    float64 `yaml:"shift_factor"`
	IoUThreshold   float64 `yaml:"iou_threshold"`
	MinFaceQuality float32 `yaml:"min_face_quality"`

	// process
	Command []string      `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the capture-flow defaults.
func Default() Tuning {
	return Tuning{
		BlurThreshold:     100,
		FocusThreshold:    150,
		SharpnessStride:   2,
		BrightnessSamples: 30,
		BrightnessRadius:  50,
		DarkBelow:         0.25,
		BrightAbove:       0.85,
		MinDistance:       0.3,
		MaxDistance:       0.7,
		Debounce:          500 * time.Millisecond,
		AnalyzeEvery:      3,
		LandmarkBudget:    30 * time.Millisecond,
		Landmarks: LandmarkConfig{
			Backend:        BackendNone,
			MinFaceSize:    60,
			MaxFaceSize:    1200,
			ScaleFactor:    1.1,
			ShiftFactor:    0.1,
			IoUThreshold:   0.2,
			MinFaceQuality: 5.0,
			Timeout:        2 * time.Second,
		},
	}
}

// Load reads a YAML tuning file. Keys missing from the file keep their defaults.
func Load(path string) (Tuning, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	var keys map[string]any
	if err := yaml.Unmarshal(data, &keys); err == nil {
		_, cfg.BudgetFromFile = keys["landmark_budget"]
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Offline adapts the tuning for replaying recorded media, where there is no camera to keep up
// with: the landmark budget is lifted unless the config file chose one.
func (t Tuning) Offline() Tuning {
	if !t.BudgetFromFile {
		t.LandmarkBudget = 0
	}
	return t
}

// Validate rejects tunings the engine cannot run with.
func (t Tuning) Validate() error {
	var errs []error
	if t.BlurThreshold < 0 || t.FocusThreshold < 0 {
		errs = append(errs, errors.New("sharpness thresholds must be >= 0"))
	}
	if t.FocusThreshold < t.BlurThreshold {
		errs = append(errs, fmt.Errorf("focus_threshold (%v) must not be below blur_threshold (%v)", t.FocusThreshold, t.BlurThreshold))
	}
	if t.SharpnessStride < 1 {
		errs = append(errs, fmt.Errorf("sharpness_stride must be >= 1, got %d", t.SharpnessStride))
	}
	if t.BrightnessSamples < 1 {
		errs = append(errs, fmt.Errorf("brightness_samples must be >= 1, got %d", t.BrightnessSamples))
	}
	if t.BrightnessRadius < 0 {
		errs = append(errs, fmt.Errorf("brightness_radius must be >= 0, got %d", t.BrightnessRadius))
	}
	if t.DarkBelow < 0 || t.BrightAbove > 1 || t.DarkBelow > t.BrightAbove {
		errs = append(errs, fmt.Errorf("lighting bounds must satisfy 0 <= dark_below <= bright_above <= 1, got %v/%v", t.DarkBelow, t.BrightAbove))
	}
	if t.MinDistance < 0 || t.MaxDistance > 1 || t.MinDistance > t.MaxDistance {
		errs = append(errs, fmt.Errorf("distance window must satisfy 0 <= min <= max <= 1, got %v/%v", t.MinDistance, t.MaxDistance))
	}
	if t.Debounce < 0 {
		errs = append(errs, fmt.Errorf("debounce must be >= 0, got %v", t.Debounce))
	}
	if t.AnalyzeEvery < 1 {
		errs = append(errs, fmt.Errorf("analyze_every must be >= 1, got %d", t.AnalyzeEvery))
	}
	if t.LandmarkBudget < 0 {
		errs = append(errs, fmt.Errorf("landmark_budget must be >= 0, got %v", t.LandmarkBudget))
	}

	switch t.Landmarks.Backend {
	case BackendNone, "":
	case BackendPigo:
		if t.Landmarks.FaceCascade == "" || t.Landmarks.PuplocCascade == "" {
			errs = append(errs, errors.New("pigo backend needs face_cascade and puploc_cascade"))
		}
	case BackendProcess:
		if len(t.Landmarks.Command) == 0 {
			errs = append(errs, errors.New("process backend needs a command"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown landmark backend %q", t.Landmarks.Backend))
	}
	return errors.Join(errs...)
}
