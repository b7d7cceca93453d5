// Package config provides configuration loading and access for the engines,
// the pool catalog and the binaries.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/drift/placement"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Scene kinds.
const (
	KindParticle = "particle"
	KindPhysics  = "physics"
)

// Validation errors.
var (
	ErrNoScenes       = errors.New("config: no scenes configured")
	ErrDuplicateScene = errors.New("config: duplicate scene key")
	ErrSceneGrid      = errors.New("config: scene count must equal cols*rows")
	ErrSceneKind      = errors.New("config: unknown scene kind")
)

// Config holds all configuration parameters.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Frame     FrameConfig     `yaml:"frame"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Scenes    []SceneConfig   `yaml:"scenes"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// DeviceConfig selects and sizes the render device.
type DeviceConfig struct {
	Backend      string `yaml:"backend"` // software or raylib
	Workers      int    `yaml:"workers"` // software row workers, 0 = GOMAXPROCS
	ShaderDir    string `yaml:"shader_dir"`
	WindowWidth  int    `yaml:"window_width"`
	WindowHeight int    `yaml:"window_height"`
}

// FrameConfig holds frame loop timing.
type FrameConfig struct {
	DT           float64 `yaml:"dt"`
	TargetFPS    int     `yaml:"target_fps"`
	SceneSeconds float64 `yaml:"scene_seconds"` // rotation period in the drift binary

	// PreviewInterval is the number of frames between point cloud readbacks
	// in the windowed binary. 0 refreshes only after scene switches.
	PreviewInterval int `yaml:"preview_interval"`
}

// LogConfig holds logging parameters.
type LogConfig struct {
	Level         string `yaml:"level"`
	StatsInterval int    `yaml:"stats_interval"` // frames between perf log lines
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	PerfCollectorWindow int    `yaml:"perf_collector_window"`
	MetricsAddr         string `yaml:"metrics_addr"`
	DumpTexels          bool   `yaml:"dump_texels"`
}

// SceneConfig is one pool catalog entry.
type SceneConfig struct {
	Key           string             `yaml:"key"`
	Kind          string             `yaml:"kind"`
	Variant       string             `yaml:"variant"`
	Placement     placement.Strategy `yaml:"placement"`
	Count         int                `yaml:"count"`
	Cols          int                `yaml:"cols"`
	Rows          int                `yaml:"rows"`
	BaseRadius    float64            `yaml:"base_radius"`
	ParticleSize  float64            `yaml:"particle_size"`
	NoiseStrength float64            `yaml:"noise_strength"`
	Options       placement.Options  `yaml:"options"`
	Physics       PhysicsParams      `yaml:"physics"`
	Forces        []ForceConfig      `yaml:"forces"`
}

// PhysicsParams holds the constants of a physics scene.
type PhysicsParams struct {
	Gravity          []float64 `yaml:"gravity"`
	SpringStiffness  float64   `yaml:"spring_stiffness"`
	SpringDamping    float64   `yaml:"spring_damping"`
	RestoreStiffness float64   `yaml:"restore_stiffness"`
	RestoreDamping   float64   `yaml:"restore_damping"`
	GroundY          float64   `yaml:"ground_y"`
}

// ForceConfig is a point force applied every frame while a scene runs.
// Orbit moves the center around the y axis at the given angular speed.
type ForceConfig struct {
	Center            []float64 `yaml:"center"`
	Strength          float64   `yaml:"strength"`
	Radius            float64   `yaml:"radius"`
	ReturnProbability float64   `yaml:"return_probability"`
	Orbit             float64   `yaml:"orbit"`
}

// Vec3 returns v padded or truncated to three components.
func Vec3(v []float64) [3]float64 {
	var out [3]float64
	copy(out[:], v)
	return out
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	DT32       float32        // Frame.DT as float32
	LogLevel   slog.Level     // parsed Log.Level
	SceneIndex map[string]int // key -> index into Scenes
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used. A user file that lists
// scenes replaces the default catalog.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.computeDerived(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// computeDerived fills defaults, validates the scene catalog and calculates
// derived values.
func (c *Config) computeDerived() error {
	c.Derived.DT32 = float32(c.Frame.DT)

	if err := c.Derived.LogLevel.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return fmt.Errorf("config: log level: %w", err)
	}

	if len(c.Scenes) == 0 {
		return ErrNoScenes
	}
	c.Derived.SceneIndex = make(map[string]int, len(c.Scenes))
	for i := range c.Scenes {
		s := &c.Scenes[i]
		if _, dup := c.Derived.SceneIndex[s.Key]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateScene, s.Key)
		}
		c.Derived.SceneIndex[s.Key] = i

		if s.Kind == "" {
			s.Kind = KindParticle
		}
		if s.Kind != KindParticle && s.Kind != KindPhysics {
			return fmt.Errorf("%w: %q in scene %q", ErrSceneKind, s.Kind, s.Key)
		}
		if s.Count == 0 {
			s.Count = s.Cols * s.Rows
		}
		if s.Cols <= 0 || s.Rows <= 0 || s.Count != s.Cols*s.Rows {
			return fmt.Errorf("%w: scene %q has count %d, grid %dx%d", ErrSceneGrid, s.Key, s.Count, s.Cols, s.Rows)
		}
		if s.ParticleSize == 0 {
			s.ParticleSize = 1
		}
	}
	return nil
}

// Scene returns the scene with the given key.
func (c *Config) Scene(key string) (SceneConfig, bool) {
	i, ok := c.Derived.SceneIndex[key]
	if !ok {
		return SceneConfig{}, false
	}
	return c.Scenes[i], true
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
