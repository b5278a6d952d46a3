// Package config loads and validates the application configuration from
// TOML.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Models contains model file locations and detector parameters.
type Models struct {
	Dir            string  `toml:"dir"`
	Detector       string  `toml:"detector"`
	Embedder       string  `toml:"embedder"`
	Swapper        string  `toml:"swapper"`
	Emap           string  `toml:"emap"`
	RuntimeLibrary string  `toml:"runtime_library"`
	DetectionSize  int     `toml:"detection_size"`
	ConfThreshold  float32 `toml:"conf_threshold"`
	NMSThreshold   float32 `toml:"nms_threshold"`
}

// Pipeline contains frame-pipeline sizing.
type Pipeline struct {
	// Workers <= 0 means auto: 2 when accelerated, otherwise
	// clamp(cpu-1, 1, 8).
	Workers     int  `toml:"workers"`
	QueueSize   int  `toml:"queue_size"`
	Accelerated bool `toml:"accelerated"`
	BlurSize    int  `toml:"blur_size"`
}

// Logging contains log output configuration.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Output contains result placement configuration.
type Output struct {
	// Dir, when set, receives result files instead of the input's
	// directory.
	Dir string `toml:"dir"`
}

// Config is the root configuration document.
type Config struct {
	Models   Models   `toml:"models"`
	Pipeline Pipeline `toml:"pipeline"`
	Logging  Logging  `toml:"logging"`
	Output   Output   `toml:"output"`
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Models: Models{
			Dir:           "models",
			Detector:      "scrfd_2.5g.onnx",
			Embedder:      "arcface_w600k_r50.onnx",
			Swapper:       "inswapper_128_fp16.onnx",
			Emap:          "emap.bin",
			DetectionSize: 640,
			ConfThreshold: 0.5,
			NMSThreshold:  0.4,
		},
		Pipeline: Pipeline{
			Workers:   0,
			QueueSize: 0,
			BlurSize:  31,
		},
		Logging: Logging{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads the TOML file at path over the defaults. A missing file is
// not an error; the defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks values a later stage would otherwise fail on obscurely.
func (c *Config) Validate() error {
	if c.Models.DetectionSize <= 0 {
		return fmt.Errorf("config: models.detection_size must be positive, got %d", c.Models.DetectionSize)
	}
	if c.Models.ConfThreshold <= 0 || c.Models.ConfThreshold >= 1 {
		return fmt.Errorf("config: models.conf_threshold must be in (0,1), got %v", c.Models.ConfThreshold)
	}
	if c.Pipeline.Workers < 0 {
		return fmt.Errorf("config: pipeline.workers must not be negative, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.QueueSize < 0 {
		return fmt.Errorf("config: pipeline.queue_size must not be negative, got %d", c.Pipeline.QueueSize)
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("config: logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}

// ModelPath resolves a model file name against the models directory.
func (c *Config) ModelPath(name string) string {
	if c.Models.Dir == "" {
		return name
	}
	return filepath.Join(c.Models.Dir, name)
}
