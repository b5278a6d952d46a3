package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Models.DetectionSize != 640 {
		t.Errorf("detection_size = %d, want default 640", cfg.Models.DetectionSize)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	doc := `
[models]
dir = "/opt/models"
detection_size = 320

[pipeline]
workers = 4
accelerated = true

[logging]
level = "debug"
format = "json"
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Models.Dir != "/opt/models" || cfg.Models.DetectionSize != 320 {
		t.Errorf("models not overridden: %+v", cfg.Models)
	}
	if cfg.Models.Detector != "scrfd_2.5g.onnx" {
		t.Errorf("unset field lost its default: %q", cfg.Models.Detector)
	}
	if cfg.Pipeline.Workers != 4 || !cfg.Pipeline.Accelerated {
		t.Errorf("pipeline not overridden: %+v", cfg.Pipeline)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("logging not overridden: %+v", cfg.Logging)
	}
}

func TestModelPath(t *testing.T) {
	cfg := Default()
	cfg.Models.Dir = filepath.Join("opt", "models")
	if got, want := cfg.ModelPath("emap.bin"), filepath.Join("opt", "models", "emap.bin"); got != want {
		t.Errorf("ModelPath = %q, want %q", got, want)
	}
	cfg.Models.Dir = ""
	if got := cfg.ModelPath("emap.bin"); got != "emap.bin" {
		t.Errorf("ModelPath with empty dir = %q, want bare name", got)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	doc := `
[pipeline]
workers = -2
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("negative workers accepted")
	}
}
