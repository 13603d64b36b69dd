// Package config loads service configuration from a JSON file at
// $XDG_CONFIG_HOME/intentd/config.json, with INTENTD_* environment variables
// overriding file values. Secrets are environment-only and never written to
// the file.
package config

import (
	"os"
	"path/filepath"
)

type Config struct {
	Server   ServerConfig
	Oracle   OracleConfig
	Storage  StorageConfig
	Pipeline PipelineConfig
	Distill  DistillConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
	// APIToken guards the management endpoints. Empty disables auth, which
	// is only sensible on localhost.
	APIToken string
}

type OracleConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

type StorageConfig struct {
	DataDir string
	// LabelsFile optionally pins the intent label space. Empty means the
	// space is derived from stored events plus the base classes.
	LabelsFile string
}

type PipelineConfig struct {
	Mode            string
	IntentTimeoutS  float64
	LocalAcceptConf float64
}

type DistillConfig struct {
	AgreeMinConf    float64
	TeacherHighConf float64
	StudentLowConf  float64
	BatchSize       int
	HotSwapMinF1    float64
	MaxDays         int
	TrainIntervalS  int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Oracle: OracleConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Pipeline: PipelineConfig{
			Mode:            "cloud_mimic",
			IntentTimeoutS:  3.5,
			LocalAcceptConf: 0.8,
		},
		Distill: DistillConfig{
			AgreeMinConf:    0.75,
			TeacherHighConf: 0.80,
			StudentLowConf:  0.50,
			BatchSize:       128,
			HotSwapMinF1:    0.85,
			MaxDays:         30,
			TrainIntervalS:  600,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file and applies INTENTD_*
// environment overrides. A missing oracle API key is not an error: the
// service runs degraded, answering from the student and fallback only.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// ModelPath returns the location of the live student model artifact.
func (c Config) ModelPath() string {
	return filepath.Join(c.Storage.DataDir, "models", "student.gob")
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "intentd-data"
		}
	}
	return filepath.Join(dir, "intentd")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "intentd", "config.json")
}
