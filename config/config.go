package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// Database
	DatabaseURL string `yaml:"database_url"`

	// Server
	ServerPort string `yaml:"server_port"`

	Scheduler SchedulerConfig `yaml:"scheduler"`
	Drift     DriftConfig     `yaml:"drift"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Artifacts ArtifactConfig  `yaml:"artifacts"`
}

// SchedulerConfig controls admission and execution of jobs
type SchedulerConfig struct {
	CPUSlots          int           `yaml:"cpu_slots"`
	GPUSlots          int           `yaml:"gpu_slots"`
	PressureCeiling   float64       `yaml:"pressure_ceiling"` // percent, CPU or memory
	AdmissionInterval time.Duration `yaml:"admission_interval"`
	AgingRate         float64       `yaml:"aging_rate"` // priority points per second waited
	MaxQueueDepth     int           `yaml:"max_queue_depth"` // 0 = unlimited
	StageTimeout      time.Duration `yaml:"stage_timeout"`
	ProgressEvery     int           `yaml:"progress_every"` // rows between predict progress events
}

// DriftConfig controls the drift detector and the daily check
type DriftConfig struct {
	CheckTime     string  `yaml:"check_time"` // "HH:MM" local
	PSIWarn       float64 `yaml:"psi_warn"`
	PSIDrift      float64 `yaml:"psi_drift"`
	JSWarn        float64 `yaml:"js_warn"`
	JSDrift       float64 `yaml:"js_drift"`
	MinSampleSize int     `yaml:"min_sample_size"`
	SampleLimit   int     `yaml:"sample_limit"`
}

// MonitorConfig controls host resource sampling
type MonitorConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// ArtifactConfig holds object storage settings for model artifacts
type ArtifactConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Load builds the configuration from defaults, an optional YAML file,
// and environment variable overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.ServerPort = getEnv("SERVER_PORT", cfg.ServerPort)
	cfg.Scheduler.CPUSlots = getEnvInt("SCHEDULER_CPU_SLOTS", cfg.Scheduler.CPUSlots)
	cfg.Scheduler.GPUSlots = getEnvInt("SCHEDULER_GPU_SLOTS", cfg.Scheduler.GPUSlots)
	cfg.Drift.CheckTime = getEnv("DRIFT_CHECK_TIME", cfg.Drift.CheckTime)
	cfg.Artifacts.Endpoint = getEnv("ARTIFACTS_ENDPOINT", cfg.Artifacts.Endpoint)
	cfg.Artifacts.AccessKey = getEnv("ARTIFACTS_ACCESS_KEY", cfg.Artifacts.AccessKey)
	cfg.Artifacts.SecretKey = getEnv("ARTIFACTS_SECRET_KEY", cfg.Artifacts.SecretKey)
	cfg.Artifacts.Bucket = getEnv("ARTIFACTS_BUCKET", cfg.Artifacts.Bucket)

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		DatabaseURL: "postgres://localhost/model_orchestrator?sslmode=disable",
		ServerPort:  "8080",
		Scheduler: SchedulerConfig{
			CPUSlots:          4,
			GPUSlots:          0,
			PressureCeiling:   90,
			AdmissionInterval: 2 * time.Second,
			AgingRate:         0.05,
			MaxQueueDepth:     0,
			StageTimeout:      2 * time.Minute,
			ProgressEvery:     100,
		},
		Drift: DriftConfig{
			CheckTime:     "23:00",
			PSIWarn:       0.1,
			PSIDrift:      0.25,
			JSWarn:        0.1,
			JSDrift:       0.2,
			MinSampleSize: 30,
			SampleLimit:   1000,
		},
		Monitor: MonitorConfig{
			Interval: 10 * time.Second,
		},
		Artifacts: ArtifactConfig{
			Bucket: "model-artifacts",
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
