// Package config provides configuration for the model engine daemon.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds server configuration.
type Config struct {
	// Listen is the address to listen on (e.g., ":7450").
	Listen string `yaml:"listen"`
	// DataDir is the directory holding the database file.
	DataDir string `yaml:"dataDir"`
	// Version is the server version string.
	Version string `yaml:"version"`
	// Debug enables debug logging.
	Debug bool `yaml:"debug"`
	// PolicyPath points at an approval policy file. Empty uses the default policy.
	PolicyPath string `yaml:"policyPath"`
	// WorkerInterval is how often the dependent value queue is polled.
	WorkerInterval time.Duration `yaml:"workerInterval"`
	// WorkerBatchSize is the number of queue items claimed per poll.
	WorkerBatchSize int `yaml:"workerBatchSize"`
	// WorkerConcurrency bounds the items processed at once.
	WorkerConcurrency int `yaml:"workerConcurrency"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// FromEnv creates a Config from environment variables.
func FromEnv() *Config {
	cfg := &Config{
		Listen:            getEnv("KAIMODEL_LISTEN", ":7450"),
		DataDir:           getEnv("KAIMODEL_DATA", "./data"),
		Version:           getEnv("KAIMODEL_VERSION", "0.1.0"),
		Debug:             getEnvBool("KAIMODEL_DEBUG", false),
		PolicyPath:        getEnv("KAIMODEL_POLICY", ""),
		WorkerInterval:    getEnvDuration("KAIMODEL_WORKER_INTERVAL", time.Second),
		WorkerBatchSize:   getEnvInt("KAIMODEL_WORKER_BATCH", 32),
		WorkerConcurrency: getEnvInt("KAIMODEL_WORKER_CONCURRENCY", 4),
		ShutdownTimeout:   getEnvDuration("KAIMODEL_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	return cfg
}

// Load reads a YAML file over the environment configuration. Keys absent
// from the file keep their environment or default value.
func Load(path string) (*Config, error) {
	cfg := FromEnv()
	if path == "" {
		return cfg, cfg.Validate()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Listen == "":
		return errors.New("listen address is required")
	case c.DataDir == "":
		return errors.New("data directory is required")
	case c.WorkerInterval <= 0:
		return fmt.Errorf("worker interval must be positive, got %s", c.WorkerInterval)
	case c.WorkerBatchSize <= 0:
		return fmt.Errorf("worker batch size must be positive, got %d", c.WorkerBatchSize)
	case c.WorkerConcurrency <= 0:
		return fmt.Errorf("worker concurrency must be positive, got %d", c.WorkerConcurrency)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
