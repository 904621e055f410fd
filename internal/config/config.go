/*
 *
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package config loads slotbuf configuration from defaults, an optional
// YAML file and SLOTBUF_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"

	"github.com/slotbuf/slotbuf/internal/logging"
	"github.com/slotbuf/slotbuf/internal/shm"
)

// FileEnv names the environment variable that points at a YAML config file.
const FileEnv = "SLOTBUF_CONFIG"

// Config holds all slotbuf configuration.
type Config struct {
	Shm     ShmConfig     `yaml:"shm"`
	Agent   AgentConfig   `yaml:"agent"`
	Launch  LaunchConfig  `yaml:"launch"`
	Logging LogConfig     `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ShmConfig holds the deployment's object names and geometry.
type ShmConfig struct {
	Dir         string `envconfig:"SLOTBUF_SHM_DIR" yaml:"dir"`
	Segment     string `envconfig:"SLOTBUF_SEGMENT" yaml:"segment"`
	Mutex       string `envconfig:"SLOTBUF_MUTEX" yaml:"mutex"`
	SignalBase  string `envconfig:"SLOTBUF_SIGNAL_BASE" yaml:"signal_base"`
	Slots       int    `envconfig:"SLOTBUF_SLOTS" yaml:"slots"`
	PayloadSize int    `envconfig:"SLOTBUF_PAYLOAD_SIZE" yaml:"payload_size"`
}

// AgentConfig holds writer and reader loop parameters.
type AgentConfig struct {
	WriterQuota   int           `envconfig:"SLOTBUF_WRITER_QUOTA" yaml:"writer_quota"`
	ReaderQuota   int           `envconfig:"SLOTBUF_READER_QUOTA" yaml:"reader_quota"`
	WaitTimeout   time.Duration `envconfig:"SLOTBUF_WAIT_TIMEOUT" yaml:"wait_timeout"`
	Backoff       time.Duration `envconfig:"SLOTBUF_BACKOFF" yaml:"backoff"`
	DelayMin      time.Duration `envconfig:"SLOTBUF_DELAY_MIN" yaml:"delay_min"`
	DelayMax      time.Duration `envconfig:"SLOTBUF_DELAY_MAX" yaml:"delay_max"`
	Pause         time.Duration `envconfig:"SLOTBUF_PAUSE" yaml:"pause"`
	AttachTimeout time.Duration `envconfig:"SLOTBUF_ATTACH_TIMEOUT" yaml:"attach_timeout"`
}

// LaunchConfig holds launcher parameters.
type LaunchConfig struct {
	Writers int `envconfig:"SLOTBUF_WRITERS" yaml:"writers"`
	Readers int `envconfig:"SLOTBUF_READERS" yaml:"readers"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"SLOTBUF_LOG_LEVEL" yaml:"level"`
	Development bool   `envconfig:"SLOTBUF_LOG_DEV" yaml:"development"`
	Dir         string `envconfig:"SLOTBUF_LOG_DIR" yaml:"dir"`
	Events      bool   `envconfig:"SLOTBUF_EVENT_LOG" yaml:"events"`
}

// MetricsConfig holds metrics export configuration.
type MetricsConfig struct {
	Dir string `envconfig:"SLOTBUF_METRICS_DIR" yaml:"dir"`
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Shm: ShmConfig{
			Segment:     shm.DefaultSegmentName,
			Mutex:       shm.DefaultMutexName,
			SignalBase:  shm.DefaultSignalBase,
			Slots:       shm.DefaultSlotCount,
			PayloadSize: shm.DefaultPayloadSize,
		},
		Agent: AgentConfig{
			WriterQuota:   20,
			ReaderQuota:   20,
			WaitTimeout:   1500 * time.Millisecond,
			Backoff:       100 * time.Millisecond,
			DelayMin:      500 * time.Millisecond,
			DelayMax:      1500 * time.Millisecond,
			Pause:         5 * time.Millisecond,
			AttachTimeout: 5 * time.Second,
		},
		Launch: LaunchConfig{
			Writers: 10,
			Readers: 10,
		},
		Logging: LogConfig{
			Level:  "info",
			Dir:    ".",
			Events: true,
		},
	}
}

// Load builds configuration from defaults, the file named by SLOTBUF_CONFIG
// if set, and environment variables.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(FileEnv))
}

// LoadOrDefault loads configuration from the environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// LoadFile builds configuration from defaults, the YAML file at path and
// environment variables, in that order. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	if err := shm.ValidateGeometry(c.Geometry()); err != nil {
		errs = append(errs, err)
	}
	if c.Shm.Segment == "" || c.Shm.Mutex == "" || c.Shm.SignalBase == "" {
		errs = append(errs, errors.New("segment, mutex and signal base names must be set"))
	}
	if c.Agent.WriterQuota < 0 || c.Agent.ReaderQuota < 0 {
		errs = append(errs, errors.New("quotas must not be negative"))
	}
	if c.Agent.WaitTimeout <= 0 {
		errs = append(errs, fmt.Errorf("wait timeout must be positive, got %v", c.Agent.WaitTimeout))
	}
	if c.Agent.Backoff < 0 || c.Agent.Pause < 0 || c.Agent.DelayMin < 0 {
		errs = append(errs, errors.New("backoff, pause and delays must not be negative"))
	}
	if c.Agent.DelayMax < c.Agent.DelayMin {
		errs = append(errs, fmt.Errorf("delay range [%v, %v] is inverted", c.Agent.DelayMin, c.Agent.DelayMax))
	}
	if c.Launch.Writers < 0 || c.Launch.Readers < 0 {
		errs = append(errs, errors.New("process counts must not be negative"))
	}
	return errors.Join(errs...)
}

// Names returns the deployment's object names.
func (c *Config) Names() shm.Names {
	return shm.Names{
		Dir:        c.Shm.Dir,
		Segment:    c.Shm.Segment,
		Mutex:      c.Shm.Mutex,
		SignalBase: c.Shm.SignalBase,
	}
}

// Geometry returns the deployment's geometry.
func (c *Config) Geometry() shm.Geometry {
	return shm.Geometry{Slots: c.Shm.Slots, PayloadSize: c.Shm.PayloadSize}
}

// LogConfig returns the zap logger configuration.
func (c *Config) LogConfig() logging.Config {
	cfg := logging.DefaultConfig()
	if c.Logging.Development {
		cfg = logging.DevelopmentConfig()
	}
	if c.Logging.Level != "" {
		cfg.Level = c.Logging.Level
	}
	return cfg
}

// Environ renders the configuration as SLOTBUF_* variables, for passing
// to child processes.
func (c *Config) Environ() []string {
	kv := func(k string, v any) string { return fmt.Sprintf("%s=%v", k, v) }
	return []string{
		kv("SLOTBUF_SHM_DIR", c.Shm.Dir),
		kv("SLOTBUF_SEGMENT", c.Shm.Segment),
		kv("SLOTBUF_MUTEX", c.Shm.Mutex),
		kv("SLOTBUF_SIGNAL_BASE", c.Shm.SignalBase),
		kv("SLOTBUF_SLOTS", c.Shm.Slots),
		kv("SLOTBUF_PAYLOAD_SIZE", c.Shm.PayloadSize),
		kv("SLOTBUF_WRITER_QUOTA", c.Agent.WriterQuota),
		kv("SLOTBUF_READER_QUOTA", c.Agent.ReaderQuota),
		kv("SLOTBUF_WAIT_TIMEOUT", c.Agent.WaitTimeout),
		kv("SLOTBUF_BACKOFF", c.Agent.Backoff),
		kv("SLOTBUF_DELAY_MIN", c.Agent.DelayMin),
		kv("SLOTBUF_DELAY_MAX", c.Agent.DelayMax),
		kv("SLOTBUF_PAUSE", c.Agent.Pause),
		kv("SLOTBUF_ATTACH_TIMEOUT", c.Agent.AttachTimeout),
		kv("SLOTBUF_LOG_LEVEL", c.Logging.Level),
		kv("SLOTBUF_LOG_DEV", c.Logging.Development),
		kv("SLOTBUF_LOG_DIR", c.Logging.Dir),
		kv("SLOTBUF_EVENT_LOG", c.Logging.Events),
		kv("SLOTBUF_METRICS_DIR", c.Metrics.Dir),
	}
}
