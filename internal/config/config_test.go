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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "slotbuf_segment", cfg.Shm.Segment)
	assert.Equal(t, "slotbuf_mutex", cfg.Shm.Mutex)
	assert.Equal(t, "slotbuf_sig_", cfg.Shm.SignalBase)
	assert.Equal(t, 20, cfg.Shm.Slots)
	assert.Equal(t, 4096, cfg.Shm.PayloadSize)
	assert.Equal(t, 20, cfg.Agent.WriterQuota)
	assert.Equal(t, 20, cfg.Agent.ReaderQuota)
	assert.Equal(t, 1500*time.Millisecond, cfg.Agent.WaitTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Agent.Backoff)
	assert.Equal(t, 10, cfg.Launch.Writers)
	assert.Equal(t, 10, cfg.Launch.Readers)
	assert.True(t, cfg.Logging.Events)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv("SLOTBUF_SLOTS", "8")
	t.Setenv("SLOTBUF_SEGMENT", "seg_env")
	t.Setenv("SLOTBUF_WAIT_TIMEOUT", "250ms")
	t.Setenv("SLOTBUF_EVENT_LOG", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Shm.Slots)
	assert.Equal(t, "seg_env", cfg.Shm.Segment)
	assert.Equal(t, 250*time.Millisecond, cfg.Agent.WaitTimeout)
	assert.False(t, cfg.Logging.Events)
	// Unset variables keep their defaults.
	assert.Equal(t, "slotbuf_mutex", cfg.Shm.Mutex)
	assert.Equal(t, 4096, cfg.Shm.PayloadSize)
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slotbuf.yaml")
	data := []byte(`shm:
  segment: seg_file
  slots: 4
launch:
  writers: 3
  readers: 2
logging:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	t.Setenv(FileEnv, path)
	t.Setenv("SLOTBUF_SLOTS", "6")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "seg_file", cfg.Shm.Segment)
	assert.Equal(t, 6, cfg.Shm.Slots, "environment overrides file")
	assert.Equal(t, 3, cfg.Launch.Writers)
	assert.Equal(t, 2, cfg.Launch.Readers)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 4096, cfg.Shm.PayloadSize)
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv("SLOTBUF_SLOTS", "many")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadFile_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "explicit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("shm:\n  segment: seg_explicit\n  slots: 4\n"), 0o600))
	other := filepath.Join(dir, "ignored.yaml")
	require.NoError(t, os.WriteFile(other, []byte("shm:\n  segment: seg_ignored\n"), 0o600))
	t.Setenv(FileEnv, other)
	t.Setenv("SLOTBUF_SLOTS", "6")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "seg_explicit", cfg.Shm.Segment, "explicit path wins over "+FileEnv)
	assert.Equal(t, 6, cfg.Shm.Slots, "environment overrides file")
}

func TestLoadFile_EmptyPathUsesEnv(t *testing.T) {
	t.Setenv("SLOTBUF_SEGMENT", "seg_env")

	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, "seg_env", cfg.Shm.Segment)
}

func TestLoadOrDefault(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv("SLOTBUF_SLOTS", "0")

	cfg := LoadOrDefault()
	assert.Equal(t, 20, cfg.Shm.Slots)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero slots", func(c *Config) { c.Shm.Slots = 0 }, false},
		{"zero payload", func(c *Config) { c.Shm.PayloadSize = 0 }, false},
		{"empty segment", func(c *Config) { c.Shm.Segment = "" }, false},
		{"negative quota", func(c *Config) { c.Agent.ReaderQuota = -1 }, false},
		{"zero quota", func(c *Config) { c.Agent.WriterQuota = 0 }, true},
		{"zero wait", func(c *Config) { c.Agent.WaitTimeout = 0 }, false},
		{"inverted delays", func(c *Config) { c.Agent.DelayMin = 2 * time.Second }, false},
		{"equal delays", func(c *Config) { c.Agent.DelayMin = c.Agent.DelayMax }, true},
		{"negative writers", func(c *Config) { c.Launch.Writers = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestNamesAndGeometry(t *testing.T) {
	cfg := Default()
	cfg.Shm.Dir = "/tmp/x"
	cfg.Shm.Slots = 3

	n := cfg.Names()
	assert.Equal(t, "/tmp/x", n.Dir)
	assert.Equal(t, "slotbuf_sig_2", n.Signal(2))

	g := cfg.Geometry()
	assert.Equal(t, 3, g.Slots)
	assert.Equal(t, 4096, g.PayloadSize)
}

func TestEnvironRoundTrip(t *testing.T) {
	src := Default()
	src.Shm.Segment = "seg_child"
	src.Agent.Pause = 7 * time.Millisecond
	src.Launch.Writers = 0

	t.Setenv(FileEnv, "")
	for _, kv := range src.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				t.Setenv(kv[:i], kv[i+1:])
				break
			}
		}
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "seg_child", cfg.Shm.Segment)
	assert.Equal(t, 7*time.Millisecond, cfg.Agent.Pause)
	assert.Equal(t, src.Agent, cfg.Agent)
}
