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

package agent

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/slotbuf/slotbuf/internal/buffer"
	"github.com/slotbuf/slotbuf/internal/config"
	"github.com/slotbuf/slotbuf/internal/eventlog"
	"github.com/slotbuf/slotbuf/internal/metrics"
)

// TimingFromConfig returns the loop pacing configured in cfg.
func TimingFromConfig(cfg *config.Config) Timing {
	return Timing{
		Backoff:     cfg.Agent.Backoff,
		DelayMin:    cfg.Agent.DelayMin,
		DelayMax:    cfg.Agent.DelayMax,
		Pause:       cfg.Agent.Pause,
		WaitTimeout: cfg.Agent.WaitTimeout,
	}
}

// RunProcess runs this process as a writer or reader: it attaches to the
// deployment named in cfg, runs the agent loop to its quota, exports
// metrics and detaches. Writers take the create-or-open path, readers only
// open. Attach failures are returned as *shm.InitError.
func RunProcess(ctx context.Context, role string, cfg *config.Config, log *zap.Logger) error {
	if role != RoleWriter && role != RoleReader {
		return fmt.Errorf("unknown role %q", role)
	}
	pid := os.Getpid()
	log = log.With(zap.Int("pid", pid))

	events := eventlog.Nop()
	if cfg.Logging.Events {
		l, err := eventlog.Open(cfg.Logging.Dir, role, pid)
		if err != nil {
			log.Warn("running without event log", zap.Error(err))
		} else {
			events = l
		}
	}
	defer events.Close()

	buf, err := buffer.Attach(ctx, buffer.Options{
		Names:         cfg.Names(),
		Geometry:      cfg.Geometry(),
		Create:        role == RoleWriter,
		AttachTimeout: cfg.Agent.AttachTimeout,
		Logger:        log,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := buf.Close(); err != nil {
			log.Warn("detach failed", zap.Error(err))
		}
	}()

	m := metrics.NewAgent(role, pid)
	opts := Options{
		Timing:  TimingFromConfig(cfg),
		Logger:  log,
		Events:  events,
		Metrics: m,
	}

	start := time.Now()
	var runErr error
	switch role {
	case RoleWriter:
		opts.Quota = cfg.Agent.WriterQuota
		st, err := NewWriter(buf, opts).Run(ctx)
		runErr = err
		log.Info("writer finished",
			zap.Int("writes", st.Writes),
			zap.Int("claim_misses", st.ClaimMisses),
			zap.Duration("elapsed", time.Since(start)))
	case RoleReader:
		opts.Quota = cfg.Agent.ReaderQuota
		st, err := NewReader(buf, opts).Run(ctx)
		runErr = err
		log.Info("reader finished",
			zap.Int("reads", st.Reads),
			zap.Int("timeouts", st.Timeouts),
			zap.Int("inconsistent", st.Inconsistent),
			zap.Int("overwritten", st.Overwritten),
			zap.Int("corrupt", st.Corrupt),
			zap.Duration("elapsed", time.Since(start)))
	}

	if path, err := m.WriteTextfile(cfg.Metrics.Dir); err != nil {
		log.Warn("metrics export failed", zap.Error(err))
	} else if path != "" {
		log.Debug("metrics written", zap.String("path", path))
	}
	return runErr
}
