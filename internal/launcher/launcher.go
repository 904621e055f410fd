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

// Package launcher starts a deployment of writer and reader processes and
// waits for all of them.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/slotbuf/slotbuf/internal/buffer"
	"github.com/slotbuf/slotbuf/internal/config"
	"github.com/slotbuf/slotbuf/internal/shm"
)

// Options configures Run.
type Options struct {
	Config *config.Config

	// Exe is the binary re-executed for each agent. Empty selects the
	// running executable.
	Exe string
	// Args precede the role argument on every child command line.
	Args []string
	// Env is appended to every child's environment after the
	// configuration variables.
	Env []string

	// Host makes the launcher create the shared objects before spawning
	// and hold them until every child has exited.
	Host bool
	// Unique appends a random suffix to the object names.
	Unique bool
	// Clean removes stale objects with the deployment's names first.
	Clean bool

	Stdout io.Writer
	Stderr io.Writer
	Logger *zap.Logger
}

// Child is the outcome of one agent process.
type Child struct {
	Role     string
	PID      int
	ExitCode int
	Elapsed  time.Duration
	Err      error // start or wait failure other than a non-zero exit
}

// Result summarises a launch.
type Result struct {
	Names    shm.Names
	Children []Child
	Skipped  int // children that failed to start
}

// Failed returns the children that did not exit cleanly.
func (r Result) Failed() []Child {
	var out []Child
	for _, c := range r.Children {
		if c.ExitCode != 0 || c.Err != nil {
			out = append(out, c)
		}
	}
	return out
}

// Run spawns the configured writers and then the readers, waits for all of
// them and reports how each exited. It fails only when the deployment
// itself cannot be set up.
func Run(ctx context.Context, opts Options) (Result, error) {
	cfg := *opts.Config
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	exe := opts.Exe
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return Result{}, fmt.Errorf("locate executable: %w", err)
		}
	}

	if opts.Unique {
		suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		names := cfg.Names().WithSuffix(suffix)
		cfg.Shm.Segment, cfg.Shm.Mutex, cfg.Shm.SignalBase = names.Segment, names.Mutex, names.SignalBase
	}
	res := Result{Names: cfg.Names()}
	log = log.With(zap.String("segment", cfg.Shm.Segment))

	if opts.Clean {
		if err := shm.Remove(res.Names, cfg.Shm.Slots); err != nil {
			return res, fmt.Errorf("remove stale objects: %w", err)
		}
	}

	var host *buffer.Buffer
	if opts.Host {
		var err error
		host, err = buffer.Attach(ctx, buffer.Options{
			Names:         res.Names,
			Geometry:      cfg.Geometry(),
			Create:        true,
			AttachTimeout: cfg.Agent.AttachTimeout,
			Logger:        log,
		})
		if err != nil {
			return res, err
		}
		defer func() {
			if err := host.Close(); err != nil {
				log.Warn("host detach failed", zap.Error(err))
			}
		}()
	}

	env := append(append(os.Environ(), cfg.Environ()...), opts.Env...)
	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	spawn := func(role string) {
		args := append(append([]string(nil), opts.Args...), role)
		cmd := exec.CommandContext(ctx, exe, args...)
		cmd.Env = env
		cmd.Stdout = stdout
		cmd.Stderr = stderr

		start := time.Now()
		if err := cmd.Start(); err != nil {
			log.Error("failed to start agent", zap.String("role", role), zap.Error(err))
			mu.Lock()
			res.Skipped++
			mu.Unlock()
			return
		}
		pid := cmd.Process.Pid
		log.Debug("agent started", zap.String("role", role), zap.Int("child_pid", pid))

		g.Go(func() error {
			child := Child{Role: role, PID: pid}
			err := cmd.Wait()
			child.Elapsed = time.Since(start)
			var exitErr *exec.ExitError
			switch {
			case err == nil:
			case errors.As(err, &exitErr):
				child.ExitCode = exitErr.ExitCode()
			default:
				child.ExitCode = -1
				child.Err = err
			}
			if child.ExitCode != 0 {
				log.Warn("agent exited with error", zap.String("role", role),
					zap.Int("child_pid", pid), zap.Int("exit_code", child.ExitCode), zap.Error(child.Err))
			}
			mu.Lock()
			res.Children = append(res.Children, child)
			mu.Unlock()
			return nil
		})
	}

	for i := 0; i < cfg.Launch.Writers; i++ {
		spawn("writer")
	}
	for i := 0; i < cfg.Launch.Readers; i++ {
		spawn("reader")
	}
	_ = g.Wait()

	log.Info("all agents finished",
		zap.Int("children", len(res.Children)),
		zap.Int("failed", len(res.Failed())),
		zap.Int("skipped", res.Skipped))
	return res, nil
}
