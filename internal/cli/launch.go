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

package cli

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/slotbuf/slotbuf/internal/launcher"
)

func runLaunch(ctx context.Context, e *env, args []string) int {
	fs := e.newFlagSet("launch")
	bindShmFlags(fs, e.cfg)
	bindLogFlags(fs, e.cfg)
	bindAgentFlags(fs, e.cfg)
	fs.IntVar(&e.cfg.Launch.Writers, "writers", e.cfg.Launch.Writers, "writer processes")
	fs.IntVar(&e.cfg.Launch.Readers, "readers", e.cfg.Launch.Readers, "reader processes")
	fs.IntVar(&e.cfg.Agent.WriterQuota, "writer-quota", e.cfg.Agent.WriterQuota, "slots each writer writes")
	fs.IntVar(&e.cfg.Agent.ReaderQuota, "reader-quota", e.cfg.Agent.ReaderQuota, "slots each reader reads")
	host := fs.Bool("host", true, "hold the shared objects until every agent has exited")
	unique := fs.Bool("unique", false, "add a random suffix to the object names")
	clean := fs.Bool("clean", false, "remove stale objects before starting")
	if code, ok := e.parse(fs, args); !ok {
		return code
	}

	log := e.logger()
	defer log.Sync()

	if total := e.cfg.Launch.Writers * e.cfg.Agent.WriterQuota; total < e.cfg.Launch.Readers*e.cfg.Agent.ReaderQuota {
		log.Warn("readers expect more slots than writers produce; some readers will not finish",
			zap.Int("writes", total),
			zap.Int("reads", e.cfg.Launch.Readers*e.cfg.Agent.ReaderQuota))
	}

	res, err := launcher.Run(ctx, launcher.Options{
		Config: e.cfg,
		Host:   *host,
		Unique: *unique,
		Clean:  *clean,
		Stdout: e.stdout,
		Stderr: e.stderr,
		Logger: log,
	})
	if err != nil {
		return exitCode(log, err)
	}

	failed := res.Failed()
	fmt.Fprintf(e.stdout, "segment %s: %d agents finished, %d failed, %d not started\n",
		res.Names.Segment, len(res.Children)-len(failed), len(failed), res.Skipped)
	for _, c := range failed {
		fmt.Fprintf(e.stdout, "  %s %d exited %d\n", c.Role, c.PID, c.ExitCode)
	}
	if len(failed) > 0 || res.Skipped > 0 {
		return ExitError
	}
	return ExitOK
}
