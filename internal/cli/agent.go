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
	"flag"

	"github.com/slotbuf/slotbuf/internal/agent"
)

func runWriter(ctx context.Context, e *env, args []string) int {
	fs := e.newFlagSet(agent.RoleWriter)
	bindShmFlags(fs, e.cfg)
	bindLogFlags(fs, e.cfg)
	bindAgentFlags(fs, e.cfg)
	fs.IntVar(&e.cfg.Agent.WriterQuota, "quota", e.cfg.Agent.WriterQuota, "slots to write")
	return e.runAgent(ctx, fs, args, agent.RoleWriter)
}

func runReader(ctx context.Context, e *env, args []string) int {
	fs := e.newFlagSet(agent.RoleReader)
	bindShmFlags(fs, e.cfg)
	bindLogFlags(fs, e.cfg)
	bindAgentFlags(fs, e.cfg)
	fs.IntVar(&e.cfg.Agent.ReaderQuota, "quota", e.cfg.Agent.ReaderQuota, "slots to read")
	return e.runAgent(ctx, fs, args, agent.RoleReader)
}

func (e *env) runAgent(ctx context.Context, fs *flag.FlagSet, args []string, role string) int {
	if code, ok := e.parse(fs, args); !ok {
		return code
	}
	log := e.logger()
	defer log.Sync()
	return exitCode(log, agent.RunProcess(ctx, role, e.cfg, log))
}
