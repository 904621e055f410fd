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
	"flag"

	"github.com/slotbuf/slotbuf/internal/config"
)

func bindShmFlags(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.Shm.Dir, "dir", cfg.Shm.Dir, "directory of the shared objects (default /dev/shm)")
	fs.StringVar(&cfg.Shm.Segment, "segment", cfg.Shm.Segment, "segment name")
	fs.StringVar(&cfg.Shm.Mutex, "mutex", cfg.Shm.Mutex, "mutex name")
	fs.StringVar(&cfg.Shm.SignalBase, "signal-base", cfg.Shm.SignalBase, "signal name prefix")
	fs.IntVar(&cfg.Shm.Slots, "slots", cfg.Shm.Slots, "number of slots")
	fs.IntVar(&cfg.Shm.PayloadSize, "payload", cfg.Shm.PayloadSize, "payload bytes per slot")
}

func bindLogFlags(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.Logging.Level, "log-level", cfg.Logging.Level, "log level (debug, info, warn, error)")
	fs.BoolVar(&cfg.Logging.Development, "dev", cfg.Logging.Development, "human-readable console logs")
}

func bindAgentFlags(fs *flag.FlagSet, cfg *config.Config) {
	fs.DurationVar(&cfg.Agent.WaitTimeout, "wait", cfg.Agent.WaitTimeout, "reader wait timeout")
	fs.DurationVar(&cfg.Agent.Backoff, "backoff", cfg.Agent.Backoff, "sleep after a claim miss or wait timeout")
	fs.DurationVar(&cfg.Agent.DelayMin, "delay-min", cfg.Agent.DelayMin, "minimum simulated processing delay")
	fs.DurationVar(&cfg.Agent.DelayMax, "delay-max", cfg.Agent.DelayMax, "maximum simulated processing delay")
	fs.DurationVar(&cfg.Agent.Pause, "pause", cfg.Agent.Pause, "pause after each operation")
	fs.DurationVar(&cfg.Agent.AttachTimeout, "attach-timeout", cfg.Agent.AttachTimeout, "how long to wait for shared objects")
	fs.StringVar(&cfg.Logging.Dir, "log-dir", cfg.Logging.Dir, "directory for event logs")
	fs.BoolVar(&cfg.Logging.Events, "events", cfg.Logging.Events, "write the event log")
	fs.StringVar(&cfg.Metrics.Dir, "metrics-dir", cfg.Metrics.Dir, "write Prometheus textfiles here on exit")
}
