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

// Package cli implements the slotbuf command line.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"go.uber.org/zap"

	"github.com/slotbuf/slotbuf/internal/config"
	"github.com/slotbuf/slotbuf/internal/logging"
	"github.com/slotbuf/slotbuf/internal/shm"
)

// Process exit codes.
const (
	ExitOK    = 0
	ExitError = 1 // initialization failure or other unrecoverable error
	ExitUsage = 2
)

// env is what a command runs with.
type env struct {
	stdout io.Writer
	stderr io.Writer
	cfg    *config.Config
}

type command struct {
	summary string
	run     func(ctx context.Context, e *env, args []string) int
}

var commands = map[string]command{
	"writer":  {"run one writer agent", runWriter},
	"reader":  {"run one reader agent", runReader},
	"launch":  {"spawn writers and readers and wait for them", runLaunch},
	"report":  {"analyse event logs", runReport},
	"inspect": {"print or serve the live slot table", runInspect},
	"clean":   {"remove a deployment's shared objects", runClean},
}

// Main runs the command line with the process's arguments and streams.
func Main() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

// Run executes one subcommand and returns the process exit code. Flags
// before the command name are global; -config names the YAML file and
// defaults to $SLOTBUF_CONFIG.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("slotbuf", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { usage(stderr) }
	configPath := global.String("config", os.Getenv(config.FileEnv), "YAML config file")
	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitOK
		}
		return ExitUsage
	}
	args = global.Args()

	if len(args) == 0 || args[0] == "help" {
		usage(stderr)
		if len(args) == 0 {
			return ExitUsage
		}
		return ExitOK
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "slotbuf: unknown command %q\n", args[0])
		usage(stderr)
		return ExitUsage
	}

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "slotbuf: %v\n", err)
		return ExitUsage
	}
	return cmd.run(ctx, &env{stdout: stdout, stderr: stderr, cfg: cfg}, args[1:])
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "usage: slotbuf [-config file] <command> [flags]\n\ncommands:\n")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-8s %s\n", name, commands[name].summary)
	}
	fmt.Fprintf(w, "\nRun 'slotbuf <command> -h' for the command's flags. Defaults come from\nthe -config file (or the one named by %s), then SLOTBUF_* environment\nvariables.\n", config.FileEnv)
}

// newFlagSet returns a flag set that reports errors to e.stderr.
func (e *env) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("slotbuf "+name, flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	return fs
}

// parse parses args and validates the resulting configuration. It returns
// the exit code to use when the command must stop.
func (e *env) parse(fs *flag.FlagSet, args []string) (int, bool) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitOK, false
		}
		return ExitUsage, false
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(e.stderr, "%s: unexpected arguments %v\n", fs.Name(), fs.Args())
		return ExitUsage, false
	}
	if err := e.cfg.Validate(); err != nil {
		fmt.Fprintf(e.stderr, "%s: %v\n", fs.Name(), err)
		return ExitUsage, false
	}
	return ExitOK, true
}

// logger builds the process logger from the configuration.
func (e *env) logger() *zap.Logger {
	log, err := logging.New(e.cfg.LogConfig())
	if err != nil {
		fmt.Fprintf(e.stderr, "slotbuf: %v, using defaults\n", err)
		return logging.NewDefault()
	}
	return log
}

// exitCode logs err and maps it to a process exit code.
func exitCode(log *zap.Logger, err error) int {
	if err == nil {
		return ExitOK
	}
	var initErr *shm.InitError
	if errors.As(err, &initErr) {
		log.Error("initialization failed",
			zap.String("op", initErr.Op),
			zap.String("name", initErr.Name),
			zap.Int("errno", initErr.Errno()),
			zap.Error(initErr.Err))
		return ExitError
	}
	if errors.Is(err, context.Canceled) {
		log.Warn("interrupted")
		return ExitError
	}
	log.Error("command failed", zap.Error(err))
	return ExitError
}
