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
	"path/filepath"

	"github.com/slotbuf/slotbuf/internal/eventlog"
	"github.com/slotbuf/slotbuf/internal/report"
)

func runReport(ctx context.Context, e *env, args []string) int {
	fs := e.newFlagSet("report")
	fs.StringVar(&e.cfg.Logging.Dir, "log-dir", e.cfg.Logging.Dir, "directory holding the event logs")
	pattern := fs.String("glob", "", "event log files to read (default <log-dir>/*_log_*.txt)")
	format := fs.String("format", string(report.FormatText), "output format: text, json or yaml")
	bins := fs.Int("bins", report.DefaultBins, "heatmap columns")
	split := fs.Bool("split", false, "add read-only and write-only heatmaps")
	timelines := fs.Bool("timelines", false, "include per-process timelines")
	if code, ok := e.parse(fs, args); !ok {
		return code
	}
	f, err := report.ParseFormat(*format)
	if err != nil {
		fmt.Fprintf(e.stderr, "%s: %v\n", fs.Name(), err)
		return ExitUsage
	}
	if *pattern == "" {
		*pattern = filepath.Join(e.cfg.Logging.Dir, "*_log_*.txt")
	}

	log := e.logger()
	defer log.Sync()

	events, err := eventlog.ReadFiles(*pattern)
	if err != nil {
		return exitCode(log, err)
	}
	if len(events) == 0 {
		fmt.Fprintf(e.stderr, "no events in %s\n", *pattern)
		return ExitError
	}
	r := report.Build(events, report.Options{Bins: *bins, Split: *split, Timelines: *timelines})
	return exitCode(log, r.Write(e.stdout, f))
}
