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

package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"

	"github.com/slotbuf/slotbuf/internal/eventlog"
)

// Format selects the output encoding of a report.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	}
	return "", fmt.Errorf("unknown report format %q (want text, json or yaml)", s)
}

// Options configures Build.
type Options struct {
	Bins      int  // heatmap columns, DefaultBins when zero
	Split     bool // also build read-only and write-only heatmaps
	Timelines bool
}

// Report is the full analysis of a set of event logs.
type Report struct {
	Events    int        `json:"events" yaml:"events"`
	Summary   Summary    `json:"summary" yaml:"summary"`
	Heatmaps  []Heatmap  `json:"-" yaml:"-"`
	Timelines []Timeline `json:"timelines,omitempty" yaml:"timelines,omitempty"`
}

// Build analyses events.
func Build(events []eventlog.Event, opts Options) Report {
	ivs := Pair(events)
	r := Report{
		Events:  len(events),
		Summary: Summarize(ivs),
	}
	r.Heatmaps = append(r.Heatmaps, BuildHeatmap("Combined read/write activity", ivs, opts.Bins))
	if opts.Split {
		if reads := Filter(ivs, eventlog.OpRead); len(reads) > 0 {
			r.Heatmaps = append(r.Heatmaps, BuildHeatmap("Read-only activity", reads, opts.Bins))
		}
		if writes := Filter(ivs, eventlog.OpWrite); len(writes) > 0 {
			r.Heatmaps = append(r.Heatmaps, BuildHeatmap("Write-only activity", writes, opts.Bins))
		}
	}
	if opts.Timelines {
		r.Timelines = BuildTimelines(events)
	}
	return r
}

// Write encodes r to w in format f. Heatmaps are only rendered as text.
func (r Report) Write(w io.Writer, f Format) error {
	switch f {
	case FormatJSON:
		data, err := sonic.MarshalIndent(r, "", "  ")
		if err != nil {
			return fmt.Errorf("encode json report: %w", err)
		}
		_, err = w.Write(append(data, '\n'))
		return err
	case FormatYAML:
		data, err := yaml.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode yaml report: %w", err)
		}
		_, err = w.Write(data)
		return err
	case FormatText, "":
		return r.writeText(w)
	}
	return fmt.Errorf("unknown report format %q", f)
}

func (r Report) writeText(w io.Writer) error {
	var b strings.Builder
	s := r.Summary
	fmt.Fprintf(&b, "%d events, %d processes, span %d ms\n\n", r.Events, s.Processes, s.SpanMillis)

	b.WriteString("op      count    mean    median  stddev  max (ms)\n")
	for _, op := range s.Ops {
		fmt.Fprintf(&b, "%-7s %5d %7.1f %9.1f %7.1f %7.1f\n", op.Op, op.Count, op.Mean, op.Median, op.StdDev, op.Max)
	}
	b.WriteString("\nslot  writes  reads  busy\n")
	for _, sl := range s.Slots {
		fmt.Fprintf(&b, "%4d %7d %6d %5.1f%%\n", sl.Slot, sl.Writes, sl.Reads, sl.Busy*100)
	}
	b.WriteString("\n")
	if _, err := io.WriteString(w, b.String()); err != nil {
		return err
	}

	for _, h := range r.Heatmaps {
		if err := h.Render(w); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	for _, tl := range r.Timelines {
		if err := tl.Render(w); err != nil {
			return err
		}
	}
	return nil
}
