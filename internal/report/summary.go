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
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/slotbuf/slotbuf/internal/eventlog"
)

// OpStats summarises the durations of one operation, in milliseconds.
type OpStats struct {
	Op     string  `json:"op" yaml:"op"`
	Count  int     `json:"count" yaml:"count"`
	Mean   float64 `json:"mean_ms" yaml:"mean_ms"`
	Median float64 `json:"median_ms" yaml:"median_ms"`
	StdDev float64 `json:"stddev_ms" yaml:"stddev_ms"`
	Max    float64 `json:"max_ms" yaml:"max_ms"`
}

// SlotStats summarises the activity of one slot.
type SlotStats struct {
	Slot   int     `json:"slot" yaml:"slot"`
	Writes int     `json:"writes" yaml:"writes"`
	Reads  int     `json:"reads" yaml:"reads"`
	Busy   float64 `json:"busy" yaml:"busy"` // share of the span the slot was being written or read
}

// Summary aggregates a run.
type Summary struct {
	SpanMillis int64       `json:"span_ms" yaml:"span_ms"`
	Processes  int         `json:"processes" yaml:"processes"`
	Ops        []OpStats   `json:"ops" yaml:"ops"`
	Slots      []SlotStats `json:"slots" yaml:"slots"`
}

// Summarize computes per-operation and per-slot statistics.
func Summarize(ivs []Interval) Summary {
	var s Summary
	if len(ivs) == 0 {
		return s
	}
	lo, hi := span(ivs)
	total := hi.Sub(lo)
	s.SpanMillis = total.Milliseconds()

	type proc struct {
		role string
		pid  int
	}
	procs := make(map[proc]struct{})
	for _, iv := range ivs {
		procs[proc{iv.Role, iv.PID}] = struct{}{}
	}
	s.Processes = len(procs)

	for _, op := range []eventlog.Op{eventlog.OpWrite, eventlog.OpRead} {
		if st, ok := opStats(op, Filter(ivs, op)); ok {
			s.Ops = append(s.Ops, st)
		}
	}

	bySlot := make(map[int][]Interval)
	for _, iv := range ivs {
		bySlot[iv.Slot] = append(bySlot[iv.Slot], iv)
	}
	for slot, list := range bySlot {
		ss := SlotStats{Slot: slot}
		for _, iv := range list {
			if iv.Op == eventlog.OpWrite {
				ss.Writes++
			} else {
				ss.Reads++
			}
		}
		if total > 0 {
			ss.Busy = float64(busy(list)) / float64(total)
		}
		s.Slots = append(s.Slots, ss)
	}
	sort.Slice(s.Slots, func(i, j int) bool { return s.Slots[i].Slot < s.Slots[j].Slot })
	return s
}

func opStats(op eventlog.Op, ivs []Interval) (OpStats, bool) {
	if len(ivs) == 0 {
		return OpStats{}, false
	}
	d := make([]float64, len(ivs))
	for i, iv := range ivs {
		d[i] = float64(iv.Duration()) / float64(time.Millisecond)
	}
	sort.Float64s(d)

	mean, std := stat.MeanStdDev(d, nil)
	if len(d) < 2 {
		std = 0
	}
	return OpStats{
		Op:     op.String(),
		Count:  len(d),
		Mean:   mean,
		Median: stat.Quantile(0.5, stat.Empirical, d, nil),
		StdDev: std,
		Max:    floats.Max(d),
	}, true
}

// busy returns the length of the union of ivs.
func busy(ivs []Interval) time.Duration {
	sorted := append([]Interval(nil), ivs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	var sum time.Duration
	var curStart, curEnd time.Time
	for i, iv := range sorted {
		if i == 0 || iv.Start.After(curEnd) {
			sum += curEnd.Sub(curStart)
			curStart, curEnd = iv.Start, iv.End
			continue
		}
		if iv.End.After(curEnd) {
			curEnd = iv.End
		}
	}
	return sum + curEnd.Sub(curStart)
}
