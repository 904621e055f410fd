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

// Package report turns parsed event logs into slot activity heatmaps,
// per-process timelines and duration statistics.
package report

import (
	"sort"
	"time"

	"github.com/slotbuf/slotbuf/internal/eventlog"
)

// Interval is one completed write or read of a slot.
type Interval struct {
	Slot  int
	Op    eventlog.Op
	PID   int
	Role  string
	Start time.Time
	End   time.Time
}

// Duration returns the interval's length.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Pair matches each End event with the preceding Start of the same process
// on the same slot. A Start left without its End is dropped, as is an End
// whose process is running a different slot. The result is ordered by
// start time.
func Pair(events []eventlog.Event) []Interval {
	type pidKey struct {
		role string
		pid  int
	}
	running := make(map[pidKey]eventlog.Event)
	var out []Interval
	for _, ev := range events {
		k := pidKey{ev.Role, ev.PID}
		switch ev.Kind {
		case eventlog.KindStart:
			running[k] = ev
		case eventlog.KindEnd:
			st, ok := running[k]
			if !ok || st.Slot != ev.Slot || st.Op != ev.Op {
				continue
			}
			delete(running, k)
			out = append(out, Interval{
				Slot:  ev.Slot,
				Op:    ev.Op,
				PID:   ev.PID,
				Role:  ev.Role,
				Start: st.Time,
				End:   ev.Time,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// Filter returns the intervals of op.
func Filter(ivs []Interval, op eventlog.Op) []Interval {
	var out []Interval
	for _, iv := range ivs {
		if iv.Op == op {
			out = append(out, iv)
		}
	}
	return out
}

// span returns the earliest start and latest end of ivs.
func span(ivs []Interval) (lo, hi time.Time) {
	for i, iv := range ivs {
		if i == 0 || iv.Start.Before(lo) {
			lo = iv.Start
		}
		if i == 0 || iv.End.After(hi) {
			hi = iv.End
		}
	}
	return lo, hi
}
