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
	"sort"
	"strings"

	"github.com/slotbuf/slotbuf/internal/eventlog"
)

// Phase is one step of a process timeline.
type Phase struct {
	Millis int64  `json:"ms" yaml:"ms"`
	Kind   string `json:"phase" yaml:"phase"`
	Slot   int    `json:"slot" yaml:"slot"`
}

// Timeline is the WAIT, START, FIN sequence of one process.
type Timeline struct {
	Role   string  `json:"role" yaml:"role"`
	PID    int     `json:"pid" yaml:"pid"`
	Phases []Phase `json:"phases" yaml:"phases"`
}

// BuildTimelines groups events per process, ordered by role then pid.
func BuildTimelines(events []eventlog.Event) []Timeline {
	type key struct {
		role string
		pid  int
	}
	idx := make(map[key]int)
	var out []Timeline
	for _, ev := range events {
		k := key{ev.Role, ev.PID}
		i, ok := idx[k]
		if !ok {
			i = len(out)
			idx[k] = i
			out = append(out, Timeline{Role: ev.Role, PID: ev.PID})
		}
		out[i].Phases = append(out[i].Phases, Phase{
			Millis: ev.Millis(),
			Kind:   ev.Kind.String(),
			Slot:   ev.Slot,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Role != out[j].Role {
			return out[i].Role > out[j].Role // writers first
		}
		return out[i].PID < out[j].PID
	})
	return out
}

// Render writes the timeline as one line per phase with the time since the
// previous phase.
func (tl Timeline) Render(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d\n", tl.Role, tl.PID)
	var prev int64
	for i, p := range tl.Phases {
		delta := int64(0)
		if i > 0 {
			delta = p.Millis - prev
		}
		prev = p.Millis
		slot := ""
		if p.Slot >= 0 {
			slot = fmt.Sprintf(" slot %d", p.Slot)
		}
		fmt.Fprintf(&b, "  %d +%dms %-5s%s\n", p.Millis, delta, p.Kind, slot)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
