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
	"time"

	"github.com/slotbuf/slotbuf/internal/eventlog"
)

// Cell is the activity of one slot during one time bin.
type Cell uint8

const (
	Idle Cell = iota
	Reading
	Writing
)

// glyphs are the characters Render prints for each Cell.
var glyphs = [...]byte{Idle: '.', Reading: 'r', Writing: 'W'}

func (c Cell) String() string {
	switch c {
	case Idle:
		return "Idle"
	case Reading:
		return "Read"
	case Writing:
		return "Write"
	}
	return fmt.Sprintf("Cell(%d)", c)
}

// DefaultBins is the number of time bins when none is given.
const DefaultBins = 80

// Heatmap is a slots x time grid of activity.
type Heatmap struct {
	Title string
	Start time.Time
	Bin   time.Duration
	Cells [][]Cell // [slot][bin]
}

// BuildHeatmap bins ivs into roughly bins columns. Later intervals paint
// over earlier ones. Every interval covers at least one bin.
func BuildHeatmap(title string, ivs []Interval, bins int) Heatmap {
	h := Heatmap{Title: title}
	if len(ivs) == 0 {
		return h
	}
	if bins <= 0 {
		bins = DefaultBins
	}
	lo, hi := span(ivs)
	total := hi.Sub(lo)
	h.Start = lo
	h.Bin = (total + time.Duration(bins) - 1) / time.Duration(bins)
	if h.Bin < time.Millisecond {
		h.Bin = time.Millisecond
	}
	cols := int(total/h.Bin) + 1

	slots := 0
	for _, iv := range ivs {
		if iv.Slot+1 > slots {
			slots = iv.Slot + 1
		}
	}
	h.Cells = make([][]Cell, slots)
	for i := range h.Cells {
		h.Cells[i] = make([]Cell, cols)
	}

	for _, iv := range ivs {
		c := Reading
		if iv.Op == eventlog.OpWrite {
			c = Writing
		}
		i0 := int(iv.Start.Sub(lo) / h.Bin)
		i1 := int(iv.End.Sub(lo) / h.Bin)
		if i1 <= i0 {
			i1 = i0 + 1
		}
		if i1 > cols {
			i1 = cols
		}
		row := h.Cells[iv.Slot]
		for j := i0; j < i1; j++ {
			row[j] = c
		}
	}
	return h
}

// Render writes the heatmap as text, one row per slot.
func (h Heatmap) Render(w io.Writer) error {
	var b strings.Builder
	if h.Title != "" {
		fmt.Fprintf(&b, "%s\n", h.Title)
	}
	if len(h.Cells) == 0 {
		b.WriteString("  (no activity)\n")
		_, err := io.WriteString(w, b.String())
		return err
	}
	fmt.Fprintf(&b, "  start %d ms, %v per column, . idle  r read  W write\n", h.Start.UnixMilli(), h.Bin)
	for slot, row := range h.Cells {
		fmt.Fprintf(&b, "  %3d |", slot)
		for _, c := range row {
			b.WriteByte(glyphs[c])
		}
		b.WriteString("|\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}
