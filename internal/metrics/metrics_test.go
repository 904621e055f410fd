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

package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slotbuf/slotbuf/internal/buffer"
	"github.com/slotbuf/slotbuf/internal/shm"
)

func TestAgentCounters(t *testing.T) {
	a := NewAgent("writer", 42)

	a.Writes.Inc()
	a.Writes.Inc()
	a.ClaimMisses.Inc()
	a.Outcome("intact")
	a.Outcome("intact")
	a.Outcome("overwritten")
	a.ObserveOp("write", 3*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(a.Writes))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.ClaimMisses))
	assert.Equal(t, 0.0, testutil.ToFloat64(a.Reads))
	assert.Equal(t, 2.0, testutil.ToFloat64(a.Outcomes.WithLabelValues("intact")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Outcomes.WithLabelValues("overwritten")))
	assert.Equal(t, 1, testutil.CollectAndCount(a.OpDuration))
}

func TestAgentRegistriesAreIndependent(t *testing.T) {
	a := NewAgent("reader", 1)
	b := NewAgent("reader", 2)

	a.Reads.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Reads))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Reads))
}

func TestWriteTextfile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "metrics")
	a := NewAgent("reader", 7)
	a.Reads.Add(3)

	path, err := a.WriteTextfile(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "reader_7.prom"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "slotbuf_reads_total")
	assert.Contains(t, text, `role="reader"`)
	assert.Contains(t, text, `pid="7"`)
	assert.True(t, strings.Contains(text, "} 3\n"), text)
}

func TestWriteTextfile_Disabled(t *testing.T) {
	path, err := NewAgent("writer", 1).WriteTextfile("")
	require.NoError(t, err)
	assert.Empty(t, path)
}

type staticSnapshot buffer.Snapshot

func (s staticSnapshot) Snapshot() buffer.Snapshot { return buffer.Snapshot(s) }

func TestBufferCollector(t *testing.T) {
	src := staticSnapshot{
		Geometry: shm.Geometry{Slots: 3, PayloadSize: 16},
		States:   []shm.SlotState{shm.SlotEmpty, shm.SlotWritten, shm.SlotWritten},
		Signals:  []uint32{0, 1, 0},
		Writes:   5,
		Reads:    3,
		Attached: 2,
		Locked:   true,
	}
	c := NewBufferCollector(src)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	// 3 slot states, 3 signals, 3 per-state totals, 4 scalars
	assert.Equal(t, 13, testutil.CollectAndCount(c))

	expected := `
# HELP slotbuf_buffer_slots Slots by state
# TYPE slotbuf_buffer_slots gauge
slotbuf_buffer_slots{state="Empty"} 1
slotbuf_buffer_slots{state="Read"} 0
slotbuf_buffer_slots{state="Written"} 2
# HELP slotbuf_buffer_writes_total Slots published since the buffer was created
# TYPE slotbuf_buffer_writes_total counter
slotbuf_buffer_writes_total 5
# HELP slotbuf_buffer_locked Whether the buffer mutex is held
# TYPE slotbuf_buffer_locked gauge
slotbuf_buffer_locked 1
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"slotbuf_buffer_slots", "slotbuf_buffer_writes_total", "slotbuf_buffer_locked")
	assert.NoError(t, err)
}

func TestBufferCollector_InvalidState(t *testing.T) {
	src := staticSnapshot{
		Geometry: shm.Geometry{Slots: 2, PayloadSize: 16},
		States:   []shm.SlotState{shm.SlotRead, shm.SlotState(7)},
		Signals:  []uint32{0, 0},
	}
	c := NewBufferCollector(src)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))

	expected := `
# HELP slotbuf_buffer_slots Slots by state
# TYPE slotbuf_buffer_slots gauge
slotbuf_buffer_slots{state="Empty"} 0
slotbuf_buffer_slots{state="Read"} 1
slotbuf_buffer_slots{state="Written"} 0
slotbuf_buffer_slots{state="invalid"} 1
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "slotbuf_buffer_slots")
	assert.NoError(t, err)
}
