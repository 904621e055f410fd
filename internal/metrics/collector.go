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
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/slotbuf/slotbuf/internal/buffer"
	"github.com/slotbuf/slotbuf/internal/shm"
)

// Snapshotter produces buffer snapshots.
type Snapshotter interface {
	Snapshot() buffer.Snapshot
}

// BufferCollector exposes a live buffer snapshot on every scrape.
type BufferCollector struct {
	src Snapshotter

	slots     *prometheus.Desc
	slotState *prometheus.Desc
	signal    *prometheus.Desc
	writes    *prometheus.Desc
	reads     *prometheus.Desc
	attached  *prometheus.Desc
	locked    *prometheus.Desc
}

var _ prometheus.Collector = (*BufferCollector)(nil)

// NewBufferCollector returns a collector reading snapshots from src.
func NewBufferCollector(src Snapshotter) *BufferCollector {
	fq := func(name string) string { return prometheus.BuildFQName(namespace, "buffer", name) }
	return &BufferCollector{
		src:       src,
		slots:     prometheus.NewDesc(fq("slots"), "Slots by state", []string{"state"}, nil),
		slotState: prometheus.NewDesc(fq("slot_state"), "State of each slot (0 empty, 1 written, 2 read)", []string{"slot"}, nil),
		signal:    prometheus.NewDesc(fq("slot_signal"), "Pending ready signal count of each slot", []string{"slot"}, nil),
		writes:    prometheus.NewDesc(fq("writes_total"), "Slots published since the buffer was created", nil, nil),
		reads:     prometheus.NewDesc(fq("reads_total"), "Slots consumed since the buffer was created", nil, nil),
		attached:  prometheus.NewDesc(fq("attached"), "Processes attached to the buffer", nil, nil),
		locked:    prometheus.NewDesc(fq("locked"), "Whether the buffer mutex is held", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *BufferCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.slots
	ch <- c.slotState
	ch <- c.signal
	ch <- c.writes
	ch <- c.reads
	ch <- c.attached
	ch <- c.locked
}

// Collect implements prometheus.Collector.
func (c *BufferCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Snapshot()

	counts := map[shm.SlotState]int{}
	invalid := 0
	for i, st := range s.States {
		if st.Valid() {
			counts[st]++
		} else {
			invalid++
		}
		idx := strconv.Itoa(i)
		ch <- prometheus.MustNewConstMetric(c.slotState, prometheus.GaugeValue, float64(st), idx)
		if i < len(s.Signals) {
			ch <- prometheus.MustNewConstMetric(c.signal, prometheus.GaugeValue, float64(s.Signals[i]), idx)
		}
	}
	for _, st := range []shm.SlotState{shm.SlotEmpty, shm.SlotWritten, shm.SlotRead} {
		ch <- prometheus.MustNewConstMetric(c.slots, prometheus.GaugeValue, float64(counts[st]), st.String())
	}
	if invalid > 0 {
		ch <- prometheus.MustNewConstMetric(c.slots, prometheus.GaugeValue, float64(invalid), "invalid")
	}

	ch <- prometheus.MustNewConstMetric(c.writes, prometheus.CounterValue, float64(s.Writes))
	ch <- prometheus.MustNewConstMetric(c.reads, prometheus.CounterValue, float64(s.Reads))
	ch <- prometheus.MustNewConstMetric(c.attached, prometheus.GaugeValue, float64(s.Attached))
	locked := 0.0
	if s.Locked {
		locked = 1
	}
	ch <- prometheus.MustNewConstMetric(c.locked, prometheus.GaugeValue, locked)
}
