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

// Package metrics exports agent counters and buffer snapshots in the
// Prometheus format.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "slotbuf"

// Agent holds the counters of one writer or reader process.
type Agent struct {
	Writes       prometheus.Counter
	Reads        prometheus.Counter
	ClaimMisses  prometheus.Counter
	WaitTimeouts prometheus.Counter
	Inconsistent prometheus.Counter
	Outcomes     *prometheus.CounterVec
	OpDuration   *prometheus.HistogramVec

	role string
	pid  int
	reg  *prometheus.Registry
}

// NewAgent creates counters for role on a private registry, labelled with
// role and pid.
func NewAgent(role string, pid int) *Agent {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	labels := prometheus.Labels{"role": role, "pid": strconv.Itoa(pid)}

	return &Agent{
		role: role,
		pid:  pid,
		reg:  reg,

		Writes: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "writes_total",
			Help:        "Slots published by this agent",
			ConstLabels: labels,
		}),
		Reads: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "reads_total",
			Help:        "Slots consumed by this agent",
			ConstLabels: labels,
		}),
		ClaimMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "claim_misses_total",
			Help:        "Write claims that found every slot occupied",
			ConstLabels: labels,
		}),
		WaitTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "wait_timeouts_total",
			Help:        "Ready waits that expired without a signal",
			ConstLabels: labels,
		}),
		Inconsistent: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "inconsistent_signals_total",
			Help:        "Signals taken for slots that were no longer written",
			ConstLabels: labels,
		}),
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "read_outcomes_total",
			Help:        "Consumed payloads by integrity outcome",
			ConstLabels: labels,
		}, []string{"outcome"}),
		OpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "op_duration_seconds",
			Help:        "Time spent filling or consuming a slot",
			ConstLabels: labels,
			Buckets:     []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 2.5},
		}, []string{"op"}),
	}
}

// ObserveOp records the duration of one write or read operation.
func (a *Agent) ObserveOp(op string, d time.Duration) {
	a.OpDuration.WithLabelValues(op).Observe(d.Seconds())
}

// Outcome counts one consumed payload.
func (a *Agent) Outcome(outcome string) {
	a.Outcomes.WithLabelValues(outcome).Inc()
}

// Registry returns the agent's registry.
func (a *Agent) Registry() *prometheus.Registry {
	return a.reg
}

// TextfileName returns the file WriteTextfile writes in dir.
func (a *Agent) TextfileName(dir string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%d.prom", a.role, a.pid))
}

// WriteTextfile writes the agent's metrics to <dir>/<role>_<pid>.prom.
// An empty dir disables the export.
func (a *Agent) WriteTextfile(dir string) (string, error) {
	if dir == "" {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create metrics dir: %w", err)
	}
	path := a.TextfileName(dir)
	if err := prometheus.WriteToTextfile(path, a.reg); err != nil {
		return "", fmt.Errorf("write metrics textfile: %w", err)
	}
	return path, nil
}
