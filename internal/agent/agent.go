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

// Package agent implements the writer and reader loops that drive a slot
// buffer.
package agent

import (
	"context"
	crand "crypto/rand"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/slotbuf/slotbuf/internal/eventlog"
	"github.com/slotbuf/slotbuf/internal/metrics"
)

// Roles.
const (
	RoleWriter = "writer"
	RoleReader = "reader"
)

// Timing holds the pacing of an agent loop.
type Timing struct {
	// Backoff is slept after a claim miss or wait timeout.
	Backoff time.Duration
	// DelayMin and DelayMax bound the simulated processing delay.
	DelayMin time.Duration
	DelayMax time.Duration
	// Pause is slept after each completed operation.
	Pause time.Duration
	// WaitTimeout bounds a reader's wait for a ready signal.
	WaitTimeout time.Duration
}

// DefaultTiming returns the stock pacing.
func DefaultTiming() Timing {
	return Timing{
		Backoff:     100 * time.Millisecond,
		DelayMin:    500 * time.Millisecond,
		DelayMax:    1500 * time.Millisecond,
		Pause:       5 * time.Millisecond,
		WaitTimeout: 1500 * time.Millisecond,
	}
}

// Options configures an agent.
type Options struct {
	Quota  int
	Timing Timing

	Logger  *zap.Logger
	Events  *eventlog.Log
	Metrics *metrics.Agent

	// Sleep replaces the context-aware sleep, mainly for tests.
	Sleep func(ctx context.Context, d time.Duration) error
	// Rand drives payload contents and delays. Nil seeds a ChaCha8
	// generator from crypto/rand.
	Rand *rand.ChaCha8
}

// runner holds what writers and readers share.
type runner struct {
	quota   int
	timing  Timing
	log     *zap.Logger
	events  *eventlog.Log
	metrics *metrics.Agent
	sleepFn func(ctx context.Context, d time.Duration) error
	src     *rand.ChaCha8
	rng     *rand.Rand
}

func newRunner(role string, opts Options) runner {
	r := runner{
		quota:   opts.Quota,
		timing:  opts.Timing,
		log:     opts.Logger,
		events:  opts.Events,
		metrics: opts.Metrics,
		sleepFn: opts.Sleep,
		src:     opts.Rand,
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	r.log = r.log.With(zap.String("role", role))
	if r.events == nil {
		r.events = eventlog.Nop()
	}
	if r.sleepFn == nil {
		r.sleepFn = sleep
	}
	if r.src == nil {
		var seed [32]byte
		_, _ = crand.Read(seed[:])
		r.src = rand.NewChaCha8(seed)
	}
	r.rng = rand.New(r.src)
	return r
}

func (r *runner) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	return r.sleepFn(ctx, d)
}

// delay returns a uniformly distributed duration in [DelayMin, DelayMax].
func (r *runner) delay() time.Duration {
	lo, hi := r.timing.DelayMin, r.timing.DelayMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(r.rng.Int64N(int64(hi-lo)+1))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
