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

package agent

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slotbuf/slotbuf/internal/buffer"
	"github.com/slotbuf/slotbuf/internal/metrics"
	"github.com/slotbuf/slotbuf/internal/shm"
)

// recordingSleep records requested sleeps without sleeping.
type recordingSleep struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.slept = append(r.slept, d)
	r.mu.Unlock()
	return ctx.Err()
}

func fixedRand() *rand.ChaCha8 {
	return rand.NewChaCha8([32]byte{1, 2, 3})
}

type fakeWriteBuffer struct {
	misses    int // claim misses before each success
	pending   int
	payload   []byte
	published []int
	claimErr  error
}

func (f *fakeWriteBuffer) ClaimWrite() (int, bool, error) {
	if f.claimErr != nil {
		return -1, false, f.claimErr
	}
	if f.pending > 0 {
		f.pending--
		return -1, false, nil
	}
	f.pending = f.misses
	return len(f.published) % 2, true, nil
}

func (f *fakeWriteBuffer) Payload(int) []byte { return f.payload }

func (f *fakeWriteBuffer) Publish(slot int) error {
	f.published = append(f.published, slot)
	return nil
}

func TestWriterMissesDoNotConsumeQuota(t *testing.T) {
	buf := &fakeWriteBuffer{misses: 2, pending: 2, payload: make([]byte, 64)}
	rec := &recordingSleep{}
	m := metrics.NewAgent(RoleWriter, 1)
	timing := Timing{Backoff: 100 * time.Millisecond, DelayMin: 10 * time.Millisecond, DelayMax: 10 * time.Millisecond, Pause: 5 * time.Millisecond}

	w := NewWriter(buf, Options{Quota: 3, Timing: timing, Metrics: m, Sleep: rec.sleep, Rand: fixedRand()})
	st, err := w.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, st.Writes)
	assert.Equal(t, 6, st.ClaimMisses)
	assert.Equal(t, []int{0, 1, 0}, buf.published)
	assert.NotEqual(t, make([]byte, 64), buf.payload, "payload filled")
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Writes))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.ClaimMisses))

	// miss, miss, delay, pause per write
	want := []time.Duration{}
	for i := 0; i < 3; i++ {
		want = append(want, 100*time.Millisecond, 100*time.Millisecond, 10*time.Millisecond, 5*time.Millisecond)
	}
	assert.Equal(t, want, rec.slept)
}

func TestWriterClaimError(t *testing.T) {
	boom := errors.New("boom")
	w := NewWriter(&fakeWriteBuffer{claimErr: boom}, Options{Quota: 1, Timing: DefaultTiming(), Sleep: (&recordingSleep{}).sleep})
	_, err := w.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestWriterZeroQuota(t *testing.T) {
	buf := &fakeWriteBuffer{payload: make([]byte, 8)}
	st, err := NewWriter(buf, Options{}).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.Writes)
	assert.Empty(t, buf.published)
}

func TestWriterCancelledWhileBackingOff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	buf := &fakeWriteBuffer{misses: 1, pending: 1, payload: make([]byte, 8)}
	st, err := NewWriter(buf, Options{Quota: 1, Timing: DefaultTiming()}).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, st.Writes)
}

type readStep struct {
	slot    int
	ready   bool
	written bool
	outcome buffer.Outcome
}

type fakeReadBuffer struct {
	steps    []readStep
	i        int
	consumed []int
}

func (f *fakeReadBuffer) Geometry() shm.Geometry { return shm.Geometry{Slots: 4, PayloadSize: 32} }

func (f *fakeReadBuffer) WaitReady(time.Duration) (int, bool, error) {
	if f.i >= len(f.steps) {
		return -1, false, errors.New("script exhausted")
	}
	s := f.steps[f.i]
	if !s.ready {
		f.i++
	}
	return s.slot, s.ready, nil
}

func (f *fakeReadBuffer) ClaimRead(slot int) (buffer.Claim, bool, error) {
	s := f.steps[f.i]
	if !s.written {
		f.i++
		return buffer.Claim{}, false, nil
	}
	return buffer.Claim{Slot: slot}, true, nil
}

func (f *fakeReadBuffer) Consume(c buffer.Claim, dst []byte) (buffer.Outcome, error) {
	s := f.steps[f.i]
	f.i++
	f.consumed = append(f.consumed, c.Slot)
	return s.outcome, nil
}

func TestReaderRetriesWithoutConsumingQuota(t *testing.T) {
	buf := &fakeReadBuffer{steps: []readStep{
		{ready: false},
		{slot: 2, ready: true, written: true, outcome: buffer.Intact},
		{slot: 1, ready: true, written: false},
		{ready: false},
		{slot: 3, ready: true, written: true, outcome: buffer.Overwritten},
		{slot: 0, ready: true, written: true, outcome: buffer.Corrupt},
	}}
	rec := &recordingSleep{}
	m := metrics.NewAgent(RoleReader, 2)
	timing := Timing{Backoff: 100 * time.Millisecond, WaitTimeout: time.Second}

	r := NewReader(buf, Options{Quota: 3, Timing: timing, Metrics: m, Sleep: rec.sleep, Rand: fixedRand()})
	st, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ReaderStats{Reads: 3, Timeouts: 2, Inconsistent: 1, Overwritten: 1, Corrupt: 1}, st)
	assert.Equal(t, []int{2, 3, 0}, buf.consumed)
	assert.Len(t, r.Last(), 32)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 100 * time.Millisecond}, rec.slept)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.Reads))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.WaitTimeouts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Inconsistent))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("corrupt")))
}

func TestDelayRange(t *testing.T) {
	r := newRunner(RoleWriter, Options{
		Timing: Timing{DelayMin: 500 * time.Millisecond, DelayMax: 1500 * time.Millisecond},
		Rand:   fixedRand(),
	})
	for i := 0; i < 1000; i++ {
		d := r.delay()
		require.GreaterOrEqual(t, d, 500*time.Millisecond)
		require.LessOrEqual(t, d, 1500*time.Millisecond)
	}

	r.timing.DelayMax = r.timing.DelayMin
	assert.Equal(t, 500*time.Millisecond, r.delay())
}
