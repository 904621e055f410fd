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
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/slotbuf/slotbuf/internal/buffer"
	"github.com/slotbuf/slotbuf/internal/eventlog"
	"github.com/slotbuf/slotbuf/internal/shm"
)

// ReadBuffer is the part of a buffer a reader uses.
type ReadBuffer interface {
	Geometry() shm.Geometry
	WaitReady(timeout time.Duration) (slot int, ok bool, err error)
	ClaimRead(slot int) (buffer.Claim, bool, error)
	Consume(c buffer.Claim, dst []byte) (buffer.Outcome, error)
}

// ReaderStats summarises a reader run.
type ReaderStats struct {
	Reads        int
	Timeouts     int
	Inconsistent int
	Overwritten  int
	Corrupt      int
}

// Reader waits for published slots and consumes them until its quota is
// met.
type Reader struct {
	runner
	buf ReadBuffer
	dst []byte
}

// NewReader returns a reader over buf.
func NewReader(buf ReadBuffer, opts Options) *Reader {
	return &Reader{
		runner: newRunner(RoleReader, opts),
		buf:    buf,
		dst:    make([]byte, buf.Geometry().PayloadSize),
	}
}

// Last returns the most recently consumed payload copy.
func (r *Reader) Last() []byte {
	return r.dst
}

// Run performs Quota reads. Wait timeouts and signals for slots that are
// no longer Written are retried without counting against the quota.
func (r *Reader) Run(ctx context.Context) (ReaderStats, error) {
	var st ReaderStats
	for st.Reads < r.quota {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		r.events.Waiting()
		slot, ok, err := r.buf.WaitReady(r.timing.WaitTimeout)
		if err != nil {
			return st, fmt.Errorf("wait ready: %w", err)
		}
		if !ok {
			st.Timeouts++
			if r.metrics != nil {
				r.metrics.WaitTimeouts.Inc()
			}
			if err := r.sleep(ctx, r.timing.Backoff); err != nil {
				return st, err
			}
			continue
		}

		c, ok, err := r.buf.ClaimRead(slot)
		if err != nil {
			return st, fmt.Errorf("claim read: %w", err)
		}
		if !ok {
			st.Inconsistent++
			if r.metrics != nil {
				r.metrics.Inconsistent.Inc()
			}
			continue
		}

		outcome, err := r.read(ctx, c)
		if err != nil {
			return st, err
		}
		st.Reads++
		switch outcome {
		case buffer.Overwritten:
			st.Overwritten++
		case buffer.Corrupt:
			st.Corrupt++
		}
		if err := r.sleep(ctx, r.timing.Pause); err != nil {
			return st, err
		}
	}
	return st, nil
}

func (r *Reader) read(ctx context.Context, c buffer.Claim) (buffer.Outcome, error) {
	start := time.Now()
	r.events.Start(eventlog.OpRead, c.Slot)
	outcome, err := r.buf.Consume(c, r.dst)
	if err != nil {
		return outcome, fmt.Errorf("consume: %w", err)
	}
	_ = r.sleep(context.WithoutCancel(ctx), r.delay())
	r.events.End(eventlog.OpRead, c.Slot)

	if r.metrics != nil {
		r.metrics.Reads.Inc()
		r.metrics.Outcome(outcome.String())
		r.metrics.ObserveOp("read", time.Since(start))
	}
	switch outcome {
	case buffer.Intact:
		r.log.Debug("slot consumed", zap.Int("slot", c.Slot))
	case buffer.Overwritten:
		r.log.Info("slot overwritten while reading", zap.Int("slot", c.Slot),
			zap.Uint32("writer_pid", c.WriterPID))
	case buffer.Corrupt:
		r.log.Warn("payload digest mismatch", zap.Int("slot", c.Slot),
			zap.Uint32("writer_pid", c.WriterPID), zap.Uint64("digest", c.Digest))
	}
	return outcome, nil
}
