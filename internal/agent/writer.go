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

	"github.com/slotbuf/slotbuf/internal/eventlog"
)

// WriteBuffer is the part of a buffer a writer uses.
type WriteBuffer interface {
	ClaimWrite() (slot int, ok bool, err error)
	Payload(slot int) []byte
	Publish(slot int) error
}

// WriterStats summarises a writer run.
type WriterStats struct {
	Writes      int
	ClaimMisses int
}

// Writer claims slots, fills them with random bytes and publishes them
// until its quota is met.
type Writer struct {
	runner
	buf WriteBuffer
}

// NewWriter returns a writer over buf.
func NewWriter(buf WriteBuffer, opts Options) *Writer {
	return &Writer{runner: newRunner(RoleWriter, opts), buf: buf}
}

// Run performs Quota writes. A claim miss backs off and retries without
// counting against the quota.
func (w *Writer) Run(ctx context.Context) (WriterStats, error) {
	var st WriterStats
	for st.Writes < w.quota {
		w.events.Waiting()
		slot, ok, err := w.buf.ClaimWrite()
		if err != nil {
			return st, fmt.Errorf("claim write: %w", err)
		}
		if !ok {
			st.ClaimMisses++
			if w.metrics != nil {
				w.metrics.ClaimMisses.Inc()
			}
			w.log.Debug("no claimable slot, backing off", zap.Duration("backoff", w.timing.Backoff))
			if err := w.sleep(ctx, w.timing.Backoff); err != nil {
				return st, err
			}
			continue
		}

		if err := w.write(ctx, slot); err != nil {
			return st, err
		}
		st.Writes++
		if err := w.sleep(ctx, w.timing.Pause); err != nil {
			return st, err
		}
	}
	return st, nil
}

func (w *Writer) write(ctx context.Context, slot int) error {
	start := time.Now()
	_, _ = w.src.Read(w.buf.Payload(slot))

	w.events.Start(eventlog.OpWrite, slot)
	// The slot is reserved: an unraised Written slot is lost to every
	// reader, so the delay runs to completion even when ctx is cancelled.
	_ = w.sleep(context.WithoutCancel(ctx), w.delay())
	w.events.End(eventlog.OpWrite, slot)

	if err := w.buf.Publish(slot); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if w.metrics != nil {
		w.metrics.Writes.Inc()
		w.metrics.ObserveOp("write", time.Since(start))
	}
	w.log.Debug("slot published", zap.Int("slot", slot))
	return nil
}
