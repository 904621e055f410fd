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

package shm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

// Signal file layout
const (
	signalRegionSize = 64
	signalCountOff   = 0x00 // outstanding ready units, 0 or 1
	doorbellSeqOff   = 0x00 // bumped on every Raise
)

// SignalSet holds one ready signal per slot. Each signal is a named counter
// with capacity 1; a shared doorbell word lets a reader sleep on all of
// them at once.
type SignalSet struct {
	bell  *region
	slots []*region
	names Names
}

// CreateOrOpenSignals creates the n ready signals with count 0 and the
// doorbell, or opens those that already exist.
func CreateOrOpenSignals(ctx context.Context, names Names, n int) (*SignalSet, error) {
	return buildSignals(ctx, names, n, createOrOpenRegion, true)
}

// OpenSignals opens n existing ready signals, waiting until ctx is done for
// them to appear.
func OpenSignals(ctx context.Context, names Names, n int) (*SignalSet, error) {
	return buildSignals(ctx, names, n, openRegion, false)
}

type regionOpener func(ctx context.Context, path string, size int) (*region, error)

func buildSignals(ctx context.Context, names Names, n int, open regionOpener, create bool) (*SignalSet, error) {
	op := func(err error) string {
		if create {
			return createOp("signal", err)
		}
		return "open signal"
	}
	if n <= 0 {
		return nil, initErr(op(nil), names.SignalBase, fmt.Errorf("invalid signal count %d", n))
	}

	s := &SignalSet{names: names, slots: make([]*region, 0, n)}

	bell, err := open(ctx, names.Path(names.Doorbell()), signalRegionSize)
	if err != nil {
		return nil, initErr(op(err), names.Doorbell(), err)
	}
	s.bell = bell

	for i := 0; i < n; i++ {
		reg, err := open(ctx, names.Path(names.Signal(i)), signalRegionSize)
		if err != nil {
			s.Close()
			return nil, initErr(op(err), names.Signal(i), err)
		}
		s.slots = append(s.slots, reg)
	}
	return s, nil
}

// Len returns the number of signals.
func (s *SignalSet) Len() int {
	return len(s.slots)
}

func (s *SignalSet) count(i int) (*uint32, error) {
	if i < 0 || i >= len(s.slots) {
		return nil, fmt.Errorf("signal %d: %w", i, ErrBadSlot)
	}
	if s.slots[i].mem == nil {
		return nil, ErrClosed
	}
	return s.slots[i].word(signalCountOff), nil
}

// Raise makes one ready unit available on signal i. It fails with
// ErrSignalSaturated if the previous unit has not been taken yet.
func (s *SignalSet) Raise(i int) error {
	c, err := s.count(i)
	if err != nil {
		return err
	}
	if !atomic.CompareAndSwapUint32(c, 0, 1) {
		return fmt.Errorf("signal %s: %w", s.names.Signal(i), ErrSignalSaturated)
	}

	seq := s.bell.word(doorbellSeqOff)
	atomic.AddUint32(seq, 1)
	if _, err := futexWake(seq, math.MaxInt32); err != nil {
		return err
	}
	return nil
}

// Count returns the outstanding units on signal i (0 or 1).
func (s *SignalSet) Count(i int) uint32 {
	c, err := s.count(i)
	if err != nil {
		return 0
	}
	return atomic.LoadUint32(c)
}

// TryTake takes one unit from the lowest-indexed raised signal without blocking.
func (s *SignalSet) TryTake() (int, bool) {
	for i := range s.slots {
		c, err := s.count(i)
		if err != nil {
			continue
		}
		if atomic.CompareAndSwapUint32(c, 1, 0) {
			return i, true
		}
	}
	return -1, false
}

// WaitAny blocks until some signal holds a unit, takes it and returns its
// index. If none is raised within timeout it returns ok == false; that is
// not an error.
func (s *SignalSet) WaitAny(timeout time.Duration) (index int, ok bool, err error) {
	if s.bell.mem == nil {
		return -1, false, ErrClosed
	}
	seq := s.bell.word(doorbellSeqOff)
	deadline := time.Now().Add(timeout)

	for {
		// Snapshot the doorbell before scanning so a Raise that lands
		// after the scan changes the word and fails our wait.
		snap := atomic.LoadUint32(seq)
		if i, ok := s.TryTake(); ok {
			return i, true, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return -1, false, nil
		}

		err := futexWaitTimeout(seq, snap, remaining)
		if errors.Is(err, ErrFutexTimeout) {
			if i, ok := s.TryTake(); ok {
				return i, true, nil
			}
			return -1, false, nil
		}
		if err != nil {
			return -1, false, err
		}
	}
}

// Unlink removes the backing files of every signal and the doorbell.
func (s *SignalSet) Unlink() error {
	var errs []error
	if s.bell != nil {
		errs = append(errs, s.bell.unlink())
	}
	for _, reg := range s.slots {
		errs = append(errs, reg.unlink())
	}
	return errors.Join(errs...)
}

// Close unmaps every signal and the doorbell.
func (s *SignalSet) Close() error {
	var errs []error
	if s.bell != nil {
		errs = append(errs, s.bell.close())
	}
	for _, reg := range s.slots {
		errs = append(errs, reg.close())
	}
	return errors.Join(errs...)
}
