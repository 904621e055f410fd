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

//go:build linux

package shm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSignalRaiseSaturates(t *testing.T) {
	s := createTestSignals(t, testNames(t), 3)

	if s.Len() != 3 {
		t.Fatalf("Len() = %d", s.Len())
	}
	if err := s.Raise(1); err != nil {
		t.Fatalf("Raise: %v", err)
	}
	if c := s.Count(1); c != 1 {
		t.Errorf("Count(1) = %d, want 1", c)
	}
	if err := s.Raise(1); !errors.Is(err, ErrSignalSaturated) {
		t.Errorf("second Raise = %v, want ErrSignalSaturated", err)
	}
	if c := s.Count(1); c != 1 {
		t.Errorf("Count(1) after saturation = %d, want 1", c)
	}
	if c := s.Count(0); c != 0 {
		t.Errorf("Count(0) = %d, want 0", c)
	}
}

func TestSignalTryTakeLowestFirst(t *testing.T) {
	s := createTestSignals(t, testNames(t), 4)

	if _, ok := s.TryTake(); ok {
		t.Fatal("TryTake succeeded with nothing raised")
	}
	for _, i := range []int{3, 1, 2} {
		if err := s.Raise(i); err != nil {
			t.Fatal(err)
		}
	}
	for _, want := range []int{1, 2, 3} {
		got, ok := s.TryTake()
		if !ok || got != want {
			t.Errorf("TryTake() = %d, %v; want %d, true", got, ok, want)
		}
	}
	if _, ok := s.TryTake(); ok {
		t.Error("TryTake succeeded after draining")
	}
}

func TestSignalBadIndex(t *testing.T) {
	s := createTestSignals(t, testNames(t), 2)
	for _, i := range []int{-1, 2} {
		if err := s.Raise(i); !errors.Is(err, ErrBadSlot) {
			t.Errorf("Raise(%d) = %v, want ErrBadSlot", i, err)
		}
		if c := s.Count(i); c != 0 {
			t.Errorf("Count(%d) = %d", i, c)
		}
	}
}

func TestSignalWaitAnyTimeout(t *testing.T) {
	s := createTestSignals(t, testNames(t), 2)

	start := time.Now()
	i, ok, err := s.WaitAny(100 * time.Millisecond)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("WaitAny: %v", err)
	}
	if ok || i != -1 {
		t.Errorf("WaitAny() = %d, %v; want -1, false", i, ok)
	}
	if elapsed < 90*time.Millisecond || elapsed > 500*time.Millisecond {
		t.Errorf("WaitAny returned after %v, want about 100ms", elapsed)
	}
}

func TestSignalWaitAnyAlreadyRaised(t *testing.T) {
	s := createTestSignals(t, testNames(t), 2)
	if err := s.Raise(1); err != nil {
		t.Fatal(err)
	}
	i, ok, err := s.WaitAny(time.Second)
	if err != nil || !ok || i != 1 {
		t.Fatalf("WaitAny() = %d, %v, %v; want 1, true, nil", i, ok, err)
	}
	if c := s.Count(1); c != 0 {
		t.Errorf("unit not consumed: Count(1) = %d", c)
	}
}

func TestSignalWaitAnyWokenByOtherHandle(t *testing.T) {
	names := testNames(t)
	waiter := createTestSignals(t, names, 3)
	raiser, err := OpenSignals(t.Context(), names, 3)
	if err != nil {
		t.Fatalf("OpenSignals: %v", err)
	}
	defer raiser.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		raiser.Raise(2)
	}()

	start := time.Now()
	i, ok, err := waiter.WaitAny(5 * time.Second)
	if err != nil || !ok || i != 2 {
		t.Fatalf("WaitAny() = %d, %v, %v; want 2, true, nil", i, ok, err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("wake took %v", elapsed)
	}
}

// TestSignalEachUnitTakenOnce races several waiters for a stream of raises
// and checks that every unit goes to exactly one of them.
func TestSignalEachUnitTakenOnce(t *testing.T) {
	names := testNames(t)
	raiser := createTestSignals(t, names, 2)

	const (
		waiters = 4
		units   = 200
	)
	taken := make(chan int, 2*units)
	done := make(chan struct{})
	var wg sync.WaitGroup
	stop := sync.OnceFunc(func() {
		close(done)
		wg.Wait()
	})
	defer stop()
	for w := 0; w < waiters; w++ {
		s, err := OpenSignals(t.Context(), names, 2)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { s.Close() })
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				if i, ok, err := s.WaitAny(10 * time.Millisecond); err == nil && ok {
					taken <- i
				}
			}
		}()
	}

	for n := 0; n < units; n++ {
		i := n % 2
		for {
			err := raiser.Raise(i)
			if err == nil {
				break
			}
			if !errors.Is(err, ErrSignalSaturated) {
				t.Fatal(err)
			}
			time.Sleep(100 * time.Microsecond)
		}
	}

	deadline := time.After(10 * time.Second)
	for n := 0; n < units; n++ {
		select {
		case <-taken:
		case <-deadline:
			t.Fatalf("only %d of %d units taken", n, units)
		}
	}
	stop()

	select {
	case i := <-taken:
		t.Errorf("extra unit taken from signal %d", i)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSignalOpenMissing(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 30*time.Millisecond)
	defer cancel()
	_, err := OpenSignals(ctx, testNames(t), 2)
	var initErr *InitError
	if !errors.As(err, &initErr) {
		t.Fatalf("error = %v, want *InitError", err)
	}
}
