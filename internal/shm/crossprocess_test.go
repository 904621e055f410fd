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
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"testing"
	"time"
)

const (
	helperEnv     = "SHM_TEST_HELPER"
	helperDirEnv  = "SHM_TEST_DIR"
	helperSlotEnv = "SHM_TEST_SLOT"
	helperRounds  = 500
)

var crossGeometry = Geometry{Slots: 4, PayloadSize: 8}

// TestHelperProcess is not a real test. It is re-executed by
// TestCrossProcess as a separate participant.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	if err := runHelper(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(0)
}

func runHelper() error {
	names := DefaultNames()
	names.Dir = os.Getenv(helperDirEnv)
	slot, err := strconv.Atoi(os.Getenv(helperSlotEnv))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	seg, err := CreateOrOpenSegment(ctx, names, crossGeometry)
	if err != nil {
		return err
	}
	defer seg.Close()
	m, err := OpenMutex(ctx, names)
	if err != nil {
		return err
	}
	defer m.Close()
	sigs, err := OpenSignals(ctx, names, crossGeometry.Slots)
	if err != nil {
		return err
	}
	defer sigs.Close()

	for i := 0; i < helperRounds; i++ {
		if err := m.Lock(); err != nil {
			return err
		}
		p := seg.Payload(0)
		binary.LittleEndian.PutUint64(p, binary.LittleEndian.Uint64(p)+1)
		if err := m.Unlock(); err != nil {
			return err
		}
	}

	if err := m.Lock(); err != nil {
		return err
	}
	seg.SetState(slot, SlotWritten)
	seg.SetWriterPID(slot, uint32(os.Getpid()))
	seg.AddWrite()
	if err := m.Unlock(); err != nil {
		return err
	}
	return sigs.Raise(slot)
}

// TestCrossProcess runs several helper processes against one set of objects.
// Each bumps a counter under the shared mutex and then raises its own slot.
func TestCrossProcess(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns processes")
	}
	names := testNames(t)
	seg := createTestSegment(t, names, crossGeometry)
	createTestMutex(t, names)
	sigs := createTestSignals(t, names, crossGeometry.Slots)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		pids = map[int]int{}
	)
	for slot := 1; slot < crossGeometry.Slots; slot++ {
		cmd := exec.CommandContext(t.Context(), os.Args[0], "-test.run=^TestHelperProcess$")
		cmd.Env = append(os.Environ(),
			helperEnv+"=1",
			helperDirEnv+"="+names.Dir,
			helperSlotEnv+"="+strconv.Itoa(slot),
		)
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			t.Fatalf("start helper: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := cmd.Wait(); err != nil {
				t.Errorf("helper for slot %d: %v", slot, err)
			}
			mu.Lock()
			pids[slot] = cmd.Process.Pid
			mu.Unlock()
		}()
	}

	seen := map[int]bool{}
	for len(seen) < crossGeometry.Slots-1 {
		i, ok, err := sigs.WaitAny(10 * time.Second)
		if err != nil {
			t.Fatalf("WaitAny: %v", err)
		}
		if !ok {
			t.Fatalf("timed out with %d of %d signals", len(seen), crossGeometry.Slots-1)
		}
		if seen[i] {
			t.Errorf("signal %d taken twice", i)
		}
		seen[i] = true
	}
	wg.Wait()

	if got := binary.LittleEndian.Uint64(seg.Payload(0)); got != uint64((crossGeometry.Slots-1)*helperRounds) {
		t.Errorf("counter = %d, want %d", got, (crossGeometry.Slots-1)*helperRounds)
	}
	if got := seg.Header().Writes(); got != uint64(crossGeometry.Slots-1) {
		t.Errorf("writes = %d, want %d", got, crossGeometry.Slots-1)
	}
	if seen[0] || seg.State(0) != SlotEmpty {
		t.Error("slot 0 touched")
	}
	for slot, pid := range pids {
		if st := seg.State(slot); st != SlotWritten {
			t.Errorf("slot %d state = %v", slot, st)
		}
		if got := seg.WriterPID(slot); got != uint32(pid) {
			t.Errorf("slot %d writer = %d, want %d", slot, got, pid)
		}
	}
}
