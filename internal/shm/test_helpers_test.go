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
	"testing"
)

// testNames returns object names in a fresh temporary directory, so tests
// never collide with each other or with a live deployment in /dev/shm.
func testNames(t *testing.T) Names {
	t.Helper()
	n := DefaultNames()
	n.Dir = t.TempDir()
	return n
}

// createTestSegment creates a segment with geometry g and registers cleanup
// with t.Cleanup so it is unmapped even if the test fails.
func createTestSegment(t *testing.T, names Names, g Geometry) *Segment {
	t.Helper()
	seg, err := CreateOrOpenSegment(t.Context(), names, g)
	if err != nil {
		t.Fatalf("Failed to create test segment %s: %v", names.Segment, err)
	}
	t.Cleanup(func() {
		seg.Close()
	})
	return seg
}

// createTestMutex creates a mutex and registers cleanup.
func createTestMutex(t *testing.T, names Names) *Mutex {
	t.Helper()
	m, err := CreateOrOpenMutex(t.Context(), names)
	if err != nil {
		t.Fatalf("Failed to create test mutex %s: %v", names.Mutex, err)
	}
	t.Cleanup(func() {
		m.Close()
	})
	return m
}

// createTestSignals creates n signals and registers cleanup.
func createTestSignals(t *testing.T, names Names, n int) *SignalSet {
	t.Helper()
	s, err := CreateOrOpenSignals(t.Context(), names, n)
	if err != nil {
		t.Fatalf("Failed to create test signals %s: %v", names.SignalBase, err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}
