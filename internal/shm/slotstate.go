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

//go:generate go tool stringer -type=SlotState -trimprefix=Slot

// SlotState is the tag stored in a slot record.
type SlotState uint32

const (
	SlotEmpty   SlotState = iota // never written since creation
	SlotWritten                  // reserved by a writer, or filled and awaiting a reader
	SlotRead                     // consumed by a reader, claimable by writers
)

// Valid reports whether s is one of the three defined states.
func (s SlotState) Valid() bool {
	return s <= SlotRead
}

// Claimable reports whether a writer may reserve a slot in state s.
func (s SlotState) Claimable() bool {
	return s == SlotEmpty || s == SlotRead
}

// CanTransition reports whether from -> to is an edge of the slot cycle
// Empty -> Written -> Read -> Written -> ...
func CanTransition(from, to SlotState) bool {
	switch to {
	case SlotWritten:
		return from.Claimable()
	case SlotRead:
		return from == SlotWritten
	}
	return false
}
