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
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Memory layout constants
const (
	// Magic bytes for segment identification
	SegmentMagic = "SLOTBUF\x00"

	// Current layout version
	SegmentVersion = uint32(1)

	// Segment header size (aligned to 64 bytes)
	SegmentHeaderSize = 64

	// Size of one slot record in the state table
	SlotRecordSize = 32

	// Default deployment geometry: 20 slots of one page each
	DefaultSlotCount   = 20
	DefaultPayloadSize = 4096

	// Upper bounds accepted by ValidateGeometry
	MaxSlotCount   = 4096
	MaxPayloadSize = 16 * 1024 * 1024
)

var segmentMagic = [8]byte{'S', 'L', 'O', 'T', 'B', 'U', 'F', 0}

// SegmentHeader is the fixed header at offset 0 of every segment.
type SegmentHeader struct {
	magic       [8]byte // 0x00: "SLOTBUF\0"
	version     uint32  // 0x08: layout version
	slotCount   uint32  // 0x0C: number of slots N
	payloadSize uint32  // 0x10: bytes per slot payload
	ready       uint32  // 0x14: creator finished initialisation (0->1)
	totalSize   uint64  // 0x18: total segment size
	creatorPID  uint32  // 0x20: PID of the creating process
	attached    uint32  // 0x24: live participant count
	writes      uint64  // 0x28: completed writes
	reads       uint64  // 0x30: completed reads
	reserved    [8]byte // 0x38-0x3F: reserved/padding to 64B
}

// SlotRecord is one entry of the slot state table.
type SlotRecord struct {
	state     uint32  // 0x00: SlotState
	writerPID uint32  // 0x04: PID of the last writer that claimed the slot
	claims    uint32  // 0x08: write claims so far; changes whenever a writer reserves the slot
	pad       uint32  // 0x0C: padding
	digest    uint64  // 0x10: xxhash of the payload published by the last writer
	reserved  [8]byte // 0x18-0x1F: reserved/padding to 32B
}

// Magic returns the magic bytes
func (h *SegmentHeader) Magic() [8]byte {
	return h.magic
}

// Version returns the layout version
func (h *SegmentHeader) Version() uint32 {
	return atomic.LoadUint32(&h.version)
}

// SlotCount returns the number of slots
func (h *SegmentHeader) SlotCount() uint32 {
	return atomic.LoadUint32(&h.slotCount)
}

// PayloadSize returns the payload size of each slot
func (h *SegmentHeader) PayloadSize() uint32 {
	return atomic.LoadUint32(&h.payloadSize)
}

// TotalSize returns the total segment size
func (h *SegmentHeader) TotalSize() uint64 {
	return atomic.LoadUint64(&h.totalSize)
}

// Ready reports whether the creator finished initialising the segment.
func (h *SegmentHeader) Ready() bool {
	return atomic.LoadUint32(&h.ready) != 0
}

// CreatorPID returns the PID of the process that created the segment.
func (h *SegmentHeader) CreatorPID() uint32 {
	return atomic.LoadUint32(&h.creatorPID)
}

// Attached returns the number of participants currently attached.
func (h *SegmentHeader) Attached() uint32 {
	return atomic.LoadUint32(&h.attached)
}

// Writes returns the number of completed writes.
func (h *SegmentHeader) Writes() uint64 {
	return atomic.LoadUint64(&h.writes)
}

// Reads returns the number of completed reads.
func (h *SegmentHeader) Reads() uint64 {
	return atomic.LoadUint64(&h.reads)
}

// init writes the header of a freshly created segment. ready is stored
// last so openers never see a partially written header.
func (h *SegmentHeader) init(g Geometry, totalSize uint64, pid uint32) {
	h.magic = segmentMagic
	atomic.StoreUint32(&h.version, SegmentVersion)
	atomic.StoreUint32(&h.slotCount, uint32(g.Slots))
	atomic.StoreUint32(&h.payloadSize, uint32(g.PayloadSize))
	atomic.StoreUint64(&h.totalSize, totalSize)
	atomic.StoreUint32(&h.creatorPID, pid)
	atomic.StoreUint32(&h.ready, 1)
}

// Geometry describes the shape of a deployment.
type Geometry struct {
	Slots       int // number of slots N
	PayloadSize int // bytes per slot payload
}

// DefaultGeometry returns the 20 x 4096 geometry.
func DefaultGeometry() Geometry {
	return Geometry{Slots: DefaultSlotCount, PayloadSize: DefaultPayloadSize}
}

// ValidateGeometry checks that g can be laid out in a segment.
func ValidateGeometry(g Geometry) error {
	if g.Slots <= 0 || g.Slots > MaxSlotCount {
		return fmt.Errorf("slot count %d out of range [1, %d]", g.Slots, MaxSlotCount)
	}
	if g.PayloadSize <= 0 || g.PayloadSize > MaxPayloadSize {
		return fmt.Errorf("payload size %d out of range [1, %d]", g.PayloadSize, MaxPayloadSize)
	}
	return nil
}

// Layout holds the byte offsets of a segment's regions.
type Layout struct {
	TableOffset   uint64
	PayloadOffset uint64
	TotalSize     uint64
}

// CalculateSegmentLayout calculates the memory layout for a segment with the given geometry
func CalculateSegmentLayout(g Geometry) (Layout, error) {
	if err := ValidateGeometry(g); err != nil {
		return Layout{}, err
	}

	tableOff := alignTo64(SegmentHeaderSize)
	payloadOff := alignTo64(tableOff + uint64(g.Slots)*SlotRecordSize)
	total := alignTo64(payloadOff + uint64(g.Slots)*uint64(g.PayloadSize))

	return Layout{TableOffset: tableOff, PayloadOffset: payloadOff, TotalSize: total}, nil
}

// alignTo64 aligns a size to 64-byte boundary
func alignTo64(size uint64) uint64 {
	return (size + 63) &^ 63
}

// ValidateSegmentHeader validates a segment header for consistency. A zero
// Geometry skips the geometry comparison.
func ValidateSegmentHeader(h *SegmentHeader, want Geometry) error {
	if h.Magic() != segmentMagic {
		return fmt.Errorf("invalid magic bytes")
	}
	if h.Version() != SegmentVersion {
		return fmt.Errorf("unsupported version %d, expected %d", h.Version(), SegmentVersion)
	}

	got := Geometry{Slots: int(h.SlotCount()), PayloadSize: int(h.PayloadSize())}
	layout, err := CalculateSegmentLayout(got)
	if err != nil {
		return fmt.Errorf("layout calculation failed: %w", err)
	}
	if h.TotalSize() != layout.TotalSize {
		return fmt.Errorf("total size mismatch: got %d, expected %d", h.TotalSize(), layout.TotalSize)
	}

	if want != (Geometry{}) && got != want {
		return fmt.Errorf("geometry mismatch: segment has %d x %d, expected %d x %d",
			got.Slots, got.PayloadSize, want.Slots, want.PayloadSize)
	}
	return nil
}

var (
	_ [SegmentHeaderSize - unsafe.Sizeof(SegmentHeader{})]byte
	_ [unsafe.Sizeof(SegmentHeader{}) - SegmentHeaderSize]byte
	_ [SlotRecordSize - unsafe.Sizeof(SlotRecord{})]byte
)
