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
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"
)

// Segment is a mapped view of a deployment's shared segment: the header,
// the slot state table and the payload area.
type Segment struct {
	reg    *region
	name   string
	geom   Geometry
	layout Layout
}

// CreateOrOpenSegment creates the named segment with geometry g, or opens
// it when another participant created it first. A freshly created segment
// has every slot in SlotEmpty. Opening a segment whose geometry differs
// from g fails.
func CreateOrOpenSegment(ctx context.Context, names Names, g Geometry) (*Segment, error) {
	layout, err := CalculateSegmentLayout(g)
	if err != nil {
		return nil, initErr("create segment", names.Segment, err)
	}

	reg, err := createOrOpenRegion(ctx, names.Path(names.Segment), int(layout.TotalSize))
	if err != nil {
		return nil, initErr(createOp("segment", err), names.Segment, err)
	}

	if reg.created {
		s := &Segment{reg: reg, name: names.Segment, geom: g, layout: layout}
		s.Header().init(g, layout.TotalSize, uint32(os.Getpid()))
		return s, nil
	}
	return attachSegment(ctx, names.Segment, reg, g)
}

// OpenSegment opens an existing segment of any geometry, waiting until ctx
// is done for a creator to publish it.
func OpenSegment(ctx context.Context, names Names) (*Segment, error) {
	reg, err := openRegion(ctx, names.Path(names.Segment), SegmentHeaderSize)
	if err != nil {
		return nil, initErr("open segment", names.Segment, err)
	}
	return attachSegment(ctx, names.Segment, reg, Geometry{})
}

// attachSegment validates a segment mapped on the open path.
func attachSegment(ctx context.Context, name string, reg *region, want Geometry) (*Segment, error) {
	hdr := (*SegmentHeader)(reg.base())
	if err := waitReady(ctx, hdr); err != nil {
		reg.close()
		return nil, initErr("open segment", name, err)
	}
	if err := ValidateSegmentHeader(hdr, want); err != nil {
		reg.close()
		return nil, initErr("open segment", name, fmt.Errorf("invalid segment header: %w", err))
	}

	g := Geometry{Slots: int(hdr.SlotCount()), PayloadSize: int(hdr.PayloadSize())}
	layout, _ := CalculateSegmentLayout(g)
	if uint64(len(reg.mem)) < layout.TotalSize {
		reg.close()
		return nil, initErr("open segment", name,
			fmt.Errorf("mapped %d bytes, header declares %d", len(reg.mem), layout.TotalSize))
	}

	return &Segment{reg: reg, name: name, geom: g, layout: layout}, nil
}

// Name returns the segment's object name.
func (s *Segment) Name() string {
	return s.name
}

// Created reports whether this handle created the segment.
func (s *Segment) Created() bool {
	return s.reg.created
}

// Geometry returns the segment's slot count and payload size.
func (s *Segment) Geometry() Geometry {
	return s.geom
}

// Slots returns the number of slots.
func (s *Segment) Slots() int {
	return s.geom.Slots
}

// Size returns the mapped size in bytes.
func (s *Segment) Size() int {
	return len(s.reg.mem)
}

// Header returns the segment header in shared memory.
func (s *Segment) Header() *SegmentHeader {
	return (*SegmentHeader)(s.reg.base())
}

// record returns slot i's table entry in shared memory.
func (s *Segment) record(i int) *SlotRecord {
	if i < 0 || i >= s.geom.Slots {
		panic(fmt.Sprintf("shm: slot %d: %v", i, ErrBadSlot))
	}
	off := uintptr(s.layout.TableOffset) + uintptr(i)*SlotRecordSize
	return (*SlotRecord)(unsafe.Add(s.reg.base(), off))
}

// State returns slot i's state.
func (s *Segment) State(i int) SlotState {
	return SlotState(atomic.LoadUint32(&s.record(i).state))
}

// SetState stores slot i's state. Callers hold the deployment mutex.
func (s *Segment) SetState(i int, st SlotState) {
	atomic.StoreUint32(&s.record(i).state, uint32(st))
}

// WriterPID returns the PID of the last writer that claimed slot i.
func (s *Segment) WriterPID(i int) uint32 {
	return atomic.LoadUint32(&s.record(i).writerPID)
}

// SetWriterPID records the writer that claimed slot i.
func (s *Segment) SetWriterPID(i int, pid uint32) {
	atomic.StoreUint32(&s.record(i).writerPID, pid)
}

// Claims returns how many times writers have reserved slot i.
func (s *Segment) Claims(i int) uint32 {
	return atomic.LoadUint32(&s.record(i).claims)
}

// AddClaim counts a write reservation of slot i. Callers hold the
// deployment mutex.
func (s *Segment) AddClaim(i int) uint32 {
	return atomic.AddUint32(&s.record(i).claims, 1)
}

// Digest returns the payload digest published for slot i.
func (s *Segment) Digest(i int) uint64 {
	return atomic.LoadUint64(&s.record(i).digest)
}

// SetDigest stores the payload digest for slot i.
func (s *Segment) SetDigest(i int, d uint64) {
	atomic.StoreUint64(&s.record(i).digest, d)
}

// Payload returns slot i's payload bytes. The slice aliases shared memory
// and is only valid until Close.
func (s *Segment) Payload(i int) []byte {
	if i < 0 || i >= s.geom.Slots {
		panic(fmt.Sprintf("shm: slot %d: %v", i, ErrBadSlot))
	}
	start := s.layout.PayloadOffset + uint64(i)*uint64(s.geom.PayloadSize)
	end := start + uint64(s.geom.PayloadSize)
	return s.reg.mem[start:end:end]
}

// AddWrite counts a completed write and returns the new total.
func (s *Segment) AddWrite() uint64 {
	return atomic.AddUint64(&s.Header().writes, 1)
}

// AddRead counts a completed read and returns the new total.
func (s *Segment) AddRead() uint64 {
	return atomic.AddUint64(&s.Header().reads, 1)
}

// Attach counts a participant in and returns the new count.
func (s *Segment) Attach() uint32 {
	return atomic.AddUint32(&s.Header().attached, 1)
}

// Detach counts a participant out and returns the remaining count.
func (s *Segment) Detach() uint32 {
	h := s.Header()
	for {
		n := atomic.LoadUint32(&h.attached)
		if n == 0 {
			return 0
		}
		if atomic.CompareAndSwapUint32(&h.attached, n, n-1) {
			return n - 1
		}
	}
}

// Linked reports whether the segment's name still refers to this mapping.
// It is false once the segment has been unlinked, even if a new segment
// was created under the same name since.
func (s *Segment) Linked() bool {
	return s.reg.linked()
}

// Unlink removes the segment's backing file.
func (s *Segment) Unlink() error {
	return s.reg.unlink()
}

// Close unmaps the segment and closes its file.
func (s *Segment) Close() error {
	return s.reg.close()
}
