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

// Package buffer implements the slot claim protocol on top of the shared
// objects of package shm.
//
// A Buffer is the per-process handle to a deployment. Writers reserve a
// claimable slot under the mutex, fill its payload without the lock and
// publish it by raising the slot's ready signal. Readers wait on all
// signals, confirm the slot is still Written under the mutex, flip it to
// Read and consume the payload without the lock. The mutex only ever
// guards the state table; payload access is handed over by the Written
// reservation and the signal.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/slotbuf/slotbuf/internal/shm"
)

// DefaultAttachTimeout bounds how long Attach waits for objects that
// another participant is expected to create.
const DefaultAttachTimeout = 5 * time.Second

// ErrRemoved means the deployment was torn down by its last participant
// while this process was opening it.
var ErrRemoved = errors.New("shared objects removed during attach")

// Options configures Attach.
type Options struct {
	Names    shm.Names
	Geometry shm.Geometry // required on the create path; optional check on the open path

	// Create selects the create-or-open path. When false, Attach only opens
	// objects created by another participant.
	Create bool

	// Observer opens the objects without counting this process as a
	// participant. Closing an observer never removes the objects.
	Observer bool

	// AttachTimeout bounds waiting for another participant's objects.
	// Zero selects DefaultAttachTimeout.
	AttachTimeout time.Duration

	Logger *zap.Logger
}

// Buffer is one process's handle to a deployment: the mapped segment, the
// mutex and the ready signals.
type Buffer struct {
	names    shm.Names
	seg      *shm.Segment
	mu       *shm.Mutex
	signals  *shm.SignalSet
	pid      uint32
	log      *zap.Logger
	observer bool
	closed   bool
}

// Attach creates or opens every shared object of the deployment and counts
// this process in. On failure it releases whatever it had acquired and
// returns a *shm.InitError.
func Attach(ctx context.Context, opts Options) (*Buffer, error) {
	timeout := opts.AttachTimeout
	if timeout <= 0 {
		timeout = DefaultAttachTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	b := &Buffer{names: opts.Names, pid: uint32(os.Getpid()), log: log, observer: opts.Observer}
	if err := b.open(ctx, opts); err != nil {
		b.release()
		return nil, err
	}
	if b.observer {
		return b, nil
	}

	attached, err := b.join()
	if err != nil {
		b.release()
		return nil, err
	}

	b.log.Debug("attached to slot buffer",
		zap.String("segment", opts.Names.Segment),
		zap.Bool("created", b.seg.Created()),
		zap.Int("slots", b.seg.Slots()),
		zap.Uint32("attached", attached))
	return b, nil
}

// join counts this process in. The last closer unlinks under the mutex, so
// a segment that is still linked here cannot be removed before the count
// is taken.
func (b *Buffer) join() (uint32, error) {
	var attached uint32
	var orphaned bool
	err := b.withLock(func() {
		if !b.seg.Linked() {
			orphaned = true
			return
		}
		attached = b.seg.Attach()
	})
	if err != nil {
		return 0, &shm.InitError{Op: "lock mutex", Name: b.names.Mutex, Err: err}
	}
	if orphaned {
		return 0, &shm.InitError{Op: "attach segment", Name: b.names.Segment, Err: ErrRemoved}
	}
	return attached, nil
}

// open acquires the mutex, the signals and the segment. The create path
// starts with the mutex and signals so that by the time the segment is
// published everything else exists; the open path starts with the segment
// to learn the geometry.
func (b *Buffer) open(ctx context.Context, opts Options) error {
	var err error
	if opts.Create {
		if b.mu, err = shm.CreateOrOpenMutex(ctx, opts.Names); err != nil {
			return err
		}
		if b.signals, err = shm.CreateOrOpenSignals(ctx, opts.Names, opts.Geometry.Slots); err != nil {
			return err
		}
		b.seg, err = shm.CreateOrOpenSegment(ctx, opts.Names, opts.Geometry)
		return err
	}

	if b.seg, err = shm.OpenSegment(ctx, opts.Names); err != nil {
		return err
	}
	if g := b.seg.Geometry(); opts.Geometry != (shm.Geometry{}) && g != opts.Geometry {
		return &shm.InitError{Op: "open segment", Name: opts.Names.Segment,
			Err: fmt.Errorf("geometry mismatch: segment has %d x %d, expected %d x %d",
				g.Slots, g.PayloadSize, opts.Geometry.Slots, opts.Geometry.PayloadSize)}
	}
	if b.mu, err = shm.OpenMutex(ctx, opts.Names); err != nil {
		return err
	}
	b.signals, err = shm.OpenSignals(ctx, opts.Names, b.seg.Slots())
	return err
}

// withLock runs fn with the mutex held and releases it on every path out
// of fn, panics included.
func (b *Buffer) withLock(fn func()) error {
	if err := b.mu.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", b.mu.Name(), err)
	}
	defer b.mu.Unlock()
	fn()
	return nil
}

// transition moves slot i to state to if that is an edge of the slot cycle.
// Callers hold the mutex.
func (b *Buffer) transition(i int, to shm.SlotState) bool {
	if !shm.CanTransition(b.seg.State(i), to) {
		return false
	}
	b.seg.SetState(i, to)
	return true
}

// Names returns the deployment's object names.
func (b *Buffer) Names() shm.Names {
	return b.names
}

// Geometry returns the deployment's slot count and payload size.
func (b *Buffer) Geometry() shm.Geometry {
	return b.seg.Geometry()
}

// Slots returns the number of slots.
func (b *Buffer) Slots() int {
	return b.seg.Slots()
}

// Created reports whether this handle created the segment.
func (b *Buffer) Created() bool {
	return b.seg.Created()
}

func (b *Buffer) checkSlot(slot int) error {
	if slot < 0 || slot >= b.seg.Slots() {
		return fmt.Errorf("slot %d: %w", slot, shm.ErrBadSlot)
	}
	return nil
}

// ClaimWrite reserves the first slot in Empty or Read state by flipping it
// to Written. ok is false when every slot is Written; that is a transient
// condition, the caller backs off and retries.
func (b *Buffer) ClaimWrite() (slot int, ok bool, err error) {
	slot = -1
	err = b.withLock(func() {
		for i := 0; i < b.seg.Slots(); i++ {
			if b.transition(i, shm.SlotWritten) {
				b.seg.SetWriterPID(i, b.pid)
				b.seg.AddClaim(i)
				slot = i
				return
			}
		}
	})
	if err != nil {
		return -1, false, err
	}
	return slot, slot >= 0, nil
}

// Payload returns slot's payload bytes in shared memory. Only the holder
// of the slot's reservation may write them.
func (b *Buffer) Payload(slot int) []byte {
	return b.seg.Payload(slot)
}

// Publish hands a filled slot to the readers: it records the payload
// digest, counts the write and raises the slot's ready signal.
func (b *Buffer) Publish(slot int) error {
	if err := b.checkSlot(slot); err != nil {
		return err
	}
	b.seg.SetDigest(slot, xxhash.Sum64(b.seg.Payload(slot)))
	b.seg.AddWrite()
	if err := b.signals.Raise(slot); err != nil {
		return fmt.Errorf("publish slot %d: %w", slot, err)
	}
	return nil
}

// WaitReady waits up to timeout for any slot's ready signal and takes it.
// ok is false when nothing was published in time.
func (b *Buffer) WaitReady(timeout time.Duration) (slot int, ok bool, err error) {
	return b.signals.WaitAny(timeout)
}

// Claim identifies one slot occurrence taken by a reader.
type Claim struct {
	Slot      int
	Claims    uint32 // the slot's claim generation when it was taken
	Digest    uint64 // digest the writer published for this occurrence
	WriterPID uint32
}

// ClaimRead flips a signalled slot from Written to Read. ok is false when
// the slot is not Written any more; the reader then leaves it alone.
func (b *Buffer) ClaimRead(slot int) (c Claim, ok bool, err error) {
	if err := b.checkSlot(slot); err != nil {
		return Claim{}, false, err
	}
	err = b.withLock(func() {
		if !b.transition(slot, shm.SlotRead) {
			return
		}
		c = Claim{
			Slot:      slot,
			Claims:    b.seg.Claims(slot),
			Digest:    b.seg.Digest(slot),
			WriterPID: b.seg.WriterPID(slot),
		}
		ok = true
	})
	if err != nil {
		return Claim{}, false, err
	}
	if !ok {
		b.log.Debug("signalled slot no longer written", zap.Int("slot", slot),
			zap.Stringer("state", b.seg.State(slot)))
	}
	return c, ok, nil
}

// Outcome classifies a consumed payload.
type Outcome int

const (
	// Intact means the copied bytes match the writer's digest.
	Intact Outcome = iota
	// Overwritten means a writer re-claimed the slot during the copy.
	Overwritten
	// Corrupt means the bytes do not match and no writer intervened.
	Corrupt
)

func (o Outcome) String() string {
	switch o {
	case Intact:
		return "intact"
	case Overwritten:
		return "overwritten"
	case Corrupt:
		return "corrupt"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Consume copies the claimed payload into dst, counts the read and checks
// the copy against the writer's digest. dst must hold a full payload.
func (b *Buffer) Consume(c Claim, dst []byte) (Outcome, error) {
	if err := b.checkSlot(c.Slot); err != nil {
		return Corrupt, err
	}
	src := b.seg.Payload(c.Slot)
	if len(dst) < len(src) {
		return Corrupt, fmt.Errorf("consume slot %d: buffer of %d bytes, need %d", c.Slot, len(dst), len(src))
	}
	n := copy(dst, src)
	b.seg.AddRead()

	if b.seg.Claims(c.Slot) != c.Claims {
		return Overwritten, nil
	}
	if xxhash.Sum64(dst[:n]) != c.Digest {
		return Corrupt, nil
	}
	return Intact, nil
}

// Snapshot is a point-in-time view of a deployment, read without the mutex.
type Snapshot struct {
	Geometry   shm.Geometry
	States     []shm.SlotState
	Signals    []uint32
	Writers    []uint32
	Claims     []uint32
	Writes     uint64
	Reads      uint64
	Attached   uint32
	CreatorPID uint32
	Locked     bool
	LockOwner  uint32
}

// Snapshot reads the current state of every slot and the shared counters.
// Reads is loaded before Writes so that Reads <= Writes holds in the result.
func (b *Buffer) Snapshot() Snapshot {
	n := b.seg.Slots()
	hdr := b.seg.Header()
	s := Snapshot{
		Geometry:   b.seg.Geometry(),
		States:     make([]shm.SlotState, n),
		Signals:    make([]uint32, n),
		Writers:    make([]uint32, n),
		Claims:     make([]uint32, n),
		Reads:      hdr.Reads(),
		Attached:   hdr.Attached(),
		CreatorPID: hdr.CreatorPID(),
		Locked:     b.mu.Locked(),
		LockOwner:  b.mu.Owner(),
	}
	s.Writes = hdr.Writes()
	for i := 0; i < n; i++ {
		s.States[i] = b.seg.State(i)
		s.Signals[i] = b.signals.Count(i)
		s.Writers[i] = b.seg.WriterPID(i)
		s.Claims[i] = b.seg.Claims(i)
	}
	return s
}

// Close counts this process out. The last participant to close unlinks
// every shared object; the others only drop their mappings.
func (b *Buffer) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if b.observer {
		return b.release()
	}

	var errs []error
	var last bool
	err := b.withLock(func() {
		last = b.seg.Detach() == 0
		if last {
			errs = append(errs, b.seg.Unlink(), b.signals.Unlink(), b.mu.Unlink())
		}
	})
	errs = append(errs, err)
	if last {
		b.log.Debug("last participant detached, objects removed", zap.String("segment", b.names.Segment))
	}

	errs = append(errs, b.release())
	return errors.Join(errs...)
}

// release unmaps whatever objects this handle holds.
func (b *Buffer) release() error {
	var errs []error
	if b.seg != nil {
		errs = append(errs, b.seg.Close())
	}
	if b.signals != nil {
		errs = append(errs, b.signals.Close())
	}
	if b.mu != nil {
		errs = append(errs, b.mu.Close())
	}
	return errors.Join(errs...)
}
