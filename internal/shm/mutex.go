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
	"os"
	"sync/atomic"
)

// Mutex file layout
const (
	mutexRegionSize = 64
	mutexStateOff   = 0x00 // 0 free, 1 held, 2 held with waiters
	mutexOwnerOff   = 0x04 // PID of the holder, diagnostic only
)

// Mutex is a named mutual-exclusion lock shared by every participant of a
// deployment. Lock blocks without a timeout. A process that dies while
// holding the lock leaves it held.
type Mutex struct {
	reg  *region
	name string
}

// CreateOrOpenMutex creates the named mutex in the unlocked state, or opens
// it when it already exists.
func CreateOrOpenMutex(ctx context.Context, names Names) (*Mutex, error) {
	reg, err := createOrOpenRegion(ctx, names.Path(names.Mutex), mutexRegionSize)
	if err != nil {
		return nil, initErr(createOp("mutex", err), names.Mutex, err)
	}
	return &Mutex{reg: reg, name: names.Mutex}, nil
}

// OpenMutex opens an existing mutex, waiting until ctx is done for it to appear.
func OpenMutex(ctx context.Context, names Names) (*Mutex, error) {
	reg, err := openRegion(ctx, names.Path(names.Mutex), mutexRegionSize)
	if err != nil {
		return nil, initErr("open mutex", names.Mutex, err)
	}
	return &Mutex{reg: reg, name: names.Mutex}, nil
}

// Name returns the mutex's object name.
func (m *Mutex) Name() string {
	return m.name
}

// Lock acquires the mutex, blocking until it is granted.
func (m *Mutex) Lock() error {
	if m.reg.mem == nil {
		return ErrClosed
	}
	w := m.reg.word(mutexStateOff)

	if !atomic.CompareAndSwapUint32(w, 0, 1) {
		// Contended: advertise a waiter and sleep until the holder releases.
		c := atomic.LoadUint32(w)
		if c != 2 {
			c = atomic.SwapUint32(w, 2)
		}
		for c != 0 {
			if err := futexWait(w, 2); err != nil {
				return err
			}
			c = atomic.SwapUint32(w, 2)
		}
	}

	atomic.StoreUint32(m.reg.word(mutexOwnerOff), uint32(os.Getpid()))
	return nil
}

// Unlock releases the mutex and wakes one waiter if there are any.
func (m *Mutex) Unlock() error {
	if m.reg.mem == nil {
		return ErrClosed
	}
	w := m.reg.word(mutexStateOff)
	if atomic.LoadUint32(w) == 0 {
		return ErrNotLocked
	}

	atomic.StoreUint32(m.reg.word(mutexOwnerOff), 0)
	if atomic.AddUint32(w, ^uint32(0)) != 0 {
		atomic.StoreUint32(w, 0)
		if _, err := futexWake(w, 1); err != nil {
			return err
		}
	}
	return nil
}

// Locked reports whether the mutex is currently held by anyone.
func (m *Mutex) Locked() bool {
	return atomic.LoadUint32(m.reg.word(mutexStateOff)) != 0
}

// Owner returns the PID of the current holder, or 0.
func (m *Mutex) Owner() uint32 {
	return atomic.LoadUint32(m.reg.word(mutexOwnerOff))
}

// Unlink removes the mutex's backing file.
func (m *Mutex) Unlink() error {
	return m.reg.unlink()
}

// Close unmaps the mutex. It does not release a held lock.
func (m *Mutex) Close() error {
	return m.reg.close()
}
