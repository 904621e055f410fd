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
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

var (
	// ErrFutexTimeout is returned by futexWaitTimeout when the wait times out.
	ErrFutexTimeout = errors.New("futex timeout")

	// ErrUnsupported is returned on platforms without futex or mmap support.
	ErrUnsupported = errors.New("shared memory primitives not supported on this platform")

	// ErrSignalSaturated is returned by Raise when the slot already holds
	// an unclaimed ready unit.
	ErrSignalSaturated = errors.New("signal already raised")

	// ErrNotLocked is returned by Unlock on a mutex that is not held.
	ErrNotLocked = errors.New("mutex not locked")

	// ErrBadSlot is returned for slot indices outside [0, N).
	ErrBadSlot = errors.New("slot index out of range")

	// ErrClosed is returned when using an object after Close.
	ErrClosed = errors.New("shared object closed")
)

// InitError reports a failure to create, open or map one of the named
// shared objects. It is fatal for the process that sees it.
type InitError struct {
	Op   string // operation that failed, e.g. "create segment"
	Name string // name of the shared object
	Err  error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Name, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// Errno returns the OS error code behind the failure, or 0 when the
// failure did not come from a system call.
func (e *InitError) Errno() int {
	var errno unix.Errno
	if errors.As(e.Err, &errno) {
		return int(errno)
	}
	return 0
}

func initErr(op, name string, err error) error {
	return &InitError{Op: op, Name: name, Err: err}
}
