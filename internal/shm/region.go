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
	"os"
	"time"
	"unsafe"
)

// errRegionNotReady means the backing file exists but has not been sized
// by its creator yet.
var errRegionNotReady = errors.New("region not sized yet")

// openPathError marks a createOrOpenRegion failure that happened after
// another process had already created the file.
type openPathError struct {
	err error
}

func (e *openPathError) Error() string { return e.err.Error() }

func (e *openPathError) Unwrap() error { return e.err }

// createOp names the operation that failed in a create-or-open call on an
// object of the given kind: "open <kind>" when the object already existed,
// "create <kind>" otherwise.
func createOp(kind string, err error) string {
	var oe *openPathError
	if errors.As(err, &oe) {
		return "open " + kind
	}
	return "create " + kind
}

// region is one named, mapped backing file.
type region struct {
	file    *os.File // File descriptor for the backing file
	mem     []byte   // Memory-mapped region
	path    string   // File path
	created bool     // true when this handle performed the create path
}

// base returns the address of the first mapped byte.
func (r *region) base() unsafe.Pointer {
	return unsafe.Pointer(&r.mem[0])
}

// word returns a pointer to the uint32 at off.
func (r *region) word(off uintptr) *uint32 {
	return (*uint32)(unsafe.Add(r.base(), off))
}

// createOrOpenRegion creates the backing file at path with the given size,
// or opens it if another process created it first.
func createOrOpenRegion(ctx context.Context, path string, size int) (*region, error) {
	// Create the file with exclusive access
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if errors.Is(err, os.ErrExist) {
		r, err := openRegion(ctx, path, size)
		if err != nil {
			return nil, &openPathError{err: err}
		}
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}

	// Ensure cleanup on error
	cleanup := func() {
		file.Close()
		os.Remove(path)
	}

	// Set the file size; the new bytes read as zero
	if err := file.Truncate(int64(size)); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to resize %s: %w", path, err)
	}

	mem, err := mmapFile(file, size)
	if err != nil {
		cleanup()
		return nil, err
	}

	return &region{file: file, mem: mem, path: path, created: true}, nil
}

// openRegion opens an existing backing file of at least minSize bytes,
// polling until it appears and is sized or ctx is done.
func openRegion(ctx context.Context, path string, minSize int) (*region, error) {
	ticker := time.NewTicker(1 * time.Millisecond)
	defer ticker.Stop()

	for {
		r, err := tryOpenRegion(path, minSize)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, os.ErrNotExist) && !errors.Is(err, errRegionNotReady) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", path, err)
		case <-ticker.C:
		}
	}
}

func tryOpenRegion(path string, minSize int) (*region, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	size := info.Size()
	if size == 0 {
		file.Close()
		return nil, errRegionNotReady
	}
	if size < int64(minSize) {
		file.Close()
		return nil, fmt.Errorf("%s too small: %d bytes, need %d", path, size, minSize)
	}

	mem, err := mmapFile(file, int(size))
	if err != nil {
		file.Close()
		return nil, err
	}

	return &region{file: file, mem: mem, path: path}, nil
}

// close unmaps the memory and closes the file
func (r *region) close() error {
	var firstErr error

	if r.mem != nil {
		if err := munmap(r.mem); err != nil && firstErr == nil {
			firstErr = err
		}
		r.mem = nil
	}

	if r.file != nil {
		if err := r.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.file = nil
	}

	return firstErr
}

// linked reports whether path still names the mapped file.
func (r *region) linked() bool {
	if r.file == nil {
		return false
	}
	mapped, err := r.file.Stat()
	if err != nil {
		return false
	}
	named, err := os.Stat(r.path)
	if err != nil {
		return false
	}
	return os.SameFile(mapped, named)
}

// unlink removes the backing file. Existing mappings stay valid.
func (r *region) unlink() error {
	if err := os.Remove(r.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
