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
	"os"
	"path/filepath"
	"strconv"
)

// Default object names shared by every participant of a deployment.
const (
	DefaultSegmentName = "slotbuf_segment"
	DefaultMutexName   = "slotbuf_mutex"
	DefaultSignalBase  = "slotbuf_sig_"

	doorbellSuffix = "bell"
)

// Names are the agreed names of a deployment's shared objects.
type Names struct {
	Dir        string // directory holding the backing files; empty selects DefaultDir()
	Segment    string
	Mutex      string
	SignalBase string
}

// DefaultNames returns the well-known names in the default directory.
func DefaultNames() Names {
	return Names{
		Segment:    DefaultSegmentName,
		Mutex:      DefaultMutexName,
		SignalBase: DefaultSignalBase,
	}
}

// WithSuffix returns a copy of n whose names carry suffix, so independent
// deployments can share a directory.
func (n Names) WithSuffix(suffix string) Names {
	if suffix == "" {
		return n
	}
	n.Segment += "_" + suffix
	n.Mutex += "_" + suffix
	n.SignalBase = n.SignalBase + suffix + "_"
	return n
}

// Signal returns the name of slot i's ready signal: <base><i>.
func (n Names) Signal(i int) string {
	return n.SignalBase + strconv.Itoa(i)
}

// Doorbell returns the name of the signal set's shared wake word.
func (n Names) Doorbell() string {
	return n.SignalBase + doorbellSuffix
}

// All returns every object name of a deployment with the given slot count.
func (n Names) All(slots int) []string {
	names := make([]string, 0, slots+3)
	names = append(names, n.Segment, n.Mutex, n.Doorbell())
	for i := 0; i < slots; i++ {
		names = append(names, n.Signal(i))
	}
	return names
}

// Path returns the backing file path of name.
func (n Names) Path(name string) string {
	dir := n.Dir
	if dir == "" {
		dir = DefaultDir()
	}
	return filepath.Join(dir, name)
}

// DefaultDir returns /dev/shm when it is available, else the temporary directory.
func DefaultDir() string {
	if isDevShmAvailable() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// isDevShmAvailable checks if /dev/shm is available and writable
func isDevShmAvailable() bool {
	info, err := os.Stat("/dev/shm")
	if err != nil {
		return false
	}
	return info.IsDir()
}

// Remove unlinks every object of the deployment. Missing objects are not
// an error. Processes that still map the objects keep their views.
func Remove(n Names, slots int) error {
	var errs []error
	for _, name := range n.All(slots) {
		if err := os.Remove(n.Path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Exists reports whether the deployment's segment exists.
func Exists(n Names) bool {
	_, err := os.Stat(n.Path(n.Segment))
	return err == nil
}
