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

// Package shm provides the shared-memory primitives of slotbuf: a named,
// fixed-layout segment holding the slot state table and payload area, a
// cross-process futex mutex, and a set of per-slot ready signals.
//
// Every object is backed by a named file under /dev/shm (or the temporary
// directory when /dev/shm is not available) and mapped MAP_SHARED, so
// independent processes that use the same names observe the same bytes.
// Nothing stored in the mapped bytes is a Go pointer; views compute
// addresses from the mapping base on demand.
//
// The package does not implement the claim protocol itself. That lives in
// package buffer, which combines the three objects under one handle.
package shm
