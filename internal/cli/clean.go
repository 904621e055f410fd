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

package cli

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/slotbuf/slotbuf/internal/shm"
)

func runClean(ctx context.Context, e *env, args []string) int {
	fs := e.newFlagSet("clean")
	bindShmFlags(fs, e.cfg)
	bindLogFlags(fs, e.cfg)
	if code, ok := e.parse(fs, args); !ok {
		return code
	}
	log := e.logger()
	defer log.Sync()

	names := e.cfg.Names()
	slots := e.cfg.Shm.Slots
	// Prefer the slot count recorded in a surviving segment.
	if shm.Exists(names) {
		octx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		if seg, err := shm.OpenSegment(octx, names); err == nil {
			slots = seg.Slots()
			_ = seg.Close()
		}
		cancel()
	}
	if err := shm.Remove(names, slots); err != nil {
		return exitCode(log, err)
	}
	log.Info("shared objects removed", zap.String("segment", names.Segment), zap.Int("slots", slots))
	fmt.Fprintf(e.stdout, "removed %d objects of %s\n", len(names.All(slots)), names.Segment)
	return ExitOK
}
