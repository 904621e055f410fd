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

package eventlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind classifies an event.
type Kind int

const (
	KindWaiting Kind = iota + 1
	KindStart
	KindEnd
)

func (k Kind) String() string {
	switch k {
	case KindWaiting:
		return "WAIT"
	case KindStart:
		return "START"
	case KindEnd:
		return "FIN"
	}
	return "UNK"
}

// Event is one parsed log line.
type Event struct {
	Role string // from the file name, empty when parsed from a reader
	PID  int
	Time time.Time
	Kind Kind
	Op   Op  // zero for waiting events
	Slot int // -1 for waiting events
}

// Millis returns the event time in Unix milliseconds.
func (e Event) Millis() int64 {
	return e.Time.UnixMilli()
}

// Name returns the event name as written to the log.
func (e Event) Name() string {
	return EventName(e.Kind, e.Op, e.Slot)
}

// ErrMalformed is returned for lines that are not events.
var ErrMalformed = errors.New("malformed event line")

// ParseLine parses a single log line.
func ParseLine(line string) (Event, error) {
	line = strings.TrimSpace(line)
	pidStr, rest, ok := strings.Cut(line, ":")
	if !ok {
		return Event{}, fmt.Errorf("%w: %q", ErrMalformed, line)
	}
	tsStr, name, ok := strings.Cut(rest, ":")
	if !ok {
		return Event{}, fmt.Errorf("%w: %q", ErrMalformed, line)
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return Event{}, fmt.Errorf("%w: bad pid in %q", ErrMalformed, line)
	}
	ms, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return Event{}, fmt.Errorf("%w: bad timestamp in %q", ErrMalformed, line)
	}
	ev := Event{PID: pid, Time: time.UnixMilli(ms), Slot: -1}
	if err := ev.parseName(strings.TrimSpace(name)); err != nil {
		return Event{}, fmt.Errorf("%w in %q", err, line)
	}
	return ev, nil
}

func (e *Event) parseName(name string) error {
	if name == waitingEvent {
		e.Kind = KindWaiting
		return nil
	}
	switch {
	case strings.HasPrefix(name, startPrefix):
		e.Kind = KindStart
		name = strings.TrimPrefix(name, startPrefix)
	case strings.HasPrefix(name, endPrefix):
		e.Kind = KindEnd
		name = strings.TrimPrefix(name, endPrefix)
	default:
		return fmt.Errorf("%w: unknown event", ErrMalformed)
	}
	opStr, slotStr, ok := strings.Cut(name, chunkInfix)
	if !ok {
		return fmt.Errorf("%w: missing chunk index", ErrMalformed)
	}
	switch opStr {
	case OpWrite.String():
		e.Op = OpWrite
	case OpRead.String():
		e.Op = OpRead
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrMalformed, opStr)
	}
	slot, err := strconv.Atoi(slotStr)
	if err != nil || slot < 0 {
		return fmt.Errorf("%w: bad chunk index", ErrMalformed)
	}
	e.Slot = slot
	return nil
}

// Parse reads events from r, skipping blank and malformed lines. It returns
// the events and the number of lines skipped.
func Parse(r io.Reader) ([]Event, int, error) {
	var (
		events  []Event
		skipped int
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		ev, err := ParseLine(line)
		if err != nil {
			skipped++
			continue
		}
		events = append(events, ev)
	}
	return events, skipped, sc.Err()
}

// RoleFromFile returns the role encoded in a log file name, or "".
func RoleFromFile(path string) string {
	base := filepath.Base(path)
	role, _, ok := strings.Cut(base, "_log_")
	if !ok {
		return ""
	}
	return role
}

// ReadFiles parses every file matching pattern and returns all events
// sorted by time. Events from one file keep their order on equal times.
func ReadFiles(pattern string) ([]Event, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}
	sort.Strings(paths)

	var all []Event
	for _, p := range paths {
		events, err := readFile(p)
		if err != nil {
			return nil, err
		}
		all = append(all, events...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Time.Before(all[j].Time)
	})
	return all, nil
}

func readFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	events, _, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	role := RoleFromFile(path)
	for i := range events {
		events[i].Role = role
	}
	return events, nil
}
