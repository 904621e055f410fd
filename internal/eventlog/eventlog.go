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

// Package eventlog writes and parses the per-process diagnostic event log.
//
// Each agent appends lines of the form
//
//	<pid>:<unix-ms>: <Event>
//
// to <role>_log_<pid>.txt, where Event is Waiting_For_Chunk or
// {Start,End}_{Write,Read}_Chunk_<slot>.
package eventlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Op is the operation an event belongs to.
type Op int

const (
	OpWrite Op = iota + 1
	OpRead
)

func (o Op) String() string {
	switch o {
	case OpWrite:
		return "Write"
	case OpRead:
		return "Read"
	}
	return "Op(" + strconv.Itoa(int(o)) + ")"
}

// Event names.
const (
	waitingEvent = "Waiting_For_Chunk"
	startPrefix  = "Start_"
	endPrefix    = "End_"
	chunkInfix   = "_Chunk_"
)

// FileName returns the log file name for role and pid.
func FileName(role string, pid int) string {
	return fmt.Sprintf("%s_log_%d.txt", role, pid)
}

// Log appends events to one process's log file. A nil or Nop Log discards
// everything.
type Log struct {
	log  *zap.Logger
	file *os.File
	path string
}

// Open opens dir/<role>_log_<pid>.txt for appending.
func Open(dir, role string, pid int) (*Log, error) {
	path := filepath.Join(dir, FileName(role, pid))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return &Log{
		log:  zap.New(newCore(f, pid)),
		file: f,
		path: path,
	}, nil
}

// Nop returns a Log that discards events.
func Nop() *Log {
	return &Log{log: zap.NewNop()}
}

func newCore(w zapcore.WriteSyncer, pid int) zapcore.Core {
	prefix := strconv.Itoa(pid) + ":"
	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:          "ts",
		MessageKey:       "event",
		LineEnding:       zapcore.DefaultLineEnding,
		ConsoleSeparator: ": ",
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(prefix + strconv.FormatInt(t.UnixMilli(), 10))
		},
	})
	return zapcore.NewCore(enc, w, zapcore.InfoLevel)
}

// Path returns the log file path, or "" for a Nop log.
func (l *Log) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Waiting records that the process is about to wait for a slot.
func (l *Log) Waiting() {
	l.emit(waitingEvent)
}

// Start records the start of op on slot.
func (l *Log) Start(op Op, slot int) {
	l.emit(EventName(KindStart, op, slot))
}

// End records the end of op on slot.
func (l *Log) End(op Op, slot int) {
	l.emit(EventName(KindEnd, op, slot))
}

func (l *Log) emit(name string) {
	if l == nil || l.log == nil {
		return
	}
	l.log.Info(name)
}

// Close flushes and closes the log file.
func (l *Log) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = l.log.Sync()
	err := l.file.Close()
	l.file = nil
	l.log = zap.NewNop()
	return err
}

// EventName renders the event name for kind, op and slot.
func EventName(kind Kind, op Op, slot int) string {
	switch kind {
	case KindWaiting:
		return waitingEvent
	case KindStart:
		return startPrefix + op.String() + chunkInfix + strconv.Itoa(slot)
	case KindEnd:
		return endPrefix + op.String() + chunkInfix + strconv.Itoa(slot)
	}
	return ""
}
