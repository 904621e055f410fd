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
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/slotbuf/slotbuf/internal/buffer"
	"github.com/slotbuf/slotbuf/internal/metrics"
)

func runInspect(ctx context.Context, e *env, args []string) int {
	fs := e.newFlagSet("inspect")
	bindShmFlags(fs, e.cfg)
	bindLogFlags(fs, e.cfg)
	fs.DurationVar(&e.cfg.Agent.AttachTimeout, "attach-timeout", time.Second, "how long to wait for the deployment")
	format := fs.String("format", "text", "output format: text, json or yaml")
	listen := fs.String("listen", "", "serve Prometheus metrics on this address instead of printing")
	if code, ok := e.parse(fs, args); !ok {
		return code
	}
	switch *format {
	case "text", "json", "yaml":
	default:
		fmt.Fprintf(e.stderr, "%s: unknown format %q\n", fs.Name(), *format)
		return ExitUsage
	}

	log := e.logger()
	defer log.Sync()

	buf, err := buffer.Attach(ctx, buffer.Options{
		Names:         e.cfg.Names(),
		Observer:      true,
		AttachTimeout: e.cfg.Agent.AttachTimeout,
		Logger:        log,
	})
	if err != nil {
		return exitCode(log, err)
	}
	defer buf.Close()

	if *listen != "" {
		return exitCode(log, serveMetrics(ctx, *listen, buf, log))
	}
	return exitCode(log, writeSnapshot(e.stdout, *format, e.cfg.Shm.Segment, buf.Snapshot()))
}

// serveMetrics serves the live buffer snapshot on /metrics until ctx ends.
func serveMetrics(ctx context.Context, addr string, src metrics.Snapshotter, log *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewBufferCollector(src))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Info("serving buffer metrics", zap.String("addr", addr))

	select {
	case err := <-errc:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type slotView struct {
	Slot      int    `json:"slot" yaml:"slot"`
	State     string `json:"state" yaml:"state"`
	Signal    uint32 `json:"signal" yaml:"signal"`
	WriterPID uint32 `json:"writer_pid" yaml:"writer_pid"`
	Claims    uint32 `json:"claims" yaml:"claims"`
}

type snapshotView struct {
	Segment     string     `json:"segment" yaml:"segment"`
	Slots       int        `json:"slots" yaml:"slots"`
	PayloadSize int        `json:"payload_size" yaml:"payload_size"`
	CreatorPID  uint32     `json:"creator_pid" yaml:"creator_pid"`
	Attached    uint32     `json:"attached" yaml:"attached"`
	Writes      uint64     `json:"writes" yaml:"writes"`
	Reads       uint64     `json:"reads" yaml:"reads"`
	Locked      bool       `json:"locked" yaml:"locked"`
	LockOwner   uint32     `json:"lock_owner,omitempty" yaml:"lock_owner,omitempty"`
	Table       []slotView `json:"table" yaml:"table"`
}

func newSnapshotView(segment string, s buffer.Snapshot) snapshotView {
	v := snapshotView{
		Segment:     segment,
		Slots:       s.Geometry.Slots,
		PayloadSize: s.Geometry.PayloadSize,
		CreatorPID:  s.CreatorPID,
		Attached:    s.Attached,
		Writes:      s.Writes,
		Reads:       s.Reads,
		Locked:      s.Locked,
		LockOwner:   s.LockOwner,
	}
	for i, st := range s.States {
		v.Table = append(v.Table, slotView{
			Slot:      i,
			State:     st.String(),
			Signal:    s.Signals[i],
			WriterPID: s.Writers[i],
			Claims:    s.Claims[i],
		})
	}
	return v
}

func writeSnapshot(w io.Writer, format, segment string, s buffer.Snapshot) error {
	v := newSnapshotView(segment, s)
	switch format {
	case "json":
		data, err := sonic.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = w.Write(append(data, '\n'))
		return err
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== Segment %s ===\n", v.Segment)
	fmt.Fprintf(&b, "Geometry: %d slots x %d bytes\n", v.Slots, v.PayloadSize)
	fmt.Fprintf(&b, "Creator PID: %d, attached: %d\n", v.CreatorPID, v.Attached)
	fmt.Fprintf(&b, "Writes: %d, reads: %d\n", v.Writes, v.Reads)
	if v.Locked {
		fmt.Fprintf(&b, "Mutex: held by %d\n", v.LockOwner)
	} else {
		b.WriteString("Mutex: free\n")
	}
	b.WriteString("\n=== Slot Table ===\n")
	b.WriteString("slot  state    signal  writer  claims\n")
	for _, sl := range v.Table {
		fmt.Fprintf(&b, "%4d  %-7s  %6d  %6d  %6d\n", sl.Slot, sl.State, sl.Signal, sl.WriterPID, sl.Claims)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
