package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/slotbuf/slotbuf/internal/buffer"
	"github.com/slotbuf/slotbuf/internal/config"
	"github.com/slotbuf/slotbuf/internal/shm"
)

func main() {
	// Only run on Linux
	if runtime.GOOS != "linux" {
		fmt.Println("Skipping on non-Linux platform")
		return
	}
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "debug-capacity: %v\n", err)
		os.Exit(1)
	}
}

// run owns the buffer so the deferred Close removes the private objects on
// every exit path.
func run() (err error) {
	cfg := config.LoadOrDefault()
	g := cfg.Geometry()

	// Private names so a live deployment is never touched
	names := cfg.Names().WithSuffix("capacity_" + uuid.NewString()[:8])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b, err := buffer.Attach(ctx, buffer.Options{Names: names, Geometry: g, Create: true})
	if err != nil {
		return fmt.Errorf("create slot buffer: %w", err)
	}
	defer func() {
		err = errors.Join(err, b.Close())
	}()

	layout, err := shm.CalculateSegmentLayout(g)
	if err != nil {
		return fmt.Errorf("calculate layout: %w", err)
	}

	fmt.Printf("=== Segment Layout ===\n")
	fmt.Printf("Segment: %s\n", names.Path(names.Segment))
	fmt.Printf("Configured slots: %d x %d bytes\n", g.Slots, g.PayloadSize)
	fmt.Printf("Header: %d bytes\n", shm.SegmentHeaderSize)
	fmt.Printf("Slot table: offset %d, %d bytes per slot\n", layout.TableOffset, shm.SlotRecordSize)
	fmt.Printf("Payload area: offset %d, %d bytes\n", layout.PayloadOffset, layout.TotalSize-layout.PayloadOffset)
	fmt.Printf("Total memory size: %d bytes\n", layout.TotalSize)

	// Claim and publish until every slot is Written
	fmt.Printf("\n=== Fill Test ===\n")
	filled := 0
	for {
		slot, ok, err := b.ClaimWrite()
		if err != nil {
			return fmt.Errorf("claim: %w", err)
		}
		if !ok {
			fmt.Printf("No claimable slot after %d claims\n", filled)
			break
		}
		p := b.Payload(slot)
		for i := range p {
			p[i] = byte((slot + i) % 256)
		}
		if err := b.Publish(slot); err != nil {
			return fmt.Errorf("publish slot %d: %w", slot, err)
		}
		filled++
		fmt.Printf("Slot %d: OK\n", slot)
	}

	// Drain what was published and check every copy
	fmt.Printf("\n=== Drain Test ===\n")
	dst := make([]byte, g.PayloadSize)
	for drained := 0; drained < filled; drained++ {
		slot, ok, err := b.WaitReady(time.Second)
		if err != nil {
			return fmt.Errorf("wait: %w", err)
		}
		if !ok {
			fmt.Printf("Timed out after %d reads\n", drained)
			break
		}
		c, ok, err := b.ClaimRead(slot)
		if err != nil || !ok {
			fmt.Printf("Slot %d: claim failed (ok=%v, err=%v)\n", slot, ok, err)
			continue
		}
		out, err := b.Consume(c, dst)
		if err != nil {
			return fmt.Errorf("consume slot %d: %w", slot, err)
		}
		fmt.Printf("Slot %d: %s\n", slot, out)
	}

	s := b.Snapshot()
	fmt.Printf("\n=== Counters ===\n")
	fmt.Printf("Writes: %d, reads: %d\n", s.Writes, s.Reads)
	if s.Writes != s.Reads {
		return fmt.Errorf("reads (%d) do not match writes (%d)", s.Reads, s.Writes)
	}
	return nil
}
