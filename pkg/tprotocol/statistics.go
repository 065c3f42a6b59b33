// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tprotocol

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Statistics tracks bus and frame counters.
//
// Counters are updated from the capture path and read from elsewhere,
// so all of them are atomic.
type Statistics struct {
	StartTime time.Time

	// Counters
	Cycles         atomic.Uint64 // every latched value
	CommandCycles  atomic.Uint64 // latched values with the ROM3 signal
	Frames         atomic.Uint64
	ChecksumErrors atomic.Uint64
	Overwritten    atomic.Uint64 // frames replaced before the main loop took them
}

// Snapshot is a point in time copy of Statistics with derived rates
type Snapshot struct {
	Elapsed        time.Duration
	Cycles         uint64
	CommandCycles  uint64
	Frames         uint64
	ChecksumErrors uint64
	Overwritten    uint64
	FrameRate      float64 // frames/sec
	ErrorRate      float64 // checksum errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{StartTime: time.Now()}
}

// Cycle records one latched value
func (s *Statistics) Cycle(latched uint32) {
	s.Cycles.Add(1)
	if latched&ROM3Signal != 0 {
		s.CommandCycles.Add(1)
	}
}

// Record records the outcome of a decode step
func (s *Statistics) Record(f *Frame, err error) {
	if err != nil {
		if IsChecksumError(err) {
			s.ChecksumErrors.Add(1)
		}
		return
	}
	if f != nil {
		s.Frames.Add(1)
	}
}

// Snapshot returns the current counters and rates
func (s *Statistics) Snapshot() Snapshot {
	snap := Snapshot{
		Elapsed:        time.Since(s.StartTime),
		Cycles:         s.Cycles.Load(),
		CommandCycles:  s.CommandCycles.Load(),
		Frames:         s.Frames.Load(),
		ChecksumErrors: s.ChecksumErrors.Load(),
		Overwritten:    s.Overwritten.Load(),
	}
	if secs := snap.Elapsed.Seconds(); secs > 0 {
		snap.FrameRate = float64(snap.Frames) / secs
		snap.ErrorRate = float64(snap.ChecksumErrors) / secs
	}
	return snap
}

// String formats the statistics for display
func (s *Statistics) String() string {
	snap := s.Snapshot()

	errorPct := 0.0
	if total := snap.Frames + snap.ChecksumErrors; total > 0 {
		errorPct = float64(snap.ChecksumErrors) / float64(total) * 100
	}

	return fmt.Sprintf(`Statistics (%.1fs):
  Bus Cycles:       %d (%d command)
  Frames:           %d (%.1f/s)
  Checksum Errors:  %d (%.2f%%, %.2f/s)
  Overwritten:      %d`,
		snap.Elapsed.Seconds(),
		snap.Cycles, snap.CommandCycles,
		snap.Frames, snap.FrameRate,
		snap.ChecksumErrors, errorPct, snap.ErrorRate,
		snap.Overwritten)
}
