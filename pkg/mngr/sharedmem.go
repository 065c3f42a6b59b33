// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mngr

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// Shared memory layout, as seen by the host in the ROM window
const (
	SharedMemorySize      = 0x10000
	RandomTokenOffset     = 0xF000
	RandomTokenSeedOffset = RandomTokenOffset + 4
	SharedFunctionsSize   = 16 // words reserved after the token
	SharedVariablesOffset = RandomTokenOffset + SharedFunctionsSize*4
)

// Shared variable indexes
const (
	SharedVarHardwareType    = 0
	SharedVarHardwareVersion = 1
)

// SharedMemory is the region the host reads back. Values are stored
// big-endian, the byte order of the host CPU.
type SharedMemory struct {
	mu  sync.RWMutex
	mem [SharedMemorySize]byte
}

// NewSharedMemory creates a zeroed region
func NewSharedMemory() *SharedMemory {
	return &SharedMemory{}
}

func (s *SharedMemory) put32(offset int, v uint32) {
	s.mu.Lock()
	binary.BigEndian.PutUint32(s.mem[offset:], v)
	s.mu.Unlock()
}

func (s *SharedMemory) get32(offset int) uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return binary.BigEndian.Uint32(s.mem[offset:])
}

// SetRandomToken stores the token echoed back to the host
func (s *SharedMemory) SetRandomToken(v uint32) { s.put32(RandomTokenOffset, v) }

// RandomToken returns the last echoed token
func (s *SharedMemory) RandomToken() uint32 { return s.get32(RandomTokenOffset) }

// SetRandomSeed stores the seed for the next command
func (s *SharedMemory) SetRandomSeed(v uint32) { s.put32(RandomTokenSeedOffset, v) }

// RandomSeed returns the seed for the next command
func (s *SharedMemory) RandomSeed() uint32 { return s.get32(RandomTokenSeedOffset) }

// SetVar sets a shared variable
func (s *SharedMemory) SetVar(index int, v uint32) error {
	offset := SharedVariablesOffset + index*4
	if index < 0 || offset+4 > SharedMemorySize {
		return fmt.Errorf("shared variable index out of range: %d", index)
	}
	s.put32(offset, v)
	return nil
}

// Var returns a shared variable
func (s *SharedMemory) Var(index int) (uint32, error) {
	offset := SharedVariablesOffset + index*4
	if index < 0 || offset+4 > SharedMemorySize {
		return 0, fmt.Errorf("shared variable index out of range: %d", index)
	}
	return s.get32(offset), nil
}
