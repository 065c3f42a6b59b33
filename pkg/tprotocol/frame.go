// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tprotocol

import (
	"encoding/binary"
	"fmt"
)

// Frame is one decoded host command.
//
// PayloadSize is the size announced by the sender and may exceed
// MaxPayloadSize; only the first MaxPayloadSize bytes are ever stored.
type Frame struct {
	CommandID   uint16
	PayloadSize uint16
	BytesRead   uint16
	Checksum    uint16
	Payload     [MaxPayloadSize]byte
}

// StoredSize returns the number of payload bytes held by the frame
func (f *Frame) StoredSize() int {
	if int(f.PayloadSize) > MaxPayloadSize {
		return MaxPayloadSize
	}
	return int(f.PayloadSize)
}

// Data returns the stored payload bytes
func (f *Frame) Data() []byte {
	return f.Payload[:f.StoredSize()]
}

// RandomToken returns the anti-replay token carried in the first payload
// bytes, or 0 if the payload is too short to hold one
func (f *Frame) RandomToken() uint32 {
	if f.StoredSize() < TokenSize {
		return 0
	}
	return binary.BigEndian.Uint32(f.Payload[:TokenSize])
}

// CopyFrom copies header fields and the stored payload of src into f.
// The payload size is clamped before the copy.
func (f *Frame) CopyFrom(src *Frame) {
	f.CommandID = src.CommandID
	f.PayloadSize = src.PayloadSize
	f.BytesRead = src.BytesRead
	f.Checksum = src.Checksum

	size := int(src.PayloadSize)
	if size > MaxPayloadSize {
		size = MaxPayloadSize
	}
	copy(f.Payload[:size], src.Payload[:size])
	// No stale token bytes from an earlier frame
	if size < TokenSize {
		clear(f.Payload[size:TokenSize])
	}
}

// Cursor walks the parameters that follow the random token
type Cursor struct {
	frame  *Frame
	offset int
}

// NewCursor returns a cursor positioned after the random token
func NewCursor(f *Frame) *Cursor {
	return &Cursor{frame: f, offset: TokenSize}
}

// Offset returns the current payload offset
func (c *Cursor) Offset() int {
	return c.offset
}

// Next32 reads the next 32-bit parameter.
// Returns false once the stored payload is exhausted.
func (c *Cursor) Next32() (uint32, bool) {
	if c.offset+4 > c.frame.StoredSize() {
		return 0, false
	}
	v := binary.BigEndian.Uint32(c.frame.Payload[c.offset:])
	c.offset += 4
	return v, true
}

// Next16 reads the next 16-bit parameter
func (c *Cursor) Next16() (uint16, bool) {
	if c.offset+2 > c.frame.StoredSize() {
		return 0, false
	}
	v := binary.BigEndian.Uint16(c.frame.Payload[c.offset:])
	c.offset += 2
	return v, true
}

// ChecksumError reports a frame whose trailing checksum did not match
type ChecksumError struct {
	CommandID   uint16
	PayloadSize uint16
	Expected    uint16
	Received    uint16
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch (ID=%d, Size=%d): expected 0x%04X, got 0x%04X",
		e.CommandID, e.PayloadSize, e.Expected, e.Received)
}

// IsChecksumError returns true if the error is a ChecksumError
func IsChecksumError(err error) bool {
	_, ok := err.(*ChecksumError)
	return ok
}
