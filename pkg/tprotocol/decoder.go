// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tprotocol

import (
	"github.com/sigurn/crc16"
)

// Decoder implements the frame decoder state machine.
//
// A decoder holds exactly one frame under construction and never
// allocates, so it is safe to drive from the capture path. It is not
// safe for concurrent use.
type Decoder struct {
	state     int
	frame     Frame
	remaining int // payload bytes still expected
	crc       uint16
	scratch   [2]byte
	rejected  ChecksumError
}

// NewDecoder creates a new frame decoder
func NewDecoder() *Decoder {
	return &Decoder{state: stateHeader}
}

// Reset resets the decoder state to waiting for a header
func (d *Decoder) Reset() {
	d.state = stateHeader
	d.remaining = 0
	d.frame.CommandID = 0
	d.frame.PayloadSize = 0
	d.frame.BytesRead = 0
	d.frame.Checksum = 0
}

// DecodeLatched processes one latched bus value.
// Values without the ROM3 signal are not command cycles and are ignored.
func (d *Decoder) DecodeLatched(latched uint32) (*Frame, error) {
	word, ok := Unlatch(latched)
	if !ok {
		return nil, nil
	}
	return d.DecodeWord(word)
}

// DecodeWord processes a single word through the decoder state machine.
// Returns a completed frame, or nil if the frame is incomplete.
// Returns a *ChecksumError if the trailing checksum does not match.
//
// The returned frame is owned by the decoder and is overwritten by the
// next call, so callers must copy it out before decoding further words.
func (d *Decoder) DecodeWord(w uint16) (*Frame, error) {
	switch d.state {
	case stateHeader:
		// Anything other than the magic word is noise
		if w == ProtocolHeader {
			d.Reset()
			d.state = stateCommand
		}
		return nil, nil

	case stateCommand:
		d.frame.CommandID = w
		d.crc = crc16.Init(crcTable)
		d.update(w)
		d.state = statePayloadSize
		return nil, nil

	case statePayloadSize:
		d.frame.PayloadSize = w
		d.update(w)
		d.remaining = int(w)
		if d.remaining == 0 {
			d.state = stateChecksum
		} else {
			d.state = statePayload
		}
		return nil, nil

	case statePayload:
		d.payloadWord(w)
		if d.remaining == 0 {
			d.state = stateChecksum
		}
		return nil, nil

	case stateChecksum:
		d.frame.Checksum = w
		d.state = stateHeader
		expected := crc16.Complete(d.crc, crcTable)
		if w != expected {
			d.rejected = ChecksumError{
				CommandID:   d.frame.CommandID,
				PayloadSize: d.frame.PayloadSize,
				Expected:    expected,
				Received:    w,
			}
			return nil, &d.rejected
		}
		return &d.frame, nil

	default:
		d.Reset()
		return nil, nil
	}
}

// payloadWord stores one payload word, high byte first.
// The pad byte of an odd-sized payload is neither stored nor checksummed.
func (d *Decoder) payloadWord(w uint16) {
	d.scratch[0] = byte(w >> 8)
	d.scratch[1] = byte(w)

	n := 2
	if d.remaining < 2 {
		n = d.remaining
	}
	for i := 0; i < n; i++ {
		idx := int(d.frame.BytesRead) + i
		if idx < MaxPayloadSize {
			d.frame.Payload[idx] = d.scratch[i]
		}
	}
	d.crc = crc16.Update(d.crc, d.scratch[:n], crcTable)
	d.frame.BytesRead += uint16(n)
	d.remaining -= n
}

func (d *Decoder) update(w uint16) {
	d.scratch[0] = byte(w >> 8)
	d.scratch[1] = byte(w)
	d.crc = crc16.Update(d.crc, d.scratch[:], crcTable)
}
