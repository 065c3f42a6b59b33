// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package tprotocol implements the transmission protocol the host computer
// uses to send commands to the cartridge over the ROM3 address bus.
//
// The host cannot write to cartridge space, so every 16-bit word of a
// frame is encoded as a read access to an address in the ROM3 window. A
// capture engine latches each access; this package turns the stream of
// latched values back into frames and validates their checksum.
//
// Frame layout, one bus word per line:
//
//	0xABCD           magic header
//	command_id
//	payload_size     bytes, not words
//	payload...       ceil(payload_size/2) words, high byte first
//	checksum         CRC-16/CCITT-FALSE over command_id, payload_size, payload
package tprotocol

// Frame markers and limits
const (
	ProtocolHeader = 0xABCD
	MaxPayloadSize = 2048
	HeaderSize     = 8 // command_id, payload_size, bytes_read, checksum
	TokenSize      = 4 // every payload starts with the rolling random token
)

// Latched bus value layout
const (
	// ROM3Signal is set by the capture engine when the access hit ROM3.
	// Only those cycles carry protocol words.
	ROM3Signal = 0x00010000

	// AddressHighBit is inverted on the wire and restored before decoding.
	AddressHighBit = 0x8000

	// LatchedSize is the size of one latched value on a bus bridge link.
	LatchedSize = 4
)

// Apps
const (
	AppTerminal = 0x00
)

// Terminal app commands
const (
	CmdBoosterStart = AppTerminal<<8 | 0x00
)

// ParametersMaxSize bounds the payloads whose parameters are dumped for debugging.
const ParametersMaxSize = 20

// Decoder states (internal)
const (
	stateHeader = iota
	stateCommand
	statePayloadSize
	statePayload
	stateChecksum
)
