// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tprotocol

import (
	"encoding/binary"
	"fmt"
)

// EncodeFrame creates the bus words for a complete frame.
// The payload is sent as-is; callers prepend the random token.
func EncodeFrame(commandID uint16, payload []byte) ([]uint16, error) {
	if len(payload) > 0xFFFF {
		return nil, fmt.Errorf("payload too large: %d bytes (max %d)", len(payload), 0xFFFF)
	}
	size := uint16(len(payload))

	words := make([]uint16, 0, 4+(len(payload)+1)/2)
	words = append(words, ProtocolHeader, commandID, size)
	for i := 0; i < len(payload); i += 2 {
		w := uint16(payload[i]) << 8
		if i+1 < len(payload) {
			w |= uint16(payload[i+1])
		}
		words = append(words, w)
	}
	words = append(words, frameChecksum(commandID, size, payload))

	return words, nil
}

// BuildPayload prepends the random token to the parameters, all big-endian
func BuildPayload(token uint32, params ...uint32) []byte {
	buf := make([]byte, TokenSize+4*len(params))
	binary.BigEndian.PutUint32(buf, token)
	for i, p := range params {
		binary.BigEndian.PutUint32(buf[TokenSize+4*i:], p)
	}
	return buf
}

// Latch converts a word into the value the capture engine latches
// when the host reads the matching ROM3 address
func Latch(w uint16) uint32 {
	return ROM3Signal | uint32(w^AddressHighBit)
}

// Unlatch recovers the word carried by a latched value.
// Returns false if the cycle did not hit ROM3.
func Unlatch(latched uint32) (uint16, bool) {
	if latched&ROM3Signal == 0 {
		return 0, false
	}
	return uint16(latched) ^ AddressHighBit, true
}

// EncodeLatched encodes a frame as bus bridge bytes, one little-endian
// latched value per word
func EncodeLatched(commandID uint16, payload []byte) ([]byte, error) {
	words, err := EncodeFrame(commandID, payload)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(words)*LatchedSize)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*LatchedSize:], Latch(w))
	}
	return out, nil
}
