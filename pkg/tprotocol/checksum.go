// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tprotocol

import "github.com/sigurn/crc16"

var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// CalculateChecksum computes the frame checksum over the given bytes
func CalculateChecksum(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

// frameChecksum computes the checksum a sender must append to a frame
func frameChecksum(commandID, payloadSize uint16, payload []byte) uint16 {
	header := [4]byte{byte(commandID >> 8), byte(commandID), byte(payloadSize >> 8), byte(payloadSize)}
	crc := crc16.Init(crcTable)
	crc = crc16.Update(crc, header[:], crcTable)
	crc = crc16.Update(crc, payload, crcTable)
	return crc16.Complete(crc, crcTable)
}
