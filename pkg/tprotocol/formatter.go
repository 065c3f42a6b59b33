// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tprotocol

import (
	"fmt"
	"strings"
	"time"
)

// FormatFrame formats a frame into a human-readable string
func FormatFrame(f *Frame) string {
	timestamp := time.Now().Format("15:04:05.000")
	name := FormatCommand(f.CommandID)

	result := fmt.Sprintf("[%s] %s (0x%04X) size=%d checksum=0x%04X\n",
		timestamp, name, f.CommandID, f.PayloadSize, f.Checksum)

	if f.StoredSize() >= TokenSize {
		result += fmt.Sprintf("  Token: 0x%08X\n", f.RandomToken())
	}
	if f.PayloadSize <= ParametersMaxSize {
		result += FormatParameters(f)
	} else {
		result += fmt.Sprintf("  Payload: %d bytes\n", f.PayloadSize)
	}

	return result
}

// FormatCommand returns the human-readable name for a command id
func FormatCommand(commandID uint16) string {
	switch commandID {
	case CmdBoosterStart:
		return "BOOSTER_START"
	default:
		return "UNKNOWN"
	}
}

// FormatParameters lists the 32-bit parameters that follow the token
func FormatParameters(f *Frame) string {
	var sb strings.Builder
	c := NewCursor(f)
	for i := 0; ; i++ {
		v, ok := c.Next32()
		if !ok {
			break
		}
		fmt.Fprintf(&sb, "  Param %d: 0x%08X\n", i, v)
	}
	return sb.String()
}

// FormatBytes formats a byte slice as hex with a space between bytes
func FormatBytes(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, b := range data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}
