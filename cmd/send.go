// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mngr/pkg/tprotocol"
)

var (
	sendCommand string
	sendToken   string
	sendDump    bool
)

var sendCmd = &cobra.Command{
	Use:   "send [param...]",
	Short: "Send a command frame over the bus bridge",
	Long: `Encode a command frame as latched bus values and write it to the bridge.

The payload is a 32-bit token followed by the given 32-bit parameters
(decimal or 0x-prefixed hex). Without --token a random one is used.

Commands: booster_start, or a raw 0x-prefixed command id.

Use --dump to print the latched values instead of sending them.`,
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&sendCommand, "command", "c", "booster_start", "Command name or id")
	sendCmd.Flags().StringVar(&sendToken, "token", "", "Token (default: random)")
	sendCmd.Flags().BoolVar(&sendDump, "dump", false, "Print the encoded values instead of sending")
}

func parseCommandID(raw string) (uint16, error) {
	switch strings.ToLower(raw) {
	case "booster_start":
		return tprotocol.CmdBoosterStart, nil
	}
	v, err := strconv.ParseUint(raw, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid command %q: %v", raw, err)
	}
	return uint16(v), nil
}

func parseUint32(raw string) (uint32, error) {
	v, err := strconv.ParseUint(raw, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %v", raw, err)
	}
	return uint32(v), nil
}

func runSend(cmd *cobra.Command, args []string) error {
	commandID, err := parseCommandID(sendCommand)
	if err != nil {
		return err
	}

	token := rand.Uint32()
	if sendToken != "" {
		if token, err = parseUint32(sendToken); err != nil {
			return err
		}
	}

	params := make([]uint32, 0, len(args))
	for _, a := range args {
		p, err := parseUint32(a)
		if err != nil {
			return err
		}
		params = append(params, p)
	}

	wire, err := tprotocol.EncodeLatched(commandID, tprotocol.BuildPayload(token, params...))
	if err != nil {
		return err
	}

	if sendDump {
		for i := 0; i < len(wire); i += tprotocol.LatchedSize {
			fmt.Println(tprotocol.FormatBytes(wire[i : i+tprotocol.LatchedSize]))
		}
		return nil
	}

	conn, connInfo, err := OpenConnection(settings.Bus)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Write(wire); err != nil {
		return fmt.Errorf("send failed: %v", err)
	}

	fmt.Printf("Sent %s (0x%04X) token=0x%08X params=%d via %s\n",
		tprotocol.FormatCommand(commandID), commandID, token, len(params), connInfo)
	return nil
}
