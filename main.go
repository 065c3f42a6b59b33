// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// mngr - SidecarT Cartridge Manager
//
// Serves the cartridge storage over HTTP, accepts commands from the
// computer bus and hands off to the booster when asked to.

package main

import (
	"os"

	"github.com/Thermoquad/mngr/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
