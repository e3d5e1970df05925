// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

//go:build windows

package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

func checkDiskSpace(dataDir string) string {
	path := dataDir
	if _, err := os.Stat(path); path == "" || os.IsNotExist(err) {
		path, _ = os.UserHomeDir()
	}

	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return fmt.Sprintf("unable to check: %s", err)
	}
	var avail uint64
	if err := windows.GetDiskFreeSpaceEx(p, &avail, nil, nil); err != nil {
		return fmt.Sprintf("unable to check: %s", err)
	}
	return formatBytes(avail) + " available"
}
