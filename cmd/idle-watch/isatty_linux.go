//go:build linux

package main

import "golang.org/x/sys/unix"

// isatty reports whether fd refers to a terminal.
func isatty(fd uintptr) bool {
	_, err := unix.IoctlGetTermios(int(fd), unix.TCGETS)
	return err == nil
}
