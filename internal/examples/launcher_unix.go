//go:build unix

package examples

import "syscall"

// detachedProcAttr starts the simulator in its own session so it outlives the CLI and ignores its terminal signals.
func detachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
