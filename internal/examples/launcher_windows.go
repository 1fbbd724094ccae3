//go:build windows

package examples

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// detachedProcAttr starts the simulator without a console and outside the CLI's process group.
func detachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP | windows.DETACHED_PROCESS}
}
