//go:build !unix && !windows

package examples

import "syscall"

func detachedProcAttr() *syscall.SysProcAttr {
	return nil
}
