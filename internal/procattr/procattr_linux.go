//go:build linux

// Package procattr configures provider subprocesses so they cannot outlive
// the bridge: each child runs in its own process group, and on Linux the
// kernel delivers SIGTERM to the child if the bridge itself dies.
package procattr

import (
	"os/exec"
	"syscall"
)

// Set applies process-group and parent-death attributes to cmd.
func Set(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
