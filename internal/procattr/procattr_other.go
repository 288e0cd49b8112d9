//go:build !linux

// Package procattr configures provider subprocesses so they cannot outlive
// the bridge: each child runs in its own process group, and on Linux the
// kernel delivers SIGTERM to the child if the bridge itself dies.
package procattr

import (
	"os/exec"
	"syscall"
)

// Set applies process-group attributes to cmd. Pdeathsig is unavailable off
// Linux; the process group still allows kill -<signal> -<pgid> cleanup.
func Set(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
