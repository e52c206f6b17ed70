//go:build unix

package scanner

import (
	"os/exec"
	"syscall"
)

// startInOwnGroup makes the scanner the leader of a new process group so
// the JVM and any helpers it forks can be signalled together.
func startInOwnGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// signalGroup delivers sig to every process in the scanner's group.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	return syscall.Kill(-cmd.Process.Pid, sig)
}
