//go:build !unix

package scanner

import (
	"os/exec"
	"syscall"
)

func startInOwnGroup(*exec.Cmd) {}

// signalGroup falls back to the scanner process alone.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if sig == syscall.SIGKILL {
		return cmd.Process.Kill()
	}
	return cmd.Process.Signal(sig)
}
