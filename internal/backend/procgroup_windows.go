package backend

import (
	"os"
	"os/exec"
	"syscall"
)

func isolateGroup(*exec.Cmd) {}

// signalGroup falls back to the direct child; Windows has no process groups
// to signal.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if sig == syscall.SIGKILL {
		return signalProcess(cmd.Process, os.Kill)
	}
	return signalProcess(cmd.Process, sig)
}
