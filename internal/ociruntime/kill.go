package ociruntime

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/ferrovia/taskshim/internal/shimerrors"
)

// KillPid sends signal directly to pid via the OS, bypassing the runtime
// CLI. Used for exec processes (spec.md §4.6.2), where the pid is already
// known and a fresh runc subprocess invocation would only add latency.
func KillPid(pid, signal int) error {
	err := unix.Kill(pid, unix.Signal(signal))
	if err == nil {
		return nil
	}
	if err == unix.ESRCH {
		return fmt.Errorf("%w: process %d already exited", shimerrors.ErrNotFound, pid)
	}
	return fmt.Errorf("%w: kill pid %d: %v", shimerrors.ErrRuntime, pid, err)
}
