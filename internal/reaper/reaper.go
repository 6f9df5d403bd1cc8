//go:build linux

// Package reaper bridges SIGCHLD-derived process exits into internal/monitor.
//
// The shim becomes a subreaper: runc's "create"/"exec" invocations detach
// and background the container process, which is then reparented to us
// rather than to runc itself. A single goroutine here owns all waitpid(2)
// calls so that reaping never races across the multiple callers in
// internal/ociruntime and internal/process that care about different pids.
package reaper

import (
	"context"
	"os"
	"os/signal"
	"sync"

	"github.com/containerd/log"
	"golang.org/x/sys/unix"

	"github.com/ferrovia/taskshim/internal/monitor"
)

var startOnce sync.Once

// Start installs the child subreaper and begins forwarding exits to
// monitor.Default. Safe to call more than once; only the first call has any
// effect. It returns a cancel function that stops the signal forwarding
// goroutine (reaping already in flight is allowed to finish).
func Start(ctx context.Context) (cancel func()) {
	var cancelOnce func()
	startOnce.Do(func() {
		if err := unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0); err != nil {
			log.G(ctx).WithError(err).Warn("failed to set child subreaper, reparented processes may not be reaped")
		}

		sigCh := make(chan os.Signal, 32)
		signal.Notify(sigCh, unix.SIGCHLD)
		done := make(chan struct{})

		go run(ctx, sigCh, done)

		cancelOnce = func() {
			signal.Stop(sigCh)
			close(done)
		}
	})
	if cancelOnce == nil {
		cancelOnce = func() {}
	}
	return cancelOnce
}

func run(ctx context.Context, sigCh chan os.Signal, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-sigCh:
			reapAll(ctx)
		}
	}
}

// reapAll drains every reapable child with a non-blocking wait4 loop,
// notifying the monitor for each. It stops at ECHILD (no children left) or
// EAGAIN-equivalent (WNOHANG found nothing more to reap).
func reapAll(ctx context.Context) {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err != nil {
			if err != unix.ECHILD {
				log.G(ctx).WithError(err).Debug("wait4 failed while reaping")
			}
			return
		}
		if pid <= 0 {
			return
		}

		monitor.Notify(monitor.ExitEvent{Pid: pid, ExitCode: exitCode(ws)})
	}
}

func exitCode(ws unix.WaitStatus) int {
	switch {
	case ws.Exited():
		return ws.ExitStatus()
	case ws.Signaled():
		return 128 + int(ws.Signal())
	default:
		return -1
	}
}
