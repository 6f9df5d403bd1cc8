// Package ociruntime spawns and signals the OCI runtime CLI (runc or
// compatible) and resolves its exit status through internal/monitor rather
// than through the os/exec child-reaping that go-runc defaults to. This is
// required because the runtime's "create"/"exec" subcommands both fork a
// grandchild (the actual container process) that detaches from the runc CLI
// process go-runc started: by the time the CLI exits, the process we
// actually care about is already reparented to us. internal/reaper is the
// only thing still doing waitpid(2) in this binary, so go-runc's exit
// tracking has to ride on top of it instead of calling wait4 itself.
package ociruntime

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	runc "github.com/containerd/go-runc"

	"github.com/ferrovia/taskshim/internal/monitor"
)

// ProcessMonitor adapts internal/monitor to go-runc's runc.ProcessMonitor
// interface, which go-runc's Runc methods consult instead of calling
// cmd.Wait directly.
type ProcessMonitor struct{}

var _ runc.ProcessMonitor = (*ProcessMonitor)(nil)

// Default is the ProcessMonitor that New sets as the Monitor of every
// Runtime's runc.Runc.
var Default = &ProcessMonitor{}

// Start subscribes to the pid topic before starting cmd, closing the race
// where the child could exit and be reaped before we begin listening.
func (m *ProcessMonitor) Start(cmd *exec.Cmd) (chan runc.Exit, error) {
	sub := monitor.Subscribe(monitor.TopicPid)

	if err := cmd.Start(); err != nil {
		monitor.Unsubscribe(sub.ID)
		return nil, err
	}

	pid := cmd.Process.Pid
	ec := make(chan runc.Exit, 1)
	go func() {
		defer monitor.Unsubscribe(sub.ID)
		for e := range sub.C {
			if e.Pid != pid {
				continue
			}
			ec <- runc.Exit{
				Timestamp: time.Now(),
				Pid:       e.Pid,
				Status:    e.ExitCode,
			}
			return
		}
	}()
	return ec, nil
}

// Wait blocks for cmd's exit event on c and returns its status. go-runc
// calls this exactly once per Start.
func (m *ProcessMonitor) Wait(cmd *exec.Cmd, c chan runc.Exit) (int, error) {
	e, ok := <-c
	if !ok {
		return -1, fmt.Errorf("exit channel closed before %d exited", cmd.Process.Pid)
	}
	return e.Status, nil
}

// WaitPid blocks until pid is observed to exit via internal/monitor,
// returning its exit status. Used by internal/container's watchExit to await
// an init or exec process, whose pid comes from the runtime's pid file
// rather than from a command this package's ProcessMonitor started.
func WaitPid(ctx context.Context, pid int) (int, error) {
	sub := monitor.Subscribe(monitor.TopicPid)
	defer monitor.Unsubscribe(sub.ID)

	for {
		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case e, ok := <-sub.C:
			if !ok {
				return -1, fmt.Errorf("monitor subscription closed before pid %d exited", pid)
			}
			if e.Pid == pid {
				return e.ExitCode, nil
			}
		}
	}
}
