package process

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	ccon "github.com/containerd/console"
	runc "github.com/containerd/go-runc"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	consolesock "github.com/ferrovia/taskshim/internal/console"
	"github.com/ferrovia/taskshim/internal/ociruntime"
	"github.com/ferrovia/taskshim/internal/shimerrors"
)

// Exec is an additional process run inside an already-running container via
// `runc exec` (spec.md §4.6.2). Unlike Init, its create and start happen in
// a single operation: the object exists in CREATED with no pid from the
// moment the manager asks for it, and Start performs the runtime-CLI exec
// call, the I/O relay wiring, and the pid-file read all at once.
type Exec struct {
	common

	containerID string
	spec        *specs.Process
	rt          *ociruntime.Runtime
}

// NewExec constructs an Exec in state CREATED with no pid, per spec.md
// §4.7: "Creating an exec: build an ExecProcess in state CREATED with no
// pid, insert under its exec-id."
func NewExec(id, containerID, bundle string, stdio Stdio, spec *specs.Process, rt *ociruntime.Runtime) *Exec {
	p := &Exec{containerID: containerID, spec: spec, rt: rt}
	p.id = id
	p.bundle = bundle
	p.stdio = stdio
	p.state = &execCreatedState{p: p}
	return p
}

func (p *Exec) Start(ctx context.Context) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return p.currentState().Start(ctx)
}

func (p *Exec) Kill(ctx context.Context, signal uint32, all bool) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return p.currentState().Kill(ctx, signal, all)
}

func (p *Exec) Delete(ctx context.Context) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return p.currentState().Delete(ctx)
}

func (p *Exec) Update(ctx context.Context, resources *specs.LinuxResources) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return p.currentState().Update(ctx, resources)
}

func (p *Exec) Stats(ctx context.Context) (*specs.LinuxResources, []byte, error) {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return p.currentState().Stats(ctx)
}

func (p *Exec) Ps(ctx context.Context) ([]ProcessInfo, error) {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return p.currentState().Ps(ctx)
}

// NotifyExit is called by the monitor-to-process bridge once this exec's
// pid is observed to exit.
func (p *Exec) NotifyExit(code int, at time.Time) {
	p.notifyExit(code, at, &execStoppedState{p: p})
}

// execPidFile returns the per-exec pid-file path spec.md §4.6.2 names:
// {bundle}/{exec_id}.pid.
func execPidFile(bundle, id string) string {
	return filepath.Join(bundle, id+".pid")
}

// execStart implements spec.md §4.6.2's start: build exec opts with a
// per-exec pid-file, wire terminal/pipe I/O identically to init create,
// invoke the runtime, and read the resulting pid.
func execStart(ctx context.Context, p *Exec) error {
	pidPath := execPidFile(p.bundle, p.id)

	var sock *consolesock.Socket
	var pio runc.IO
	var err error
	if p.stdio.Terminal {
		sock, err = consolesock.NewTemp(p.bundle, "pty*.sock")
		if err != nil {
			return err
		}
	} else if !p.stdio.IsNull() {
		pio, err = ociruntime.NewPipeIO(0, 0)
		if err != nil {
			return err
		}
	}

	rtOpts := ociruntime.ExecOpts{PidFile: pidPath}
	if sock != nil {
		rtOpts.ConsoleSocket = sock
	}
	if pio != nil {
		rtOpts.IO = pio
	}

	if err := p.rt.Exec(ctx, p.containerID, p.spec, rtOpts); err != nil {
		if sock != nil {
			sock.Clean()
		}
		return err
	}

	if err := wireIO(ctx, p.stdio, p.ExitSignal(), sock, pio, func(c ccon.Console) {
		p.mu.Lock()
		p.cons = c
		p.mu.Unlock()
	}); err != nil {
		return err
	}

	pid, err := readPidFile(pidPath)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.pid = pid
	p.mu.Unlock()
	return nil
}

// execKill sends signal directly via the OS rather than through the
// runtime CLI, for latency: an exec process is a single pid we already
// know, unlike the init process whose whole cgroup the runtime may need to
// traverse for an "all" kill.
func execKill(p *Exec, signal uint32) error {
	pid := p.Pid()
	if pid <= 0 {
		return fmt.Errorf("%w: process not created", shimerrors.ErrFailedPrecondition)
	}
	if _, at := p.ExitStatus(); !at.IsZero() {
		return fmt.Errorf("%w: process already finished", shimerrors.ErrNotFound)
	}
	return ociruntime.KillPid(pid, int(signal))
}
