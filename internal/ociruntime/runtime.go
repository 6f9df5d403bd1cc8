package ociruntime

import (
	"context"
	"fmt"
	"os"
	"strings"

	runc "github.com/containerd/go-runc"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/ferrovia/taskshim/internal/shimerrors"
)

// Runtime wraps a go-runc.Runc bound to one bundle's runtime binary and
// root directory. Every Container and Process holds one; the wrapped
// *runc.Runc itself is stateless beyond that binding, so it is safe to
// share across the init process and all of its execs.
type Runtime struct {
	runc *runc.Runc
}

// Options selects the runtime binary and global flags, read from the
// bundle's persisted options.json (see internal/bundle).
type Options struct {
	// BinaryName is the runtime executable, e.g. "runc" or "crun". Resolved
	// via PATH unless it contains a slash.
	BinaryName string
	Root       string
	SystemdCgroup bool
	Rootless      *bool
}

// New constructs a Runtime for namespace ns rooted at opts.Root (runc's
// --root, where it keeps container state). ProcessMonitor is always
// ociruntime.Default: internal/reaper owns every waitpid(2) call in this
// binary, so no code path may install go-runc's own os/exec-based monitor.
func New(ns string, opts Options) *Runtime {
	binary := opts.BinaryName
	if binary == "" {
		binary = "runc"
	}
	return &Runtime{
		runc: &runc.Runc{
			Command:       binary,
			Root:          opts.Root,
			Log:           "",
			LogFormat:     runc.JSON,
			SystemdCgroup: opts.SystemdCgroup,
			Rootless:      opts.Rootless,
			Monitor:       Default,
			PdeathSignal:  0,
			Setpgid:       true,
		},
	}
}

// CreateOpts carries the subset of runc.CreateOpts/ExecOpts this package
// exposes to internal/process; IO and ConsoleSocket are mutually exclusive
// depending on Stdio.Terminal, mirroring the original's do_create split
// between copy_console and copy_io.
type CreateOpts struct {
	PidFile       string
	ConsoleSocket runc.ConsoleSocket
	IO            runc.IO
	NoPivot       bool
	NoNewKeyring  bool
}

// Create runs `runc create`, leaving the container process stopped at its
// pre-exec barrier until Start is called.
func (r *Runtime) Create(ctx context.Context, id, bundle string, opts CreateOpts) error {
	err := r.runc.Create(ctx, id, bundle, &runc.CreateOpts{
		IO:            opts.IO,
		PidFile:       opts.PidFile,
		ConsoleSocket: opts.ConsoleSocket,
		NoPivot:       opts.NoPivot,
		NoNewKeyring:  opts.NoNewKeyring,
		Detach:        true,
	})
	if err != nil {
		return fmt.Errorf("%w: runc create: %s", shimerrors.ErrRuntime, describe(err))
	}
	return nil
}

// ExecOpts mirrors CreateOpts for `runc exec`.
type ExecOpts struct {
	PidFile       string
	ConsoleSocket runc.ConsoleSocket
	IO            runc.IO
}

// Exec runs `runc exec`, launching spec as an additional process inside an
// already-running container.
func (r *Runtime) Exec(ctx context.Context, id string, spec *specs.Process, opts ExecOpts) error {
	err := r.runc.Exec(ctx, id, *spec, &runc.ExecOpts{
		IO:            opts.IO,
		PidFile:       opts.PidFile,
		ConsoleSocket: opts.ConsoleSocket,
		Detach:        true,
	})
	if err != nil {
		return fmt.Errorf("%w: runc exec: %s", shimerrors.ErrRuntime, describe(err))
	}
	return nil
}

// Start runs `runc start`, releasing the container's init process past its
// pre-exec barrier.
func (r *Runtime) Start(ctx context.Context, id string) error {
	if err := r.runc.Start(ctx, id); err != nil {
		return fmt.Errorf("%w: runc start: %s", shimerrors.ErrRuntime, describe(err))
	}
	return nil
}

// Kill sends signal to id's container process (or, with all, its whole
// cgroup). ESRCH is translated to shimerrors.ErrNotFound: the process has
// already exited and the exit event just hasn't been observed yet by the
// caller, which per invariant should be reported the same as "not found".
func (r *Runtime) Kill(ctx context.Context, id string, signal int, all bool) error {
	err := r.runc.Kill(ctx, id, signal, &runc.KillOpts{All: all})
	if err == nil {
		return nil
	}
	if isESRCH(err) {
		return fmt.Errorf("%w: process %s already exited", shimerrors.ErrNotFound, id)
	}
	return fmt.Errorf("%w: runc kill: %s", shimerrors.ErrRuntime, describe(err))
}

// Delete removes id's on-disk runtime state. A container that runc no
// longer knows about is treated as already deleted, so a repeated Delete
// succeeds.
func (r *Runtime) Delete(ctx context.Context, id string, force bool) error {
	err := r.runc.Delete(ctx, id, &runc.DeleteOpts{Force: force})
	if err == nil || isDoesNotExist(err) {
		return nil
	}
	return fmt.Errorf("%w: runc delete: %s", shimerrors.ErrRuntime, describe(err))
}

// Pause and Resume freeze/thaw id's cgroup via the runtime's own
// pause/resume verbs.
func (r *Runtime) Pause(ctx context.Context, id string) error {
	if err := r.runc.Pause(ctx, id); err != nil {
		return fmt.Errorf("%w: runc pause: %s", shimerrors.ErrRuntime, describe(err))
	}
	return nil
}

func (r *Runtime) Resume(ctx context.Context, id string) error {
	if err := r.runc.Resume(ctx, id); err != nil {
		return fmt.Errorf("%w: runc resume: %s", shimerrors.ErrRuntime, describe(err))
	}
	return nil
}

// Ps lists the pids currently inside id's pid namespace.
func (r *Runtime) Ps(ctx context.Context, id string) ([]int, error) {
	pids, err := r.runc.Ps(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: runc ps: %s", shimerrors.ErrRuntime, describe(err))
	}
	return pids, nil
}

// NewPipeIO creates OS pipes for the runtime CLI process's own stdio,
// wired by internal/iorelay to the bundle's stdio FIFOs. Used whenever
// Stdio.Terminal is false.
func NewPipeIO(uid, gid int) (runc.IO, error) {
	return runc.NewPipeIO(uid, gid, runc.WithStdin, runc.WithStdout, runc.WithStderr)
}

func describe(err error) string {
	if ee, ok := err.(*runc.ExitError); ok {
		return ee.Error()
	}
	return err.Error()
}

func isDoesNotExist(err error) bool {
	return os.IsNotExist(err) || containsAnyFold(err.Error(), "does not exist", "no such")
}

func isESRCH(err error) bool {
	return containsAnyFold(err.Error(), "no such process", "esrch")
}

func containsAnyFold(s string, subs ...string) bool {
	s = strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
