// Package process implements the per-process lifecycle state machine
// shared by a container's init process and its execs: CREATED -> RUNNING ->
// STOPPED -> DELETED, with DELETED reachable directly from any of the first
// three. Each transition is driven through the process's current State,
// swapped on transition rather than branched on in every method -- the
// lifecycle-strategy pattern spec.md calls for, and the same shape
// containerd's own pkg/process package uses (visible in the example pack's
// k3s-vendored runtime/v2/runc-v2/service.go, which imports exactly this
// process.Init/process.Exec plus per-state-struct split).
package process

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/containerd/console"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/ferrovia/taskshim/internal/exitsignal"
	"github.com/ferrovia/taskshim/internal/shimerrors"
)

// ExitSignal is a one-shot broadcast flag fired exactly once, when a
// process transitions to STOPPED or is deleted, whichever happens first.
// It is the sole cancellation mechanism for
// internal/iorelay copy goroutines.
type ExitSignal = exitsignal.Signal

// Status is the lifecycle phase of a Process.
type Status int

const (
	StatusCreated Status = iota
	StatusRunning
	StatusStopped
	StatusDeleted
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	case StatusDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Stdio names the FIFO paths (or PTY usage) a create/exec request supplied
// for a process's standard streams. An empty path means that stream is not
// wired.
type Stdio struct {
	Stdin    string
	Stdout   string
	Stderr   string
	Terminal bool
}

// IsNull reports whether no stream was requested at all.
func (s Stdio) IsNull() bool {
	return s.Stdin == "" && s.Stdout == "" && s.Stderr == ""
}

// ProcessInfo is the per-pid detail returned by Ps.
type ProcessInfo struct {
	Pid int
}

// State implements the operations legal (or explicitly rejected) for one
// lifecycle phase. Exactly one State is installed on a Process at a time.
type State interface {
	Start(ctx context.Context) error
	Kill(ctx context.Context, signal uint32, all bool) error
	Delete(ctx context.Context) error
	Update(ctx context.Context, resources *specs.LinuxResources) error
	Stats(ctx context.Context) (*specs.LinuxResources, []byte, error)
	Ps(ctx context.Context) ([]ProcessInfo, error)
	Status() Status
}

// common holds the fields shared by Init and Exec, per spec.md §3.
//
// Two locks, not one: opMu serializes lifecycle operations (start, kill,
// delete, update -- spec.md §5's "one in flight at a time per process"),
// and is held for the duration of a potentially slow runtime-CLI call.
// mu guards the plain field reads (Status, Pid, Stdio) that callers expect
// to return immediately even while a lifecycle operation is in flight.
type common struct {
	opMu sync.Mutex

	mu     sync.Mutex
	id     string
	state  State
	pid    int
	stdio  Stdio
	cons   console.Console
	bundle string

	exitStatus int
	exitedAt   time.Time
	exitSignal ExitSignal

	waitersMu sync.Mutex
	waiters   []chan struct{}
}

// ID returns the process's id (the container id for Init, the exec id for
// an Exec process).
func (c *common) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Pid returns the OS pid, or 0 if the process has not been created yet.
func (c *common) Pid() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pid
}

// Status returns the current lifecycle phase.
func (c *common) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Status()
}

// Stdio returns the stdio wiring this process was created with.
func (c *common) Stdio() Stdio {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stdio
}

// Resize changes the PTY master's window size. Only valid once the console
// has been wired (by Create for a terminal init process, by Start for a
// terminal exec); returns
// FailedPrecondition for a pipe-mode process, which has no console to
// resize.
func (c *common) Resize(width, height uint32) error {
	c.mu.Lock()
	cons := c.cons
	c.mu.Unlock()
	if cons == nil {
		return fmt.Errorf("%w: process has no console", shimerrors.ErrFailedPrecondition)
	}
	return cons.Resize(console.WinSize{Width: uint16(width), Height: uint16(height)})
}

// ExitStatus returns the raw exit status and timestamp recorded by
// notifyExit. Only meaningful once Status() is StatusStopped or later.
func (c *common) ExitStatus() (int, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitStatus, c.exitedAt
}

// ExitSignal returns the signal fired exactly once, when this process
// transitions to STOPPED or is deleted, whichever happens first.
func (c *common) ExitSignal() *ExitSignal {
	return &c.exitSignal
}

// Wait blocks until notifyExit records the process's exit (or ctx is
// cancelled), returning its exit code. If the ExitSignal has already fired
// when Wait is called, by an exit or by Delete, Wait returns the recorded
// exit status at once (0 if Delete fired it before any exit was recorded).
func (c *common) Wait(ctx context.Context) (int, error) {
	ch := make(chan struct{})
	c.waitersMu.Lock()
	if c.exitSignal.Fired() {
		c.waitersMu.Unlock()
		close(ch)
	} else {
		c.waiters = append(c.waiters, ch)
		c.waitersMu.Unlock()
	}

	select {
	case <-ch:
		code, _ := c.ExitStatus()
		return code, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// notifyExit is called by the monitor bridge exactly once per process, when
// its pid is observed to exit. Idempotent: a second call is a no-op, since
// spec.md requires notify_exit to tolerate being invoked more than once
// (e.g. a racing explicit delete and an asynchronous exit event).
func (c *common) notifyExit(code int, at time.Time, stopped State) {
	c.mu.Lock()
	if c.state.Status() == StatusStopped || c.state.Status() == StatusDeleted {
		c.mu.Unlock()
		return
	}
	c.exitStatus = code
	c.exitedAt = at
	c.state = stopped
	c.mu.Unlock()

	c.exitSignal.Fire()

	c.waitersMu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.waitersMu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

// swap installs next as the current state.
func (c *common) swap(next State) {
	c.mu.Lock()
	c.state = next
	c.mu.Unlock()
}

// currentState returns the state to dispatch an operation to. Callers must
// hold opMu for the duration of the operation: this is what serializes
// lifecycle operations per spec.md §5.
func (c *common) currentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
