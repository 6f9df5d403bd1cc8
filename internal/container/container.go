// Package container implements C7: one Container per task, owning an init
// process and a table of execs, dispatching manager requests to the right
// process.Init/process.Exec and cascading delete through the exec table.
package container

import (
	"context"
	"fmt"
	"sync"
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/containerd/log"

	"github.com/ferrovia/taskshim/internal/ociruntime"
	"github.com/ferrovia/taskshim/internal/process"
	"github.com/ferrovia/taskshim/internal/shimerrors"
)

// exitNotifiable is the common shape of process.Init and process.Exec that
// watchExit needs; declared locally so this package doesn't need a type
// switch to tell them apart.
type exitNotifiable interface {
	NotifyExit(code int, at time.Time)
}

// Container owns one init process and its execs (spec.md §3/§4.7).
type Container struct {
	id     string
	bundle string
	rt     *ociruntime.Runtime

	mu    sync.Mutex
	init  *process.Init
	execs map[string]*process.Exec
}

// Create builds and creates a Container's init process: runs `runc create`,
// wires stdio, reads the pid, and starts the background exit watcher. The
// container record is only returned once Create has fully succeeded,
// matching the "acquire fully or release" resource discipline in spec.md §5.
func Create(ctx context.Context, id, bundle string, stdio process.Stdio, rt *ociruntime.Runtime, opts process.CreateOpts) (*Container, error) {
	init := process.NewInit(id, bundle, stdio, rt)
	if err := init.Create(ctx, opts); err != nil {
		return nil, err
	}

	c := &Container{
		id:     id,
		bundle: bundle,
		rt:     rt,
		init:   init,
		execs:  make(map[string]*process.Exec),
	}
	watchExit(ctx, init, init.Pid())
	return c, nil
}

// ID returns the container id.
func (c *Container) ID() string { return c.id }

// Init returns the container's init process.
func (c *Container) Init() *process.Init { return c.init }

// Start starts the init process.
func (c *Container) Start(ctx context.Context) error {
	return c.init.Start(ctx)
}

// Exec registers a new exec process in state CREATED with no pid, per
// spec.md §4.7, rejecting a duplicate exec id.
func (c *Container) Exec(ctx context.Context, execID string, stdio process.Stdio, spec *specs.Process) (*process.Exec, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.execs[execID]; exists {
		return nil, fmt.Errorf("%w: exec id %q already exists", shimerrors.ErrFailedPrecondition, execID)
	}

	e := process.NewExec(execID, c.id, c.bundle, stdio, spec, c.rt)
	c.execs[execID] = e
	return e, nil
}

// StartExec runs the exec's runc-exec invocation and begins tracking its
// pid for exit notification.
func (c *Container) StartExec(ctx context.Context, execID string) error {
	e, err := c.getExec(execID)
	if err != nil {
		return err
	}
	if err := e.Start(ctx); err != nil {
		return err
	}
	watchExit(ctx, e, e.Pid())
	return nil
}

// LifecycleProcess is the narrow interface shared by process.Init and
// process.Exec that Process returns, so callers (the task service) needn't
// branch on which kind of process they hold.
type LifecycleProcess interface {
	Start(ctx context.Context) error
	Kill(ctx context.Context, signal uint32, all bool) error
	Delete(ctx context.Context) error
	Update(ctx context.Context, resources *specs.LinuxResources) error
	Stats(ctx context.Context) (*specs.LinuxResources, []byte, error)
	Ps(ctx context.Context) ([]process.ProcessInfo, error)
	Status() process.Status
	Wait(ctx context.Context) (int, error)
}

// Process resolves execID ("" for the init process) to its
// LifecycleProcess, or NotFound.
func (c *Container) Process(execID string) (LifecycleProcess, error) {
	if execID == "" {
		return c.init, nil
	}
	return c.getExec(execID)
}

func (c *Container) getExec(execID string) (*process.Exec, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.execs[execID]
	if !ok {
		return nil, fmt.Errorf("%w: exec %q", shimerrors.ErrNotFound, execID)
	}
	return e, nil
}

// Delete tears down the init process and, per invariant 3, cascades a
// delete to every outstanding exec first (logging, not propagating, their
// errors) before discarding the container record itself.
func (c *Container) Delete(ctx context.Context) error {
	c.mu.Lock()
	execs := make([]*process.Exec, 0, len(c.execs))
	for _, e := range c.execs {
		execs = append(execs, e)
	}
	c.execs = make(map[string]*process.Exec)
	c.mu.Unlock()

	for _, e := range execs {
		if err := e.Delete(ctx); err != nil {
			log.G(ctx).WithError(err).WithField("container", c.id).Warn("exec delete failed during container delete")
		}
	}

	return c.init.Delete(ctx)
}

// DeleteExec removes a single exec from the table after deleting it.
func (c *Container) DeleteExec(ctx context.Context, execID string) error {
	e, err := c.getExec(execID)
	if err != nil {
		return err
	}
	err = e.Delete(ctx)

	c.mu.Lock()
	delete(c.execs, execID)
	c.mu.Unlock()

	return err
}

// watchExit blocks in a new goroutine until pid is observed to exit via
// internal/monitor (through internal/ociruntime.WaitPid, which shares the
// same bridge internal/reaper feeds), then notifies p. A pid of 0 means the
// process never got as far as having one (its own Create/Start already
// failed and returned an error), so there is nothing to watch.
func watchExit(ctx context.Context, p exitNotifiable, pid int) {
	if pid <= 0 {
		return
	}
	go func() {
		code, err := ociruntime.WaitPid(context.Background(), pid)
		if err != nil {
			log.G(ctx).WithError(err).WithField("pid", pid).Warn("exit watcher stopped without observing an exit")
			return
		}
		p.NotifyExit(code, time.Now())
	}()
}
