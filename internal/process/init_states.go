package process

import (
	"context"
	"fmt"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	oruntimecgroup "github.com/ferrovia/taskshim/internal/ociruntime/cgroup"
	"github.com/ferrovia/taskshim/internal/shimerrors"
)

// initCreatedState is installed both before Create has run (created=false,
// every operation but Create and Delete is rejected) and after it (created=true,
// matching the CREATED node of the state machine in spec.md §4.6.3).
type initCreatedState struct {
	p       *Init
	created bool
}

func (s *initCreatedState) Status() Status {
	if !s.created {
		return StatusCreated // pre-create: no distinct phase is exposed externally
	}
	return StatusCreated
}

func (s *initCreatedState) Start(ctx context.Context) error {
	if !s.created {
		return fmt.Errorf("%w: init process not created", shimerrors.ErrFailedPrecondition)
	}
	if err := s.p.rt.Start(ctx, s.p.id); err != nil {
		return err
	}
	s.p.swap(&initRunningState{p: s.p})
	return nil
}

func (s *initCreatedState) Kill(ctx context.Context, signal uint32, all bool) error {
	if !s.created {
		return fmt.Errorf("%w: init process not created", shimerrors.ErrFailedPrecondition)
	}
	return s.p.rt.Kill(ctx, s.p.id, int(signal), all)
}

func (s *initCreatedState) Delete(ctx context.Context) error {
	return initDelete(ctx, s.p)
}

func (s *initCreatedState) Update(ctx context.Context, resources *specs.LinuxResources) error {
	return fmt.Errorf("%w: update requires a running process", shimerrors.ErrFailedPrecondition)
}

func (s *initCreatedState) Stats(ctx context.Context) (*specs.LinuxResources, []byte, error) {
	return nil, nil, fmt.Errorf("%w: stats requires a running process", shimerrors.ErrFailedPrecondition)
}

func (s *initCreatedState) Ps(ctx context.Context) ([]ProcessInfo, error) {
	if !s.created {
		return nil, fmt.Errorf("%w: init process not created", shimerrors.ErrFailedPrecondition)
	}
	return initPs(ctx, s.p)
}

// initRunningState is the RUNNING node: Start was already called.
type initRunningState struct{ p *Init }

func (s *initRunningState) Status() Status { return StatusRunning }

func (s *initRunningState) Start(ctx context.Context) error {
	return fmt.Errorf("%w: init process already started", shimerrors.ErrFailedPrecondition)
}

func (s *initRunningState) Kill(ctx context.Context, signal uint32, all bool) error {
	return s.p.rt.Kill(ctx, s.p.id, int(signal), all)
}

func (s *initRunningState) Delete(ctx context.Context) error {
	return initDelete(ctx, s.p)
}

func (s *initRunningState) Update(ctx context.Context, resources *specs.LinuxResources) error {
	mgr, err := oruntimecgroup.LoadForPid(ctx, s.p.Pid())
	if err != nil {
		return err
	}
	return mgr.Update(ctx, resources)
}

func (s *initRunningState) Stats(ctx context.Context) (*specs.LinuxResources, []byte, error) {
	pid := s.p.Pid()
	if pid <= 0 {
		return nil, nil, fmt.Errorf("%w: process has no pid yet", shimerrors.ErrFailedPrecondition)
	}
	mgr, err := oruntimecgroup.LoadForPid(ctx, pid)
	if err != nil {
		return nil, nil, err
	}
	metrics, err := mgr.Stats(ctx)
	if err != nil {
		return nil, nil, err
	}
	return nil, marshalMetrics(metrics), nil
}

func (s *initRunningState) Ps(ctx context.Context) ([]ProcessInfo, error) {
	return initPs(ctx, s.p)
}

// initStoppedState is the STOPPED node, entered only via notifyExit.
type initStoppedState struct{ p *Init }

func (s *initStoppedState) Status() Status { return StatusStopped }

func (s *initStoppedState) Start(ctx context.Context) error {
	return fmt.Errorf("%w: init process already exited", shimerrors.ErrFailedPrecondition)
}

func (s *initStoppedState) Kill(ctx context.Context, signal uint32, all bool) error {
	return fmt.Errorf("%w: process already finished", shimerrors.ErrNotFound)
}

func (s *initStoppedState) Delete(ctx context.Context) error {
	return initDelete(ctx, s.p)
}

func (s *initStoppedState) Update(ctx context.Context, resources *specs.LinuxResources) error {
	return fmt.Errorf("%w: update requires a running process", shimerrors.ErrFailedPrecondition)
}

func (s *initStoppedState) Stats(ctx context.Context) (*specs.LinuxResources, []byte, error) {
	return nil, nil, fmt.Errorf("%w: stats requires a running process", shimerrors.ErrFailedPrecondition)
}

func (s *initStoppedState) Ps(ctx context.Context) ([]ProcessInfo, error) {
	return nil, fmt.Errorf("%w: process already exited", shimerrors.ErrFailedPrecondition)
}

// initDeletedState is the terminal DELETED node.
type initDeletedState struct{ p *Init }

func (s *initDeletedState) Status() Status { return StatusDeleted }

func (s *initDeletedState) Start(ctx context.Context) error {
	return fmt.Errorf("%w: process deleted", shimerrors.ErrNotFound)
}

func (s *initDeletedState) Kill(ctx context.Context, signal uint32, all bool) error {
	return fmt.Errorf("%w: process deleted", shimerrors.ErrNotFound)
}

// Delete on an already-deleted process is a no-op, so Delete is
// idempotent.
func (s *initDeletedState) Delete(ctx context.Context) error { return nil }

func (s *initDeletedState) Update(ctx context.Context, resources *specs.LinuxResources) error {
	return fmt.Errorf("%w: process deleted", shimerrors.ErrNotFound)
}

func (s *initDeletedState) Stats(ctx context.Context) (*specs.LinuxResources, []byte, error) {
	return nil, nil, fmt.Errorf("%w: process deleted", shimerrors.ErrNotFound)
}

func (s *initDeletedState) Ps(ctx context.Context) ([]ProcessInfo, error) {
	return nil, fmt.Errorf("%w: process deleted", shimerrors.ErrNotFound)
}

// initDelete implements spec.md §4.6.1's delete: force delete, tolerate
// "does not exist" as success, always fire the ExitSignal regardless of
// outcome, and transition to DELETED.
func initDelete(ctx context.Context, p *Init) error {
	err := p.rt.Delete(ctx, p.id, true)
	p.exitSignal.Fire()
	p.swap(&initDeletedState{p: p})
	return err
}

func initPs(ctx context.Context, p *Init) ([]ProcessInfo, error) {
	pids, err := p.rt.Ps(ctx, p.id)
	if err != nil {
		return nil, err
	}
	infos := make([]ProcessInfo, len(pids))
	for i, pid := range pids {
		infos[i] = ProcessInfo{Pid: pid}
	}
	return infos, nil
}
