package process

import (
	"context"
	"fmt"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/ferrovia/taskshim/internal/shimerrors"
)

// execCreatedState is the CREATED node: the exec has been registered with
// the container but runc exec has not run yet.
type execCreatedState struct{ p *Exec }

func (s *execCreatedState) Status() Status { return StatusCreated }

func (s *execCreatedState) Start(ctx context.Context) error {
	if err := execStart(ctx, s.p); err != nil {
		return err
	}
	s.p.swap(&execRunningState{p: s.p})
	return nil
}

func (s *execCreatedState) Kill(ctx context.Context, signal uint32, all bool) error {
	return execKill(s.p, signal)
}

func (s *execCreatedState) Delete(ctx context.Context) error {
	return execDelete(s.p)
}

func (s *execCreatedState) Update(ctx context.Context, resources *specs.LinuxResources) error {
	return fmt.Errorf("%w: exec update", shimerrors.ErrUnimplemented)
}

func (s *execCreatedState) Stats(ctx context.Context) (*specs.LinuxResources, []byte, error) {
	return nil, nil, fmt.Errorf("%w: exec stats", shimerrors.ErrUnimplemented)
}

func (s *execCreatedState) Ps(ctx context.Context) ([]ProcessInfo, error) {
	return nil, fmt.Errorf("%w: exec ps", shimerrors.ErrUnimplemented)
}

// execRunningState is the RUNNING node.
type execRunningState struct{ p *Exec }

func (s *execRunningState) Status() Status { return StatusRunning }

func (s *execRunningState) Start(ctx context.Context) error {
	return fmt.Errorf("%w: exec already started", shimerrors.ErrFailedPrecondition)
}

func (s *execRunningState) Kill(ctx context.Context, signal uint32, all bool) error {
	return execKill(s.p, signal)
}

func (s *execRunningState) Delete(ctx context.Context) error {
	return execDelete(s.p)
}

func (s *execRunningState) Update(ctx context.Context, resources *specs.LinuxResources) error {
	return fmt.Errorf("%w: exec update", shimerrors.ErrUnimplemented)
}

func (s *execRunningState) Stats(ctx context.Context) (*specs.LinuxResources, []byte, error) {
	return nil, nil, fmt.Errorf("%w: exec stats", shimerrors.ErrUnimplemented)
}

func (s *execRunningState) Ps(ctx context.Context) ([]ProcessInfo, error) {
	return nil, fmt.Errorf("%w: exec ps", shimerrors.ErrUnimplemented)
}

// execStoppedState is the STOPPED node, entered only via notifyExit.
type execStoppedState struct{ p *Exec }

func (s *execStoppedState) Status() Status { return StatusStopped }

func (s *execStoppedState) Start(ctx context.Context) error {
	return fmt.Errorf("%w: exec already exited", shimerrors.ErrFailedPrecondition)
}

func (s *execStoppedState) Kill(ctx context.Context, signal uint32, all bool) error {
	return fmt.Errorf("%w: process already finished", shimerrors.ErrNotFound)
}

func (s *execStoppedState) Delete(ctx context.Context) error {
	return execDelete(s.p)
}

func (s *execStoppedState) Update(ctx context.Context, resources *specs.LinuxResources) error {
	return fmt.Errorf("%w: exec update", shimerrors.ErrUnimplemented)
}

func (s *execStoppedState) Stats(ctx context.Context) (*specs.LinuxResources, []byte, error) {
	return nil, nil, fmt.Errorf("%w: exec stats", shimerrors.ErrUnimplemented)
}

func (s *execStoppedState) Ps(ctx context.Context) ([]ProcessInfo, error) {
	return nil, fmt.Errorf("%w: exec ps", shimerrors.ErrUnimplemented)
}

// execDeletedState is the terminal DELETED node.
type execDeletedState struct{ p *Exec }

func (s *execDeletedState) Status() Status { return StatusDeleted }

func (s *execDeletedState) Start(ctx context.Context) error {
	return fmt.Errorf("%w: process deleted", shimerrors.ErrNotFound)
}

func (s *execDeletedState) Kill(ctx context.Context, signal uint32, all bool) error {
	return fmt.Errorf("%w: process deleted", shimerrors.ErrNotFound)
}

func (s *execDeletedState) Delete(ctx context.Context) error { return nil }

func (s *execDeletedState) Update(ctx context.Context, resources *specs.LinuxResources) error {
	return fmt.Errorf("%w: exec update", shimerrors.ErrUnimplemented)
}

func (s *execDeletedState) Stats(ctx context.Context) (*specs.LinuxResources, []byte, error) {
	return nil, nil, fmt.Errorf("%w: exec stats", shimerrors.ErrUnimplemented)
}

func (s *execDeletedState) Ps(ctx context.Context) ([]ProcessInfo, error) {
	return nil, fmt.Errorf("%w: exec ps", shimerrors.ErrUnimplemented)
}

// execDelete fires the ExitSignal and transitions to DELETED; no runtime
// call, per spec.md §4.6.2 ("the process has already exited or been
// killed").
func execDelete(p *Exec) error {
	p.exitSignal.Fire()
	p.swap(&execDeletedState{p: p})
	return nil
}
