package process

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ferrovia/taskshim/internal/shimerrors"
)

func newTestExec(id string) *Exec {
	return NewExec(id, "c1", "", Stdio{}, nil, nil)
}

func TestExecKillBeforeStartFails(t *testing.T) {
	e := newTestExec("e1")
	require.Equal(t, StatusCreated, e.Status())

	err := e.Kill(context.Background(), 9, false)
	require.ErrorIs(t, err, shimerrors.ErrFailedPrecondition)
}

func TestExecDeleteIsIdempotent(t *testing.T) {
	e := newTestExec("e1")

	require.NoError(t, e.Delete(context.Background()))
	require.Equal(t, StatusDeleted, e.Status())

	require.NoError(t, e.Delete(context.Background()))
	require.Equal(t, StatusDeleted, e.Status())
}

func TestExecDeletedRejectsKill(t *testing.T) {
	e := newTestExec("e1")
	require.NoError(t, e.Delete(context.Background()))

	err := e.Kill(context.Background(), 9, false)
	require.ErrorIs(t, err, shimerrors.ErrNotFound)
}

func TestExecUpdateAndStatsAreUnimplemented(t *testing.T) {
	e := newTestExec("e1")

	_, err := e.Ps(context.Background())
	require.ErrorIs(t, err, shimerrors.ErrUnimplemented)

	err = e.Update(context.Background(), nil)
	require.ErrorIs(t, err, shimerrors.ErrUnimplemented)

	_, _, err = e.Stats(context.Background())
	require.ErrorIs(t, err, shimerrors.ErrUnimplemented)
}

func TestExecNotifyExitIsIdempotentAndBlocksStart(t *testing.T) {
	e := newTestExec("e1")

	first := time.Now()
	e.NotifyExit(4, first)
	e.NotifyExit(11, time.Now())

	code, at := e.ExitStatus()
	require.Equal(t, 4, code)
	require.Equal(t, first, at)

	err := e.Start(context.Background())
	require.ErrorIs(t, err, shimerrors.ErrFailedPrecondition)
}

func TestExecKillAfterExitReturnsNotFound(t *testing.T) {
	e := newTestExec("e1")
	e.NotifyExit(0, time.Now())

	err := e.Kill(context.Background(), 9, false)
	require.ErrorIs(t, err, shimerrors.ErrNotFound)
}
