package container

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ferrovia/taskshim/internal/ociruntime"
	"github.com/ferrovia/taskshim/internal/process"
	"github.com/ferrovia/taskshim/internal/shimerrors"
)

// fakeRuntime returns a Runtime whose runtime-CLI binary is /bin/true, so
// Container.Delete's underlying `runc delete` call succeeds without a real
// OCI runtime or container, the same stand-in-binary trick used in
// internal/process's own tests.
func fakeRuntime(id string) *ociruntime.Runtime {
	return ociruntime.New(id, ociruntime.Options{BinaryName: "/bin/true"})
}

// newTestContainer builds a Container around an Init that was never run
// through Create (no pid, no runtime-CLI invocation), enough to exercise
// the exec table and dispatch logic without spawning a real process.
func newTestContainer(t *testing.T, id string) *Container {
	t.Helper()
	rt := fakeRuntime(id)
	return &Container{
		id:     id,
		bundle: t.TempDir(),
		rt:     rt,
		init:   process.NewInit(id, t.TempDir(), process.Stdio{}, rt),
		execs:  make(map[string]*process.Exec),
	}
}

func TestContainerExecRejectsDuplicateID(t *testing.T) {
	c := newTestContainer(t, "c1")

	_, err := c.Exec(context.Background(), "e1", process.Stdio{}, nil)
	require.NoError(t, err)

	_, err = c.Exec(context.Background(), "e1", process.Stdio{}, nil)
	require.ErrorIs(t, err, shimerrors.ErrFailedPrecondition)
}

func TestContainerProcessResolvesInitAndExecs(t *testing.T) {
	c := newTestContainer(t, "c1")
	_, err := c.Exec(context.Background(), "e1", process.Stdio{}, nil)
	require.NoError(t, err)

	p, err := c.Process("")
	require.NoError(t, err)
	require.Equal(t, c.Init(), p)

	p, err = c.Process("e1")
	require.NoError(t, err)
	require.Equal(t, process.StatusCreated, p.Status())

	_, err = c.Process("missing")
	require.ErrorIs(t, err, shimerrors.ErrNotFound)
}

func TestContainerDeleteExecRemovesFromTable(t *testing.T) {
	c := newTestContainer(t, "c1")
	_, err := c.Exec(context.Background(), "e1", process.Stdio{}, nil)
	require.NoError(t, err)

	require.NoError(t, c.DeleteExec(context.Background(), "e1"))

	_, err = c.Process("e1")
	require.ErrorIs(t, err, shimerrors.ErrNotFound)

	// Deleting an already-removed exec id is a NotFound, not a no-op: once
	// DeleteExec drops the table entry there is nothing left to dispatch to.
	err = c.DeleteExec(context.Background(), "e1")
	require.ErrorIs(t, err, shimerrors.ErrNotFound)
}

func TestContainerDeleteCascadesThroughExecsThenInit(t *testing.T) {
	c := newTestContainer(t, "c1")
	_, err := c.Exec(context.Background(), "e1", process.Stdio{}, nil)
	require.NoError(t, err)
	_, err = c.Exec(context.Background(), "e2", process.Stdio{}, nil)
	require.NoError(t, err)

	require.NoError(t, c.Delete(context.Background()))

	require.Equal(t, process.StatusDeleted, c.Init().Status())
	_, err = c.Process("e1")
	require.ErrorIs(t, err, shimerrors.ErrNotFound)
	_, err = c.Process("e2")
	require.ErrorIs(t, err, shimerrors.ErrNotFound)
}
