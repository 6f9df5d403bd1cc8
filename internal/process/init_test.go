package process

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ferrovia/taskshim/internal/ociruntime"
	"github.com/ferrovia/taskshim/internal/shimerrors"
)

// fakeRuntime returns a Runtime whose runtime-CLI binary is /bin/true, so
// any subcommand it invokes exits zero without touching real container
// state. Mirrors the stand-in-binary trick moby-moby's own container tests
// use (container_test.go, container_unit_test.go) for exercising code paths
// that only care whether the CLI invocation succeeded, not what it did.
func fakeRuntime(id string) *ociruntime.Runtime {
	return ociruntime.New(id, ociruntime.Options{BinaryName: "/bin/true"})
}

func TestInitOperationsBeforeCreateFail(t *testing.T) {
	p := NewInit("c1", t.TempDir(), Stdio{}, nil)

	require.Equal(t, StatusCreated, p.Status())

	err := p.Start(context.Background())
	require.ErrorIs(t, err, shimerrors.ErrFailedPrecondition)

	err = p.Kill(context.Background(), 9, false)
	require.ErrorIs(t, err, shimerrors.ErrFailedPrecondition)

	_, err = p.Ps(context.Background())
	require.ErrorIs(t, err, shimerrors.ErrFailedPrecondition)
}

func TestInitDeleteIsIdempotent(t *testing.T) {
	p := NewInit("c1", t.TempDir(), Stdio{}, fakeRuntime("c1"))

	require.NoError(t, p.Delete(context.Background()))
	require.Equal(t, StatusDeleted, p.Status())

	// A second delete (a racing manager retry, or a delete that arrives
	// after an asynchronous exit already tore things down) must not error.
	require.NoError(t, p.Delete(context.Background()))
	require.Equal(t, StatusDeleted, p.Status())
}

func TestInitDeletedRejectsFurtherOperations(t *testing.T) {
	p := NewInit("c1", t.TempDir(), Stdio{}, fakeRuntime("c1"))
	require.NoError(t, p.Delete(context.Background()))

	require.ErrorIs(t, p.Start(context.Background()), shimerrors.ErrNotFound)
	require.ErrorIs(t, p.Kill(context.Background(), 9, false), shimerrors.ErrNotFound)
	_, err := p.Ps(context.Background())
	require.ErrorIs(t, err, shimerrors.ErrNotFound)
}

func TestInitStoppedRejectsStartAndKill(t *testing.T) {
	p := NewInit("c1", t.TempDir(), Stdio{}, fakeRuntime("c1"))
	p.NotifyExit(0, time.Now())

	require.ErrorIs(t, p.Start(context.Background()), shimerrors.ErrFailedPrecondition)
	require.ErrorIs(t, p.Kill(context.Background(), 9, false), shimerrors.ErrNotFound)

	// Delete from STOPPED still reaches the runtime and transitions to
	// DELETED, same as from CREATED or RUNNING.
	require.NoError(t, p.Delete(context.Background()))
	require.Equal(t, StatusDeleted, p.Status())
}
