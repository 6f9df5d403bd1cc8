package process

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCommonWaitBlocksUntilNotifyExit(t *testing.T) {
	p := NewInit("c1", t.TempDir(), Stdio{}, nil)

	done := make(chan int, 1)
	go func() {
		code, err := p.Wait(context.Background())
		require.NoError(t, err)
		done <- code
	}()

	time.Sleep(10 * time.Millisecond)
	p.NotifyExit(7, time.Now())

	select {
	case code := <-done:
		require.Equal(t, 7, code)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after NotifyExit")
	}
}

func TestCommonWaitReturnsImmediatelyIfAlreadyExited(t *testing.T) {
	p := NewInit("c1", t.TempDir(), Stdio{}, nil)
	p.NotifyExit(3, time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	code, err := p.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, code)
}

func TestCommonWaitRespectsContextCancellation(t *testing.T) {
	p := NewInit("c1", t.TempDir(), Stdio{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCommonNotifyExitIsIdempotent(t *testing.T) {
	p := NewInit("c1", t.TempDir(), Stdio{}, nil)

	first := time.Now()
	p.NotifyExit(5, first)
	p.NotifyExit(9, time.Now())

	code, at := p.ExitStatus()
	require.Equal(t, 5, code)
	require.Equal(t, first, at)
	require.Equal(t, StatusStopped, p.Status())
}

func TestCommonResizeWithoutConsoleFails(t *testing.T) {
	p := NewInit("c1", t.TempDir(), Stdio{}, nil)
	err := p.Resize(80, 24)
	require.Error(t, err)
}
