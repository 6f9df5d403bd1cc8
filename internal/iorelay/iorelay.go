// Package iorelay copies a process's stdio between the OCI runtime (a PTY
// master in terminal mode, or a trio of OS pipes in pipe mode) and the
// named FIFOs the task manager supplied in the create/exec request.
//
// Two details carry over unchanged from how every containerd-family shim
// does this:
//
//   - each copy direction runs in its own goroutine, cancelled the moment
//     the process's ExitSignal fires rather than waiting for a natural EOF;
//   - for any FIFO we write into (the process's stdout/stderr, read by the
//     manager), we open a second, otherwise-unused read-only fd on the same
//     path before starting the copy and hold it until the copy goroutine's
//     on_close hook runs. Without that dummy reader, a manager restart that
//     closes its end drops the FIFO's reader count to zero and our next
//     write fails with EPIPE/SIGPIPE, killing the relay permanently instead
//     of just stalling until the manager reconnects.
package iorelay

import (
	"context"
	"fmt"
	"io"

	"github.com/containerd/console"
	"github.com/containerd/fifo"
	runc "github.com/containerd/go-runc"
	"golang.org/x/sys/unix"

	"github.com/ferrovia/taskshim/internal/exitsignal"
	"github.com/ferrovia/taskshim/internal/shimerrors"
)

// Stdio is the trio (or PTY-backed single stream) of paths a create/exec
// request names for a process's I/O. An empty path means that stream is
// not wired at all (e.g. a process created with stdin closed).
type Stdio struct {
	Stdin    string
	Stdout   string
	Stderr   string
	Terminal bool
}

// Console wires master, the PTY master received from the runtime's console
// socket, to the Stdio paths. Copies run until exit fires or the process
// itself closes the PTY from its end.
func Console(ctx context.Context, master console.Console, stdio Stdio, exit *exitsignal.Signal) error {
	if stdio.Stdin != "" {
		stdinR, err := openFifo(ctx, stdio.Stdin, unix.O_RDONLY)
		if err != nil {
			return err
		}
		stdinW, err := openFifo(ctx, stdio.Stdin, unix.O_WRONLY)
		if err != nil {
			stdinR.Close()
			return err
		}
		spawnCopy(stdinR, master, exit, func() { stdinR.Close(); stdinW.Close() })
	}

	if stdio.Stdout != "" {
		stdoutW, err := openFifo(ctx, stdio.Stdout, unix.O_WRONLY)
		if err != nil {
			return err
		}
		stdoutR, err := openFifo(ctx, stdio.Stdout, unix.O_RDONLY)
		if err != nil {
			stdoutW.Close()
			return err
		}
		spawnCopy(master, stdoutW, exit, func() { stdoutW.Close(); stdoutR.Close() })
	}

	return nil
}

// Pipes wires pio, the runtime CLI process's own stdio pipes, to the Stdio
// paths. Used whenever stdio.Terminal is false.
func Pipes(ctx context.Context, pio runc.IO, stdio Stdio, exit *exitsignal.Signal) error {
	if w := pio.Stdin(); w != nil && stdio.Stdin != "" {
		stdin, err := openFifo(ctx, stdio.Stdin, unix.O_RDONLY)
		if err != nil {
			return err
		}
		spawnCopy(stdin, w, exit, func() { stdin.Close() })
	}

	if r := pio.Stdout(); r != nil && stdio.Stdout != "" {
		stdout, err := openFifo(ctx, stdio.Stdout, unix.O_WRONLY)
		if err != nil {
			return err
		}
		stdoutR, err := openFifo(ctx, stdio.Stdout, unix.O_RDONLY)
		if err != nil {
			stdout.Close()
			return err
		}
		spawnCopy(r, stdout, exit, func() { stdout.Close(); stdoutR.Close() })
	}

	if r := pio.Stderr(); r != nil && stdio.Stderr != "" {
		stderr, err := openFifo(ctx, stdio.Stderr, unix.O_WRONLY)
		if err != nil {
			return err
		}
		stderrR, err := openFifo(ctx, stdio.Stderr, unix.O_RDONLY)
		if err != nil {
			stderr.Close()
			return err
		}
		spawnCopy(r, stderr, exit, func() { stderr.Close(); stderrR.Close() })
	}

	return nil
}

func openFifo(ctx context.Context, path string, flag int) (*fifo.Fifo, error) {
	f, err := fifo.OpenFifo(ctx, path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: open fifo %s: %v", shimerrors.ErrIO, path, err)
	}
	return f, nil
}

// spawnCopy runs io.Copy(dst, src) in its own goroutine, abandoning it the
// moment exit fires rather than waiting for src to reach EOF. onClose, if
// set, runs after the copy loop exits either way and is where a caller
// drops its dummy keep-alive reader/writer fd and closes whichever side of
// src/dst this call uniquely owns (the shared PTY master or go-runc pipe is
// never closed here: it outlives any single copy direction).
func spawnCopy(src io.Reader, dst io.Writer, exit *exitsignal.Signal, onClose func()) {
	go func() {
		defer func() {
			if onClose != nil {
				onClose()
			}
		}()

		done := make(chan struct{})
		go func() {
			defer close(done)
			io.Copy(dst, src)
		}()

		select {
		case <-exit.Done():
		case <-done:
		}
	}()
}
