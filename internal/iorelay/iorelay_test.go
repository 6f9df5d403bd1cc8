package iorelay

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ferrovia/taskshim/internal/exitsignal"
)

func mkfifo(t *testing.T, path string) {
	t.Helper()
	if err := unix.Mkfifo(path, 0o600); err != nil {
		t.Fatalf("mkfifo %s: %v", path, err)
	}
}

// fakePio implements runc.IO with in-memory pipes so Pipes can be exercised
// without an actual runc child.
type fakePio struct {
	stdin          io.WriteCloser
	stdinReadSide  io.ReadCloser
	stdout         io.ReadCloser
	stdoutWriteSide io.WriteCloser
}

func (f *fakePio) Stdin() io.WriteCloser  { return f.stdin }
func (f *fakePio) Stdout() io.ReadCloser  { return f.stdout }
func (f *fakePio) Stderr() io.ReadCloser  { return nil }
func (f *fakePio) Close() error           { return nil }
func (f *fakePio) Set(_ *exec.Cmd)        {}
func (f *fakePio) CloseAfterStart() error { return nil }

func TestPipesStopsOnExitSignal(t *testing.T) {
	dir := t.TempDir()
	stdoutPath := filepath.Join(dir, "stdout")
	mkfifo(t, stdoutPath)

	pr, pw := io.Pipe()
	pio := &fakePio{stdout: pr, stdoutWriteSide: pw}

	ctx := context.Background()
	exit := &exitsignal.Signal{}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		f, err := os.OpenFile(stdoutPath, os.O_RDONLY, 0)
		if err == nil {
			io.Copy(io.Discard, f)
			f.Close()
		}
	}()

	if err := Pipes(ctx, pio, Stdio{Stdout: stdoutPath}, exit); err != nil {
		t.Fatalf("Pipes: %v", err)
	}

	pw.Write([]byte("hello"))

	exit.Fire()

	select {
	case <-readerDone:
	case <-time.After(2 * time.Second):
		t.Fatal("reader goroutine never observed fifo activity")
	}
}
