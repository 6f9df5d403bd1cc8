package process

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	ccon "github.com/containerd/console"
	runc "github.com/containerd/go-runc"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	consolesock "github.com/ferrovia/taskshim/internal/console"
	"github.com/ferrovia/taskshim/internal/iorelay"
	"github.com/ferrovia/taskshim/internal/ociruntime"
	"github.com/ferrovia/taskshim/internal/shimerrors"
)

// initPidFileName is where go-runc's CreateOpts.PidFile points, relative to
// the bundle directory, for a container's init process.
const initPidFileName = "init.pid"

// CreateOpts carries the runtime-CLI create flags spec.md §4.6.1 step 1
// names beyond pid-file/console-socket/IO, which Create derives itself.
type CreateOpts struct {
	NoPivot      bool
	NoNewKeyring bool
	IOUid        int
	IOGid        int
}

// Init is a container's init process: the one whose lifetime bounds the
// container's own (spec.md §4.6.1).
type Init struct {
	common

	rt *ociruntime.Runtime
}

// NewInit constructs an Init bound to rt, not yet created: Create must
// still be called to actually invoke the runtime.
func NewInit(id, bundle string, stdio Stdio, rt *ociruntime.Runtime) *Init {
	p := &Init{rt: rt}
	p.id = id
	p.bundle = bundle
	p.stdio = stdio
	p.state = &initCreatedState{p: p, created: false}
	return p
}

// Create runs the runtime's "create" subcommand, wires the I/O relay, and
// reads the resulting pid from the bundle's pid file. Invoked once, by the
// container factory, never through the normal State dispatch (it has no
// predecessor state to transition from).
func (p *Init) Create(ctx context.Context, opts CreateOpts) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	st, ok := p.currentState().(*initCreatedState)
	if !ok || st.created {
		return fmt.Errorf("%w: init process already created", shimerrors.ErrFailedPrecondition)
	}

	pidPath := filepath.Join(p.bundle, initPidFileName)

	var sock *consolesock.Socket
	var pio runc.IO
	var err error
	if p.stdio.Terminal {
		sock, err = consolesock.NewTemp(p.bundle, "pty*.sock")
		if err != nil {
			return err
		}
	} else if !p.stdio.IsNull() {
		pio, err = ociruntime.NewPipeIO(opts.IOUid, opts.IOGid)
		if err != nil {
			return err
		}
	}

	rtOpts := ociruntime.CreateOpts{
		PidFile:      pidPath,
		NoPivot:      opts.NoPivot,
		NoNewKeyring: opts.NoNewKeyring,
	}
	if sock != nil {
		rtOpts.ConsoleSocket = sock
	}
	if pio != nil {
		rtOpts.IO = pio
	}

	if err := p.rt.Create(ctx, p.id, p.bundle, rtOpts); err != nil {
		if sock != nil {
			sock.Clean()
		}
		return err
	}

	if err := p.wireIO(ctx, sock, pio); err != nil {
		return err
	}

	pid, err := readPidFile(pidPath)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.pid = pid
	p.mu.Unlock()

	p.swap(&initCreatedState{p: p, created: true})
	return nil
}

// wireIO implements spec.md §4.4's dispatch between terminal and pipe mode,
// shared verbatim by Init.Create and execCreatedState.Start.
func wireIO(ctx context.Context, stdio Stdio, exit *ExitSignal, sock *consolesock.Socket, pio runc.IO, onConsole func(c ccon.Console)) error {
	if stdio.Terminal {
		defer sock.Clean()
		conn, err := sock.Accept()
		if err != nil {
			return err
		}
		defer conn.Close()
		master, err := consolesock.ReceiveMaster(conn)
		if err != nil {
			return err
		}
		if err := iorelay.Console(ctx, master, iorelay.Stdio{
			Stdin:    stdio.Stdin,
			Stdout:   stdio.Stdout,
			Stderr:   stdio.Stderr,
			Terminal: true,
		}, exit); err != nil {
			return err
		}
		onConsole(master)
		return nil
	}
	if pio == nil {
		return nil
	}
	return iorelay.Pipes(ctx, pio, iorelay.Stdio{
		Stdin:  stdio.Stdin,
		Stdout: stdio.Stdout,
		Stderr: stdio.Stderr,
	}, exit)
}

func (p *Init) wireIO(ctx context.Context, sock *consolesock.Socket, pio runc.IO) error {
	return wireIO(ctx, p.stdio, p.ExitSignal(), sock, pio, func(c ccon.Console) {
		p.mu.Lock()
		p.cons = c
		p.mu.Unlock()
	})
}

func (p *Init) Start(ctx context.Context) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return p.currentState().Start(ctx)
}

func (p *Init) Kill(ctx context.Context, signal uint32, all bool) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return p.currentState().Kill(ctx, signal, all)
}

func (p *Init) Delete(ctx context.Context) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return p.currentState().Delete(ctx)
}

func (p *Init) Update(ctx context.Context, resources *specs.LinuxResources) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return p.currentState().Update(ctx, resources)
}

func (p *Init) Stats(ctx context.Context) (*specs.LinuxResources, []byte, error) {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return p.currentState().Stats(ctx)
}

func (p *Init) Ps(ctx context.Context) ([]ProcessInfo, error) {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return p.currentState().Ps(ctx)
}

// NotifyExit is called by the monitor-to-process bridge once this init
// process's pid is observed to exit.
func (p *Init) NotifyExit(code int, at time.Time) {
	p.notifyExit(code, at, &initStoppedState{p: p})
}

func readPidFile(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("%w: read pid file %s: %v", shimerrors.ErrIO, path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("%w: parse pid file %s: %v", shimerrors.ErrIO, path, err)
	}
	return pid, nil
}
