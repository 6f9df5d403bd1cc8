// Package console implements the OCI runtime's --console-socket protocol:
// a Unix domain socket on which the runtime sends us the PTY master file
// descriptor for a container's terminal over SCM_RIGHTS.
package console

import (
	"fmt"
	"net"
	"os"

	"github.com/containerd/console"
	"golang.org/x/sys/unix"

	"github.com/ferrovia/taskshim/internal/shimerrors"
)

// Socket listens on a Unix domain socket for exactly one SCM_RIGHTS message
// carrying the container's PTY master fd.
type Socket struct {
	path string
	ln   *net.UnixListener
}

// New binds a listening socket at path. The caller owns cleanup via Clean.
func New(path string) (*Socket, error) {
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve console socket addr: %v", shimerrors.ErrIO, err)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: listen on console socket: %v", shimerrors.ErrIO, err)
	}
	return &Socket{path: path, ln: ln}, nil
}

// NewTemp binds a listening socket at a freshly generated path under dir,
// the pattern go-runc's ConsoleSocket helpers and the original implementation
// both use (one socket per create/exec call, named by a random suffix so
// concurrent creates in the same bundle don't collide).
func NewTemp(dir, pattern string) (*Socket, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: reserve console socket path: %v", shimerrors.ErrIO, err)
	}
	path := f.Name()
	f.Close()
	os.Remove(path)
	return New(path)
}

// Path satisfies go-runc's ConsoleSocket interface, so a *Socket can be
// passed directly as CreateOpts.ConsoleSocket / ExecOpts.ConsoleSocket.
func (s *Socket) Path() string { return s.path }

// Accept waits for the runtime to connect. Exactly one connection is
// expected per create/exec call.
func (s *Socket) Accept() (*net.UnixConn, error) {
	conn, err := s.ln.AcceptUnix()
	if err != nil {
		return nil, fmt.Errorf("%w: accept console socket connection: %v", shimerrors.ErrIO, err)
	}
	return conn, nil
}

// Clean closes the listener and removes the socket file. Idempotent: a
// second call observes ErrClosed/ENOENT and returns nil.
func (s *Socket) Clean() error {
	if s.ln != nil {
		_ = s.ln.Close()
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove console socket: %v", shimerrors.ErrIO, err)
	}
	return nil
}

// ReceiveMaster performs a single recvmsg sized for exactly one SCM_RIGHTS
// fd and wraps it as a console.Console (which knows how to put it into raw
// mode and resize it). Receiving zero fds, more than one fd, or more than
// one control message is a protocol error: the runtime is expected to send
// exactly one PTY master fd and nothing else.
func ReceiveMaster(conn *net.UnixConn) (console.Console, error) {
	buf := make([]byte, unix.CmsgSpace(0)) // no regular payload expected
	oob := make([]byte, unix.CmsgSpace(4)) // room for exactly one int fd

	_, oobn, _, _, err := conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return nil, fmt.Errorf("%w: recvmsg on console socket: %v", shimerrors.ErrIO, err)
	}

	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return nil, fmt.Errorf("%w: parse control message: %v", shimerrors.ErrProtocol, err)
	}
	if len(msgs) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one control message, got %d", shimerrors.ErrProtocol, len(msgs))
	}

	fds, err := unix.ParseUnixRights(&msgs[0])
	if err != nil {
		return nil, fmt.Errorf("%w: parse unix rights: %v", shimerrors.ErrProtocol, err)
	}
	if len(fds) != 1 {
		for _, fd := range fds {
			unix.Close(fd)
		}
		return nil, fmt.Errorf("%w: expected exactly one fd, got %d", shimerrors.ErrProtocol, len(fds))
	}

	f := os.NewFile(uintptr(fds[0]), "pty-master")
	c, err := console.ConsoleFromFile(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: wrap pty master fd: %v", shimerrors.ErrIO, err)
	}
	return c, nil
}
