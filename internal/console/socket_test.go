package console

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	ccon "github.com/containerd/console"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// sendFD sends fd as a single SCM_RIGHTS control message with an empty
// regular payload, mirroring what an OCI runtime's console-socket client
// does when handing over a PTY master.
func sendFD(t *testing.T, path string, fd int) {
	t.Helper()
	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	uc := conn.(*net.UnixConn)
	rights := unix.UnixRights(fd)
	_, _, err = uc.WriteMsgUnix(nil, rights, nil)
	require.NoError(t, err)
}

func TestReceiveMasterRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pty.sock")

	sock, err := New(path)
	require.NoError(t, err)
	defer sock.Clean()

	// ReceiveMaster wraps the fd with console.ConsoleFromFile, which only
	// accepts a terminal, so the fd sent here is a real PTY master.
	ptyMaster, _, err := ccon.NewPty()
	require.NoError(t, err)
	defer ptyMaster.Close()

	var wantStat unix.Stat_t
	require.NoError(t, unix.Fstat(int(ptyMaster.Fd()), &wantStat))

	done := make(chan struct{})
	go func() {
		defer close(done)
		sendFD(t, path, int(ptyMaster.Fd()))
	}()

	conn, err := sock.Accept()
	require.NoError(t, err)
	defer conn.Close()

	c, err := ReceiveMaster(conn)
	require.NoError(t, err)
	defer c.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sender goroutine did not finish")
	}

	var gotStat unix.Stat_t
	require.NoError(t, unix.Fstat(int(c.Fd()), &gotStat))
	require.Equal(t, wantStat.Ino, gotStat.Ino, "received fd refers to a different file")
	require.Equal(t, wantStat.Dev, gotStat.Dev, "received fd refers to a different file")
}

func TestReceiveMasterRejectsZeroFDs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pty.sock")

	sock, err := New(path)
	require.NoError(t, err)
	defer sock.Clean()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := net.Dial("unix", path)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("x"))
	}()

	conn, err := sock.Accept()
	require.NoError(t, err)
	defer conn.Close()

	_, err = ReceiveMaster(conn)
	require.Error(t, err, "expected a protocol error for a message with no fds")
	<-done
}
