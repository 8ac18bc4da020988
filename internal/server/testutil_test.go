package server

import (
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/lanchat/chatd/protocol"
	"github.com/stretchr/testify/require"
)

// testClient drives one side of an in-memory net.Pipe as if it were a
// chat client: encode/decode helpers, no real sockets.
type testClient struct {
	t    *testing.T
	conn net.Conn
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := New(t.TempDir(), slog.New(slog.NewTextHandler(bytesDiscard{}, nil)))
	require.NoError(t, err)
	return srv
}

// bytesDiscard is an io.Writer that throws away everything written to
// it, so test logs don't spam stdout.
type bytesDiscard struct{}

func (bytesDiscard) Write(p []byte) (int, error) { return len(p), nil }

// newConnectedSession wires up a Session against one end of a
// net.Pipe and runs it in the background, returning the other end as
// a testClient.
func newConnectedSession(t *testing.T, srv *Server) *testClient {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	sess := newSession(serverConn, srv)
	done := make(chan struct{})
	go func() {
		sess.Run()
		close(done)
	}()
	t.Cleanup(func() {
		clientConn.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	})
	return &testClient{t: t, conn: clientConn}
}

func (c *testClient) send(typ protocol.RecordType, payload []byte) {
	c.t.Helper()
	require.NoError(c.t, protocol.WriteRecord(c.conn, typ, payload))
}

func (c *testClient) sendCommand(cmd protocol.Command) {
	c.t.Helper()
	c.send(protocol.TypeCommand, protocol.EncodeCommand(cmd))
}

func (c *testClient) recv() (protocol.RecordType, []byte) {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, payload, err := protocol.ReadRecord(c.conn)
	require.NoError(c.t, err)
	return typ, payload
}

func (c *testClient) recvStatus() protocol.Status {
	c.t.Helper()
	typ, payload := c.recv()
	require.Equal(c.t, protocol.TypeStatus, typ)
	st, err := protocol.DecodeStatus(payload)
	require.NoError(c.t, err)
	return st
}

func (c *testClient) login(login, password string) protocol.Status {
	c.t.Helper()
	c.sendCommand(protocol.CmdLogin)
	c.send(protocol.TypeLogin, []byte(login))
	c.send(protocol.TypePassword, []byte(password))
	return c.recvStatus()
}

func (c *testClient) createAccount(login, password, username string) protocol.Status {
	c.t.Helper()
	c.sendCommand(protocol.CmdCreateAccount)
	c.send(protocol.TypeLogin, []byte(login))
	c.send(protocol.TypePassword, []byte(password))
	c.send(protocol.TypeUsername, []byte(username))
	return c.recvStatus()
}

// drainGroupInfos reads exactly n GROUP_INFO records following a
// successful LOGIN/CREATE_GROUP/JOIN_GROUP status. Each read waits up
// to two seconds; a missing record or one of another type fails the
// test.
func (c *testClient) drainGroupInfos(n int) []protocol.GroupInfo {
	c.t.Helper()
	var out []protocol.GroupInfo
	for i := 0; i < n; i++ {
		typ, payload := c.recv()
		require.Equal(c.t, protocol.TypeGroupInfo, typ)
		gi, err := protocol.DecodeGroupInfo(payload)
		require.NoError(c.t, err)
		out = append(out, gi)
	}
	return out
}
