package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/lanchat/chatd/internal/registry"
	"github.com/lanchat/chatd/protocol"
)

// errOperandMismatch signals that a follow-up record was read
// successfully but carried the wrong record type. Unlike an I/O
// error, the stream remains aligned on a record boundary: the caller
// decides per command whether that is recoverable.
var errOperandMismatch = errors.New("server: operand type mismatch")

// Session drives the per-connection state machine described in
// SPEC_FULL.md §4.4: read one record, discard anything that is not a
// COMMAND, and otherwise dispatch to the matching handler.
type Session struct {
	srv    *Server
	conn   net.Conn
	log    *slog.Logger
	handle registry.Handle

	// writeMu serializes every write onto conn, whether issued by
	// this session's own loop or by another session relaying
	// SEND_TO_USER traffic onto this connection.
	writeMu sync.Mutex

	login       string
	displayName string
}

func newSession(conn net.Conn, srv *Server) *Session {
	return &Session{
		srv:    srv,
		conn:   conn,
		log:    srv.Log.With("remote", conn.RemoteAddr().String()),
		handle: registry.NewHandle(),
	}
}

// Run reads and dispatches records until an unrecoverable error (or
// peer close) occurs, then tears down the session: any registered
// login is removed from the active-session registry under the
// session mutex, and the connection is closed.
func (s *Session) Run() error {
	defer s.cleanup()

	for {
		typ, payload, err := protocol.ReadRecord(s.conn)
		if err != nil {
			return err
		}
		if typ != protocol.TypeCommand {
			// Non-COMMAND records received outside of a command's
			// own follow-up sequence are discarded, not an error
			// (SPEC_FULL.md §9, preserving spec.md's Open Question 2).
			continue
		}
		cmd, err := protocol.DecodeCommand(payload)
		if err != nil {
			return fmt.Errorf("server: malformed command record: %w", err)
		}
		if err := s.dispatch(cmd); err != nil {
			return err
		}
	}
}

func (s *Session) cleanup() {
	s.srv.sessionMu.Lock()
	if s.login != "" {
		s.srv.registry.RemoveByHandle(s.handle)
		delete(s.srv.conns, s.handle)
	}
	s.srv.sessionMu.Unlock()
	s.conn.Close()
}

func (s *Session) dispatch(cmd protocol.Command) error {
	switch cmd {
	case protocol.CmdLogin:
		return s.handleLogin()
	case protocol.CmdCreateAccount:
		return s.handleCreateAccount()
	case protocol.CmdChangePassword:
		return s.handleChangePassword()
	case protocol.CmdChangeUsername:
		return s.handleChangeUsername()
	case protocol.CmdGetActiveUsers:
		return s.handleGetActiveUsers()
	case protocol.CmdSendToUser:
		return s.handleSendToUser()
	case protocol.CmdGetHistory:
		return s.handleGetHistory()
	case protocol.CmdCreateGroup:
		return s.handleCreateGroup()
	case protocol.CmdListGroups:
		return s.handleListGroups()
	case protocol.CmdJoinGroup:
		return s.handleJoinGroup()
	case protocol.CmdGroupMsg:
		return s.handleGroupMsg()
	case protocol.CmdLogout:
		return s.handleLogout()
	case protocol.CmdPing:
		return s.handlePing()
	default:
		return s.writeStatus(protocol.StatusError)
	}
}

// writeRecord writes a single record onto the session's own
// connection, serialized against any relay writes from other
// sessions.
func (s *Session) writeRecord(typ protocol.RecordType, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return protocol.WriteRecord(s.conn, typ, payload)
}

// wireRecord is one record of a writeRecords batch.
type wireRecord struct {
	typ     protocol.RecordType
	payload []byte
}

// writeRecords writes a sequence of records onto the session's own
// connection as one contiguous unit: writeMu is held for the whole
// sequence, so neither another relayer nor this session's own
// concurrent writes can interleave a record in the middle of it
// (SPEC_FULL.md §5).
func (s *Session) writeRecords(recs ...wireRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	for _, r := range recs {
		if err := protocol.WriteRecord(s.conn, r.typ, r.payload); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) writeStatus(status protocol.Status) error {
	return s.writeRecord(protocol.TypeStatus, protocol.EncodeStatus(status))
}

// readOperand reads exactly one follow-up record and reports whether
// it matched the expected type. A non-nil err means the stream itself
// failed (always unrecoverable); mismatched means the record was read
// fine but carried the wrong type (recoverable for some commands).
func (s *Session) readOperand(want protocol.RecordType) (payload []byte, mismatched bool, err error) {
	typ, p, rerr := protocol.ReadRecord(s.conn)
	if rerr != nil {
		return nil, false, rerr
	}
	if typ != want {
		return nil, true, nil
	}
	return p, false, nil
}

func historyTimestamp() time.Time {
	return time.Now()
}
