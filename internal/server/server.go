// Package server implements the TCP connection acceptor and the
// per-connection session state machine (SPEC_FULL.md §4.3-4.4): the
// server-context value spec.md §9 asks for in place of the original's
// global mutable state.
package server

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/lanchat/chatd/internal/registry"
	"github.com/lanchat/chatd/internal/store"
)

// Server owns the three named mutexes (SPEC_FULL.md §5), the
// persistent stores, and the active-session registry. Every session
// worker receives a reference to the same Server; there is no
// package-level global state.
type Server struct {
	Root string
	Log  *slog.Logger

	Users   *store.UserStore
	Groups  *store.GroupStore
	History *store.HistoryStore

	registry *registry.Registry

	// sessionMu protects the active-session registry and wraps
	// user-store read-modify-write sequences used during
	// authentication and account mutation.
	sessionMu sync.Mutex
	// groupMu protects every read and write of group files.
	groupMu sync.Mutex
	// historyMu protects every read and write of history files.
	historyMu sync.Mutex

	// conns maps a connection handle to the session that owns it, so
	// SEND_TO_USER can relay onto a recipient's stream. It is read
	// and written only while sessionMu is held, alongside the
	// registry it mirrors (SPEC_FULL.md §5, §9's discussion of the
	// registry's "connection handle").
	conns map[registry.Handle]*Session
}

// New builds a Server rooted at root, creating the users/, groups/,
// and history/ directories if necessary.
func New(root string, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	users, err := store.NewUserStore(root)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	groups, err := store.NewGroupStore(root)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	history, err := store.NewHistoryStore(root)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	return &Server{
		Root:     root,
		Log:      log,
		Users:    users,
		Groups:   groups,
		History:  history,
		registry: registry.New(),
		conns:    make(map[registry.Handle]*Session),
	}, nil
}
