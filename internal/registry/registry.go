// Package registry implements the in-memory active-session registry
// (SPEC_FULL.md §4.5): a singly linked list indexed by login and by
// connection handle, kept as the spec's reference structure rather
// than the hash-index alternative SPEC_FULL.md §9 only sanctions for
// "a systems-language implementation."
package registry

import (
	"strings"

	"github.com/google/uuid"
)

// Handle identifies a connection. It is a uuid.UUID rather than a raw
// pointer so it is comparable, loggable, and distinguishable across
// log lines without leaking memory addresses.
type Handle uuid.UUID

// NewHandle returns a fresh, random connection handle.
func NewHandle() Handle {
	return Handle(uuid.New())
}

func (h Handle) String() string {
	return uuid.UUID(h).String()
}

// entry is one node of the registry's singly linked list.
type entry struct {
	login       string
	displayName string
	handle      Handle
	next        *entry
}

// Registry is the in-memory index of active, authenticated sessions.
// Every method here must be called with the caller's session mutex
// already held (SPEC_FULL.md §5): Registry performs no locking of its
// own, since the lock it shares is the server-wide session mutex, not
// a store-local one.
type Registry struct {
	head *entry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// Add inserts a new active session. Callers must have already
// checked IsLoggedIn(login) to enforce the at-most-one-session
// invariant; Add itself does not check.
func (r *Registry) Add(login, displayName string, handle Handle) {
	r.head = &entry{login: login, displayName: displayName, handle: handle, next: r.head}
}

// RemoveByHandle removes the session identified by handle, if any.
func (r *Registry) RemoveByHandle(handle Handle) {
	var prev *entry
	for e := r.head; e != nil; e = e.next {
		if e.handle == handle {
			if prev == nil {
				r.head = e.next
			} else {
				prev.next = e.next
			}
			return
		}
		prev = e
	}
}

// IsLoggedIn reports whether login has an active session.
func (r *Registry) IsLoggedIn(login string) bool {
	for e := r.head; e != nil; e = e.next {
		if e.login == login {
			return true
		}
	}
	return false
}

// Session is a snapshot of one active session's fields.
type Session struct {
	Login       string
	DisplayName string
	Handle      Handle
}

// FindByLogin returns the active session for login, if any.
func (r *Registry) FindByLogin(login string) (Session, bool) {
	for e := r.head; e != nil; e = e.next {
		if e.login == login {
			return Session{Login: e.login, DisplayName: e.displayName, Handle: e.handle}, true
		}
	}
	return Session{}, false
}

// FindByHandle returns the active session for handle, if any.
func (r *Registry) FindByHandle(handle Handle) (Session, bool) {
	for e := r.head; e != nil; e = e.next {
		if e.handle == handle {
			return Session{Login: e.login, DisplayName: e.displayName, Handle: e.handle}, true
		}
	}
	return Session{}, false
}

// SetDisplayName updates the display name of the active session for
// login in place, for CHANGE_USERNAME.
func (r *Registry) SetDisplayName(login, displayName string) {
	for e := r.head; e != nil; e = e.next {
		if e.login == login {
			e.displayName = displayName
			return
		}
	}
}

// SerializeAll renders every active session as "<login> display\n"
// lines, stopping before a line that would push the result past 1024
// bytes (SPEC_FULL.md §4.5).
func (r *Registry) SerializeAll() []byte {
	const maxBytes = 1024
	var b strings.Builder
	for e := r.head; e != nil; e = e.next {
		line := e.login + " " + e.displayName + "\n"
		if b.Len()+len(line) > maxBytes {
			break
		}
		b.WriteString(line)
	}
	return []byte(b.String())
}
