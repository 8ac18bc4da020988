// Package store implements the file-backed user, group, and history
// stores (SPEC_FULL.md §4.6-4.8): one file per login, one file per
// group, and one append-only log per conversation, all under a
// configured root directory.
package store

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
)

// MaxFieldLen is the maximum byte length of a login, password, or
// display name (SPEC_FULL.md §3).
const MaxFieldLen = 31

// User is a persisted account record.
type User struct {
	Login       string
	Password    string
	DisplayName string
}

// UserStore manages file-per-login credential records under
// root/users. All mutators and the authenticate reader implement
// read-modify-write under the caller-supplied lock; UserStore itself
// holds no lock of its own because SPEC_FULL.md §5 requires the
// session mutex, not a store-local one, to guard these sequences.
type UserStore struct {
	dir string
}

// NewUserStore returns a UserStore rooted at root/users, creating the
// directory if necessary.
func NewUserStore(root string) (*UserStore, error) {
	dir := filepath.Join(root, "users")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("store: create users dir: %w", err)
	}
	return &UserStore{dir: dir}, nil
}

func (s *UserStore) path(login string) string {
	return filepath.Join(s.dir, login)
}

// ValidField reports whether s is a legal login/password/display-name
// value: 1..31 bytes.
func ValidField(s string) bool {
	n := len(s)
	return n >= 1 && n <= MaxFieldLen
}

// Exists reports whether a user record exists for login.
func (s *UserStore) Exists(login string) bool {
	_, err := os.Stat(s.path(login))
	return err == nil
}

// Create persists a new user record. It refuses to overwrite an
// existing login and refuses empty or oversize fields.
func (s *UserStore) Create(login, password, displayName string) error {
	if !ValidField(login) || !ValidField(password) || !ValidField(displayName) {
		return fmt.Errorf("store: login, password, and display name must be 1..%d bytes", MaxFieldLen)
	}
	if s.Exists(login) {
		return fmt.Errorf("store: user %q already exists", login)
	}
	return s.write(login, password, displayName)
}

func (s *UserStore) write(login, password, displayName string) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "password=%s\n", password)
	fmt.Fprintf(&buf, "username=%s\n", displayName)
	return atomic.WriteFile(s.path(login), &buf)
}

func (s *UserStore) read(login string) (*User, error) {
	data, err := os.ReadFile(s.path(login))
	if err != nil {
		return nil, fmt.Errorf("store: read user %q: %w", login, err)
	}
	u := &User{Login: login}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "password":
			u.Password = value
		case "username":
			u.DisplayName = value
		}
	}
	if u.Password == "" || u.DisplayName == "" {
		return nil, fmt.Errorf("store: user %q record is malformed", login)
	}
	return u, nil
}

// Authenticate compares password against the stored plaintext value
// for login and returns the stored display name on a match.
// SPEC_FULL.md's Non-goals explicitly exclude anything beyond a
// plaintext comparison.
func (s *UserStore) Authenticate(login, password string) (displayName string, ok bool, err error) {
	u, err := s.read(login)
	if err != nil {
		return "", false, err
	}
	if u.Password != password {
		return "", false, nil
	}
	return u.DisplayName, true, nil
}

// ChangePassword rewrites login's record with a new password,
// preserving the stored display name. Callers must verify the old
// password themselves before calling this (the command handler does,
// under the session mutex).
func (s *UserStore) ChangePassword(login, newPassword string) error {
	if !ValidField(newPassword) {
		return fmt.Errorf("store: password must be 1..%d bytes", MaxFieldLen)
	}
	u, err := s.read(login)
	if err != nil {
		return err
	}
	return s.write(login, newPassword, u.DisplayName)
}

// ChangeUsername rewrites login's record with a new display name,
// preserving the stored password.
func (s *UserStore) ChangeUsername(login, newDisplayName string) error {
	if !ValidField(newDisplayName) {
		return fmt.Errorf("store: display name must be 1..%d bytes", MaxFieldLen)
	}
	u, err := s.read(login)
	if err != nil {
		return err
	}
	return s.write(login, u.Password, newDisplayName)
}
