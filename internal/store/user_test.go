package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUserStore(t *testing.T) *UserStore {
	t.Helper()
	s, err := NewUserStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestCreateAndAuthenticate(t *testing.T) {
	s := newUserStore(t)
	require.NoError(t, s.Create("alice", "pw", "Alice"))

	display, ok, err := s.Authenticate("alice", "pw")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Alice", display)
}

func TestAuthenticateWrongPassword(t *testing.T) {
	s := newUserStore(t)
	require.NoError(t, s.Create("alice", "pw", "Alice"))

	_, ok, err := s.Authenticate("alice", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAuthenticateUnknownLogin(t *testing.T) {
	s := newUserStore(t)
	_, _, err := s.Authenticate("ghost", "pw")
	assert.Error(t, err)
}

func TestCreateRefusesDuplicateLogin(t *testing.T) {
	s := newUserStore(t)
	require.NoError(t, s.Create("alice", "pw", "Alice"))
	err := s.Create("alice", "other", "Other")
	assert.Error(t, err)

	// original record must be untouched
	display, ok, authErr := s.Authenticate("alice", "pw")
	require.NoError(t, authErr)
	assert.True(t, ok)
	assert.Equal(t, "Alice", display)
}

func TestCreateRejectsEmptyFields(t *testing.T) {
	s := newUserStore(t)
	assert.Error(t, s.Create("", "pw", "Alice"))
	assert.Error(t, s.Create("alice", "", "Alice"))
	assert.Error(t, s.Create("alice", "pw", ""))
}

func TestCreateBoundaryFieldLengths(t *testing.T) {
	s := newUserStore(t)
	ok31 := strings.Repeat("a", 31)
	require.NoError(t, s.Create(ok31, ok31, ok31))

	s2 := newUserStore(t)
	tooLong := strings.Repeat("b", 32)
	assert.Error(t, s2.Create(tooLong, "pw", "name"))
}

func TestChangePasswordPreservesDisplayName(t *testing.T) {
	s := newUserStore(t)
	require.NoError(t, s.Create("alice", "old", "Alice"))
	require.NoError(t, s.ChangePassword("alice", "new"))

	_, ok, err := s.Authenticate("alice", "old")
	require.NoError(t, err)
	assert.False(t, ok)

	display, ok, err := s.Authenticate("alice", "new")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Alice", display)
}

func TestChangeUsernamePreservesPassword(t *testing.T) {
	s := newUserStore(t)
	require.NoError(t, s.Create("alice", "pw", "Alice"))
	require.NoError(t, s.ChangeUsername("alice", "NewAlice"))

	display, ok, err := s.Authenticate("alice", "pw")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "NewAlice", display)
}

func TestExists(t *testing.T) {
	s := newUserStore(t)
	assert.False(t, s.Exists("alice"))
	require.NoError(t, s.Create("alice", "pw", "Alice"))
	assert.True(t, s.Exists("alice"))
}

func TestLoginFileNameEqualsLogin(t *testing.T) {
	s := newUserStore(t)
	require.NoError(t, s.Create("alice", "pw", "Alice"))
	assert.FileExists(t, s.path("alice"))
}
