package server

import (
	"errors"

	"github.com/lanchat/chatd/internal/mcast"
	"github.com/lanchat/chatd/internal/store"
	"github.com/lanchat/chatd/protocol"
)

// errSessionLogout is returned by handleLogout to end the read loop
// after a clean LOGOUT, the same way a peer close or I/O error would,
// but without being logged as a failure.
var errSessionLogout = errors.New("server: client logged out")

// readStrict reads one follow-up record of the given type. Any
// problem - an I/O error or a type mismatch - is fatal for LOGIN,
// CHANGE_PASSWORD, GET_HISTORY, and SEND_TO_USER: the caller returns
// the error and the session worker tears down (SPEC_FULL.md §4.4).
func (s *Session) readStrict(want protocol.RecordType) ([]byte, error) {
	payload, mismatched, err := s.readOperand(want)
	if err != nil {
		return nil, err
	}
	if mismatched {
		return nil, errOperandMismatch
	}
	return payload, nil
}

// readLenient reads one follow-up record of the given type. An I/O
// error is still fatal, but a type mismatch is recoverable: the
// stream stayed aligned on a record boundary, so the handler replies
// STATUS=ERROR and the session keeps running. ok is false exactly
// when the mismatch reply has already been sent.
func (s *Session) readLenient(want protocol.RecordType) (payload []byte, ok bool, err error) {
	p, mismatched, rerr := s.readOperand(want)
	if rerr != nil {
		return nil, false, rerr
	}
	if mismatched {
		return nil, false, s.writeStatus(protocol.StatusError)
	}
	return p, true, nil
}

func (s *Session) handleLogin() error {
	loginPayload, err := s.readStrict(protocol.TypeLogin)
	if err != nil {
		return err
	}
	pwPayload, err := s.readStrict(protocol.TypePassword)
	if err != nil {
		return err
	}
	login := string(loginPayload)
	password := string(pwPayload)

	s.srv.sessionMu.Lock()
	if s.srv.registry.IsLoggedIn(login) {
		s.srv.sessionMu.Unlock()
		return s.writeStatus(protocol.StatusAlreadyLoggedIn)
	}
	displayName, ok, authErr := s.srv.Users.Authenticate(login, password)
	if authErr != nil || !ok {
		s.srv.sessionMu.Unlock()
		return s.writeStatus(protocol.StatusAuthenticationError)
	}
	s.login = login
	s.displayName = displayName
	s.srv.registry.Add(login, displayName, s.handle)
	s.srv.conns[s.handle] = s
	s.srv.sessionMu.Unlock()

	if err := s.writeStatus(protocol.StatusOK); err != nil {
		return err
	}

	s.srv.groupMu.Lock()
	memberships, err := s.srv.Groups.Memberships(login)
	s.srv.groupMu.Unlock()
	if err != nil {
		s.log.Error("load memberships", "login", login, "err", err)
		return nil
	}
	for _, g := range memberships {
		enc, encErr := protocol.EncodeGroupInfo(protocol.GroupInfo{
			Name: g.Name, McastAddr: g.McastAddr, McastPort: g.McastPort, ID: g.ID,
		})
		if encErr != nil {
			s.log.Error("encode group info", "group", g.Name, "err", encErr)
			continue
		}
		if err := s.writeRecord(protocol.TypeGroupInfo, enc); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) handleCreateAccount() error {
	login, ok, err := s.readLenient(protocol.TypeLogin)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	password, ok, err := s.readLenient(protocol.TypePassword)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	username, ok, err := s.readLenient(protocol.TypeUsername)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	s.srv.sessionMu.Lock()
	createErr := s.srv.Users.Create(string(login), string(password), string(username))
	s.srv.sessionMu.Unlock()
	if createErr != nil {
		s.log.Warn("create account", "login", string(login), "err", createErr)
		return s.writeStatus(protocol.StatusError)
	}
	return s.writeStatus(protocol.StatusOK)
}

func (s *Session) handleChangePassword() error {
	oldPw, err := s.readStrict(protocol.TypePassword)
	if err != nil {
		return err
	}
	newPw, err := s.readStrict(protocol.TypePassword)
	if err != nil {
		return err
	}
	if s.login == "" {
		return s.writeStatus(protocol.StatusError)
	}

	s.srv.sessionMu.Lock()
	_, authOK, authErr := s.srv.Users.Authenticate(s.login, string(oldPw))
	var writeErr error
	if authErr == nil && authOK {
		writeErr = s.srv.Users.ChangePassword(s.login, string(newPw))
	}
	s.srv.sessionMu.Unlock()

	if authErr != nil || !authOK {
		return s.writeStatus(protocol.StatusAuthenticationError)
	}
	if writeErr != nil {
		s.log.Error("change password", "login", s.login, "err", writeErr)
		return s.writeStatus(protocol.StatusError)
	}
	return s.writeStatus(protocol.StatusOK)
}

func (s *Session) handleChangeUsername() error {
	newName, ok, err := s.readLenient(protocol.TypeUsername)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if s.login == "" {
		return s.writeStatus(protocol.StatusError)
	}

	s.srv.sessionMu.Lock()
	chErr := s.srv.Users.ChangeUsername(s.login, string(newName))
	if chErr == nil {
		s.displayName = string(newName)
		s.srv.registry.SetDisplayName(s.login, string(newName))
	}
	s.srv.sessionMu.Unlock()

	if chErr != nil {
		s.log.Error("change username", "login", s.login, "err", chErr)
		return s.writeStatus(protocol.StatusError)
	}
	return s.writeStatus(protocol.StatusOK)
}

func (s *Session) handleGetActiveUsers() error {
	if s.login == "" {
		return s.writeStatus(protocol.StatusError)
	}
	s.srv.sessionMu.Lock()
	data := s.srv.registry.SerializeAll()
	s.srv.sessionMu.Unlock()

	return s.writeRecord(protocol.TypeActiveUsers, data)
}

func (s *Session) handleSendToUser() error {
	target, err := s.readStrict(protocol.TypeLogin)
	if err != nil {
		return err
	}
	msg, err := s.readStrict(protocol.TypeMessage)
	if err != nil {
		return err
	}
	if s.login == "" {
		return s.writeStatus(protocol.StatusError)
	}

	targetLogin := string(target)
	message := string(msg)

	s.srv.sessionMu.Lock()
	recipient, found := s.srv.registry.FindByLogin(targetLogin)
	var relayErr error
	if found {
		rs, tracked := s.srv.conns[recipient.Handle]
		if !tracked {
			found = false
		} else {
			relayErr = rs.writeRecords(
				wireRecord{protocol.TypeLogin, []byte(s.login)},
				wireRecord{protocol.TypeUsername, []byte(s.displayName)},
				wireRecord{protocol.TypeMessage, []byte(message)},
			)
		}
	}
	var histErr error
	if found && relayErr == nil {
		line := store.FormatLine(historyTimestamp(), s.login, s.displayName, message)
		s.srv.historyMu.Lock()
		histErr = s.srv.History.AppendDirect(s.login, targetLogin, line)
		s.srv.historyMu.Unlock()
	}
	s.srv.sessionMu.Unlock()

	if relayErr != nil {
		s.log.Error("relay to user", "target", targetLogin, "err", relayErr)
		return s.writeStatus(protocol.StatusError)
	}
	if !found {
		return s.writeStatus(protocol.StatusUserNotFound)
	}
	if histErr != nil {
		s.log.Error("append direct history", "from", s.login, "to", targetLogin, "err", histErr)
	}
	return s.writeStatus(protocol.StatusOK)
}

func (s *Session) handleGetHistory() error {
	typ, payload, err := protocol.ReadRecord(s.conn)
	if err != nil {
		return err
	}
	if typ != protocol.TypeLogin && typ != protocol.TypeGroupName {
		return errOperandMismatch
	}
	target := string(payload)

	maxPayload, err := s.readStrict(protocol.TypeUint16)
	if err != nil {
		return err
	}
	maxLines, err := protocol.DecodeUint16(maxPayload)
	if err != nil {
		return err
	}
	if s.login == "" {
		return s.writeStatus(protocol.StatusError)
	}

	// A GROUP_NAME-typed operand always names a group. A LOGIN-typed
	// operand is resolved by existence: the reference client only ever
	// sends TLV_LOGIN for this operand, whether the peer is a user or a
	// group, so a group of that name takes precedence over a direct
	// conversation of that name.
	isGroup := typ == protocol.TypeGroupName
	if !isGroup {
		s.srv.groupMu.Lock()
		isGroup = s.srv.Groups.Exists(target)
		s.srv.groupMu.Unlock()
	}

	var data []byte
	var readErr error
	if isGroup {
		s.srv.historyMu.Lock()
		data, readErr = s.srv.History.ReadGroup(target, maxLines)
		s.srv.historyMu.Unlock()
	} else {
		s.srv.historyMu.Lock()
		data, readErr = s.srv.History.ReadDirect(s.login, target, maxLines)
		s.srv.historyMu.Unlock()
	}
	if readErr != nil {
		return s.writeStatus(protocol.StatusError)
	}
	return s.writeRecord(protocol.TypeHistory, data)
}

func (s *Session) handleCreateGroup() error {
	name, ok, err := s.readLenient(protocol.TypeGroupName)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if s.login == "" {
		return s.writeStatus(protocol.StatusError)
	}

	s.srv.groupMu.Lock()
	id, idErr := s.srv.Groups.NextID()
	var group store.Group
	createErr := idErr
	if idErr == nil {
		group, createErr = s.srv.Groups.Create(string(name), id, s.login)
	}
	s.srv.groupMu.Unlock()

	if createErr != nil {
		s.log.Warn("create group", "name", string(name), "err", createErr)
		return s.writeStatus(protocol.StatusError)
	}
	if err := s.writeStatus(protocol.StatusOK); err != nil {
		return err
	}
	enc, encErr := protocol.EncodeGroupInfo(protocol.GroupInfo{
		Name: group.Name, McastAddr: group.McastAddr, McastPort: group.McastPort, ID: group.ID,
	})
	if encErr != nil {
		s.log.Error("encode group info", "group", group.Name, "err", encErr)
		return nil
	}
	return s.writeRecord(protocol.TypeGroupInfo, enc)
}

func (s *Session) handleListGroups() error {
	if s.login == "" {
		return s.writeStatus(protocol.StatusError)
	}
	s.srv.groupMu.Lock()
	names, err := s.srv.Groups.List()
	s.srv.groupMu.Unlock()
	if err != nil {
		s.log.Error("list groups", "err", err)
		return s.writeStatus(protocol.StatusError)
	}
	return s.writeRecord(protocol.TypeGroupList, protocol.EncodeGroupList(names))
}

func (s *Session) handleJoinGroup() error {
	name, ok, err := s.readLenient(protocol.TypeGroupName)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if s.login == "" {
		return s.writeStatus(protocol.StatusError)
	}
	groupName := string(name)

	s.srv.groupMu.Lock()
	exists := s.srv.Groups.Exists(groupName)
	var already bool
	var group store.Group
	var opErr error
	if exists {
		already, opErr = s.srv.Groups.HasUser(groupName, s.login)
		if opErr == nil {
			group, opErr = s.srv.Groups.AddUser(groupName, s.login)
		}
	}
	s.srv.groupMu.Unlock()

	if !exists {
		return s.writeStatus(protocol.StatusGroupNotFound)
	}
	if opErr != nil {
		s.log.Error("join group", "name", groupName, "err", opErr)
		return s.writeStatus(protocol.StatusError)
	}
	if already {
		return s.writeStatus(protocol.StatusAlreadyInGroup)
	}
	if err := s.writeStatus(protocol.StatusOK); err != nil {
		return err
	}
	enc, encErr := protocol.EncodeGroupInfo(protocol.GroupInfo{
		Name: group.Name, McastAddr: group.McastAddr, McastPort: group.McastPort, ID: group.ID,
	})
	if encErr != nil {
		s.log.Error("encode group info", "group", group.Name, "err", encErr)
		return nil
	}
	return s.writeRecord(protocol.TypeGroupInfo, enc)
}

func (s *Session) handleGroupMsg() error {
	name, ok, err := s.readLenient(protocol.TypeGroupName)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	msg, ok, err := s.readLenient(protocol.TypeMessage)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if s.login == "" {
		return s.writeStatus(protocol.StatusError)
	}
	groupName := string(name)
	message := string(msg)

	s.srv.groupMu.Lock()
	exists := s.srv.Groups.Exists(groupName)
	var member bool
	var group store.Group
	var opErr error
	if exists {
		member, opErr = s.srv.Groups.HasUser(groupName, s.login)
		if opErr == nil && member {
			group, opErr = s.srv.Groups.GetInfo(groupName)
		}
	}
	s.srv.groupMu.Unlock()

	if !exists {
		return s.writeStatus(protocol.StatusGroupNotFound)
	}
	if opErr != nil {
		s.log.Error("group message", "name", groupName, "err", opErr)
		return s.writeStatus(protocol.StatusError)
	}
	if !member {
		return s.writeStatus(protocol.StatusError)
	}

	line := store.FormatLine(historyTimestamp(), s.login, s.displayName, message)
	s.srv.historyMu.Lock()
	histErr := s.srv.History.AppendGroup(groupName, line)
	s.srv.historyMu.Unlock()
	if histErr != nil {
		s.log.Error("append group history", "group", groupName, "err", histErr)
	}

	wire := []byte(mcast.FormatGroupMessage(groupName, s.login, s.displayName, message))
	if sendErr := mcast.SendGroupMessage(group.McastAddr, group.McastPort, wire); sendErr != nil {
		s.log.Error("send group message", "group", groupName, "err", sendErr)
	}

	return s.writeStatus(protocol.StatusOK)
}

func (s *Session) handleLogout() error {
	if s.login != "" {
		s.srv.sessionMu.Lock()
		s.srv.registry.RemoveByHandle(s.handle)
		delete(s.srv.conns, s.handle)
		s.login = ""
		s.displayName = ""
		s.srv.sessionMu.Unlock()
	}
	if err := s.writeStatus(protocol.StatusOK); err != nil {
		return err
	}
	return errSessionLogout
}

func (s *Session) handlePing() error {
	return s.writeStatus(protocol.StatusOK)
}
