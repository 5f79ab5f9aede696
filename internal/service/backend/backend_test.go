package backend

import (
	"errors"
	"testing"

	"legacy_chat_server/pkg/errorx"
)

// fakeUserStore 测试用的内存持久化层
type fakeUserStore struct {
	users map[string]*User
}

func newFakeUserStore(users ...*User) *fakeUserStore {
	s := &fakeUserStore{users: make(map[string]*User)}
	for _, u := range users {
		s.users[u.Uuid] = u
	}
	return s
}

func (s *fakeUserStore) GetUser(uuid string) (*User, error) {
	u, ok := s.users[uuid]
	if !ok {
		return nil, errorx.New(errorx.CodeNotFound, "user not found")
	}
	copied := *u
	return &copied, nil
}

func (s *fakeUserStore) GetUserDetail(uuid string) (*UserDetail, error) {
	return &UserDetail{Contacts: make(map[string]*Contact)}, nil
}

func (s *fakeUserStore) GetUUIDFromEmail(email string) (string, error) {
	for _, u := range s.users {
		if u.Email == email {
			return u.Uuid, nil
		}
	}
	return "", errorx.New(errorx.CodeNotFound, "email not found")
}

// recordingBackendHandler 记录收到的设备级事件
type recordingBackendHandler struct {
	BackendEventHandlerBase
	loginElsewhere []LoginOption
	chatInvites    int
	closed         bool
}

func (h *recordingBackendHandler) OnPresenceNotification(bsOther *BackendSession, ctc *Contact, onContactAdd bool, opts PresenceOptions) {
}
func (h *recordingBackendHandler) OnPresenceSelfNotification() {}
func (h *recordingBackendHandler) OnChatInvite(chat *Chat, inviter *User, opts ChatInviteOptions) {
	h.chatInvites++
}
func (h *recordingBackendHandler) OnAddedMe(user *User, adderID string, message string) {}
func (h *recordingBackendHandler) OnContactRequestDenied(userAdded *User, message string, contactID string) {
}
func (h *recordingBackendHandler) OnLoginElsewhere(option LoginOption) {
	h.loginElsewhere = append(h.loginElsewhere, option)
}
func (h *recordingBackendHandler) OnOIMSent(oim *OIM)                                      {}
func (h *recordingBackendHandler) OnGroupChatCreated(chatID string)                        {}
func (h *recordingBackendHandler) OnGroupChatRoleUpdated(chatID string, role GroupChatRole) {}
func (h *recordingBackendHandler) OnClose()                                               { h.closed = true }

func testUser(uuid, email string) *User {
	return &User{Uuid: uuid, Email: email, Verified: true, Status: &UserStatus{Substatus: SubstatusOnline, Name: email}}
}

func TestLoginUnknownUser(t *testing.T) {
	b := NewBackend(newFakeUserStore(), nil)
	_, err := b.Login("no-such", ClientInfo{}, &recordingBackendHandler{}, LoginOptionDuplicate)
	if !errors.Is(err, errorx.ErrUserNotExist) {
		t.Fatalf("expected ErrUserNotExist, got %v", err)
	}
}

func TestLoginBootOthers(t *testing.T) {
	b := NewBackend(newFakeUserStore(testUser("u-1", "a@example.com")), nil)

	h1 := &recordingBackendHandler{}
	bs1, err := b.Login("u-1", ClientInfo{Via: "direct"}, h1, LoginOptionBootOthers)
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	if h1.Bs != bs1 {
		t.Fatal("handler not bound to session")
	}

	h2 := &recordingBackendHandler{}
	bs2, err := b.Login("u-1", ClientInfo{Via: "direct"}, h2, LoginOptionBootOthers)
	if err != nil {
		t.Fatalf("second login: %v", err)
	}

	if len(h1.loginElsewhere) != 1 || h1.loginElsewhere[0] != LoginOptionBootOthers {
		t.Fatalf("first session should be notified, got %v", h1.loginElsewhere)
	}
	if !h1.closed {
		t.Fatal("first session should be force-closed")
	}

	sessions := b.SessionsOfUser("u-1")
	if len(sessions) != 1 || sessions[0] != bs2 {
		t.Fatalf("registry should only hold the new session, got %d", len(sessions))
	}
}

func TestLoginDuplicateKeepsBoth(t *testing.T) {
	b := NewBackend(newFakeUserStore(testUser("u-1", "a@example.com")), nil)

	h1 := &recordingBackendHandler{}
	bs1, _ := b.Login("u-1", ClientInfo{}, h1, LoginOptionDuplicate)
	bs1.SetFrontData("msn_pop_id", "AAAA-1111")

	h2 := &recordingBackendHandler{}
	bs2, _ := b.Login("u-1", ClientInfo{}, h2, LoginOptionDuplicate)
	bs2.SetFrontData("msn_pop_id", "BBBB-2222")

	if len(h1.loginElsewhere) != 0 {
		t.Fatal("duplicate login must not notify existing sessions")
	}
	if len(b.SessionsOfUser("u-1")) != 2 {
		t.Fatal("both sessions should stay registered")
	}

	// 端点 id 匹配不区分大小写
	if got := b.FindSession("u-1", "aaaa-1111"); got != bs1 {
		t.Fatal("FindSession should match pop id case-insensitively")
	}
	if got := b.FindSession("u-1", "BBBB-2222"); got != bs2 {
		t.Fatal("FindSession should find second endpoint")
	}
	if got := b.FindSession("u-1", "CCCC-3333"); got != nil {
		t.Fatal("unknown pop id should not resolve")
	}
}

func TestResolveEmail(t *testing.T) {
	b := NewBackend(newFakeUserStore(testUser("u-1", "a@example.com")), nil)
	if got := b.ResolveEmail("a@example.com"); got != "u-1" {
		t.Fatalf("ResolveEmail = %q", got)
	}
	if got := b.ResolveEmail("missing@example.com"); got != "" {
		t.Fatalf("unknown email should resolve to empty, got %q", got)
	}
}

func TestSessionCloseRemovesFromRegistry(t *testing.T) {
	b := NewBackend(newFakeUserStore(testUser("u-1", "a@example.com")), nil)
	h := &recordingBackendHandler{}
	bs, _ := b.Login("u-1", ClientInfo{}, h, LoginOptionDuplicate)

	bs.Close()
	bs.Close() // 幂等

	if !h.closed {
		t.Fatal("OnClose should fire once")
	}
	if len(b.SessionsOfUser("u-1")) != 0 {
		t.Fatal("closed session must leave the registry")
	}
}
