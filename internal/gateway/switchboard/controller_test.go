package switchboard

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"legacy_chat_server/internal/service/auth"
	"legacy_chat_server/internal/service/backend"
	"legacy_chat_server/pkg/errorx"
)

// ---- 测试替身 ----

// stubTokenService 过期时间完全可控的令牌服务
// 时效窗口的判定无法靠真实存储在测试里触发，这里直接摆好过期时间
type stubTokenService struct {
	mu     sync.Mutex
	tokens map[string]stubToken
	pops   map[string]int
}

type stubToken struct {
	payload auth.TokenPayload
	expiry  time.Time
}

func newStubTokens() *stubTokenService {
	return &stubTokenService{
		tokens: make(map[string]stubToken),
		pops:   make(map[string]int),
	}
}

func (s *stubTokenService) put(purpose, token string, payload auth.TokenPayload, expiry time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[purpose+":"+token] = stubToken{payload: payload, expiry: expiry}
}

func (s *stubTokenService) popCount(purpose, token string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pops[purpose+":"+token]
}

func (s *stubTokenService) CreateToken(ctx context.Context, purpose string, payload auth.TokenPayload, lifetime time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := fmt.Sprintf("stub-%d", len(s.tokens)+1)
	s.tokens[purpose+":"+token] = stubToken{payload: payload, expiry: time.Now().Add(lifetime)}
	return token, nil
}

func (s *stubTokenService) GetToken(ctx context.Context, purpose, token string) (*auth.TokenPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.tokens[purpose+":"+token]
	if !ok {
		return nil, auth.ErrTokenNotFound
	}
	payload := entry.payload
	return &payload, nil
}

func (s *stubTokenService) GetTokenExpiry(ctx context.Context, purpose, token string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.tokens[purpose+":"+token]
	if !ok {
		return time.Time{}, auth.ErrTokenNotFound
	}
	return entry.expiry, nil
}

func (s *stubTokenService) PopToken(ctx context.Context, purpose, token string) (*auth.TokenPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := purpose + ":" + token
	entry, ok := s.tokens[key]
	if !ok {
		return nil, auth.ErrTokenNotFound
	}
	delete(s.tokens, key)
	s.pops[key]++
	payload := entry.payload
	return &payload, nil
}

// wireUserStore 内存用户表
type wireUserStore struct {
	users map[string]*backend.User
}

func (s *wireUserStore) GetUser(uuid string) (*backend.User, error) {
	u, ok := s.users[uuid]
	if !ok {
		return nil, errorx.New(errorx.CodeNotFound, "no such user")
	}
	copied := *u
	status := *u.Status
	copied.Status = &status
	return &copied, nil
}

func (s *wireUserStore) GetUserDetail(uuid string) (*backend.UserDetail, error) {
	return nil, errorx.New(errorx.CodeNotFound, "no detail")
}

func (s *wireUserStore) GetUUIDFromEmail(email string) (string, error) {
	for uuid, u := range s.users {
		if u.Email == email {
			return uuid, nil
		}
	}
	return "", errorx.New(errorx.CodeNotFound, "no such email")
}

type silentBackendHandler struct {
	backend.BackendEventHandlerBase
}

func (h *silentBackendHandler) OnPresenceNotification(*backend.BackendSession, *backend.Contact, bool, backend.PresenceOptions) {
}
func (h *silentBackendHandler) OnPresenceSelfNotification()                           {}
func (h *silentBackendHandler) OnChatInvite(*backend.Chat, *backend.User, backend.ChatInviteOptions) {
}
func (h *silentBackendHandler) OnAddedMe(*backend.User, string, string)               {}
func (h *silentBackendHandler) OnContactRequestDenied(*backend.User, string, string)  {}
func (h *silentBackendHandler) OnLoginElsewhere(backend.LoginOption)                  {}
func (h *silentBackendHandler) OnOIMSent(*backend.OIM)                                {}
func (h *silentBackendHandler) OnGroupChatCreated(string)                             {}
func (h *silentBackendHandler) OnGroupChatRoleUpdated(string, backend.GroupChatRole)  {}

type silentChatHandler struct {
	backend.ChatEventHandlerBase
}

func (h *silentChatHandler) OnParticipantPresence(*backend.ChatSession, bool)      {}
func (h *silentChatHandler) OnParticipantJoined(*backend.ChatSession, bool)        {}
func (h *silentChatHandler) OnParticipantLeft(*backend.ChatSession, bool, bool)    {}
func (h *silentChatHandler) OnParticipantStatusUpdated(*backend.ChatSession)       {}
func (h *silentChatHandler) OnInviteDeclined(*backend.User, string, string)        {}
func (h *silentChatHandler) OnMessage(*backend.MessageData)                        {}

// ---- 共享脚手架（misc_test.go 也在用） ----

func testBackend(t *testing.T) *backend.Backend {
	t.Helper()
	store := &wireUserStore{users: map[string]*backend.User{
		"u-1": {Uuid: "u-1", Email: "alice@example.com", Verified: true, Status: &backend.UserStatus{Name: "Alice"}},
		"u-2": {Uuid: "u-2", Email: "bob@example.com", Verified: true, Status: &backend.UserStatus{Name: "Bob"}},
	}}
	return backend.NewBackend(store, nil)
}

func testLogin(t *testing.T, b *backend.Backend, uuid string) *backend.BackendSession {
	t.Helper()
	bs, err := b.Login(uuid, backend.ClientInfo{Program: "testsuite", Via: "direct"}, &silentBackendHandler{}, backend.LoginOptionDuplicate)
	if err != nil {
		t.Fatalf("Login(%s): %v", uuid, err)
	}
	return bs
}

func testLoginPop(t *testing.T, b *backend.Backend, uuid, popID string) *backend.BackendSession {
	t.Helper()
	bs := testLogin(t, b, uuid)
	bs.SetFrontData(frontDataKeyPopID, popID)
	return bs
}

// wireClient 管道另一端的模拟客户端
type wireClient struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dialController(t *testing.T, b *backend.Backend, tokens auth.TokenService) *wireClient {
	t.Helper()
	client, server := net.Pipe()
	ctrl := NewController(b, tokens, server, time.Minute)
	go ctrl.Run()
	t.Cleanup(func() { _ = client.Close() })
	return &wireClient{t: t, conn: client, r: bufio.NewReader(client)}
}

func (c *wireClient) send(raw string) {
	c.t.Helper()
	_ = c.conn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := c.conn.Write([]byte(raw)); err != nil {
		c.t.Fatalf("write %q: %v", raw, err)
	}
}

func (c *wireClient) readLine() string {
	c.t.Helper()
	_ = c.conn.SetDeadline(time.Now().Add(2 * time.Second))
	line, err := c.r.ReadString('\n')
	if err != nil {
		c.t.Fatalf("read line: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

func (c *wireClient) expectLine(want string) {
	c.t.Helper()
	if got := c.readLine(); got != want {
		c.t.Fatalf("got %q, want %q", got, want)
	}
}

// expectClosed 连接必须已断开且没有残留帧
func (c *wireClient) expectClosed() {
	c.t.Helper()
	_ = c.conn.SetDeadline(time.Now().Add(2 * time.Second))
	if b, err := c.r.ReadByte(); err == nil {
		c.t.Fatalf("expected closed connection, got byte %q", b)
	}
}

// transferHandshake 完成转接握手，返回已就绪的客户端
func transferHandshake(t *testing.T, b *backend.Backend, tokens *stubTokenService, bs *backend.BackendSession, dialect int) *wireClient {
	t.Helper()
	tokens.put(auth.PurposeTransfer, "tok-t", auth.TokenPayload{
		UserUuid: bs.User().Uuid,
		PopID:    bs.PopID(),
		Dialect:  dialect,
	}, time.Now().Add(time.Minute))

	c := dialController(t, b, tokens)
	arg := encodeEmailPop(bs.User().Email, bs.PopID())
	c.send("USR 1 " + arg + " tok-t\r\n")
	c.expectLine("USR 1 OK " + arg + " " + bs.User().DisplayName())
	return c
}

// ---- 用例 ----

func TestTransferHandshake(t *testing.T) {
	b := testBackend(t)
	tokens := newStubTokens()
	bs := testLogin(t, b, "u-1")

	transferHandshake(t, b, tokens, bs, 12)

	if tokens.popCount(auth.PurposeTransfer, "tok-t") != 1 {
		t.Fatal("transfer token must be consumed exactly once")
	}
	if len(bs.ChatSessions()) != 1 {
		t.Fatalf("chat sessions = %d", len(bs.ChatSessions()))
	}
}

func TestTransferBadToken(t *testing.T) {
	b := testBackend(t)
	tokens := newStubTokens()
	testLogin(t, b, "u-1")

	c := dialController(t, b, tokens)
	c.send("USR 1 alice@example.com no-such-token\r\n")
	c.expectLine("911 1")
	c.expectClosed()
}

func TestCallInRosterOrdinals(t *testing.T) {
	b := testBackend(t)
	tokens := newStubTokens()

	// 甲方两个终端先后入会，乙方随后呼入
	bsA1 := testLoginPop(t, b, "u-1", "AAAA")
	bsA2 := testLoginPop(t, b, "u-1", "BBBB")
	testLogin(t, b, "u-2")

	chat := b.ChatCreate()
	if _, err := chat.Join(ProtocolName, bsA1, &silentChatHandler{}, "AAAA"); err != nil {
		t.Fatalf("join A1: %v", err)
	}
	if _, err := chat.Join(ProtocolName, bsA2, &silentChatHandler{}, "BBBB"); err != nil {
		t.Fatalf("join A2: %v", err)
	}

	tokens.put(auth.PurposeCallIn, "tok-c", auth.TokenPayload{
		UserUuid:   "u-2",
		Dialect:    18,
		ChatMainID: chat.MainID,
	}, time.Now().Add(time.Minute))

	c := dialController(t, b, tokens)
	c.send("ANS 1 bob@example.com tok-c " + strconv.FormatInt(chat.MainID, 10) + "\r\n")

	// 同一用户的端点连续排列、主端点排最后并补发一行旧式行
	c.expectLine("IRO 1 4 alice@example.com;{BBBB} Alice 1073741824:0")
	c.expectLine("IRO 2 4 alice@example.com;{AAAA} Alice 1073741824:0")
	c.expectLine("IRO 3 4 alice@example.com Alice 1073741824:0")
	c.expectLine("IRO 4 4 bob@example.com Bob 1073741824:0")
	c.expectLine("ANS 1 OK")

	if tokens.popCount(auth.PurposeCallIn, "tok-c") != 1 {
		t.Fatal("call-in token must be consumed exactly once")
	}
}

func TestCallInStaleToken(t *testing.T) {
	b := testBackend(t)
	tokens := newStubTokens()
	testLogin(t, b, "u-2")

	chat := b.ChatCreate()

	// 逻辑过期超过时效窗口：令牌仍在存储里，但必须被拒绝
	tokens.put(auth.PurposeCallIn, "tok-stale", auth.TokenPayload{
		UserUuid:   "u-2",
		Dialect:    18,
		ChatMainID: chat.MainID,
	}, time.Now().Add(-61*time.Second))

	c := dialController(t, b, tokens)
	c.send("ANS 1 bob@example.com tok-stale " + strconv.FormatInt(chat.MainID, 10) + "\r\n")
	c.expectClosed()

	// 拒绝之前令牌已被消费，重放也无法通过
	if tokens.popCount(auth.PurposeCallIn, "tok-stale") != 1 {
		t.Fatal("stale token must still be consumed")
	}
}

func TestCallInSessionMismatch(t *testing.T) {
	b := testBackend(t)
	tokens := newStubTokens()
	testLogin(t, b, "u-2")

	chat := b.ChatCreate()
	tokens.put(auth.PurposeCallIn, "tok-m", auth.TokenPayload{
		UserUuid:   "u-2",
		Dialect:    18,
		ChatMainID: chat.MainID,
	}, time.Now().Add(time.Minute))

	c := dialController(t, b, tokens)
	wrongID := strconv.FormatInt(chat.MainID+1, 10)
	c.send("ANS 1 bob@example.com tok-m " + wrongID + "\r\n")
	c.expectClosed()
}

func TestOversizedMessageHardClose(t *testing.T) {
	b := testBackend(t)
	tokens := newStubTokens()
	bs := testLogin(t, b, "u-1")

	c := transferHandshake(t, b, tokens, bs, 12)

	payload := strings.Repeat("x", 1665)
	c.send("MSG 2 A " + strconv.Itoa(len(payload)) + "\r\n" + payload)
	c.expectClosed()
}

func TestMessageAckModes(t *testing.T) {
	b := testBackend(t)
	tokens := newStubTokens()
	bs := testLogin(t, b, "u-1")

	c := transferHandshake(t, b, tokens, bs, 12)

	body := "MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\nhi"

	// A: 成功必须应答
	c.send("MSG 2 A " + strconv.Itoa(len(body)) + "\r\n" + body)
	c.expectLine("ACK 2")

	// U: 无论成败都不应答；用一条必然报错的命令探测顺序
	c.send("MSG 3 U " + strconv.Itoa(len(body)) + "\r\n" + body)
	c.send("CAL 4 not-an-address\r\n")
	c.expectLine("208 4")
}

func TestInviteOfflineContact(t *testing.T) {
	b := testBackend(t)
	tokens := newStubTokens()
	bs := testLogin(t, b, "u-1")

	c := transferHandshake(t, b, tokens, bs, 18)

	// 乙方存在但不在线
	c.send("CAL 2 bob@example.com\r\n")
	c.expectLine("217 2")
}

func TestInviteSelfShim(t *testing.T) {
	b := testBackend(t)
	tokens := newStubTokens()
	bs := testLoginPop(t, b, "u-1", "AAAA")

	c := transferHandshake(t, b, tokens, bs, 18)
	mainID := bs.ChatSessions()[0].Chat().MainID

	// 2009 世代客户端开房时会 CAL 自己，必须被哄成功
	c.send("CAL 2 alice@example.com\r\n")
	c.expectLine("CAL 2 RINGING " + strconv.FormatInt(mainID, 10))
	c.expectLine("JOI alice@example.com;{AAAA} Alice 1073741824:0")
	c.expectLine("JOI alice@example.com Alice 1073741824:0")
}

func TestGoodbyeCommand(t *testing.T) {
	b := testBackend(t)
	tokens := newStubTokens()
	bs := testLogin(t, b, "u-1")

	c := transferHandshake(t, b, tokens, bs, 12)

	c.send("OUT\r\n")
	c.expectLine("OUT")
	c.expectClosed()

	if len(bs.ChatSessions()) != 0 {
		t.Fatal("leaving must detach the chat session")
	}
}
