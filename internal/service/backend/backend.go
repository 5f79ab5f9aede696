package backend

import (
	"fmt"
	"sync"

	"legacy_chat_server/pkg/errorx"
	"legacy_chat_server/pkg/util/snowflake"

	"go.uber.org/zap"
)

// UserStore 持久化层契约
// Backend 只依赖接口，具体实现由 user service 提供
type UserStore interface {
	// GetUser 取用户基本信息，不存在返回 CodeNotFound
	GetUser(uuid string) (*User, error)
	// GetUserDetail 取用户名单明细
	GetUserDetail(uuid string) (*UserDetail, error)
	// GetUUIDFromEmail 邮箱解析为 uuid，不存在返回 CodeNotFound
	GetUUIDFromEmail(email string) (string, error)
}

// StatsRecorder 使用统计契约
// 登录、登出、消息收发时打点；实现可能落到 Kafka，也可能是空操作
type StatsRecorder interface {
	OnLogin(user *User, client ClientInfo)
	OnLogout(user *User, client ClientInfo)
	OnMessageSent(user *User, client ClientInfo)
	OnMessageReceived(user *User, client ClientInfo)
}

// Backend 进程级在线注册表
// 管理全部在线会话与聊天室；注册表的变更全部在内部互斥锁下
// 串行化，事件回调在锁外派发
type Backend struct {
	userStore UserStore
	stats     StatsRecorder

	mu             sync.Mutex
	sessionsByUser map[string][]*BackendSession // 用户 uuid -> 在线会话
	chatsByLocalID map[string]*Chat             // "协议名:房间本地id" -> 聊天室
	chatsByMain    map[int64]*Chat              // 主编号 -> 聊天室
}

// NewBackend 创建在线注册表
func NewBackend(userStore UserStore, stats StatsRecorder) *Backend {
	if stats == nil {
		stats = NopStats{}
	}
	return &Backend{
		userStore:      userStore,
		stats:          stats,
		sessionsByUser: make(map[string][]*BackendSession),
		chatsByLocalID: make(map[string]*Chat),
		chatsByMain:    make(map[int64]*Chat),
	}
}

// NopStats StatsRecorder 的空实现
type NopStats struct{}

func (NopStats) OnLogin(*User, ClientInfo)           {}
func (NopStats) OnLogout(*User, ClientInfo)          {}
func (NopStats) OnMessageSent(*User, ClientInfo)     {}
func (NopStats) OnMessageReceived(*User, ClientInfo) {}

// dispatchEvent 在锁外派发事件回调
// 前端回调抛出的 panic 在此兜底，不能影响注册表一致性
func dispatchEvent(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("event handler panic", zap.String("event", name), zap.Any("recover", r))
		}
	}()
	fn()
}

// Login 认证成功后建立设备级会话
// option 控制与既有会话的关系：
//   - BootOthers: 既有会话收到 OnLoginElsewhere 后被强制关闭
//   - NotifyOthers: 既有会话收到通知但保持在线
//   - Duplicate: 多端并存，互不干扰
func (b *Backend) Login(uuid string, client ClientInfo, evt BackendEventHandler, option LoginOption) (*BackendSession, error) {
	user, err := b.userStore.GetUser(uuid)
	if err != nil {
		if errorx.IsNotFound(err) {
			return nil, errorx.ErrUserNotExist
		}
		return nil, err
	}
	detail, err := b.userStore.GetUserDetail(uuid)
	if err != nil && !errorx.IsNotFound(err) {
		return nil, err
	}
	user.Detail = detail
	if user.Status == nil {
		user.Status = &UserStatus{}
	}
	// 持久化层给出的是离线快照，登录即转为在线
	user.Status.Substatus = SubstatusOnline

	bs := &BackendSession{
		backend:      b,
		user:         user,
		client:       client,
		evt:          evt,
		frontData:    make(map[string]any),
		chatSessions: make(map[*ChatSession]struct{}),
	}
	evt.BindBackendSession(bs)

	b.mu.Lock()
	existing := append([]*BackendSession(nil), b.sessionsByUser[uuid]...)
	b.sessionsByUser[uuid] = append(b.sessionsByUser[uuid], bs)
	b.mu.Unlock()

	if option != LoginOptionDuplicate {
		for _, other := range existing {
			o := other
			dispatchEvent("OnLoginElsewhere", func() { o.evt.OnLoginElsewhere(option) })
			if option == LoginOptionBootOthers {
				o.Close()
			}
		}
	}

	dispatchEvent("OnOpen", evt.OnOpen)
	b.stats.OnLogin(user, client)
	return bs, nil
}

// removeSession 从注册表移除会话，返回是否确实移除
func (b *Backend) removeSession(bs *BackendSession) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	sessions := b.sessionsByUser[bs.user.Uuid]
	for i, s := range sessions {
		if s == bs {
			b.sessionsByUser[bs.user.Uuid] = append(sessions[:i], sessions[i+1:]...)
			if len(b.sessionsByUser[bs.user.Uuid]) == 0 {
				delete(b.sessionsByUser, bs.user.Uuid)
			}
			return true
		}
	}
	return false
}

// ChatCreate 按需创建聊天室并登记主编号
func (b *Backend) ChatCreate() *Chat {
	chat := &Chat{
		backend: b,
		MainID:  snowflake.GenerateID(),
		ids:     make(map[string]string),
		invited: make(map[string]bool),
	}
	b.mu.Lock()
	b.chatsByMain[chat.MainID] = chat
	b.mu.Unlock()
	return chat
}

// ChatGet 按协议本地 id 查找聊天室
func (b *Backend) ChatGet(protocol, localID string) *Chat {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chatsByLocalID[protocol+":"+localID]
}

// ChatGetByMain 按主编号查找聊天室
func (b *Backend) ChatGetByMain(mainID int64) *Chat {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chatsByMain[mainID]
}

// registerChatLocalID 登记聊天室的协议本地 id
func (b *Backend) registerChatLocalID(chat *Chat, protocol, localID string) {
	b.mu.Lock()
	b.chatsByLocalID[protocol+":"+localID] = chat
	b.mu.Unlock()
}

// removeChat 从注册表移除聊天室（花名册清空后的回收）
func (b *Backend) removeChat(chat *Chat) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.chatsByMain, chat.MainID)
	for protocol, localID := range chat.ids {
		delete(b.chatsByLocalID, protocol+":"+localID)
	}
}

// ResolveEmail 邮箱解析为用户 uuid，找不到返回空串
func (b *Backend) ResolveEmail(email string) string {
	uuid, err := b.userStore.GetUUIDFromEmail(email)
	if err != nil {
		return ""
	}
	return uuid
}

// LoadUser 按 uuid 取用户记录，找不到返回 nil
func (b *Backend) LoadUser(uuid string) *User {
	user, err := b.userStore.GetUser(uuid)
	if err != nil {
		return nil
	}
	return user
}

// FindSession 查找某用户某端点的在线会话
// popID 为空时返回该用户的首个会话；端点 id 匹配不区分大小写
func (b *Backend) FindSession(uuid, popID string) *BackendSession {
	b.mu.Lock()
	sessions := append([]*BackendSession(nil), b.sessionsByUser[uuid]...)
	b.mu.Unlock()
	if len(sessions) == 0 {
		return nil
	}
	if popID == "" {
		return sessions[0]
	}
	for _, bs := range sessions {
		if equalFold(bs.PopID(), popID) {
			return bs
		}
	}
	return nil
}

// SessionsOfUser 某用户当前的全部在线会话
func (b *Backend) SessionsOfUser(uuid string) []*BackendSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*BackendSession(nil), b.sessionsByUser[uuid]...)
}

// ListSessions 全部在线会话快照（管理接口用）
func (b *Backend) ListSessions() []*BackendSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*BackendSession
	for _, sessions := range b.sessionsByUser {
		out = append(out, sessions...)
	}
	return out
}

// ListChats 全部在线聊天室快照（管理接口用）
func (b *Backend) ListChats() []*Chat {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Chat, 0, len(b.chatsByMain))
	for _, chat := range b.chatsByMain {
		out = append(out, chat)
	}
	return out
}

// NotifyMaintenance 广播维护下线通知
func (b *Backend) NotifyMaintenance() {
	for _, bs := range b.ListSessions() {
		s := bs
		dispatchEvent("OnMaintenanceBoot", func() { s.evt.OnMaintenanceBoot() })
	}
}

// equalFold ASCII 大小写不敏感比较
func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// BackendSession 一条已认证的设备级连接
type BackendSession struct {
	backend *Backend
	user    *User
	client  ClientInfo
	evt     BackendEventHandler

	mu           sync.Mutex
	frontData    map[string]any // 前端私有键值（能力位、端点 id 等）
	chatSessions map[*ChatSession]struct{}
	closed       bool
}

// User 会话所属用户
func (bs *BackendSession) User() *User { return bs.user }

// Client 客户端描述
func (bs *BackendSession) Client() ClientInfo { return bs.client }

// Backend 所属注册表
func (bs *BackendSession) Backend() *Backend { return bs.backend }

// GetFrontData 读前端私有数据
func (bs *BackendSession) GetFrontData(key string) any {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.frontData[key]
}

// SetFrontData 写前端私有数据
func (bs *BackendSession) SetFrontData(key string, value any) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.frontData[key] = value
}

// PopID 本会话的端点 id，未设置返回空串
func (bs *BackendSession) PopID() string {
	if v, ok := bs.GetFrontData("msn_pop_id").(string); ok {
		return v
	}
	return ""
}

// String 日志用摘要
func (bs *BackendSession) String() string {
	return fmt.Sprintf("BackendSession(user=%s pop=%s via=%s)", bs.user.Email, bs.PopID(), bs.client.Via)
}

// attachChatSession 登记一条入会记录
func (bs *BackendSession) attachChatSession(cs *ChatSession) {
	bs.mu.Lock()
	bs.chatSessions[cs] = struct{}{}
	bs.mu.Unlock()
}

// detachChatSession 摘除一条入会记录
func (bs *BackendSession) detachChatSession(cs *ChatSession) {
	bs.mu.Lock()
	delete(bs.chatSessions, cs)
	bs.mu.Unlock()
}

// ChatSessions 当前全部入会记录快照
func (bs *BackendSession) ChatSessions() []*ChatSession {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	out := make([]*ChatSession, 0, len(bs.chatSessions))
	for cs := range bs.chatSessions {
		out = append(out, cs)
	}
	return out
}

// Close 关闭会话
// 同步完成注册表摘除与全部入会记录的关闭，返回后不会再有
// 事件到达本会话的 handler
func (bs *BackendSession) Close() {
	bs.mu.Lock()
	if bs.closed {
		bs.mu.Unlock()
		return
	}
	bs.closed = true
	bs.mu.Unlock()

	for _, cs := range bs.ChatSessions() {
		cs.Close(false, false)
	}
	bs.backend.removeSession(bs)

	dispatchEvent("OnClose", bs.evt.OnClose)
	bs.backend.stats.OnLogout(bs.user, bs.client)
}
