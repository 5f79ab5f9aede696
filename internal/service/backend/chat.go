package backend

import (
	"sync"

	"legacy_chat_server/pkg/errorx"
)

// Chat 一间在线聊天室
// 同一间房可以被多个协议以各自的本地 id 寻址；花名册保持
// 稳定的插入顺序，扇出算法依赖这一顺序
type Chat struct {
	backend *Backend

	// MainID 房间主编号，线协议中的数字会话号
	MainID int64

	mu            sync.Mutex
	ids           map[string]string // 协议名 -> 本地房间 id
	roster        []*ChatSession
	invited       map[string]bool // 受邀用户 uuid 集合
	requireInvite bool            // 入会是否需要邀请
	closed        bool
}

// RegisterID 登记某协议的本地房间 id
func (c *Chat) RegisterID(protocol, localID string) {
	c.mu.Lock()
	c.ids[protocol] = localID
	c.mu.Unlock()
	c.backend.registerChatLocalID(c, protocol, localID)
}

// LocalID 取某协议的本地房间 id
func (c *Chat) LocalID(protocol string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ids[protocol]
}

// SetRequireInvite 设定入会策略
func (c *Chat) SetRequireInvite(require bool) {
	c.mu.Lock()
	c.requireInvite = require
	c.mu.Unlock()
}

// Join 把一条设备级会话加入花名册
// popID 为该端点的设备 id，设备无感知的协议传空串。
// 入会策略不允许时返回 ErrPolicyDenied（类型化错误，调用方
// 映射为协议侧错误码）；同一端点重复入会返回 ErrAlreadyJoined
func (c *Chat) Join(protocol string, bs *BackendSession, evt ChatEventHandler, popID string) (*ChatSession, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errorx.ErrPolicyDenied
	}

	userHasEntry := false
	for _, other := range c.roster {
		if other.bs == bs && other.popID == popID {
			c.mu.Unlock()
			return nil, errorx.ErrAlreadyJoined
		}
		if other.user.Uuid == bs.user.Uuid {
			userHasEntry = true
		}
	}

	// 空房间的首个进入者是房间创建方，不受邀请策略约束
	if c.requireInvite && len(c.roster) > 0 && !userHasEntry && !c.invited[bs.user.Uuid] {
		c.mu.Unlock()
		return nil, errorx.ErrPolicyDenied
	}

	cs := &ChatSession{
		chat:       c,
		bs:         bs,
		user:       bs.user,
		evt:        evt,
		popID:      popID,
		primaryPop: !userHasEntry,
	}
	c.roster = append(c.roster, cs)
	c.mu.Unlock()

	bs.attachChatSession(cs)
	evt.BindChatSession(cs)
	dispatchEvent("OnOpen", evt.OnOpen)
	return cs, nil
}

// GetRoster 花名册快照，保持插入顺序
func (c *Chat) GetRoster() []*ChatSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*ChatSession(nil), c.roster...)
}

// GetRosterSingle 花名册按用户去重后的快照
// 每个用户取其主端点（主端点已离开时取该用户剩余的首个端点），
// 顺序与用户在花名册上首次出现的顺序一致
func (c *Chat) GetRosterSingle() []*ChatSession {
	c.mu.Lock()
	defer c.mu.Unlock()

	chosen := make(map[string]*ChatSession)
	var order []string
	for _, cs := range c.roster {
		if _, seen := chosen[cs.user.Uuid]; !seen {
			chosen[cs.user.Uuid] = cs
			order = append(order, cs.user.Uuid)
			continue
		}
		if cs.primaryPop {
			chosen[cs.user.Uuid] = cs
		}
	}
	out := make([]*ChatSession, 0, len(order))
	for _, uuid := range order {
		out = append(out, chosen[uuid])
	}
	return out
}

// SendParticipantJoined 向花名册其余成员广播入会事件
// firstPop 在锁内计算：仅当该用户此刻没有其他端点在册时为真，
// 设备无感知的协议据此做到每用户只看到一次加入
func (c *Chat) SendParticipantJoined(cs *ChatSession) {
	c.mu.Lock()
	firstPop := true
	var others []*ChatSession
	for _, other := range c.roster {
		if other == cs {
			continue
		}
		if other.user.Uuid == cs.user.Uuid {
			firstPop = false
		}
		others = append(others, other)
	}
	c.mu.Unlock()

	for _, other := range others {
		o := other
		dispatchEvent("OnParticipantJoined", func() { o.evt.OnParticipantJoined(cs, firstPop) })
	}
}

// onLeave 把一条入会记录移出花名册并广播离开事件
// 注册表变更先于事件派发；花名册清空后房间即被回收
func (c *Chat) onLeave(cs *ChatSession, idle bool) {
	c.mu.Lock()
	found := false
	lastPop := true
	var others []*ChatSession
	newRoster := c.roster[:0]
	for _, other := range c.roster {
		if other == cs {
			found = true
			continue
		}
		newRoster = append(newRoster, other)
		if other.user.Uuid == cs.user.Uuid {
			lastPop = false
		}
		others = append(others, other)
	}
	c.roster = newRoster
	empty := len(c.roster) == 0
	if empty {
		c.closed = true
	}
	c.mu.Unlock()

	if !found {
		return
	}
	for _, other := range others {
		o := other
		dispatchEvent("OnParticipantLeft", func() { o.evt.OnParticipantLeft(cs, idle, lastPop) })
	}
	if empty {
		c.backend.removeChat(c)
	}
}

// ChatSession 一个端点在一间房里的成员资格
type ChatSession struct {
	chat *Chat
	bs   *BackendSession
	user *User
	evt  ChatEventHandler

	popID      string
	primaryPop bool // 入会时该用户在册端点中的首个

	mu     sync.Mutex
	closed bool
}

// Chat 所在房间
func (cs *ChatSession) Chat() *Chat { return cs.chat }

// Bs 底层设备级会话
func (cs *ChatSession) Bs() *BackendSession { return cs.bs }

// User 所属用户
func (cs *ChatSession) User() *User { return cs.user }

// Evt 绑定的事件 handler
func (cs *ChatSession) Evt() ChatEventHandler { return cs.evt }

// PopID 端点 id，可为空
func (cs *ChatSession) PopID() string { return cs.popID }

// PrimaryPop 是否该用户的主端点
func (cs *ChatSession) PrimaryPop() bool { return cs.primaryPop }

// Invite 邀请一名用户入会
// 被邀请人已在册返回 ErrAlreadyOnList；没有任何在线会话返回
// ErrContactNotOnline；成功后向被邀请人的每个在线会话派发邀请
func (cs *ChatSession) Invite(invitee *User) error {
	c := cs.chat
	c.mu.Lock()
	for _, other := range c.roster {
		if other.user.Uuid == invitee.Uuid {
			c.mu.Unlock()
			return errorx.ErrAlreadyOnList
		}
	}
	c.mu.Unlock()

	sessions := c.backend.SessionsOfUser(invitee.Uuid)
	if len(sessions) == 0 {
		return errorx.ErrContactNotOnline
	}

	c.mu.Lock()
	c.invited[invitee.Uuid] = true
	c.mu.Unlock()

	for _, bsOther := range sessions {
		o := bsOther
		dispatchEvent("OnChatInvite", func() {
			o.evt.OnChatInvite(c, cs.user, ChatInviteOptions{})
		})
	}
	return nil
}

// SendMessageToEveryone 把消息扇出给花名册其余成员
// 同一用户的其他端点也会收到；发送方自身的这条入会记录除外
func (cs *ChatSession) SendMessageToEveryone(data *MessageData) {
	cs.chat.backend.stats.OnMessageSent(cs.user, cs.bs.client)
	for _, other := range cs.chat.GetRoster() {
		if other == cs {
			continue
		}
		o := other
		dispatchEvent("OnMessage", func() { o.evt.OnMessage(data) })
		cs.chat.backend.stats.OnMessageReceived(o.user, o.bs.client)
	}
}

// Close 结束这份成员资格
// keepFuture 表示允许将来重新加入；idle 表示因闲置超时关闭。
// 花名册摘除与计时器取消在返回前同步完成
func (cs *ChatSession) Close(keepFuture bool, idle bool) {
	cs.mu.Lock()
	if cs.closed {
		cs.mu.Unlock()
		return
	}
	cs.closed = true
	cs.mu.Unlock()

	cs.chat.onLeave(cs, idle)
	cs.bs.detachChatSession(cs)
	dispatchEvent("OnClose", func() { cs.evt.OnClose(keepFuture, idle) })
}
