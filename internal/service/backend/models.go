// Package backend 实现共享的在线会话/聊天室模型
// 各协议前端通过事件契约接入同一套用户、在线状态与聊天室抽象
package backend

import (
	"sync"
	"time"
)

// Substatus 在线子状态
type Substatus int

const (
	SubstatusOffline Substatus = iota
	SubstatusOnline
	SubstatusBusy
	SubstatusIdle
	SubstatusBRB
	SubstatusAway
	SubstatusOnPhone
	SubstatusOutToLunch
	SubstatusInvisible
)

// IsOfflineish 是否属于"看起来离线"的状态
// 离线与隐身对外表现一致，邀请入会前的在线检查据此判定
func (s Substatus) IsOfflineish() bool {
	return s == SubstatusOffline || s == SubstatusInvisible
}

// UserStatus 用户对外展示的状态
type UserStatus struct {
	Substatus Substatus
	Name      string // 展示名，为空时回退到邮箱
	Message   string // 个性签名
}

// User 一个注册身份
// 由持久化层拥有，会话只引用不拥有
type User struct {
	Uuid     string
	Email    string
	Verified bool
	Status   *UserStatus
	Detail   *UserDetail // 在线时由持久化层填充，离线为 nil
}

// DisplayName 展示名，未设置时回退到邮箱
func (u *User) DisplayName() string {
	if u.Status != nil && u.Status.Name != "" {
		return u.Status.Name
	}
	return u.Email
}

// UserDetail 用户的名单明细
type UserDetail struct {
	Contacts map[string]*Contact // key 为联系人 uuid
}

// 名单位掩码
const (
	ListFL uint8 = 1 << iota // 前向名单
	ListAL                   // 允许名单
	ListBL                   // 屏蔽名单
	ListRL                   // 反向名单
)

// Contact 名单上的一个联系人
type Contact struct {
	User    *User
	Uuid    string
	Lists   uint8
	Name    string
	Message string
}

// Status 联系人的实时状态（透传被引用用户的状态）
func (c *Contact) Status() *UserStatus {
	if c.User == nil {
		return nil
	}
	return c.User.Status
}

// ClientInfo 客户端描述
type ClientInfo struct {
	Program string // 客户端程序标识
	Version string // 客户端版本
	Via     string // 接入来源，如 "direct"、网关名
}

// LoginOption 重复登录时对既有会话的处理方式
type LoginOption int

const (
	// LoginOptionBootOthers 踢掉同身份的既有会话
	LoginOptionBootOthers LoginOption = iota
	// LoginOptionNotifyOthers 通知既有会话但不踢掉
	LoginOptionNotifyOthers
	// LoginOptionDuplicate 允许并存（多端登录）
	LoginOptionDuplicate
)

// MessageType 协议中立的消息类型
type MessageType int

const (
	MessageTypeChat MessageType = iota
	MessageTypeTyping
	MessageTypeTypingDone
	MessageTypeNudge
)

// MessageData 协议中立的聊天消息
// 每次发送创建一条；按目标协议的线上编码惰性计算并缓存，
// 多人扇出时同一协议的接收者复用缓存
type MessageData struct {
	Sender      *User
	SenderPopID string // 发送端点 id，可为空
	Type        MessageType
	Text        string

	mu         sync.Mutex
	frontCache map[string][]byte // 协议名 -> 线上编码
}

// NewMessageData 创建消息
func NewMessageData(sender *User, senderPopID string, msgType MessageType, text string) *MessageData {
	return &MessageData{
		Sender:      sender,
		SenderPopID: senderPopID,
		Type:        msgType,
		Text:        text,
	}
}

// CachedWire 取某协议的已缓存线上编码
func (m *MessageData) CachedWire(protocol string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wire, ok := m.frontCache[protocol]
	return wire, ok
}

// SetCachedWire 缓存某协议的线上编码
func (m *MessageData) SetCachedWire(protocol string, wire []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frontCache == nil {
		m.frontCache = make(map[string][]byte)
	}
	m.frontCache[protocol] = wire
}

// OIM 离线消息值对象
type OIM struct {
	Uuid             string
	RunId            string
	FromEmail        string
	FromFriendly     string
	FriendlyEncoding string
	FriendlyCharset  string
	RecipientUuid    string
	RecipientEmail   string
	SentAt           time.Time
	Text             string
	Utf8             bool
	Headers          map[string]string
	OriginIp         string
	Proxy            string
	IsRead           bool
}

// GroupChatRole 持久化群聊中的成员角色
type GroupChatRole int8

const (
	GroupChatRoleMember GroupChatRole = 1
	GroupChatRoleAdmin  GroupChatRole = 2
)

// GroupChatState 持久化群聊中的成员状态
type GroupChatState int8

const (
	GroupChatStatePending  GroupChatState = 0
	GroupChatStateAccepted GroupChatState = 1
	GroupChatStateRejected GroupChatState = 2
)
