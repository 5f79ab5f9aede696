package backend

// 事件契约：前端接入共享模型必须实现的两组回调接口
//
// 设备级契约绑定到 BackendSession，聊天室级契约绑定到 ChatSession。
// 接口方法是强制实现的；可选钩子由可嵌入的 Base 结构提供空实现，
// 前端按需覆盖，协议私有的扩展不会泄漏进共享逻辑。
//
// 关于构造顺序：前端 handler 需要引用会话，会话又持有 handler，
// 存在环形依赖。采用两阶段模式：先构造 handler（此时引用为空），
// 登录/入会时由模型回调 Bind 方法注入引用，之后才会触发 OnOpen。

// PresenceOptions 状态通知的投递选项
type PresenceOptions struct {
	Trid             string // 关联的事务 id，可为空
	UpdateStatus     bool   // 是否刷新状态字段
	SendStatusOnBL   bool   // 屏蔽名单上是否仍然投递
	VisibleNotif     bool   // 是否弹出可见通知
	UpdatedPhoneInfo map[string]string
}

// ChatInviteOptions 入会邀请的附加信息
type ChatInviteOptions struct {
	GroupChat  bool   // 是否来自持久化群聊
	InviterID  string // 邀请人的协议侧 id，可为空
	InviteMsg  string // 邀请附言
}

// BackendEventHandler 设备级事件契约
// 每个协议前端的会话控制器实现一份
type BackendEventHandler interface {
	// BindBackendSession 两阶段构造的第二阶段，Login 内部调用
	BindBackendSession(bs *BackendSession)

	// OnPresenceNotification 名单上某联系人状态变化
	// bsOther 为触发变化的会话，离线触发时为 nil
	OnPresenceNotification(bsOther *BackendSession, ctc *Contact, onContactAdd bool, opts PresenceOptions)
	// OnPresenceSelfNotification 自身状态需要重新同步
	OnPresenceSelfNotification()
	// OnChatInvite 被邀请加入聊天室
	OnChatInvite(chat *Chat, inviter *User, opts ChatInviteOptions)
	// OnAddedMe 对方把我加入了名单
	OnAddedMe(user *User, adderID string, message string)
	// OnContactRequestDenied 对方拒绝了联系人请求
	OnContactRequestDenied(userAdded *User, message string, contactID string)
	// OnLoginElsewhere 同一身份在别处登录
	OnLoginElsewhere(option LoginOption)
	// OnOIMSent 收到一条离线消息投递通知
	OnOIMSent(oim *OIM)
	// OnGroupChatCreated 持久化群聊创建完成
	OnGroupChatCreated(chatID string)
	// OnGroupChatRoleUpdated 持久化群聊中自己的角色变化
	OnGroupChatRoleUpdated(chatID string, role GroupChatRole)

	// 可选钩子，空实现由 BackendEventHandlerBase 提供
	OnOpen()
	OnClose()
	OnSystemMessage(messageType int, minutes int)
	OnMaintenanceBoot()
	OnSyncContactStatuses()
}

// BackendEventHandlerBase 设备级契约的可嵌入基座
// 只提供可选钩子的空实现和 Bind；强制方法留给前端自己实现，
// 少实现任何一个都无法通过编译
type BackendEventHandlerBase struct {
	Bs *BackendSession
}

func (h *BackendEventHandlerBase) BindBackendSession(bs *BackendSession) { h.Bs = bs }

func (h *BackendEventHandlerBase) OnOpen()                                {}
func (h *BackendEventHandlerBase) OnClose()                               {}
func (h *BackendEventHandlerBase) OnSystemMessage(messageType, minutes int) {}
func (h *BackendEventHandlerBase) OnMaintenanceBoot()                     {}
func (h *BackendEventHandlerBase) OnSyncContactStatuses()                 {}

// ChatEventHandler 聊天室级事件契约
type ChatEventHandler interface {
	// BindChatSession 两阶段构造的第二阶段，Chat.Join 内部调用
	BindChatSession(cs *ChatSession)

	// OnParticipantPresence 室内某成员状态变化
	OnParticipantPresence(csOther *ChatSession, firstPop bool)
	// OnParticipantJoined 新成员加入
	// firstPop 仅当该用户此前没有任何端点在花名册上时为真
	OnParticipantJoined(csOther *ChatSession, firstPop bool)
	// OnParticipantLeft 成员离开
	// lastPop 仅当该用户移除后花名册上不再有任何端点时为真
	OnParticipantLeft(csOther *ChatSession, idle bool, lastPop bool)
	// OnParticipantStatusUpdated 成员展示状态更新
	OnParticipantStatusUpdated(csOther *ChatSession)
	// OnInviteDeclined 被邀请人拒绝加入
	OnInviteDeclined(invitedUser *User, invitedID string, message string)
	// OnMessage 收到室内消息
	OnMessage(data *MessageData)

	// 可选钩子
	OnOpen()
	OnClose(keepFuture bool, idle bool)
}

// ChatEventHandlerBase 聊天室级契约的可嵌入基座
type ChatEventHandlerBase struct {
	Cs *ChatSession
}

func (h *ChatEventHandlerBase) BindChatSession(cs *ChatSession) { h.Cs = cs }

func (h *ChatEventHandlerBase) OnOpen()                            {}
func (h *ChatEventHandlerBase) OnClose(keepFuture bool, idle bool) {}
