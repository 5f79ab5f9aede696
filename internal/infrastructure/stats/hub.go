package stats

import (
	"encoding/json"
	"sync"
	"time"

	"legacy_chat_server/internal/service/backend"
	"legacy_chat_server/pkg/constants"

	"go.uber.org/zap"
)

// EventHub 进程内事件广播器
// 同样实现 StatsRecorder 契约；管理接口的 WebSocket 事件流
// 通过 Subscribe 挂上来，实时看到登录与消息打点
type EventHub struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

// NewEventHub 创建事件广播器
func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[chan []byte]struct{})}
}

// Subscribe 订阅事件流
// 返回只读通道和取消函数；取消后通道被关闭
func (h *EventHub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, constants.CHANNEL_SIZE)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// publish 向所有订阅者广播，慢订阅者丢弃不阻塞
func (h *EventHub) publish(kind string, user *backend.User, client backend.ClientInfo) {
	event := Event{
		Kind:      kind,
		UserUuid:  user.Uuid,
		UserEmail: user.Email,
		Program:   client.Program,
		Version:   client.Version,
		Via:       client.Via,
		At:        time.Now(),
	}
	value, err := json.Marshal(event)
	if err != nil {
		zap.L().Error("marshal hub event failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- value:
		default:
			// 订阅者消费不过来，丢弃这条
		}
	}
}

func (h *EventHub) OnLogin(user *backend.User, client backend.ClientInfo) {
	h.publish("login", user, client)
}

func (h *EventHub) OnLogout(user *backend.User, client backend.ClientInfo) {
	h.publish("logout", user, client)
}

func (h *EventHub) OnMessageSent(user *backend.User, client backend.ClientInfo) {
	h.publish("message_sent", user, client)
}

func (h *EventHub) OnMessageReceived(user *backend.User, client backend.ClientInfo) {
	h.publish("message_received", user, client)
}
