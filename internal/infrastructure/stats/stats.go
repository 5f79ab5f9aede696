// Package stats 使用统计打点
// 实现 backend.StatsRecorder 契约：登录、登出、消息收发事件
// 序列化后写入 Kafka，供离线统计管道消费
package stats

import (
	"context"
	"encoding/json"
	"time"

	"legacy_chat_server/internal/config"
	"legacy_chat_server/internal/service/backend"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Event 一条统计事件
type Event struct {
	Kind      string    `json:"kind"` // login / logout / message_sent / message_received
	UserUuid  string    `json:"userUuid"`
	UserEmail string    `json:"userEmail"`
	Program   string    `json:"program,omitempty"`
	Version   string    `json:"version,omitempty"`
	Via       string    `json:"via,omitempty"`
	At        time.Time `json:"at"`
}

// KafkaStats 把统计事件写入 Kafka 的 StatsRecorder 实现
type KafkaStats struct {
	producer *kafka.Writer
	timeout  time.Duration
}

// NewKafkaStats 按配置创建 Kafka 统计客户端
func NewKafkaStats() *KafkaStats {
	kafkaConfig := config.GetConfig().KafkaConfig
	timeout := kafkaConfig.Timeout * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &KafkaStats{
		producer: &kafka.Writer{
			Addr:                   kafka.TCP(kafkaConfig.HostPort),
			Topic:                  kafkaConfig.StatsTopic,
			Balancer:               &kafka.Hash{},
			WriteTimeout:           timeout,
			RequiredAcks:           kafka.RequireNone,
			AllowAutoTopicCreation: false,
		},
		timeout: timeout,
	}
}

// Close 关闭生产者
func (s *KafkaStats) Close() {
	if err := s.producer.Close(); err != nil {
		zap.L().Error(err.Error())
	}
}

// record 序列化并异步写入，打点失败只记日志不影响业务
func (s *KafkaStats) record(kind string, user *backend.User, client backend.ClientInfo) {
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
		zap.L().Error("marshal stats event failed", zap.Error(err))
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.producer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(user.Uuid),
			Value: value,
		}); err != nil {
			zap.L().Warn("write stats event failed", zap.String("kind", kind), zap.Error(err))
		}
	}()
}

func (s *KafkaStats) OnLogin(user *backend.User, client backend.ClientInfo) {
	s.record("login", user, client)
}

func (s *KafkaStats) OnLogout(user *backend.User, client backend.ClientInfo) {
	s.record("logout", user, client)
}

func (s *KafkaStats) OnMessageSent(user *backend.User, client backend.ClientInfo) {
	s.record("message_sent", user, client)
}

func (s *KafkaStats) OnMessageReceived(user *backend.User, client backend.ClientInfo) {
	s.record("message_received", user, client)
}

// Multi 把打点扇出到多个 StatsRecorder
// Kafka 管道与管理接口的实时事件流同时消费一份打点
type Multi []backend.StatsRecorder

func (m Multi) OnLogin(user *backend.User, client backend.ClientInfo) {
	for _, r := range m {
		r.OnLogin(user, client)
	}
}

func (m Multi) OnLogout(user *backend.User, client backend.ClientInfo) {
	for _, r := range m {
		r.OnLogout(user, client)
	}
}

func (m Multi) OnMessageSent(user *backend.User, client backend.ClientInfo) {
	for _, r := range m {
		r.OnMessageSent(user, client)
	}
}

func (m Multi) OnMessageReceived(user *backend.User, client backend.ClientInfo) {
	for _, r := range m {
		r.OnMessageReceived(user, client)
	}
}
