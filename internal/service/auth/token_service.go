// Package auth 提供交接令牌服务
// 调度服务器把用户转接到交换台、或邀请用户呼入会话时，签发一次性令牌；
// 交换台握手时消费令牌完成身份认证
package auth

import (
	"context"
	"time"

	"legacy_chat_server/internal/config"
	"legacy_chat_server/internal/dao/redis"
	"legacy_chat_server/pkg/errorx"
)

// 令牌用途命名空间
// 不同用途的令牌相互隔离，transfer 令牌不能当 call-in 令牌用
const (
	PurposeTransfer = "handoff-transfer" // 调度服务器转接到交换台（建立新会话）
	PurposeCallIn   = "handoff-callin"   // 受邀加入既有会话
)

// DefaultTokenLifetime 令牌默认有效期
const DefaultTokenLifetime = 60 * time.Second

// retentionGrace 令牌逻辑过期后在存储中的保留时长
// 呼入路径允许令牌过期后 60 秒内仍被接受（由交换台判定），
// 因此存储必须保留已过期的令牌一段时间，由调用方执行时效策略
const retentionGrace = time.Hour

// TokenPayload 令牌携带的身份与目标信息
// 令牌是可序列化的值对象，不持有任何在线会话指针；
// 消费方拿到 payload 后自行在在线注册表中解析
type TokenPayload struct {
	UserUuid   string `json:"userUuid"`             // 用户 uuid
	PopID      string `json:"popId,omitempty"`      // 端点 id（多端登录时区分设备）
	Dialect    int    `json:"dialect"`              // 协商的协议版本
	ChatMainID int64  `json:"chatMainId,omitempty"` // 呼入目标会话的主 id（transfer 令牌为 0）
}

// TokenService 交接令牌服务接口
// 令牌在逻辑过期后仍可被 Get/Pop 取到（保留期内），
// 时效策略由消费方执行；Pop 保证同一令牌只能成功消费一次
type TokenService interface {
	// CreateToken 签发令牌，lifetime<=0 时取默认有效期
	CreateToken(ctx context.Context, purpose string, payload TokenPayload, lifetime time.Duration) (string, error)
	// GetToken 查看令牌（不消费）
	GetToken(ctx context.Context, purpose, token string) (*TokenPayload, error)
	// GetTokenExpiry 查看令牌的逻辑过期时间（不消费）
	GetTokenExpiry(ctx context.Context, purpose, token string) (time.Time, error)
	// PopToken 消费令牌，成功后令牌立即失效
	PopToken(ctx context.Context, purpose, token string) (*TokenPayload, error)
}

// ErrTokenNotFound 令牌不存在或已被消费
var ErrTokenNotFound = errorx.New(errorx.CodeAuthFail, "token not found")

// NewTokenService 根据配置创建令牌服务
// mode 为 "redis" 时使用 Redis 存储（多实例部署共享），否则使用进程内存储
func NewTokenService(cache redis.AsyncCacheService) TokenService {
	conf := config.GetConfig()
	lifetime := DefaultTokenLifetime
	if conf.TokenConfig.LifetimeSeconds > 0 {
		lifetime = time.Duration(conf.TokenConfig.LifetimeSeconds) * time.Second
	}
	if conf.TokenConfig.Mode == "redis" {
		return NewRedisTokenService(cache, lifetime)
	}
	return NewMemoryTokenService(lifetime)
}
