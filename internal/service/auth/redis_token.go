package auth

import (
	"context"
	"encoding/json"
	"time"

	"legacy_chat_server/internal/dao/redis"
	"legacy_chat_server/pkg/errorx"

	"github.com/google/uuid"
)

// redisTokenValue Redis 中存储的令牌记录
// 逻辑过期时间随记录一起序列化；Redis 自身的 TTL 设为
// 有效期加保留期，令牌在逻辑过期后仍可被取到
type redisTokenValue struct {
	Payload TokenPayload `json:"payload"`
	Expiry  time.Time    `json:"expiry"`
}

// RedisTokenService TokenService 的 Redis 实现
// 多实例部署时令牌在实例间共享，调度服务器签发的令牌
// 可以在任意一台交换台上消费
type RedisTokenService struct {
	cache           redis.CacheService
	defaultLifetime time.Duration
}

// NewRedisTokenService 创建 Redis 令牌服务
func NewRedisTokenService(cache redis.CacheService, defaultLifetime time.Duration) *RedisTokenService {
	return &RedisTokenService{cache: cache, defaultLifetime: defaultLifetime}
}

func redisTokenKey(purpose, token string) string {
	return "handoff_token:" + purpose + ":" + token
}

// CreateToken 签发令牌
func (s *RedisTokenService) CreateToken(ctx context.Context, purpose string, payload TokenPayload, lifetime time.Duration) (string, error) {
	if lifetime <= 0 {
		lifetime = s.defaultLifetime
	}
	token := uuid.NewString()
	value := redisTokenValue{
		Payload: payload,
		Expiry:  time.Now().Add(lifetime),
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", errorx.Wrap(err, errorx.CodeInternal, "marshal token payload")
	}
	if err := s.cache.Set(ctx, redisTokenKey(purpose, token), string(data), lifetime+retentionGrace); err != nil {
		return "", err
	}
	return token, nil
}

// GetToken 查看令牌（不消费）
func (s *RedisTokenService) GetToken(ctx context.Context, purpose, token string) (*TokenPayload, error) {
	value, err := s.getValue(ctx, purpose, token, false)
	if err != nil {
		return nil, err
	}
	return &value.Payload, nil
}

// GetTokenExpiry 查看令牌的逻辑过期时间（不消费）
func (s *RedisTokenService) GetTokenExpiry(ctx context.Context, purpose, token string) (time.Time, error) {
	value, err := s.getValue(ctx, purpose, token, false)
	if err != nil {
		return time.Time{}, err
	}
	return value.Expiry, nil
}

// PopToken 消费令牌
// 底层使用 GETDEL，同一令牌并发消费时只有一方能成功
func (s *RedisTokenService) PopToken(ctx context.Context, purpose, token string) (*TokenPayload, error) {
	value, err := s.getValue(ctx, purpose, token, true)
	if err != nil {
		return nil, err
	}
	return &value.Payload, nil
}

// getValue 取出并反序列化令牌记录，consume 为真时原子删除
func (s *RedisTokenService) getValue(ctx context.Context, purpose, token string, consume bool) (*redisTokenValue, error) {
	key := redisTokenKey(purpose, token)
	var raw string
	var err error
	if consume {
		raw, err = s.cache.GetDel(ctx, key)
	} else {
		raw, err = s.cache.GetOrError(ctx, key)
	}
	if err != nil {
		if errorx.IsNotFound(err) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	var value redisTokenValue
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, errorx.Wrap(err, errorx.CodeInternal, "unmarshal token payload")
	}
	return &value, nil
}
