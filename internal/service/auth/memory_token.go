package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// tokenEntry 内存存储中的一条令牌记录
type tokenEntry struct {
	payload TokenPayload
	expiry  time.Time // 逻辑过期时间，时效策略由消费方执行
}

// MemoryTokenService TokenService 的进程内实现
// 单实例部署的默认选择，不依赖外部存储
type MemoryTokenService struct {
	mu              sync.Mutex
	tokens          map[string]tokenEntry // key 形如 "purpose:token"
	defaultLifetime time.Duration
}

// NewMemoryTokenService 创建内存令牌服务并启动清扫协程
func NewMemoryTokenService(defaultLifetime time.Duration) *MemoryTokenService {
	s := &MemoryTokenService{
		tokens:          make(map[string]tokenEntry),
		defaultLifetime: defaultLifetime,
	}
	go s.sweepLoop()
	return s
}

// sweepLoop 周期清理超过保留期的令牌
func (s *MemoryTokenService) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now()
		s.mu.Lock()
		for key, entry := range s.tokens {
			if now.After(entry.expiry.Add(retentionGrace)) {
				delete(s.tokens, key)
			}
		}
		s.mu.Unlock()
	}
}

func tokenKey(purpose, token string) string {
	return purpose + ":" + token
}

// CreateToken 签发令牌
func (s *MemoryTokenService) CreateToken(_ context.Context, purpose string, payload TokenPayload, lifetime time.Duration) (string, error) {
	if lifetime <= 0 {
		lifetime = s.defaultLifetime
	}
	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[tokenKey(purpose, token)] = tokenEntry{
		payload: payload,
		expiry:  time.Now().Add(lifetime),
	}
	s.mu.Unlock()
	return token, nil
}

// GetToken 查看令牌（不消费）
func (s *MemoryTokenService) GetToken(_ context.Context, purpose, token string) (*TokenPayload, error) {
	s.mu.Lock()
	entry, ok := s.tokens[tokenKey(purpose, token)]
	s.mu.Unlock()
	if !ok {
		return nil, ErrTokenNotFound
	}
	payload := entry.payload
	return &payload, nil
}

// GetTokenExpiry 查看令牌的逻辑过期时间（不消费）
func (s *MemoryTokenService) GetTokenExpiry(_ context.Context, purpose, token string) (time.Time, error) {
	s.mu.Lock()
	entry, ok := s.tokens[tokenKey(purpose, token)]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, ErrTokenNotFound
	}
	return entry.expiry, nil
}

// PopToken 消费令牌
// 取值和删除在同一临界区内完成，保证同一令牌只能成功消费一次
func (s *MemoryTokenService) PopToken(_ context.Context, purpose, token string) (*TokenPayload, error) {
	key := tokenKey(purpose, token)
	s.mu.Lock()
	entry, ok := s.tokens[key]
	if ok {
		delete(s.tokens, key)
	}
	s.mu.Unlock()
	if !ok {
		return nil, ErrTokenNotFound
	}
	payload := entry.payload
	return &payload, nil
}
