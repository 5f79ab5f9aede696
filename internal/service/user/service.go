// Package user 用户服务
// 实现共享模型的持久化契约（用户、名单、离线消息、持久化群聊），
// 热路径走 Redis 读穿缓存，写路径异步失效
package user

import (
	"context"
	"encoding/json"
	"time"

	"legacy_chat_server/internal/dao/mysql/repository"
	"legacy_chat_server/internal/dao/redis"
	"legacy_chat_server/internal/model"
	"legacy_chat_server/internal/service/backend"
	"legacy_chat_server/pkg/constants"
	"legacy_chat_server/pkg/errorx"
	"legacy_chat_server/pkg/util/snowflake"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 缓存键前缀
const (
	cacheKeyUserInfo  = "user_info_"       // + uuid
	cacheKeyUserEmail = "user_uuid_email_" // + email
)

// cacheTTL 用户信息缓存有效期
const cacheTTL = 30 * time.Minute

// Service 用户服务
// 同时满足 backend.UserStore 契约和管理接口的账号操作
type Service struct {
	repos *repository.Repositories
	cache redis.AsyncCacheService
}

// NewService 创建用户服务
func NewService(repos *repository.Repositories, cache redis.AsyncCacheService) *Service {
	return &Service{repos: repos, cache: cache}
}

// opCtx 数据库/缓存操作的超时上下文
func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), constants.REDIS_TIMEOUT*time.Second)
}

// toDomainUser 数据库记录转领域对象
// 返回的状态是离线快照，在线子状态由会话层维护
func toDomainUser(record *model.UserInfo) *backend.User {
	return &backend.User{
		Uuid:     record.Uuid,
		Email:    record.Email,
		Verified: record.Verified,
		Status: &backend.UserStatus{
			Substatus: backend.SubstatusOffline,
			Name:      record.Name,
			Message:   record.Message,
		},
	}
}

// Login 邮箱加密码认证
// 成功返回领域用户；密码错误或用户不存在统一返回认证失败，
// 不向调用方泄露两者的差别
func (s *Service) Login(email, password string) (*backend.User, error) {
	record, err := s.repos.User.FindByEmail(email)
	if err != nil {
		if errorx.IsNotFound(err) {
			return nil, errorx.ErrAuthFail
		}
		return nil, err
	}
	if !record.CheckPassword(password) {
		return nil, errorx.ErrAuthFail
	}
	if err := s.repos.User.UpdateLastLogin(record.Uuid); err != nil {
		zap.L().Warn("update last login failed", zap.String("uuid", record.Uuid), zap.Error(err))
	}
	return toDomainUser(record), nil
}

// LoginAdmin 管理接口登录，额外要求管理员标志
func (s *Service) LoginAdmin(email, password string) (*backend.User, error) {
	record, err := s.repos.User.FindByEmail(email)
	if err != nil {
		if errorx.IsNotFound(err) {
			return nil, errorx.ErrAuthFail
		}
		return nil, err
	}
	if !record.CheckPassword(password) || record.IsAdmin != 1 {
		return nil, errorx.ErrAuthFail
	}
	return toDomainUser(record), nil
}

// GetUser 按 uuid 取用户（backend.UserStore 契约）
// 读穿缓存：命中直接反序列化，未命中读库并异步回填
func (s *Service) GetUser(userUuid string) (*backend.User, error) {
	ctx, cancel := opCtx()
	defer cancel()

	if cached, err := s.cache.Get(ctx, cacheKeyUserInfo+userUuid); err == nil && cached != "" {
		var record model.UserInfo
		if err := json.Unmarshal([]byte(cached), &record); err == nil {
			return toDomainUser(&record), nil
		}
	}

	record, err := s.repos.User.FindByUuid(userUuid)
	if err != nil {
		return nil, err
	}

	s.cache.SubmitTask(func() {
		ctx, cancel := opCtx()
		defer cancel()
		if data, err := json.Marshal(record); err == nil {
			if err := s.cache.Set(ctx, cacheKeyUserInfo+userUuid, string(data), cacheTTL); err != nil {
				zap.L().Warn("cache user info failed", zap.String("uuid", userUuid), zap.Error(err))
			}
		}
	})
	return toDomainUser(record), nil
}

// GetUserDetail 取用户名单明细（backend.UserStore 契约）
// 联系人引用的用户对象经由 GetUser 读取，吃到同一层缓存
func (s *Service) GetUserDetail(userUuid string) (*backend.UserDetail, error) {
	rows, err := s.repos.User.FindContactsByUserUuid(userUuid)
	if err != nil {
		return nil, err
	}
	detail := &backend.UserDetail{Contacts: make(map[string]*backend.Contact, len(rows))}
	for _, row := range rows {
		ctcUser, err := s.GetUser(row.ContactUuid)
		if err != nil {
			if errorx.IsNotFound(err) {
				continue // 名单上的悬挂引用，跳过
			}
			return nil, err
		}
		detail.Contacts[row.ContactUuid] = &backend.Contact{
			User:    ctcUser,
			Uuid:    row.ContactUuid,
			Lists:   uint8(row.Lists),
			Name:    row.Name,
			Message: row.Message,
		}
	}
	return detail, nil
}

// GetUUIDFromEmail 邮箱解析为 uuid（backend.UserStore 契约）
func (s *Service) GetUUIDFromEmail(email string) (string, error) {
	ctx, cancel := opCtx()
	defer cancel()

	if cached, err := s.cache.Get(ctx, cacheKeyUserEmail+email); err == nil && cached != "" {
		return cached, nil
	}

	record, err := s.repos.User.FindByEmail(email)
	if err != nil {
		return "", err
	}
	userUuid := record.Uuid

	s.cache.SubmitTask(func() {
		ctx, cancel := opCtx()
		defer cancel()
		if err := s.cache.Set(ctx, cacheKeyUserEmail+email, userUuid, cacheTTL); err != nil {
			zap.L().Warn("cache email mapping failed", zap.String("email", email), zap.Error(err))
		}
	})
	return userUuid, nil
}

// ContactRow save-batch 中的一条名单记录
type ContactRow struct {
	ContactUuid     string
	Name            string
	Message         string
	Lists           uint8
	IsMessengerUser bool
}

// SaveBatch 批量持久化一名用户的状态与名单
// 状态字段与名单在同一事务内落库，名单上被移除的项一并清理；
// 成功后异步失效相关缓存
func (s *Service) SaveBatch(userUuid string, status backend.UserStatus, contacts []ContactRow) error {
	err := s.repos.Transaction(func(tx *repository.Repositories) error {
		record, err := tx.User.FindByUuid(userUuid)
		if err != nil {
			return err
		}
		record.Name = status.Name
		record.Message = status.Message
		if err := tx.User.Update(record); err != nil {
			return err
		}

		keep := make([]string, 0, len(contacts))
		for _, row := range contacts {
			keep = append(keep, row.ContactUuid)
			if err := tx.User.SaveContact(&model.UserContact{
				UserUuid:        userUuid,
				ContactUuid:     row.ContactUuid,
				Name:            row.Name,
				Message:         row.Message,
				Lists:           int(row.Lists),
				IsMessengerUser: row.IsMessengerUser,
			}); err != nil {
				return err
			}
		}
		return tx.User.DeleteContactsNotIn(userUuid, keep)
	})
	if err != nil {
		return err
	}

	s.cache.SubmitTask(func() {
		ctx, cancel := opCtx()
		defer cancel()
		if err := s.cache.Delete(ctx, cacheKeyUserInfo+userUuid); err != nil {
			zap.L().Warn("invalidate user cache failed", zap.String("uuid", userUuid), zap.Error(err))
		}
	})
	return nil
}

// ==================== 离线消息 ====================

// toDomainOIM 数据库记录转领域对象
func toDomainOIM(record *model.OIM) *backend.OIM {
	headers := make(map[string]string)
	if record.Headers != "" {
		if err := json.Unmarshal([]byte(record.Headers), &headers); err != nil {
			zap.L().Warn("bad oim headers json", zap.String("uuid", record.Uuid), zap.Error(err))
		}
	}
	return &backend.OIM{
		Uuid:             record.Uuid,
		RunId:            record.RunId,
		FromEmail:        record.FromEmail,
		FromFriendly:     record.FromFriendly,
		FriendlyEncoding: record.FriendlyEncoding,
		FriendlyCharset:  record.FriendlyCharset,
		RecipientUuid:    record.RecipientUuid,
		RecipientEmail:   record.RecipientEmail,
		SentAt:           record.SentAt,
		Text:             record.Text,
		Utf8:             record.Utf8,
		Headers:          headers,
		OriginIp:         record.OriginIp,
		Proxy:            record.Proxy,
		IsRead:           record.IsRead,
	}
}

// SaveOIM 保存一条离线消息，返回生成的消息 id
// 收件人在线时的即时投递由调用方负责，这里只管落库
func (s *Service) SaveOIM(oim *backend.OIM) (string, error) {
	if oim.Uuid == "" {
		oim.Uuid = uuid.NewString()
	}
	if oim.SentAt.IsZero() {
		oim.SentAt = time.Now()
	}
	headers := "{}"
	if len(oim.Headers) > 0 {
		if data, err := json.Marshal(oim.Headers); err == nil {
			headers = string(data)
		}
	}
	record := &model.OIM{
		Uuid:             oim.Uuid,
		RunId:            oim.RunId,
		FromEmail:        oim.FromEmail,
		FromFriendly:     oim.FromFriendly,
		FriendlyEncoding: oim.FriendlyEncoding,
		FriendlyCharset:  oim.FriendlyCharset,
		RecipientUuid:    oim.RecipientUuid,
		RecipientEmail:   oim.RecipientEmail,
		SentAt:           oim.SentAt,
		Text:             oim.Text,
		Utf8:             oim.Utf8,
		Headers:          headers,
		OriginIp:         oim.OriginIp,
		Proxy:            oim.Proxy,
	}
	if err := s.repos.OIM.Create(record); err != nil {
		return "", err
	}
	return oim.Uuid, nil
}

// GetOIMBatch 取收件人的全部离线消息
func (s *Service) GetOIMBatch(recipientUuid string) ([]*backend.OIM, error) {
	rows, err := s.repos.OIM.FindByRecipient(recipientUuid)
	if err != nil {
		return nil, err
	}
	out := make([]*backend.OIM, 0, len(rows))
	for i := range rows {
		out = append(out, toDomainOIM(&rows[i]))
	}
	return out, nil
}

// GetOIMSingle 取单条离线消息并标记已读
func (s *Service) GetOIMSingle(recipientUuid, oimUuid string) (*backend.OIM, error) {
	record, err := s.repos.OIM.FindByUuid(recipientUuid, oimUuid)
	if err != nil {
		return nil, err
	}
	if !record.IsRead {
		if err := s.repos.OIM.MarkRead(recipientUuid, oimUuid); err != nil {
			zap.L().Warn("mark oim read failed", zap.String("uuid", oimUuid), zap.Error(err))
		}
	}
	return toDomainOIM(record), nil
}

// DeleteOIM 删除单条离线消息
func (s *Service) DeleteOIM(recipientUuid, oimUuid string) error {
	return s.repos.OIM.Delete(recipientUuid, oimUuid)
}

// ==================== 持久化群聊 ====================

// CreateGroupChat 创建持久化群聊
// 群主自动成为 Accepted 状态的 Admin 成员
func (s *Service) CreateGroupChat(owner *backend.User, name string, membershipAccess int) (*model.GroupChat, error) {
	groupChat := &model.GroupChat{
		ChatId:           snowflake.GenerateIDString(),
		Name:             name,
		OwnerUuid:        owner.Uuid,
		OwnerFriendly:    owner.DisplayName(),
		MembershipAccess: membershipAccess,
	}
	ownerMember := &model.GroupChatMember{
		ChatId:   groupChat.ChatId,
		UserUuid: owner.Uuid,
		Role:     int8(backend.GroupChatRoleAdmin),
		State:    int8(backend.GroupChatStateAccepted),
	}
	if err := s.repos.GroupChat.Create(groupChat, ownerMember); err != nil {
		return nil, err
	}
	return groupChat, nil
}

// GetGroupChat 取群聊定义
func (s *Service) GetGroupChat(chatId string) (*model.GroupChat, error) {
	return s.repos.GroupChat.FindByChatId(chatId)
}

// GetGroupChatMembers 取群聊全部成员
func (s *Service) GetGroupChatMembers(chatId string) ([]model.GroupChatMember, error) {
	return s.repos.GroupChat.FindMembers(chatId)
}

// GetGroupChatsForUser 取某用户参与的全部群聊
func (s *Service) GetGroupChatsForUser(userUuid string) ([]model.GroupChat, error) {
	return s.repos.GroupChat.FindByMemberUuid(userUuid)
}

// SaveGroupChatMember 保存（新建或覆盖）一条群聊成员记录
func (s *Service) SaveGroupChatMember(member *model.GroupChatMember) error {
	return s.repos.GroupChat.SaveMember(member)
}
