// Package repository 定义数据访问层接口和聚合结构
// 采用 Repository 模式将数据访问逻辑与业务逻辑分离
// 所有 Repository 接口在此文件定义，具体实现在各自的文件中
package repository

import (
	"legacy_chat_server/internal/model"

	"gorm.io/gorm"
)

// UserRepository 用户数据访问接口
type UserRepository interface {
	// FindByUuid 根据 uuid 查找用户
	FindByUuid(uuid string) (*model.UserInfo, error)
	// FindByEmail 根据邮箱查找用户
	FindByEmail(email string) (*model.UserInfo, error)
	// FindContactsByUserUuid 查找用户名单上的全部联系人
	FindContactsByUserUuid(userUuid string) ([]model.UserContact, error)
	// Create 创建用户
	Create(user *model.UserInfo) error
	// Update 更新用户（全字段更新）
	Update(user *model.UserInfo) error
	// UpdateLastLogin 更新上次登录时间
	UpdateLastLogin(uuid string) error
	// SaveContact 保存（新建或覆盖）一条联系人记录
	SaveContact(contact *model.UserContact) error
	// DeleteContactsNotIn 删除属主名单上不在保留集合内的联系人
	DeleteContactsNotIn(userUuid string, keepContactUuids []string) error
}

// GroupChatRepository 持久化群聊数据访问接口
type GroupChatRepository interface {
	// FindByChatId 根据群聊 id 查找群聊
	FindByChatId(chatId string) (*model.GroupChat, error)
	// FindMembers 查找群聊全部成员
	FindMembers(chatId string) ([]model.GroupChatMember, error)
	// FindByMemberUuid 查找某用户参与的全部群聊
	FindByMemberUuid(userUuid string) ([]model.GroupChat, error)
	// Create 创建群聊（含群主成员记录）
	Create(groupChat *model.GroupChat, ownerMember *model.GroupChatMember) error
	// Update 更新群聊
	Update(groupChat *model.GroupChat) error
	// SaveMember 保存（新建或覆盖）一条成员记录
	SaveMember(member *model.GroupChatMember) error
}

// OIMRepository 离线消息数据访问接口
type OIMRepository interface {
	// FindByRecipient 查找收件人的全部离线消息
	FindByRecipient(recipientUuid string) ([]model.OIM, error)
	// FindByUuid 查找单条离线消息
	FindByUuid(recipientUuid, uuid string) (*model.OIM, error)
	// Create 保存离线消息
	Create(oim *model.OIM) error
	// MarkRead 标记为已读
	MarkRead(recipientUuid, uuid string) error
	// Delete 删除离线消息
	Delete(recipientUuid, uuid string) error
}

// Repositories 聚合所有 Repository 实例
// 作为依赖注入的入口，Service 层通过此结构访问数据层
type Repositories struct {
	db        *gorm.DB            // GORM 数据库实例
	User      UserRepository      // 用户 Repository
	GroupChat GroupChatRepository // 群聊 Repository
	OIM       OIMRepository       // 离线消息 Repository
}

// NewRepositories 创建所有 Repository 实例
// 接收 GORM 数据库实例，初始化并返回 Repositories 聚合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		db:        db,
		User:      NewUserRepository(db),
		GroupChat: NewGroupChatRepository(db),
		OIM:       NewOIMRepository(db),
	}
}

// Transaction 在数据库事务中执行函数
// 事务内的所有操作要么全部成功，要么全部回滚
func (r *Repositories) Transaction(fn func(txRepos *Repositories) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(NewRepositories(tx))
	})
}
