package repository

import (
	"legacy_chat_server/internal/model"

	"gorm.io/gorm"
)

// groupChatRepository GroupChatRepository 接口的实现
type groupChatRepository struct {
	db *gorm.DB
}

// NewGroupChatRepository 创建 GroupChatRepository 实例
func NewGroupChatRepository(db *gorm.DB) GroupChatRepository {
	return &groupChatRepository{db: db}
}

// FindByChatId 根据群聊 id 查找群聊
func (r *groupChatRepository) FindByChatId(chatId string) (*model.GroupChat, error) {
	var groupChat model.GroupChat
	if err := r.db.Where("chat_id = ?", chatId).First(&groupChat).Error; err != nil {
		return nil, wrapDBErrorf(err, "查询群聊 chat_id=%s", chatId)
	}
	return &groupChat, nil
}

// FindMembers 查找群聊全部成员
func (r *groupChatRepository) FindMembers(chatId string) ([]model.GroupChatMember, error) {
	var members []model.GroupChatMember
	if err := r.db.Where("chat_id = ?", chatId).Find(&members).Error; err != nil {
		return nil, wrapDBErrorf(err, "查询群聊成员 chat_id=%s", chatId)
	}
	return members, nil
}

// FindByMemberUuid 查找某用户参与的全部群聊
func (r *groupChatRepository) FindByMemberUuid(userUuid string) ([]model.GroupChat, error) {
	var groupChats []model.GroupChat
	err := r.db.
		Joins("JOIN group_chat_member ON group_chat_member.chat_id = group_chat.chat_id").
		Where("group_chat_member.user_uuid = ? AND group_chat_member.deleted_at IS NULL", userUuid).
		Find(&groupChats).Error
	if err != nil {
		return nil, wrapDBErrorf(err, "查询用户群聊 user_uuid=%s", userUuid)
	}
	return groupChats, nil
}

// Create 创建群聊（含群主成员记录）
// 两条记录在同一事务内写入
func (r *groupChatRepository) Create(groupChat *model.GroupChat, ownerMember *model.GroupChatMember) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(groupChat).Error; err != nil {
			return err
		}
		return tx.Create(ownerMember).Error
	})
	if err != nil {
		return wrapDBError(err, "创建群聊")
	}
	return nil
}

// Update 更新群聊
func (r *groupChatRepository) Update(groupChat *model.GroupChat) error {
	if err := r.db.Save(groupChat).Error; err != nil {
		return wrapDBError(err, "更新群聊")
	}
	return nil
}

// SaveMember 保存（新建或覆盖）一条成员记录
func (r *groupChatRepository) SaveMember(member *model.GroupChatMember) error {
	var existing model.GroupChatMember
	err := r.db.Where("chat_id = ? AND user_uuid = ?", member.ChatId, member.UserUuid).
		First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		if err := r.db.Create(member).Error; err != nil {
			return wrapDBError(err, "创建群聊成员")
		}
		return nil
	}
	if err != nil {
		return wrapDBError(err, "查询群聊成员")
	}
	member.ID = existing.ID
	member.CreatedAt = existing.CreatedAt
	if err := r.db.Save(member).Error; err != nil {
		return wrapDBError(err, "更新群聊成员")
	}
	return nil
}
