// Package repository 提供数据访问层的具体实现
// 本文件实现 UserRepository 接口，处理用户与联系人相关的数据库操作
package repository

import (
	"time"

	"legacy_chat_server/internal/model"

	"gorm.io/gorm"
)

// userRepository UserRepository 接口的实现
type userRepository struct {
	db *gorm.DB // GORM 数据库实例
}

// NewUserRepository 创建 UserRepository 实例
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// FindByUuid 根据 uuid 查找用户
func (r *userRepository) FindByUuid(uuid string) (*model.UserInfo, error) {
	var user model.UserInfo
	if err := r.db.Where("uuid = ?", uuid).First(&user).Error; err != nil {
		return nil, wrapDBErrorf(err, "查询用户 uuid=%s", uuid)
	}
	return &user, nil
}

// FindByEmail 根据邮箱查找用户
// 旧协议的身份参数是邮箱，交换台据此把邮箱解析为 uuid
func (r *userRepository) FindByEmail(email string) (*model.UserInfo, error) {
	var user model.UserInfo
	if err := r.db.Where("email = ?", email).First(&user).Error; err != nil {
		return nil, wrapDBErrorf(err, "查询用户 email=%s", email)
	}
	return &user, nil
}

// FindContactsByUserUuid 查找用户名单上的全部联系人
func (r *userRepository) FindContactsByUserUuid(userUuid string) ([]model.UserContact, error) {
	var contacts []model.UserContact
	if err := r.db.Where("user_uuid = ?", userUuid).Find(&contacts).Error; err != nil {
		return nil, wrapDBErrorf(err, "查询联系人 user_uuid=%s", userUuid)
	}
	return contacts, nil
}

// Create 创建用户
func (r *userRepository) Create(user *model.UserInfo) error {
	if err := r.db.Create(user).Error; err != nil {
		return wrapDBError(err, "创建用户")
	}
	return nil
}

// Update 更新用户（全字段更新）
func (r *userRepository) Update(user *model.UserInfo) error {
	if err := r.db.Save(user).Error; err != nil {
		return wrapDBError(err, "更新用户")
	}
	return nil
}

// UpdateLastLogin 更新上次登录时间
func (r *userRepository) UpdateLastLogin(uuid string) error {
	if err := r.db.Model(&model.UserInfo{}).Where("uuid = ?", uuid).
		Update("last_login_at", time.Now()).Error; err != nil {
		return wrapDBErrorf(err, "更新登录时间 uuid=%s", uuid)
	}
	return nil
}

// SaveContact 保存（新建或覆盖）一条联系人记录
func (r *userRepository) SaveContact(contact *model.UserContact) error {
	var existing model.UserContact
	err := r.db.Where("user_uuid = ? AND contact_uuid = ?", contact.UserUuid, contact.ContactUuid).
		First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		if err := r.db.Create(contact).Error; err != nil {
			return wrapDBError(err, "创建联系人")
		}
		return nil
	}
	if err != nil {
		return wrapDBError(err, "查询联系人")
	}
	contact.ID = existing.ID
	contact.CreatedAt = existing.CreatedAt
	if err := r.db.Save(contact).Error; err != nil {
		return wrapDBError(err, "更新联系人")
	}
	return nil
}

// DeleteContactsNotIn 删除属主名单上不在保留集合内的联系人
// save-batch 持久化时用于清理被移除的名单项
func (r *userRepository) DeleteContactsNotIn(userUuid string, keepContactUuids []string) error {
	q := r.db.Where("user_uuid = ?", userUuid)
	if len(keepContactUuids) > 0 {
		q = q.Where("contact_uuid NOT IN ?", keepContactUuids)
	}
	if err := q.Delete(&model.UserContact{}).Error; err != nil {
		return wrapDBErrorf(err, "清理联系人 user_uuid=%s", userUuid)
	}
	return nil
}
