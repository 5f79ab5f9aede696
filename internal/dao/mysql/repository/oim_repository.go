package repository

import (
	"legacy_chat_server/internal/model"

	"gorm.io/gorm"
)

// oimRepository OIMRepository 接口的实现
type oimRepository struct {
	db *gorm.DB
}

// NewOIMRepository 创建 OIMRepository 实例
func NewOIMRepository(db *gorm.DB) OIMRepository {
	return &oimRepository{db: db}
}

// FindByRecipient 查找收件人的全部离线消息，按发送时间升序
func (r *oimRepository) FindByRecipient(recipientUuid string) ([]model.OIM, error) {
	var oims []model.OIM
	if err := r.db.Where("recipient_uuid = ?", recipientUuid).
		Order("sent_at ASC").Find(&oims).Error; err != nil {
		return nil, wrapDBErrorf(err, "查询离线消息 recipient_uuid=%s", recipientUuid)
	}
	return oims, nil
}

// FindByUuid 查找单条离线消息
// 收件人 uuid 一并校验，避免越权读取他人消息
func (r *oimRepository) FindByUuid(recipientUuid, uuid string) (*model.OIM, error) {
	var oim model.OIM
	if err := r.db.Where("recipient_uuid = ? AND uuid = ?", recipientUuid, uuid).
		First(&oim).Error; err != nil {
		return nil, wrapDBErrorf(err, "查询离线消息 uuid=%s", uuid)
	}
	return &oim, nil
}

// Create 保存离线消息
func (r *oimRepository) Create(oim *model.OIM) error {
	if err := r.db.Create(oim).Error; err != nil {
		return wrapDBError(err, "保存离线消息")
	}
	return nil
}

// MarkRead 标记为已读
func (r *oimRepository) MarkRead(recipientUuid, uuid string) error {
	if err := r.db.Model(&model.OIM{}).
		Where("recipient_uuid = ? AND uuid = ?", recipientUuid, uuid).
		Update("is_read", true).Error; err != nil {
		return wrapDBErrorf(err, "标记离线消息已读 uuid=%s", uuid)
	}
	return nil
}

// Delete 删除离线消息
func (r *oimRepository) Delete(recipientUuid, uuid string) error {
	if err := r.db.Where("recipient_uuid = ? AND uuid = ?", recipientUuid, uuid).
		Delete(&model.OIM{}).Error; err != nil {
		return wrapDBErrorf(err, "删除离线消息 uuid=%s", uuid)
	}
	return nil
}
