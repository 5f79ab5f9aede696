package model

import "gorm.io/gorm"

// UserContact 联系人关联表
// 一行表示 UserUuid 的名单上有 ContactUuid
type UserContact struct {
	gorm.Model
	UserUuid    string `gorm:"column:user_uuid;index;type:char(36);not null;comment:名单属主"`
	ContactUuid string `gorm:"column:contact_uuid;index;type:char(36);not null;comment:联系人"`

	// Name/Message 属主为联系人保存的展示名和签名快照
	Name    string `gorm:"column:name;type:varchar(100);comment:联系人展示名"`
	Message string `gorm:"column:message;type:varchar(255);comment:联系人签名"`

	// Lists 名单位掩码：1=FL(好友) 2=AL(允许) 4=BL(屏蔽) 8=RL(反向)
	Lists int `gorm:"column:lists;not null;comment:名单位掩码"`

	// IsMessengerUser 对端是否为可即时通讯的联系人
	IsMessengerUser bool `gorm:"column:is_messenger_user;not null;comment:是否可即时通讯"`
}

func (UserContact) TableName() string {
	return "user_contact"
}
