// Package model 定义数据库实体模型
// 本文件定义用户信息模型，即一个注册身份
package model

import (
	"database/sql"

	"golang.org/x/crypto/bcrypt" // 密码哈希库
	"gorm.io/gorm"
)

// UserInfo 用户信息模型
// 对应数据库 user_info 表
// 会话层只引用用户，不拥有用户；本表是身份的唯一归属
type UserInfo struct {
	gorm.Model // 内嵌 GORM 模型，包含 ID、CreatedAt、UpdatedAt、DeletedAt

	// Uuid 用户对外稳定标识
	Uuid string `gorm:"column:uuid;uniqueIndex;type:char(36);comment:用户唯一id"`

	// Email 登录邮箱，旧协议以邮箱作为身份参数
	Email string `gorm:"column:email;uniqueIndex;type:varchar(100);not null;comment:邮箱"`

	// Verified 邮箱是否已验证
	Verified bool `gorm:"column:verified;not null;comment:邮箱是否已验证"`

	// Name 展示名（状态的一部分）
	Name string `gorm:"column:name;type:varchar(100);comment:展示名"`

	// Message 状态签名（状态的另一部分）
	Message string `gorm:"column:message;type:varchar(255);comment:状态签名"`

	// Settings 用户设置，JSON 文本
	Settings string `gorm:"column:settings;type:TEXT;comment:用户设置(JSON)"`

	// FrontData 各协议前端的持久化杂项数据，JSON 文本
	// 例如旧客户端挑战应答所需的 md5 口令派生值
	FrontData string `gorm:"column:front_data;type:TEXT;comment:各前端杂项数据(JSON)"`

	// Password 密码（已哈希）
	// 存储 bcrypt 哈希后的密码，不存储明文
	Password string `gorm:"column:password;type:varchar(100);not null;comment:密码"`

	// IsAdmin 管理员标志
	// 0=普通用户, 1=管理员，管理接口登录时校验
	IsAdmin int8 `gorm:"column:is_admin;not null;comment:是否是管理员，0.不是，1.是"`

	// LastLoginAt 上次登录时间
	LastLoginAt sql.NullTime `gorm:"column:last_login_at;type:datetime;comment:上次登录时间"`

	// RawPassword 明文密码（不存入数据库）
	// 用于接收明文密码，在 BeforeSave 中加密
	RawPassword string `gorm:"-" json:"-"`
}

// TableName 指定表名
func (UserInfo) TableName() string {
	return "user_info"
}

// BeforeSave GORM Hook：在创建和更新前自动调用
// 将 RawPassword 明文密码加密后存入 Password 字段
func (u *UserInfo) BeforeSave(tx *gorm.DB) (err error) {
	if u.RawPassword != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.RawPassword), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		u.Password = string(hash)
		u.RawPassword = "" // 清空明文，防止泄露
	}
	return nil
}

// CheckPassword 校验密码是否正确
func (u *UserInfo) CheckPassword(plaintext string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(plaintext))
	return err == nil
}
