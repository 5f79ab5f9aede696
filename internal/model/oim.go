package model

import (
	"time"

	"gorm.io/gorm"
)

// OIM 离线消息（Offline Instant Message）
// 收件人下次登录时投递，取走或显式删除后移除
type OIM struct {
	gorm.Model
	Uuid  string `gorm:"column:uuid;uniqueIndex;type:char(36);not null;comment:消息id"`
	RunId string `gorm:"column:run_id;type:char(36);not null;comment:发送批次id"`

	FromEmail    string `gorm:"column:from_email;type:varchar(100);not null;comment:发件人邮箱"`
	FromFriendly string `gorm:"column:from_friendly;type:varchar(100);comment:发件人展示名"`

	// FriendlyEncoding/FriendlyCharset 展示名的传输编码与字符集
	// 旧客户端以 MIME encoded-word 形式携带展示名
	FriendlyEncoding string `gorm:"column:friendly_encoding;type:char(1);comment:展示名编码(B/Q)"`
	FriendlyCharset  string `gorm:"column:friendly_charset;type:varchar(20);comment:展示名字符集"`

	RecipientUuid  string `gorm:"column:recipient_uuid;index;type:char(36);not null;comment:收件人uuid"`
	RecipientEmail string `gorm:"column:recipient_email;type:varchar(100);not null;comment:收件人邮箱"`

	SentAt time.Time `gorm:"column:sent_at;type:datetime;not null;comment:发送时间"`

	Text string `gorm:"column:text;type:TEXT;comment:正文"`
	Utf8 bool   `gorm:"column:utf8;not null;comment:正文是否UTF-8"`

	// Headers 附加头部，JSON 文本
	Headers string `gorm:"column:headers;type:TEXT;comment:附加头部(JSON)"`

	OriginIp string `gorm:"column:origin_ip;type:varchar(45);comment:来源IP"`

	// Proxy 经由代理网关发送时的标记，如 "MOSMS"
	Proxy string `gorm:"column:proxy;type:varchar(20);comment:代理标记"`

	IsRead bool `gorm:"column:is_read;not null;comment:是否已读"`
}

func (OIM) TableName() string {
	return "oim"
}
