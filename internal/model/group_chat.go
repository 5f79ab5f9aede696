package model

import "gorm.io/gorm"

// GroupChat 持久化多人房间定义
// 与任何在线 Chat 相互独立；在线 Chat 可能由某个 GroupChat 支撑，也可能是临时的
type GroupChat struct {
	gorm.Model
	ChatId string `gorm:"column:chat_id;uniqueIndex;type:char(20);not null;comment:群聊id"`
	Name   string `gorm:"column:name;type:varchar(100);not null;comment:群聊名称"`

	OwnerUuid     string `gorm:"column:owner_uuid;index;type:char(36);not null;comment:群主uuid"`
	OwnerFriendly string `gorm:"column:owner_friendly;type:varchar(100);comment:群主展示名"`

	// MembershipAccess 入群策略：0=开放, 1=需申请, 2=仅邀请
	MembershipAccess int `gorm:"column:membership_access;not null;comment:入群策略"`

	// RequestMembershipOption 申请入群的附加选项
	RequestMembershipOption int `gorm:"column:request_membership_option;not null;comment:申请选项"`
}

func (GroupChat) TableName() string {
	return "group_chat"
}

// GroupChatMember 群聊成员关系
type GroupChatMember struct {
	gorm.Model
	ChatId   string `gorm:"column:chat_id;index;type:char(20);not null;comment:群聊id"`
	UserUuid string `gorm:"column:user_uuid;index;type:char(36);not null;comment:成员uuid"`

	// Role 成员角色：1=Member 2=Admin
	Role int8 `gorm:"column:role;default:1;comment:角色，1.成员，2.管理员"`

	// State 成员状态：0=Pending 1=Accepted 2=Rejected
	State int8 `gorm:"column:state;default:0;comment:状态，0.待定，1.已接受，2.已拒绝"`

	InviterUuid   string `gorm:"column:inviter_uuid;type:char(36);comment:邀请人uuid"`
	InviterEmail  string `gorm:"column:inviter_email;type:varchar(100);comment:邀请人邮箱"`
	InviterName   string `gorm:"column:inviter_name;type:varchar(100);comment:邀请人展示名"`
	InviteMessage string `gorm:"column:invite_message;type:varchar(255);comment:邀请附言"`
}

func (GroupChatMember) TableName() string {
	return "group_chat_member"
}
