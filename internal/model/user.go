package model

import "time"

// User 用户表的在线状态投影
// 账号体系由外部身份服务维护，这里只落地连接事件的持久化副作用
type User struct {
	ID         uint64     `gorm:"primaryKey" json:"id"`
	IsOnline   int8       `gorm:"not null;default:0" json:"isOnline"`
	LastSeenAt *time.Time `json:"lastSeenAt"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

func (User) TableName() string { return "users" }
