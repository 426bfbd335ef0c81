package repository

import (
	"Murmur/internal/model"
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserRepo interface {
	UpdatePresence(ctx context.Context, userID uint64, online bool) error
	GetOnlineUserIDs(ctx context.Context) ([]uint64, error)
}

type userRepoImpl struct {
	db *gorm.DB
}

func NewUserRepo(db *gorm.DB) UserRepo {
	return &userRepoImpl{db: db}
}

// UpdatePresence 落地连接事件的持久化副作用：在线标记与最后活跃时间
func (s *userRepoImpl) UpdatePresence(ctx context.Context, userID uint64, online bool) error {
	now := time.Now()
	isOnline := int8(0)
	if online {
		isOnline = 1
	}
	user := &model.User{ID: userID, IsOnline: isOnline, LastSeenAt: &now}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_online", "last_seen_at"}),
	}).Create(user).Error
}

// GetOnlineUserIDs 拉取所有数据库侧标记为在线的用户，供巡检任务比对 Redis 连接集合
func (s *userRepoImpl) GetOnlineUserIDs(ctx context.Context) ([]uint64, error) {
	var ids []uint64
	err := s.db.WithContext(ctx).Model(&model.User{}).
		Where("is_online = ?", 1).
		Pluck("id", &ids).Error
	return ids, err
}
