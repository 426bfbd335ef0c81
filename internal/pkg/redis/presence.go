package redis

import (
	"Murmur/internal/pkg/consts"
	"context"
	"strconv"
	"time"
)

// ConnStore 按用户维护活跃连接集合，多端登录时以集合基数判定在线与否
// 实现上是 Redis Set + TTL：进程崩溃遗留的脏成员依靠过期和巡检任务兜底
type ConnStore interface {
	AddConn(ctx context.Context, userID uint64, connID string, ttl time.Duration) (int64, error)
	RemoveConn(ctx context.Context, userID uint64, connID string) (int64, error)
	ConnCount(ctx context.Context, userID uint64) (int64, error)
	RefreshTTL(ctx context.Context, userID uint64, ttl time.Duration) error
}

type connStoreImpl struct{}

func NewConnStore() ConnStore {
	return &connStoreImpl{}
}

func connKey(userID uint64) string {
	return consts.IMUserConnSetKey + strconv.FormatUint(userID, 10)
}

// AddConn 注册连接并返回注册后的连接总数
func (s *connStoreImpl) AddConn(ctx context.Context, userID uint64, connID string, ttl time.Duration) (int64, error) {
	key := connKey(userID)
	pipe := Rdb.TxPipeline()
	pipe.SAdd(ctx, key, connID)
	pipe.Expire(ctx, key, ttl)
	card := pipe.SCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return card.Val(), nil
}

// RemoveConn 注销连接并返回剩余连接数
func (s *connStoreImpl) RemoveConn(ctx context.Context, userID uint64, connID string) (int64, error) {
	key := connKey(userID)
	pipe := Rdb.TxPipeline()
	pipe.SRem(ctx, key, connID)
	card := pipe.SCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return card.Val(), nil
}

// ConnCount 当前活跃连接数
func (s *connStoreImpl) ConnCount(ctx context.Context, userID uint64) (int64, error) {
	return Rdb.SCard(ctx, connKey(userID)).Result()
}

// RefreshTTL 心跳续期
func (s *connStoreImpl) RefreshTTL(ctx context.Context, userID uint64, ttl time.Duration) error {
	return Rdb.Expire(ctx, connKey(userID), ttl).Err()
}
