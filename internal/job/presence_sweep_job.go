package job

import (
	"Murmur/internal/pkg/logger"
	"Murmur/internal/pkg/redis"
	"Murmur/internal/repository"
	"context"
	log "log/slog"
	"time"

	"github.com/google/uuid"
)

// PresenceSweepJob 巡检在线状态：进程崩溃时来不及执行断开清理，
// Redis 连接集合会随 TTL 过期，数据库侧的 is_online 标记需要定时对账回收
type PresenceSweepJob struct {
	conns    redis.ConnStore
	userRepo repository.UserRepo
}

func NewPresenceSweepJob(conns redis.ConnStore, userRepo repository.UserRepo) *PresenceSweepJob {
	return &PresenceSweepJob{
		conns:    conns,
		userRepo: userRepo,
	}
}

func (s *PresenceSweepJob) Run() {
	traceID := "job-presence-" + uuid.NewString()
	ctx := context.WithValue(context.Background(), logger.TraceIDKey, traceID)
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	userIDs, err := s.userRepo.GetOnlineUserIDs(ctx)
	if err != nil {
		log.ErrorContext(ctx, "presence sweep load online users error", "err", err)
		return
	}
	if len(userIDs) == 0 {
		return
	}

	swept := 0
	for _, userID := range userIDs {
		count, err := s.conns.ConnCount(ctx, userID)
		if err != nil {
			log.ErrorContext(ctx, "presence sweep conn count error", "user_id", userID, "err", err)
			continue
		}
		if count > 0 {
			continue
		}
		if err := s.userRepo.UpdatePresence(ctx, userID, false); err != nil {
			log.ErrorContext(ctx, "presence sweep mark offline error", "user_id", userID, "err", err)
			continue
		}
		swept++
	}

	log.InfoContext(ctx, "PresenceSweepJob done", "checked", len(userIDs), "swept", swept)
}
