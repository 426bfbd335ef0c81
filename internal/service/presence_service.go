package service

import (
	"Murmur/internal/api/config"
	"Murmur/internal/pkg/redis"
	"Murmur/internal/repository"
	"context"
	log "log/slog"
)

// PresenceService 在线状态服务
// 在线与否由用户的活跃连接数派生（多端登录），
// 只有 0 和 1 之间的跨越才算状态迁移，返回值告知调用方是否需要全局广播。
type PresenceService interface {
	Connect(ctx context.Context, userID uint64, connID string) (bool, error)
	Disconnect(ctx context.Context, userID uint64, connID string) (bool, error)
	Heartbeat(ctx context.Context, userID uint64) error
}

type presenceServiceImpl struct {
	conns    redis.ConnStore
	userRepo repository.UserRepo
	cfg      config.IMConfig
}

func NewPresenceService(conns redis.ConnStore, userRepo repository.UserRepo, cfg config.IMConfig) PresenceService {
	cfg.Normalize()
	return &presenceServiceImpl{conns: conns, userRepo: userRepo, cfg: cfg}
}

// Connect 注册连接；该用户首条连接时落地在线标记并报告上线迁移
func (s *presenceServiceImpl) Connect(ctx context.Context, userID uint64, connID string) (bool, error) {
	count, err := s.conns.AddConn(ctx, userID, connID, s.cfg.ConnTTL)
	if err != nil {
		return false, err
	}

	becameOnline := count == 1
	if becameOnline {
		if err := s.userRepo.UpdatePresence(ctx, userID, true); err != nil {
			log.WarnContext(ctx, "在线标记落地失败", "userID", userID, "err", err)
		}
	}
	return becameOnline, nil
}

// Disconnect 注销连接；该用户最后一条连接断开时报告下线迁移
func (s *presenceServiceImpl) Disconnect(ctx context.Context, userID uint64, connID string) (bool, error) {
	remaining, err := s.conns.RemoveConn(ctx, userID, connID)
	if err != nil {
		return false, err
	}

	becameOffline := remaining == 0
	if becameOffline {
		if err := s.userRepo.UpdatePresence(ctx, userID, false); err != nil {
			log.WarnContext(ctx, "离线标记落地失败", "userID", userID, "err", err)
		}
	}
	return becameOffline, nil
}

// Heartbeat 连接存活续期，防止 TTL 把活连接判死
func (s *presenceServiceImpl) Heartbeat(ctx context.Context, userID uint64) error {
	return s.conns.RefreshTTL(ctx, userID, s.cfg.ConnTTL)
}
