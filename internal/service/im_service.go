package service

import (
	"Murmur/internal/api/config"
	"Murmur/internal/api/dto"
	"Murmur/internal/model"
	imkafka "Murmur/internal/pkg/kafka"
	imminio "Murmur/internal/pkg/minio"
	"Murmur/internal/pkg/mongo"
	"Murmur/internal/pkg/util"
	"Murmur/internal/repository"
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"github.com/jinzhu/copier"
	mongodrv "go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// IMService 即时通讯核心服务接口定义
type IMService interface {
	GetOrCreateConversation(ctx context.Context, userID, targetUserID uint64) (*model.Conversation, error)
	SendMessage(ctx context.Context, senderID uint64, req *dto.SendMessageReq) (*dto.MessageDTO, error)
	MarkAsRead(ctx context.Context, readerID uint64, messageID string) (*dto.MessageDTO, bool, error)
	EditMessage(ctx context.Context, editorID uint64, messageID, newContent string) (*dto.MessageDTO, error)
	DeleteMessage(ctx context.Context, requesterID uint64, messageID string) (*dto.MessageDTO, error)
	CorrectMessage(ctx context.Context, correctorID uint64, messageID, correction string) (*dto.MessageDTO, error)
	ClearConversation(ctx context.Context, userID, convID uint64) (*model.Conversation, error)
	PageMessages(ctx context.Context, userID, convID uint64, take int, cursor string) (*dto.PageDTO, error)
	GetConversationList(ctx context.Context, userID uint64) ([]*dto.ConversationDTO, error)
	IsMember(ctx context.Context, convID, userID uint64) (bool, error)
	PeerID(conv *model.Conversation, userID uint64) (uint64, error)
	Close()
}

type imServiceImpl struct {
	convRepo repository.ConversationRepo
	msgRepo  mongo.MessageRepo
	notify   imkafka.NotifyProducer
	cfg      config.IMConfig

	createGroup singleflight.Group // 同进程并发建会话去重
	retryChan   chan *mongo.Message
	wg          sync.WaitGroup
	stopChan    chan struct{}

	now func() time.Time
}

// NewIMService 构造函数：初始化服务并启动异步校准工作池
func NewIMService(convRepo repository.ConversationRepo, msgRepo mongo.MessageRepo, notify imkafka.NotifyProducer, cfg config.IMConfig) IMService {
	cfg.Normalize()
	s := &imServiceImpl{
		convRepo:  convRepo,
		msgRepo:   msgRepo,
		notify:    notify,
		cfg:       cfg,
		retryChan: make(chan *mongo.Message, 2048),
		stopChan:  make(chan struct{}),
		now:       time.Now,
	}

	workerCount := 5
	s.wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go s.calibrationWorker()
	}

	return s
}

// storeCtx 所有存储调用的统一超时护栏，超时以可重试错误上抛，绝不挂死事件循环
func (s *imServiceImpl) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return ErrStoreTimeout
	case errors.Is(err, mongodrv.ErrNoDocuments):
		return ErrMessageNotFound
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrConversationNotFound
	default:
		return err
	}
}

// GetOrCreateConversation 解析或创建两人之间唯一的单聊会话
// 并发契约：同一无序用户对的 N 个并发调用返回同一个会话 ID。
// 两道防线：singleflight 合并同进程竞争，peer_key 唯一索引仲裁跨进程竞争，
// 撞索引的一方回读胜者会话透明返回，绝不报错。
func (s *imServiceImpl) GetOrCreateConversation(ctx context.Context, userID, targetUserID uint64) (*model.Conversation, error) {
	if targetUserID == 0 || targetUserID == userID {
		return nil, ErrTargetUserInvalid
	}

	peerKey := model.PeerKey(userID, targetUserID)

	v, err, _ := s.createGroup.Do(peerKey, func() (interface{}, error) {
		sctx, cancel := s.storeCtx(ctx)
		defer cancel()

		conv, err := s.convRepo.GetConversationByPeerKey(sctx, peerKey)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, mapStoreErr(err)
		}

		newConv := &model.Conversation{
			PeerKey:       peerKey,
			LastMessageAt: s.now(),
		}
		members := []*model.ConversationMember{
			{UserID: userID, IsVisible: 1},
			{UserID: targetUserID, IsVisible: 1},
		}

		err = s.convRepo.CreateConversation(sctx, newConv, members)
		if err == nil {
			return newConv, nil
		}
		if errors.Is(err, repository.ErrDuplicatePeerKey) {
			// 输掉唯一索引竞争，回读胜者
			return s.convRepo.GetConversationByPeerKey(sctx, peerKey)
		}
		return nil, mapStoreErr(err)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Conversation), nil
}

// SendMessage 发送消息
// MySQL 行锁定序是唯一的硬失败点；Mongo 明细写入失败转入异步校准队列，
// 站外通知尽力而为，两者都不反向影响发送结果。
func (s *imServiceImpl) SendMessage(ctx context.Context, senderID uint64, req *dto.SendMessageReq) (*dto.MessageDTO, error) {
	if err := validateSendReq(req); err != nil {
		return nil, err
	}

	var conv *model.Conversation
	var err error
	if req.ConversationID == 0 {
		conv, err = s.GetOrCreateConversation(ctx, senderID, req.TargetUserID)
		if err != nil {
			return nil, err
		}
	} else {
		sctx, cancel := s.storeCtx(ctx)
		conv, err = s.convRepo.GetConversation(sctx, req.ConversationID)
		if err != nil {
			cancel()
			return nil, mapStoreErr(err)
		}
		isMember, err := s.convRepo.IsMember(sctx, conv.ID, senderID)
		cancel()
		if err != nil {
			return nil, mapStoreErr(err)
		}
		if !isMember {
			return nil, ErrNotConversationMember
		}
	}

	receiverID, err := s.PeerID(conv, senderID)
	if err != nil {
		return nil, err
	}

	// MySQL 原子定序
	sctx, cancel := s.storeCtx(ctx)
	newSeq, err := s.convRepo.IncrMaxSeq(sctx, conv.ID, preview(req), int8(req.Kind), senderID)
	cancel()
	if err != nil {
		return nil, mapStoreErr(err)
	}

	msgModel := &mongo.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Kind:           req.Kind,
		Content:        req.Content,
		MediaRef:       req.MediaRef,
		Seq:            newSeq,
		ClientMsgID:    req.ClientMsgID,
		CreatedAt:      s.now(),
	}

	writeCtx, cancel := context.WithTimeout(context.Background(), s.cfg.StoreTimeout)
	defer cancel()

	if err := s.msgRepo.SaveMessage(writeCtx, msgModel); err != nil {
		log.WarnContext(ctx, "消息明细写入失败，转入校准队列", "convID", conv.ID, "seq", newSeq, "err", err)
		select {
		case s.retryChan <- msgModel:
		default:
		}
	}

	// 站外通知：尽力而为，失败只记日志
	if s.notify != nil {
		s.notify.NotifyNewMessage(&imkafka.NotifyEvent{
			ReceiverID:     receiverID,
			SenderID:       senderID,
			ConversationID: conv.ID,
			MessageID:      msgModel.ID,
			Preview:        preview(req),
			CreatedAt:      msgModel.CreatedAt,
		})
	}

	return s.toMessageDTO(ctx, msgModel), nil
}

func validateSendReq(req *dto.SendMessageReq) error {
	switch req.Kind {
	case 1:
		if req.Content == "" {
			return ErrParamInvalid
		}
	case 2, 3:
		if req.MediaRef == "" {
			return ErrParamInvalid
		}
	default:
		return ErrParamInvalid
	}
	return nil
}

func preview(req *dto.SendMessageReq) string {
	switch req.Kind {
	case 2:
		return "[图片]"
	case 3:
		return "[语音]"
	default:
		if len(req.Content) > 120 {
			return req.Content[:120]
		}
		return req.Content
	}
}

// MarkAsRead 标记已读
// 幂等：重复回执与自读都吞掉不报错；第二返回值指示状态是否真的翻转（决定是否广播）。
func (s *imServiceImpl) MarkAsRead(ctx context.Context, readerID uint64, messageID string) (*dto.MessageDTO, bool, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	msg, err := s.msgRepo.GetMessage(sctx, messageID)
	if err != nil {
		return nil, false, mapStoreErr(err)
	}

	isMember, err := s.convRepo.IsMember(sctx, msg.ConversationID, readerID)
	if err != nil || !isMember {
		return nil, false, ErrNotConversationMember
	}

	// 自己的消息产生不了回执
	if msg.SenderID == readerID {
		return s.toMessageDTO(ctx, msg), false, nil
	}

	updated, changed, err := s.msgRepo.MarkRead(sctx, messageID, readerID)
	if err != nil {
		return nil, false, mapStoreErr(err)
	}

	if changed {
		if err := s.convRepo.UpdateReadSeq(sctx, updated.ConversationID, readerID, updated.Seq); err != nil {
			log.WarnContext(ctx, "已读进度推进失败", "convID", updated.ConversationID, "err", err)
		}
	}

	return s.toMessageDTO(ctx, updated), changed, nil
}

// EditMessage 编辑消息：仅发送者、仅时间窗口内
func (s *imServiceImpl) EditMessage(ctx context.Context, editorID uint64, messageID, newContent string) (*dto.MessageDTO, error) {
	if newContent == "" {
		return nil, ErrParamInvalid
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	msg, err := s.msgRepo.GetMessage(sctx, messageID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if msg.Deleted {
		return nil, ErrMessageDeleted
	}
	if msg.SenderID != editorID {
		return nil, ErrNotMessageSender
	}
	if s.now().Sub(msg.CreatedAt) >= s.cfg.EditWindow {
		return nil, ErrEditWindowExpired
	}

	updated, err := s.msgRepo.UpdateContent(sctx, messageID, editorID, newContent)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return s.toMessageDTO(ctx, updated), nil
}

// DeleteMessage 软删除：仅发送者；重复删除幂等
func (s *imServiceImpl) DeleteMessage(ctx context.Context, requesterID uint64, messageID string) (*dto.MessageDTO, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	msg, err := s.msgRepo.GetMessage(sctx, messageID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if msg.SenderID != requesterID {
		return nil, ErrNotMessageSender
	}
	if msg.Deleted {
		return s.toMessageDTO(ctx, msg), nil
	}

	deleted, err := s.msgRepo.SoftDelete(sctx, messageID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return s.toMessageDTO(ctx, deleted), nil
}

// CorrectMessage 附加更正：只允许非发送者的会话成员，原文保留可并列展示
func (s *imServiceImpl) CorrectMessage(ctx context.Context, correctorID uint64, messageID, correction string) (*dto.MessageDTO, error) {
	if correction == "" {
		return nil, ErrParamInvalid
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	msg, err := s.msgRepo.GetMessage(sctx, messageID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if msg.Deleted {
		return nil, ErrMessageDeleted
	}
	if msg.SenderID == correctorID {
		return nil, ErrCorrectOwnMessage
	}

	isMember, err := s.convRepo.IsMember(sctx, msg.ConversationID, correctorID)
	if err != nil || !isMember {
		return nil, ErrNotConversationMember
	}

	// 原文快照只落一次，后续更正不覆盖最早的原文
	snapshot := ""
	if msg.OriginalContent == "" {
		snapshot = msg.Content
	}

	updated, err := s.msgRepo.ApplyCorrection(sctx, messageID, correctorID, correction, snapshot)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return s.toMessageDTO(ctx, updated), nil
}

// ClearConversation 清空会话：消息全删、序列归零、双方列表隐藏
// 会话记录本身保留，下一条消息会透明地重新激活它
func (s *imServiceImpl) ClearConversation(ctx context.Context, userID, convID uint64) (*model.Conversation, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	conv, err := s.convRepo.GetConversation(sctx, convID)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	isMember, err := s.convRepo.IsMember(sctx, convID, userID)
	if err != nil || !isMember {
		return nil, ErrNotConversationMember
	}

	if _, err := s.msgRepo.ClearConversation(sctx, convID); err != nil {
		return nil, mapStoreErr(err)
	}
	if err := s.convRepo.ResetAfterClear(sctx, convID); err != nil {
		return nil, mapStoreErr(err)
	}
	return conv, nil
}

// PageMessages 游标分页拉取历史，升序返回供显示
func (s *imServiceImpl) PageMessages(ctx context.Context, userID, convID uint64, take int, cursor string) (*dto.PageDTO, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	isMember, err := s.convRepo.IsMember(sctx, convID, userID)
	if err != nil || !isMember {
		return nil, ErrNotConversationMember
	}

	if take <= 0 || take > 100 {
		take = s.cfg.DefaultPageSize
	}

	beforeSeq, err := util.DecodeCursor(cursor)
	if err != nil {
		return nil, ErrParamInvalid
	}

	models, hasMore, err := s.msgRepo.PageMessages(sctx, convID, beforeSeq, take)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	page := &dto.PageDTO{
		Messages: make([]*dto.MessageDTO, 0, len(models)),
		HasMore:  hasMore,
	}
	for _, m := range models {
		page.Messages = append(page.Messages, s.toMessageDTO(ctx, m))
	}
	if hasMore && len(models) > 0 {
		page.NextCursor = util.EncodeCursor(models[0].Seq)
	}
	return page, nil
}

// GetConversationList 获取会话列表（被清空且无新消息的会话不可见）
func (s *imServiceImpl) GetConversationList(ctx context.Context, userID uint64) ([]*dto.ConversationDTO, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	members, err := s.convRepo.GetUserConversationMemList(sctx, userID)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	res := make([]*dto.ConversationDTO, 0, len(members))
	for _, m := range members {
		d := &dto.ConversationDTO{
			ConversationID: m.ConversationID,
			LastMsgContent: m.Conversation.LastMsgContent,
			LastMsgKind:    m.Conversation.LastMsgKind,
			LastSenderID:   m.Conversation.LastSenderID,
			LastMessageAt:  m.Conversation.LastMessageAt,
			UnreadCount:    m.UnreadCount,
		}
		if peerID, err := s.PeerID(&m.Conversation, userID); err == nil {
			d.PeerID = peerID
		}
		res = append(res, d)
	}
	return res, nil
}

// IsMember 连接加入房间前的成员资格校验入口
func (s *imServiceImpl) IsMember(ctx context.Context, convID, userID uint64) (bool, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.convRepo.IsMember(sctx, convID, userID)
}

// PeerID 从规范化 PeerKey 解出对手方 ID
func (s *imServiceImpl) PeerID(conv *model.Conversation, userID uint64) (uint64, error) {
	var u1, u2 uint64
	if _, err := fmt.Sscanf(conv.PeerKey, "%d_%d", &u1, &u2); err != nil {
		return 0, err
	}
	if u1 == userID {
		return u2, nil
	}
	if u2 == userID {
		return u1, nil
	}
	return 0, ErrNotConversationMember
}

func (s *imServiceImpl) Close() {
	close(s.stopChan)
	s.wg.Wait()
	log.Info("IMService shut down gracefully")
}

// calibrationWorker 异步补写失败的消息明细，指数退避重试
func (s *imServiceImpl) calibrationWorker() {
	defer s.wg.Done()
	for {
		select {
		case msg := <-s.retryChan:
			backoff := time.Second
			for i := 0; i < 3; i++ {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := s.msgRepo.SaveMessage(ctx, msg)
				cancel()
				if err == nil {
					break
				}
				time.Sleep(backoff)
				backoff *= 2
			}
		case <-s.stopChan:
			return
		}
	}
}

func (s *imServiceImpl) toMessageDTO(ctx context.Context, m *mongo.Message) *dto.MessageDTO {
	d := &dto.MessageDTO{}
	if err := copier.Copy(d, m); err != nil {
		log.WarnContext(ctx, "消息 DTO 装配失败", "err", err)
	}

	if m.MediaRef != "" && !m.Deleted {
		if url, err := imminio.PresignMediaURL(ctx, m.MediaRef, time.Hour); err == nil {
			d.MediaURL = url
		}
	}
	return d
}
