package handler

import (
	"Murmur/internal/api/config"
	"Murmur/internal/api/dto"
	"Murmur/internal/hub"
	"Murmur/internal/pkg/consts"
	"Murmur/internal/pkg/response"
	"Murmur/internal/pkg/security"
	"Murmur/internal/service"
	"context"
	log "log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const pongWait = 60 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WsHandler 连接接入层：鉴权、事件分发、房间生命周期
// 连接状态机：Connecting -> Authenticated -> (加入若干房间) -> Disconnected
type WsHandler struct {
	imService service.IMService
	presence  service.PresenceService
	hub       *hub.Hub
	cfg       config.IMConfig
}

func NewWsHandler(im service.IMService, presence service.PresenceService, h *hub.Hub, cfg config.IMConfig) *WsHandler {
	cfg.Normalize()
	return &WsHandler{imService: im, presence: presence, hub: h, cfg: cfg}
}

// Connect 升级 WebSocket 并驱动连接事件循环
func (s *WsHandler) Connect(c *gin.Context) {
	// 鉴权：握手失败是终态，直接关闭
	token := c.Query("token")
	if token == "" {
		response.Error(c, service.ErrTokenInvalid)
		return
	}
	claims, err := security.ValidateToken(token)
	if err != nil {
		log.Warn("WS 鉴权失败", "err", err)
		response.Error(c, service.ErrTokenInvalid)
		return
	}
	userID := claims.UserID

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WS 协议升级失败", "err", err)
		return
	}

	client := hub.NewClient(uuid.NewString(), userID, conn)
	s.hub.Register(client)
	go client.WritePump()

	ctx := c.Request.Context()

	// 在线迁移：首条连接才广播
	if becameOnline, err := s.presence.Connect(ctx, userID, client.ID); err == nil && becameOnline {
		s.hub.BroadcastAll(dto.NewServerEvent(consts.EventUserOnline, &dto.PresenceDTO{UserID: userID}))
	}

	log.Info("用户 WS 连接已建立", "userID", userID, "connID", client.ID)

	defer func() {
		s.hub.Unregister(client.ID)
		client.Close()

		// 断连清理使用独立超时上下文，请求上下文此时可能已取消
		cleanupCtx, cancel := context.WithTimeout(context.Background(), s.cfg.StoreTimeout)
		defer cancel()
		if becameOffline, err := s.presence.Disconnect(cleanupCtx, userID, client.ID); err == nil && becameOffline {
			s.hub.BroadcastAll(dto.NewServerEvent(consts.EventUserOffline, &dto.PresenceDTO{UserID: userID}))
		}
		log.Info("用户 WS 连接已断开", "userID", userID, "connID", client.ID)
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		_ = s.presence.Heartbeat(context.Background(), userID)
		return nil
	})

	// 读循环：每条连接一个 goroutine，动作级失败回发 error 事件，连接不死
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var env dto.Envelope
		if err := dto.DecodeEnvelope(payload, &env); err != nil {
			s.sendError(client.ID, "unknown", service.ErrParamInvalid, "")
			continue
		}

		s.dispatch(ctx, client, &env)
	}
}

// dispatch 按事件名路由到业务动作
func (s *WsHandler) dispatch(ctx context.Context, client *hub.Client, env *dto.Envelope) {
	switch env.Event {
	case consts.EventCreateOrGetChat:
		s.onCreateOrGetChat(ctx, client, env)
	case consts.EventJoinChat:
		s.onJoinChat(ctx, client, env)
	case consts.EventLeaveChat:
		s.onLeaveChat(client, env)
	case consts.EventSendMessage:
		s.onSendMessage(ctx, client, env)
	case consts.EventTyping, consts.EventStopTyping:
		s.onTyping(client, env)
	case consts.EventMessageRead:
		s.onMessageRead(ctx, client, env)
	default:
		s.sendError(client.ID, env.Event, service.ErrParamInvalid, "")
	}
}

// onCreateOrGetChat 解析/创建会话，应答最近一页消息并把连接拉进房间
func (s *WsHandler) onCreateOrGetChat(ctx context.Context, client *hub.Client, env *dto.Envelope) {
	var req dto.CreateOrGetChatReq
	if err := dto.DecodeEventData(env.Data, &req); err != nil {
		s.sendError(client.ID, env.Event, service.ErrParamInvalid, "")
		return
	}

	conv, err := s.imService.GetOrCreateConversation(ctx, client.UserID, req.OtherUserID)
	if err != nil {
		s.sendError(client.ID, env.Event, err, "")
		return
	}

	page, err := s.imService.PageMessages(ctx, client.UserID, conv.ID, s.cfg.DefaultPageSize, "")
	if err != nil {
		s.sendError(client.ID, env.Event, err, "")
		return
	}

	s.hub.JoinRoom(client.ID, conv.ID)

	peerID, _ := s.imService.PeerID(conv, client.UserID)
	s.hub.SendTo(client.ID, dto.NewServerEvent(consts.EventChat, &dto.ChatDTO{
		ConversationID: conv.ID,
		PeerID:         peerID,
		RecentMessages: page.Messages,
	}))
}

// onJoinChat 加入房间前校验成员资格，非成员一律拒绝
func (s *WsHandler) onJoinChat(ctx context.Context, client *hub.Client, env *dto.Envelope) {
	var req dto.JoinChatReq
	if err := dto.DecodeEventData(env.Data, &req); err != nil || req.ConversationID == 0 {
		s.sendError(client.ID, env.Event, service.ErrParamInvalid, "")
		return
	}

	isMember, err := s.imService.IsMember(ctx, req.ConversationID, client.UserID)
	if err != nil {
		s.sendError(client.ID, env.Event, err, "")
		return
	}
	if !isMember {
		s.sendError(client.ID, env.Event, service.ErrNotConversationMember, "")
		return
	}

	s.hub.JoinRoom(client.ID, req.ConversationID)
}

func (s *WsHandler) onLeaveChat(client *hub.Client, env *dto.Envelope) {
	var req dto.JoinChatReq
	if err := dto.DecodeEventData(env.Data, &req); err != nil || req.ConversationID == 0 {
		s.sendError(client.ID, env.Event, service.ErrParamInvalid, "")
		return
	}
	s.hub.LeaveRoom(client.ID, req.ConversationID)
}

// onSendMessage 持久化后按房间扇出；发送者不在房间时单发回执，保证乐观消息能被对账
func (s *WsHandler) onSendMessage(ctx context.Context, client *hub.Client, env *dto.Envelope) {
	var req dto.SendMessageReq
	if err := dto.DecodeEventData(env.Data, &req); err != nil {
		s.sendError(client.ID, env.Event, service.ErrParamInvalid, "")
		return
	}

	msg, err := s.imService.SendMessage(ctx, client.UserID, &req)
	if err != nil {
		s.sendError(client.ID, env.Event, err, req.ClientMsgID)
		return
	}

	evt := dto.NewServerEvent(consts.EventMessage, msg)
	s.hub.BroadcastRoom(msg.ConversationID, evt)
	if !s.hub.InRoom(client.ID, msg.ConversationID) {
		s.hub.SendTo(client.ID, evt)
	}
}

// onTyping 非持久化信号，仅转发给房间内其他成员
func (s *WsHandler) onTyping(client *hub.Client, env *dto.Envelope) {
	var req dto.TypingReq
	if err := dto.DecodeEventData(env.Data, &req); err != nil || req.ConversationID == 0 {
		s.sendError(client.ID, env.Event, service.ErrParamInvalid, "")
		return
	}
	if !s.hub.InRoom(client.ID, req.ConversationID) {
		return
	}
	s.hub.BroadcastRoomExcept(req.ConversationID, client.ID,
		dto.NewServerEvent(env.Event, &dto.TypingDTO{ConversationID: req.ConversationID, UserID: client.UserID}))
}

// onMessageRead 幂等回执：状态真的翻转才广播
func (s *WsHandler) onMessageRead(ctx context.Context, client *hub.Client, env *dto.Envelope) {
	var req dto.MessageReadReq
	if err := dto.DecodeEventData(env.Data, &req); err != nil || req.MessageID == "" {
		s.sendError(client.ID, env.Event, service.ErrParamInvalid, "")
		return
	}

	msg, changed, err := s.imService.MarkAsRead(ctx, client.UserID, req.MessageID)
	if err != nil {
		s.sendError(client.ID, env.Event, err, "")
		return
	}
	if !changed {
		return
	}

	s.hub.BroadcastRoom(msg.ConversationID, dto.NewServerEvent(consts.EventMessageRead, &dto.ReadReceiptDTO{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		ReaderID:       client.UserID,
	}))
}

// sendError 动作级错误事件封装
func (s *WsHandler) sendError(connID, action string, err error, clientMsgID string) {
	code, ok := service.ErrorMap[err]
	if !ok {
		code = service.InternalServerError
	}
	s.hub.SendTo(connID, dto.NewServerEvent(consts.EventError, &dto.WsErrorDTO{
		Action:      action,
		Code:        code,
		Message:     err.Error(),
		ClientMsgID: clientMsgID,
	}))
}
