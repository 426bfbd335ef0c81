package handler

import (
	"Murmur/internal/api/dto"
	"Murmur/internal/hub"
	"Murmur/internal/pkg/consts"
	"Murmur/internal/pkg/response"
	"Murmur/internal/service"
	"strconv"

	"github.com/gin-gonic/gin"
)

// IMHandler HTTP 查询与变更边界
// 变更成功后通过 Hub 向房间扇出对应事件，与 WS 通道共享一套广播语义
type IMHandler struct {
	imService service.IMService
	hub       *hub.Hub
}

func NewIMHandler(imService service.IMService, h *hub.Hub) *IMHandler {
	return &IMHandler{imService: imService, hub: h}
}

// SendMessage 发送消息接口
func (s *IMHandler) SendMessage(c *gin.Context) {
	var req dto.SendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	senderID := c.GetUint64("user_id")

	res, err := s.imService.SendMessage(c, senderID, &req)
	if err != nil {
		response.Error(c, err)
		return
	}

	s.hub.BroadcastRoom(res.ConversationID, dto.NewServerEvent(consts.EventMessage, res))
	response.Success(c, res)
}

// MarkAsRead 标记已读接口
func (s *IMHandler) MarkAsRead(c *gin.Context) {
	var req dto.MarkAsReadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	userID := c.GetUint64("user_id")

	msg, changed, err := s.imService.MarkAsRead(c, userID, req.MessageID)
	if err != nil {
		response.Error(c, err)
		return
	}

	if changed {
		s.hub.BroadcastRoom(msg.ConversationID, dto.NewServerEvent(consts.EventMessageRead, &dto.ReadReceiptDTO{
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
			ReaderID:       userID,
		}))
	}
	response.Success(c, msg)
}

// EditMessage 编辑消息接口
func (s *IMHandler) EditMessage(c *gin.Context) {
	var req dto.EditMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	userID := c.GetUint64("user_id")

	msg, err := s.imService.EditMessage(c, userID, req.MessageID, req.Content)
	if err != nil {
		response.Error(c, err)
		return
	}

	s.hub.BroadcastRoom(msg.ConversationID, dto.NewServerEvent(consts.EventMessageEdited, msg))
	response.Success(c, msg)
}

// DeleteMessage 删除消息接口（软删除）
func (s *IMHandler) DeleteMessage(c *gin.Context) {
	var req dto.DeleteMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	userID := c.GetUint64("user_id")

	msg, err := s.imService.DeleteMessage(c, userID, req.MessageID)
	if err != nil {
		response.Error(c, err)
		return
	}

	s.hub.BroadcastRoom(msg.ConversationID, dto.NewServerEvent(consts.EventMessageDeleted, msg))
	response.Success(c, msg)
}

// CorrectMessage 更正消息接口
func (s *IMHandler) CorrectMessage(c *gin.Context) {
	var req dto.CorrectMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	userID := c.GetUint64("user_id")

	msg, err := s.imService.CorrectMessage(c, userID, req.MessageID, req.Correction)
	if err != nil {
		response.Error(c, err)
		return
	}

	s.hub.BroadcastRoom(msg.ConversationID, dto.NewServerEvent(consts.EventMessageCorrected, msg))
	response.Success(c, msg)
}

// ClearConversation 清空会话接口
func (s *IMHandler) ClearConversation(c *gin.Context) {
	var req dto.ClearConversationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, service.ErrParamInvalid)
		return
	}

	userID := c.GetUint64("user_id")

	if _, err := s.imService.ClearConversation(c, userID, req.ConversationID); err != nil {
		response.Error(c, err)
		return
	}

	s.hub.BroadcastRoom(req.ConversationID, dto.NewServerEvent(consts.EventChatCleared, &dto.ChatClearedDTO{
		ConversationID: req.ConversationID,
		ClearedBy:      userID,
	}))
	response.Success(c, nil)
}

// ListMessages 游标分页拉取历史消息
func (s *IMHandler) ListMessages(c *gin.Context) {
	convID, _ := strconv.ParseUint(c.Query("conversation_id"), 10, 64)
	take, _ := strconv.Atoi(c.DefaultQuery("take", "20"))
	cursor := c.Query("cursor")

	userID := c.GetUint64("user_id")

	res, err := s.imService.PageMessages(c, userID, convID, take, cursor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// ListConversations 获取会话列表
func (s *IMHandler) ListConversations(c *gin.Context) {
	userID := c.GetUint64("user_id")
	res, err := s.imService.GetConversationList(c, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}
