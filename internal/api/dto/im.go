package dto

import (
	"errors"
	"time"

	"github.com/goccy/go-json"
)

// SendMessageReq 发送消息请求体
// conversation_id 为 0 时按 target_user_id 现场解析/创建会话
type SendMessageReq struct {
	ConversationID uint64 `json:"conversation_id"`
	TargetUserID   uint64 `json:"target_user_id"`
	Kind           int    `json:"kind" binding:"required,oneof=1 2 3"` // 1-文本, 2-图片, 3-语音
	Content        string `json:"content"`
	MediaRef       string `json:"media_ref"`
	ClientMsgID    string `json:"client_msg_id"` // 客户端幂等令牌，广播时回显
}

// MessageDTO 消息明细响应
type MessageDTO struct {
	ID              string    `json:"id"`
	ConversationID  uint64    `json:"conversation_id"`
	SenderID        uint64    `json:"sender_id"`
	ReceiverID      uint64    `json:"receiver_id"`
	Kind            int       `json:"kind"`
	Content         string    `json:"content"`
	MediaRef        string    `json:"media_ref,omitempty"`
	MediaURL        string    `json:"media_url,omitempty"` // 由媒体引用换取的限时下载链接
	Seq             uint64    `json:"seq"`
	Read            bool      `json:"read"`
	Edited          bool      `json:"edited"`
	Deleted         bool      `json:"deleted"`
	Correction      string    `json:"correction,omitempty"`
	OriginalContent string    `json:"original_content,omitempty"`
	CorrectorID     uint64    `json:"corrector_id,omitempty"`
	ClientMsgID     string    `json:"client_msg_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ConversationDTO 会话列表项响应
type ConversationDTO struct {
	ConversationID uint64    `json:"conversation_id"`
	PeerID         uint64    `json:"peer_id"`
	LastMsgContent string    `json:"last_msg_content"`
	LastMsgKind    int8      `json:"last_msg_kind"`
	LastSenderID   uint64    `json:"last_sender_id"`
	LastMessageAt  time.Time `json:"last_message_at"`
	UnreadCount    uint64    `json:"unread_count"`
}

// ChatDTO create_or_get_chat 的应答：会话 ID 与最近一页消息
type ChatDTO struct {
	ConversationID uint64        `json:"conversation_id"`
	PeerID         uint64        `json:"peer_id"`
	RecentMessages []*MessageDTO `json:"recent_messages"`
}

// PageDTO 游标分页响应
type PageDTO struct {
	Messages   []*MessageDTO `json:"messages"`
	HasMore    bool          `json:"has_more"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// ReadReceiptDTO 已读回执推送
type ReadReceiptDTO struct {
	MessageID      string `json:"message_id"`
	ConversationID uint64 `json:"conversation_id"`
	ReaderID       uint64 `json:"reader_id"`
}

// TypingDTO 输入状态转发
type TypingDTO struct {
	ConversationID uint64 `json:"conversation_id"`
	UserID         uint64 `json:"user_id"`
}

// PresenceDTO 全局在线状态广播
type PresenceDTO struct {
	UserID uint64 `json:"user_id"`
}

// ChatClearedDTO 会话清空广播
type ChatClearedDTO struct {
	ConversationID uint64 `json:"conversation_id"`
	ClearedBy      uint64 `json:"cleared_by,omitempty"`
}

// WsErrorDTO 动作级错误事件，连接保持打开
type WsErrorDTO struct {
	Action      string `json:"action"` // 出错的原始事件名
	Code        int    `json:"code"`
	Message     string `json:"message"`
	ClientMsgID string `json:"client_msg_id,omitempty"` // 发送失败时回传，供客户端标记重试
}

// ---- HTTP 请求体 ----

// MarkAsReadReq 标记已读请求
type MarkAsReadReq struct {
	MessageID string `json:"message_id" binding:"required"`
}

// EditMessageReq 编辑消息请求
type EditMessageReq struct {
	MessageID string `json:"message_id" binding:"required"`
	Content   string `json:"content" binding:"required,max=2000"`
}

// DeleteMessageReq 删除消息请求
type DeleteMessageReq struct {
	MessageID string `json:"message_id" binding:"required"`
}

// CorrectMessageReq 更正消息请求
type CorrectMessageReq struct {
	MessageID  string `json:"message_id" binding:"required"`
	Correction string `json:"correction" binding:"required,max=2000"`
}

// ClearConversationReq 清空会话请求
type ClearConversationReq struct {
	ConversationID uint64 `json:"conversation_id" binding:"required"`
}

// ---- WebSocket 事件封包 ----

// Envelope 双向事件封包：{"event": "...", "data": {...}}
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ServerEvent 服务端下行事件
type ServerEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// NewServerEvent 构造下行事件
func NewServerEvent(event string, data interface{}) *ServerEvent {
	return &ServerEvent{Event: event, Data: data}
}

// CreateOrGetChatReq create_or_get_chat 载荷
type CreateOrGetChatReq struct {
	OtherUserID uint64 `json:"other_user_id"`
}

// JoinChatReq join_chat / leave_chat 载荷
type JoinChatReq struct {
	ConversationID uint64 `json:"conversation_id"`
}

// TypingReq typing / stop_typing 载荷
type TypingReq struct {
	ConversationID uint64 `json:"conversation_id"`
}

// MessageReadReq message_read 载荷
type MessageReadReq struct {
	MessageID string `json:"message_id"`
}

// DecodeEnvelope 解析上行封包，事件名缺失按非法处理
func DecodeEnvelope(payload []byte, env *Envelope) error {
	if err := json.Unmarshal(payload, env); err != nil {
		return err
	}
	if env.Event == "" {
		return errors.New("missing event name")
	}
	return nil
}

// DecodeEventData 在连接边界完成载荷解析，业务层只见强类型
func DecodeEventData(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 {
		return json.Unmarshal([]byte("{}"), out)
	}
	return json.Unmarshal(raw, out)
}
