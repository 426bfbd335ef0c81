package consts

// 消息类型
const (
	MsgKindText  = 1
	MsgKindImage = 2
	MsgKindVoice = 3
)

// WebSocket 事件名（客户端 -> 服务端）
const (
	EventCreateOrGetChat = "create_or_get_chat"
	EventJoinChat        = "join_chat"
	EventLeaveChat       = "leave_chat"
	EventSendMessage     = "send_message"
	EventTyping          = "typing"
	EventStopTyping      = "stop_typing"
	EventMessageRead     = "message_read"
)

// WebSocket 事件名（服务端 -> 客户端）
const (
	EventChat             = "chat"
	EventMessage          = "message"
	EventMessageEdited    = "message_edited"
	EventMessageDeleted   = "message_deleted"
	EventMessageCorrected = "message_corrected"
	EventChatCleared      = "chat_cleared"
	EventUserOnline       = "user_online"
	EventUserOffline      = "user_offline"
	EventError            = "error"
)

// Kafka 主题
const (
	TopicIMNotification = "im.notification"
)
