package mongo

import (
	"time"
)

// Message MongoDB 消息明细模型
type Message struct {
	ID              string    `bson:"_id" json:"id"`
	ConversationID  uint64    `bson:"conversation_id" json:"conversationId"` // 关联 MySQL 的会话 ID
	SenderID        uint64    `bson:"sender_id" json:"senderId"`
	ReceiverID      uint64    `bson:"receiver_id" json:"receiverId"`
	Kind            int       `bson:"kind" json:"kind"`                             // 1-文本, 2-图片, 3-语音
	Content         string    `bson:"content" json:"content"`                       // 文本内容，删除后置空
	MediaRef        string    `bson:"media_ref,omitempty" json:"mediaRef"`          // 媒体对象引用（外部存储）
	Seq             uint64    `bson:"seq" json:"seq"`                               // 该消息在会话中的唯一绝对序号 (来自 MySQL)
	Read            bool      `bson:"read" json:"read"`                             // 已读标记，只允许 false -> true
	Edited          bool      `bson:"edited" json:"edited"`
	Deleted         bool      `bson:"deleted" json:"deleted"`                       // 软删除墓碑，不可逆
	Correction      string    `bson:"correction,omitempty" json:"correction"`       // 对方提出的更正
	OriginalContent string    `bson:"original_content,omitempty" json:"originalContent"` // 首次被更正时的原文快照
	CorrectorID     uint64    `bson:"corrector_id,omitempty" json:"correctorId"`
	ClientMsgID     string    `bson:"client_msg_id,omitempty" json:"clientMsgId"` // 客户端幂等令牌，广播时原样回显
	CreatedAt       time.Time `bson:"created_at" json:"createdAt"`
}
