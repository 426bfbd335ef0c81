package client

import (
	"Murmur/internal/api/dto"
	"Murmur/internal/pkg/consts"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status 本地消息的投递状态
type Status int

const (
	StatusSending Status = iota
	StatusSent
	StatusRead
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusSending:
		return "sending"
	case StatusSent:
		return "sent"
	case StatusRead:
		return "read"
	default:
		return "error"
	}
}

// confirmWindow 服务端确认回落匹配时允许的时间偏差
const confirmWindow = 5 * time.Second

// LocalMessage 本地乐观视图中的一条消息
// 乐观消息先以临时 ID 入列，服务端确认后换成服务端副本，临时 ID 随之废弃
type LocalMessage struct {
	TempID         string // 客户端生成的临时标识，确认后清空
	ServerID       string // 服务端消息 ID，确认前为空
	ConversationID uint64
	SenderID       uint64
	ReceiverID     uint64
	Kind           int
	Content        string
	MediaRef       string
	Status         Status
	CreatedAt      time.Time
}

// Emitter 把客户端事件送上线路，由连接层实现
type Emitter interface {
	Emit(event string, data any) error
}

// Reconciler 维护单用户视角下的会话乐观视图：
// 发送即显示 pending 条目，服务端广播到达后按回显令牌对账替换，
// 发送失败的条目保留在可重发集合中，内容不丢
type Reconciler struct {
	mu     sync.Mutex
	userID uint64
	emit   Emitter

	// 会话 ID -> 按到达顺序排列的本地视图
	views map[uint64][]*LocalMessage
	// 临时 ID -> 在途/失败的 pending 条目
	pending map[string]*LocalMessage
	// 失败待重发的临时 ID 集合
	retryable map[string]struct{}
	// 逻辑消息（会话+内容）当前是否有在途重发，压制 read 展示
	inflight map[uint64]map[string]int
	// 先于消息本体到达的回执，按服务端消息 ID 暂存，消息入列时补放
	// 回执与消息在不同往返里送达时，到达顺序没有保证
	orphanReceipts map[string]struct{}

	now func() time.Time
}

func NewReconciler(userID uint64, emit Emitter) *Reconciler {
	return &Reconciler{
		userID:         userID,
		emit:           emit,
		views:          make(map[uint64][]*LocalMessage),
		pending:        make(map[string]*LocalMessage),
		retryable:      make(map[string]struct{}),
		inflight:       make(map[uint64]map[string]int),
		orphanReceipts: make(map[string]struct{}),
		now:            time.Now,
	}
}

// BeginSend 生成乐观 pending 条目并发出 send_message 事件
// 线路发送失败时立即转入 error 态，条目保留
func (r *Reconciler) BeginSend(convID, receiverID uint64, kind int, content, mediaRef string) *LocalMessage {
	r.mu.Lock()
	msg := &LocalMessage{
		TempID:         uuid.NewString(),
		ConversationID: convID,
		SenderID:       r.userID,
		ReceiverID:     receiverID,
		Kind:           kind,
		Content:        content,
		MediaRef:       mediaRef,
		Status:         StatusSending,
		CreatedAt:      r.now(),
	}
	r.pending[msg.TempID] = msg
	r.views[convID] = append(r.views[convID], msg)
	r.markInflight(convID, content, +1)
	r.mu.Unlock()

	err := r.emit.Emit(consts.EventSendMessage, &dto.SendMessageReq{
		ConversationID: convID,
		TargetUserID:   receiverID,
		Kind:           kind,
		Content:        content,
		MediaRef:       mediaRef,
		ClientMsgID:    msg.TempID,
	})
	if err != nil {
		r.FailSend(msg.TempID)
	}
	return msg
}

// Confirm 用服务端广播的消息副本替换 pending 条目
// 优先按回显的 client_msg_id 精确匹配，缺失时退回
// （会话、发送者、创建时间偏差 ≤ 5s、内容一致）的启发式匹配；
// 两者都未命中说明是对端消息，直接追加进视图
func (r *Reconciler) Confirm(serverMsg *dto.MessageDTO) {
	r.mu.Lock()
	defer r.mu.Unlock()

	target := r.matchPending(serverMsg)
	if target == nil {
		// 对端消息，或本端在另一设备发出、无 pending 可对账：按已确认态入列
		r.appendConfirmed(serverMsg)
		return
	}

	if target.Status == StatusSending {
		r.markInflight(target.ConversationID, target.Content, -1)
	}
	delete(r.pending, target.TempID)
	delete(r.retryable, target.TempID)

	target.TempID = ""
	target.ServerID = serverMsg.ID
	target.Content = serverMsg.Content
	target.MediaRef = serverMsg.MediaRef
	target.CreatedAt = serverMsg.CreatedAt
	if serverMsg.Read || r.takeOrphanReceipt(serverMsg.ID) {
		target.Status = StatusRead
	} else {
		target.Status = StatusSent
	}
}

// takeOrphanReceipt 消费暂存的早到回执，调用方需持锁
func (r *Reconciler) takeOrphanReceipt(serverID string) bool {
	if _, ok := r.orphanReceipts[serverID]; !ok {
		return false
	}
	delete(r.orphanReceipts, serverID)
	return true
}

func (r *Reconciler) matchPending(serverMsg *dto.MessageDTO) *LocalMessage {
	if serverMsg.ClientMsgID != "" {
		if msg, ok := r.pending[serverMsg.ClientMsgID]; ok {
			return msg
		}
	}
	if serverMsg.SenderID != r.userID {
		return nil
	}
	for _, msg := range r.pending {
		if msg.ConversationID != serverMsg.ConversationID || msg.Content != serverMsg.Content {
			continue
		}
		delta := serverMsg.CreatedAt.Sub(msg.CreatedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= confirmWindow {
			return msg
		}
	}
	return nil
}

func (r *Reconciler) appendConfirmed(serverMsg *dto.MessageDTO) {
	status := StatusSent
	if serverMsg.Read || r.takeOrphanReceipt(serverMsg.ID) {
		status = StatusRead
	}
	r.views[serverMsg.ConversationID] = append(r.views[serverMsg.ConversationID], &LocalMessage{
		ServerID:       serverMsg.ID,
		ConversationID: serverMsg.ConversationID,
		SenderID:       serverMsg.SenderID,
		ReceiverID:     serverMsg.ReceiverID,
		Kind:           serverMsg.Kind,
		Content:        serverMsg.Content,
		MediaRef:       serverMsg.MediaRef,
		Status:         status,
		CreatedAt:      serverMsg.CreatedAt,
	})
}

// FailSend 把 pending 条目转入 error 态并登记为可重发
// 传输错误、超时、服务端 error 事件共用此入口
func (r *Reconciler) FailSend(tempID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, ok := r.pending[tempID]
	if !ok {
		return
	}
	if msg.Status == StatusSending {
		// 躺在 error 态的条目不算在途，不再压制同内容消息的 read 展示
		r.markInflight(msg.ConversationID, msg.Content, -1)
	}
	msg.Status = StatusError
	r.retryable[tempID] = struct{}{}
}

// Resend 复用失败条目的内容重新发送，换发新的临时 ID
// 返回 false 表示该临时 ID 不在可重发集合中
func (r *Reconciler) Resend(tempID string) (*LocalMessage, bool) {
	r.mu.Lock()
	msg, ok := r.pending[tempID]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	if _, retry := r.retryable[tempID]; !retry {
		r.mu.Unlock()
		return nil, false
	}

	delete(r.pending, tempID)
	delete(r.retryable, tempID)

	msg.TempID = uuid.NewString()
	msg.Status = StatusSending
	msg.CreatedAt = r.now()
	r.pending[msg.TempID] = msg
	r.markInflight(msg.ConversationID, msg.Content, +1)
	r.mu.Unlock()

	err := r.emit.Emit(consts.EventSendMessage, &dto.SendMessageReq{
		ConversationID: msg.ConversationID,
		TargetUserID:   msg.ReceiverID,
		Kind:           msg.Kind,
		Content:        msg.Content,
		MediaRef:       msg.MediaRef,
		ClientMsgID:    msg.TempID,
	})
	if err != nil {
		r.FailSend(msg.TempID)
	}
	return msg, true
}

// ApplyReadReceipt 收到 message_read 回执后把对应消息置为已读
// 回执早于消息本体到达时先暂存，待消息确认/入列时补放为已读，
// 保证跨往返送达的乱序不会把消息卡在未读态
func (r *Reconciler) ApplyReadReceipt(receipt *dto.ReadReceiptDTO) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, msg := range r.views[receipt.ConversationID] {
		if msg.ServerID == receipt.MessageID {
			msg.Status = StatusRead
			return
		}
	}
	r.orphanReceipts[receipt.MessageID] = struct{}{}
}

// DisplayStatus 展示态优先级：error > sending > read > sent
// 同一逻辑内容有在途重发时不得显示 read
func (r *Reconciler) DisplayStatus(msg *LocalMessage) Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.Status == StatusError || msg.Status == StatusSending {
		return msg.Status
	}
	if r.inflight[msg.ConversationID][msg.Content] > 0 {
		return StatusSending
	}
	return msg.Status
}

// Messages 返回一个会话当前的本地视图快照
func (r *Reconciler) Messages(convID uint64) []*LocalMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	view := r.views[convID]
	out := make([]*LocalMessage, len(view))
	copy(out, view)
	return out
}

// Retryable 返回当前可重发的临时 ID 列表
func (r *Reconciler) Retryable() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.retryable))
	for id := range r.retryable {
		ids = append(ids, id)
	}
	return ids
}

func (r *Reconciler) markInflight(convID uint64, content string, delta int) {
	byContent := r.inflight[convID]
	if byContent == nil {
		byContent = make(map[string]int)
		r.inflight[convID] = byContent
	}
	byContent[content] += delta
	if byContent[content] <= 0 {
		delete(byContent, content)
	}
}
