package client

import (
	"Murmur/internal/api/dto"
	"Murmur/internal/pkg/consts"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeEmitter 记录发出的事件，可按需模拟线路故障
type fakeEmitter struct {
	mu     sync.Mutex
	events []string
	sent   []*dto.SendMessageReq
	fail   bool
}

func (f *fakeEmitter) Emit(event string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("transport down")
	}
	f.events = append(f.events, event)
	if req, ok := data.(*dto.SendMessageReq); ok {
		f.sent = append(f.sent, req)
	}
	return nil
}

func (f *fakeEmitter) lastSent() *dto.SendMessageReq {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func serverCopy(local *LocalMessage, id string, echoToken bool) *dto.MessageDTO {
	msg := &dto.MessageDTO{
		ID:             id,
		ConversationID: local.ConversationID,
		SenderID:       local.SenderID,
		ReceiverID:     local.ReceiverID,
		Kind:           local.Kind,
		Content:        local.Content,
		CreatedAt:      local.CreatedAt.Add(time.Second),
	}
	if echoToken {
		msg.ClientMsgID = local.TempID
	}
	return msg
}

func TestReconciler_ConfirmByEchoedToken(t *testing.T) {
	emit := &fakeEmitter{}
	r := NewReconciler(1, emit)

	pending := r.BeginSend(100, 2, consts.MsgKindText, "hi", "")
	require.Equal(t, StatusSending, pending.Status)
	require.NotEmpty(t, pending.TempID)
	require.Equal(t, pending.TempID, emit.lastSent().ClientMsgID, "临时 ID 必须作为幂等令牌上线路")

	r.Confirm(serverCopy(pending, "srv-1", true))

	view := r.Messages(100)
	require.Len(t, view, 1, "确认后不得出现本地/服务端两份副本")
	require.Equal(t, "srv-1", view[0].ServerID)
	require.Empty(t, view[0].TempID, "临时 ID 确认后废弃")
	require.Equal(t, StatusSent, view[0].Status)
	require.Empty(t, r.Retryable())
}

func TestReconciler_ConfirmByHeuristicFallback(t *testing.T) {
	emit := &fakeEmitter{}
	r := NewReconciler(1, emit)

	pending := r.BeginSend(100, 2, consts.MsgKindText, "hi", "")
	// 服务端未回显令牌：退回（会话、发送者、时间邻近、内容一致）匹配
	r.Confirm(serverCopy(pending, "srv-1", false))

	view := r.Messages(100)
	require.Len(t, view, 1)
	require.Equal(t, "srv-1", view[0].ServerID)
	require.Equal(t, StatusSent, view[0].Status)
}

func TestReconciler_HeuristicRejectsDistantTimestamp(t *testing.T) {
	emit := &fakeEmitter{}
	r := NewReconciler(1, emit)

	pending := r.BeginSend(100, 2, consts.MsgKindText, "hi", "")
	srv := serverCopy(pending, "srv-old", false)
	srv.CreatedAt = pending.CreatedAt.Add(-time.Minute)

	r.Confirm(srv)

	// 时间偏差超限：不认账，两条并存（pending 继续等确认）
	require.Len(t, r.Messages(100), 2)
}

func TestReconciler_PeerMessageAppends(t *testing.T) {
	emit := &fakeEmitter{}
	r := NewReconciler(1, emit)

	r.Confirm(&dto.MessageDTO{
		ID:             "srv-peer",
		ConversationID: 100,
		SenderID:       2,
		ReceiverID:     1,
		Kind:           consts.MsgKindText,
		Content:        "yo",
		CreatedAt:      time.Now(),
	})

	view := r.Messages(100)
	require.Len(t, view, 1)
	require.Equal(t, uint64(2), view[0].SenderID)
	require.Equal(t, StatusSent, view[0].Status)
}

func TestReconciler_FailedSendIsRetryable(t *testing.T) {
	emit := &fakeEmitter{}
	r := NewReconciler(1, emit)

	pending := r.BeginSend(100, 2, consts.MsgKindText, "hi", "")
	r.FailSend(pending.TempID)

	require.Equal(t, StatusError, pending.Status)
	require.Equal(t, []string{pending.TempID}, r.Retryable())
	// 内容保留，无需重新输入
	require.Equal(t, "hi", pending.Content)
}

func TestReconciler_TransportErrorOnEmitFailsImmediately(t *testing.T) {
	emit := &fakeEmitter{fail: true}
	r := NewReconciler(1, emit)

	pending := r.BeginSend(100, 2, consts.MsgKindText, "hi", "")

	require.Equal(t, StatusError, pending.Status)
	require.Len(t, r.Retryable(), 1)
}

func TestReconciler_ResendLifecycle(t *testing.T) {
	emit := &fakeEmitter{}
	r := NewReconciler(1, emit)

	pending := r.BeginSend(100, 2, consts.MsgKindText, "hi", "")
	oldTempID := pending.TempID
	r.FailSend(oldTempID)

	// 未失败的临时 ID 不可重发
	_, ok := r.Resend("no-such-id")
	require.False(t, ok)

	resent, ok := r.Resend(oldTempID)
	require.True(t, ok)
	require.Equal(t, StatusSending, resent.Status)
	require.NotEqual(t, oldTempID, resent.TempID, "重发必须换发新令牌")
	require.Equal(t, "hi", emit.lastSent().Content)
	require.Empty(t, r.Retryable())

	// 服务端确认重发副本后转入 sent
	r.Confirm(serverCopy(resent, "srv-2", true))
	view := r.Messages(100)
	require.Len(t, view, 1)
	require.Equal(t, StatusSent, r.DisplayStatus(view[0]))
}

func TestReconciler_ReadReceiptTransition(t *testing.T) {
	emit := &fakeEmitter{}
	r := NewReconciler(1, emit)

	pending := r.BeginSend(100, 2, consts.MsgKindText, "hi", "")
	r.Confirm(serverCopy(pending, "srv-1", true))

	r.ApplyReadReceipt(&dto.ReadReceiptDTO{MessageID: "srv-1", ConversationID: 100, ReaderID: 2})

	view := r.Messages(100)
	require.Equal(t, StatusRead, view[0].Status)
	require.Equal(t, StatusRead, r.DisplayStatus(view[0]))
}

func TestReconciler_DisplayPrecedenceSuppressesReadDuringResend(t *testing.T) {
	emit := &fakeEmitter{}
	r := NewReconciler(1, emit)

	// 第一次发送已确认并被读
	first := r.BeginSend(100, 2, consts.MsgKindText, "hi", "")
	r.Confirm(serverCopy(first, "srv-1", true))
	r.ApplyReadReceipt(&dto.ReadReceiptDTO{MessageID: "srv-1", ConversationID: 100})

	// 同样内容又有一次在途发送：已确认那条不得显示 read
	second := r.BeginSend(100, 2, consts.MsgKindText, "hi", "")

	view := r.Messages(100)
	require.Equal(t, StatusSending, r.DisplayStatus(view[0]), "同内容重发在途时压制 read 展示")
	require.Equal(t, StatusSending, r.DisplayStatus(second))

	// 在途副本确认后恢复正常优先级
	r.Confirm(serverCopy(second, "srv-2", true))
	require.Equal(t, StatusRead, r.DisplayStatus(view[0]))
}

func TestReconciler_ReceiptBeforeOwnMessageConfirm(t *testing.T) {
	emit := &fakeEmitter{}
	r := NewReconciler(1, emit)

	pending := r.BeginSend(100, 2, consts.MsgKindText, "hi", "")

	// 回执与消息在不同往返里送达，回执先到：不得丢弃
	r.ApplyReadReceipt(&dto.ReadReceiptDTO{MessageID: "srv-1", ConversationID: 100, ReaderID: 2})
	r.Confirm(serverCopy(pending, "srv-1", true))

	view := r.Messages(100)
	require.Len(t, view, 1)
	require.Equal(t, StatusRead, view[0].Status, "早到的回执要在消息确认时补放")
	require.Equal(t, StatusRead, r.DisplayStatus(view[0]))
}

func TestReconciler_ReceiptBeforePeerMessageAppend(t *testing.T) {
	emit := &fakeEmitter{}
	r := NewReconciler(1, emit)

	r.ApplyReadReceipt(&dto.ReadReceiptDTO{MessageID: "srv-peer", ConversationID: 100, ReaderID: 1})
	r.Confirm(&dto.MessageDTO{
		ID:             "srv-peer",
		ConversationID: 100,
		SenderID:       2,
		ReceiverID:     1,
		Kind:           consts.MsgKindText,
		Content:        "yo",
		CreatedAt:      time.Now(),
	})

	view := r.Messages(100)
	require.Len(t, view, 1)
	require.Equal(t, StatusRead, view[0].Status)
}

func TestReconciler_ErrorEntryDoesNotSuppressRead(t *testing.T) {
	emit := &fakeEmitter{}
	r := NewReconciler(1, emit)

	// 第一条同内容消息已确认且被读
	first := r.BeginSend(100, 2, consts.MsgKindText, "hi", "")
	r.Confirm(serverCopy(first, "srv-1", true))
	r.ApplyReadReceipt(&dto.ReadReceiptDTO{MessageID: "srv-1", ConversationID: 100})

	// 第二条同内容发送失败：躺在 error 态不算在途，不能永久压制 read
	second := r.BeginSend(100, 2, consts.MsgKindText, "hi", "")
	r.FailSend(second.TempID)

	view := r.Messages(100)
	require.Equal(t, StatusRead, r.DisplayStatus(view[0]))
	require.Equal(t, StatusError, r.DisplayStatus(second))

	// 重发让压制重新生效，确认后恢复
	resent, ok := r.Resend(second.TempID)
	require.True(t, ok)
	require.Equal(t, StatusSending, r.DisplayStatus(view[0]))

	r.Confirm(serverCopy(resent, "srv-2", true))
	require.Equal(t, StatusRead, r.DisplayStatus(view[0]))
}

func TestReconciler_ErrorBeatsEverything(t *testing.T) {
	emit := &fakeEmitter{}
	r := NewReconciler(1, emit)

	pending := r.BeginSend(100, 2, consts.MsgKindText, "hi", "")
	r.FailSend(pending.TempID)

	require.Equal(t, StatusError, r.DisplayStatus(pending))
}
