package client

import (
	"Murmur/internal/api/dto"
	"Murmur/internal/pkg/consts"
	"sync"
	"time"
)

// typingQuiet 连续击键停顿超过该时长后自动补发 stop_typing
const typingQuiet = 3 * time.Second

// peerTypingTTL 收到的对端输入状态兜底过期时长，防御 stop 事件丢失
const peerTypingTTL = 5 * time.Second

// TypingNotifier 发送侧输入状态机：
// 一段连续击键只发一次 typing，停顿 3 秒或消息发出时补发 stop_typing
type TypingNotifier struct {
	mu     sync.Mutex
	emit   Emitter
	active map[uint64]*time.Timer

	// 测试注入点，默认 time.AfterFunc
	afterFunc func(d time.Duration, f func()) *time.Timer
}

func NewTypingNotifier(emit Emitter) *TypingNotifier {
	return &TypingNotifier{
		emit:      emit,
		active:    make(map[uint64]*time.Timer),
		afterFunc: time.AfterFunc,
	}
}

// NotifyInput 每次击键调用；burst 内只有首次会发 typing，其余仅重置静默计时
func (t *TypingNotifier) NotifyInput(convID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.active[convID]; ok {
		timer.Reset(typingQuiet)
		return
	}
	t.active[convID] = t.afterFunc(typingQuiet, func() {
		t.stop(convID)
	})
	_ = t.emit.Emit(consts.EventTyping, &dto.TypingReq{ConversationID: convID})
}

// NotifySend 消息发出时立即终止本 burst
func (t *TypingNotifier) NotifySend(convID uint64) {
	t.stop(convID)
}

func (t *TypingNotifier) stop(convID uint64) {
	t.mu.Lock()
	timer, ok := t.active[convID]
	if ok {
		timer.Stop()
		delete(t.active, convID)
	}
	t.mu.Unlock()

	if ok {
		_ = t.emit.Emit(consts.EventStopTyping, &dto.TypingReq{ConversationID: convID})
	}
}

// PeerTypingTracker 接收侧输入状态：
// 记录对端 typing 的到达时间，显式 stop 或超时后视为停止
type PeerTypingTracker struct {
	mu   sync.Mutex
	seen map[uint64]map[uint64]time.Time // 会话 -> 用户 -> 最近 typing 时间
	ttl  time.Duration
	now  func() time.Time
}

func NewPeerTypingTracker() *PeerTypingTracker {
	return &PeerTypingTracker{
		seen: make(map[uint64]map[uint64]time.Time),
		ttl:  peerTypingTTL,
		now:  time.Now,
	}
}

// MarkTyping 收到对端 typing 事件
func (t *PeerTypingTracker) MarkTyping(convID, userID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	byUser := t.seen[convID]
	if byUser == nil {
		byUser = make(map[uint64]time.Time)
		t.seen[convID] = byUser
	}
	byUser[userID] = t.now()
}

// MarkStopped 收到对端 stop_typing 事件
func (t *PeerTypingTracker) MarkStopped(convID, userID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if byUser := t.seen[convID]; byUser != nil {
		delete(byUser, userID)
	}
}

// IsTyping 对端是否仍在输入；超过 TTL 未续期的状态视为已停止
func (t *PeerTypingTracker) IsTyping(convID, userID uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	byUser := t.seen[convID]
	if byUser == nil {
		return false
	}
	at, ok := byUser[userID]
	if !ok {
		return false
	}
	if t.now().Sub(at) > t.ttl {
		delete(byUser, userID)
		return false
	}
	return true
}
