package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTypingNotifier_OneEventPerBurst(t *testing.T) {
	emit := &fakeEmitter{}
	n := NewTypingNotifier(emit)
	// 拦住真实计时器，静默超时由测试手动触发
	var quietFired func()
	n.afterFunc = func(_ time.Duration, f func()) *time.Timer {
		quietFired = f
		return time.NewTimer(time.Hour)
	}

	n.NotifyInput(100)
	n.NotifyInput(100)
	n.NotifyInput(100)

	require.Equal(t, []string{"typing"}, emit.events, "连续击键一个 burst 只发一次 typing")

	// 静默 3 秒后自动补发 stop
	quietFired()
	require.Equal(t, []string{"typing", "stop_typing"}, emit.events)

	// 新 burst 重新发 typing
	n.NotifyInput(100)
	require.Equal(t, []string{"typing", "stop_typing", "typing"}, emit.events)
}

func TestTypingNotifier_SendStopsBurstImmediately(t *testing.T) {
	emit := &fakeEmitter{}
	n := NewTypingNotifier(emit)
	n.afterFunc = func(_ time.Duration, f func()) *time.Timer {
		return time.NewTimer(time.Hour)
	}

	n.NotifyInput(100)
	n.NotifySend(100)
	require.Equal(t, []string{"typing", "stop_typing"}, emit.events)

	// 没有进行中的 burst 时 send 不产生多余的 stop
	n.NotifySend(100)
	require.Equal(t, []string{"typing", "stop_typing"}, emit.events)
}

func TestTypingNotifier_BurstsPerConversation(t *testing.T) {
	emit := &fakeEmitter{}
	n := NewTypingNotifier(emit)
	n.afterFunc = func(_ time.Duration, f func()) *time.Timer {
		return time.NewTimer(time.Hour)
	}

	n.NotifyInput(100)
	n.NotifyInput(200)

	require.Equal(t, []string{"typing", "typing"}, emit.events, "不同会话的 burst 互不影响")
}

func TestPeerTypingTracker_ExpiresWithoutStop(t *testing.T) {
	tracker := NewPeerTypingTracker()
	base := time.Now()
	tracker.now = func() time.Time { return base }

	tracker.MarkTyping(100, 2)
	require.True(t, tracker.IsTyping(100, 2))

	// stop 事件丢失：超过 TTL 后状态自行过期
	tracker.now = func() time.Time { return base.Add(peerTypingTTL + time.Second) }
	require.False(t, tracker.IsTyping(100, 2))
}

func TestPeerTypingTracker_ExplicitStop(t *testing.T) {
	tracker := NewPeerTypingTracker()

	tracker.MarkTyping(100, 2)
	tracker.MarkStopped(100, 2)
	require.False(t, tracker.IsTyping(100, 2))

	// 其他用户的状态不受影响
	tracker.MarkTyping(100, 3)
	tracker.MarkStopped(100, 2)
	require.True(t, tracker.IsTyping(100, 3))
}
