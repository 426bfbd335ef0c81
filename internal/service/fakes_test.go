package service

import (
	"Murmur/internal/model"
	"Murmur/internal/pkg/mongo"
	"Murmur/internal/repository"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"
)

// fakeConvRepo 内存版会话存储，唯一索引语义用 map 模拟
type fakeConvRepo struct {
	mu      sync.Mutex
	nextID  uint64
	byKey   map[string]*model.Conversation
	byID    map[uint64]*model.Conversation
	members map[uint64][]*model.ConversationMember

	// 测试钩子：下一次 CreateConversation 直接报唯一索引冲突
	failNextCreate bool
	// 测试钩子：成员资格查询返回指定错误（模拟存储故障）
	isMemberErr error
}

func newFakeConvRepo() *fakeConvRepo {
	return &fakeConvRepo{
		byKey:   make(map[string]*model.Conversation),
		byID:    make(map[uint64]*model.Conversation),
		members: make(map[uint64][]*model.ConversationMember),
	}
}

func (f *fakeConvRepo) CreateConversation(_ context.Context, conv *model.Conversation, members []*model.ConversationMember) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failNextCreate {
		f.failNextCreate = false
		return repository.ErrDuplicatePeerKey
	}
	if _, exists := f.byKey[conv.PeerKey]; exists {
		return repository.ErrDuplicatePeerKey
	}

	f.nextID++
	conv.ID = f.nextID
	f.byKey[conv.PeerKey] = conv
	f.byID[conv.ID] = conv
	for _, m := range members {
		m.ConversationID = conv.ID
		f.members[conv.ID] = append(f.members[conv.ID], m)
	}
	return nil
}

func (f *fakeConvRepo) GetConversation(_ context.Context, convID uint64) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.byID[convID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return conv, nil
}

func (f *fakeConvRepo) GetConversationByPeerKey(_ context.Context, peerKey string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.byKey[peerKey]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return conv, nil
}

func (f *fakeConvRepo) IsMember(_ context.Context, convID uint64, userID uint64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.isMemberErr != nil {
		return false, f.isMemberErr
	}
	for _, m := range f.members[convID] {
		if m.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeConvRepo) UpdateReadSeq(_ context.Context, convID, userID, seq uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.members[convID] {
		if m.UserID == userID && m.ReadMsgSeq < seq {
			m.ReadMsgSeq = seq
		}
	}
	return nil
}

func (f *fakeConvRepo) IncrMaxSeq(_ context.Context, convID uint64, preview string, kind int8, senderID uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	conv, ok := f.byID[convID]
	if !ok {
		return 0, gorm.ErrRecordNotFound
	}
	conv.MaxMsgSeq++
	conv.LastMsgContent = preview
	conv.LastMsgKind = kind
	conv.LastSenderID = senderID
	conv.LastMessageAt = time.Now()
	for _, m := range f.members[convID] {
		m.IsVisible = 1
	}
	return conv.MaxMsgSeq, nil
}

func (f *fakeConvRepo) ResetAfterClear(_ context.Context, convID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	conv, ok := f.byID[convID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	conv.MaxMsgSeq = 0
	conv.LastMsgContent = ""
	conv.LastSenderID = 0
	for _, m := range f.members[convID] {
		m.IsVisible = 0
		m.ReadMsgSeq = 0
	}
	return nil
}

func (f *fakeConvRepo) GetUserConversationMemList(_ context.Context, userID uint64) ([]*model.ConversationMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var res []*model.ConversationMember
	for convID, members := range f.members {
		for _, m := range members {
			if m.UserID == userID && m.IsVisible == 1 {
				cp := *m
				cp.Conversation = *f.byID[convID]
				res = append(res, &cp)
			}
		}
	}
	return res, nil
}

// fakeMsgRepo 内存版消息明细存储
type fakeMsgRepo struct {
	mu     sync.Mutex
	nextID int
	msgs   map[string]*mongo.Message
}

func newFakeMsgRepo() *fakeMsgRepo {
	return &fakeMsgRepo{msgs: make(map[string]*mongo.Message)}
}

func (f *fakeMsgRepo) SaveMessage(_ context.Context, msg *mongo.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg.ID == "" {
		f.nextID++
		msg.ID = fmt.Sprintf("msg-%04d", f.nextID)
	}
	cp := *msg
	f.msgs[msg.ID] = &cp
	return nil
}

func (f *fakeMsgRepo) GetMessage(_ context.Context, msgID string) (*mongo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.msgs[msgID]
	if !ok {
		return nil, ErrMessageNotFound
	}
	cp := *msg
	return &cp, nil
}

func (f *fakeMsgRepo) PageMessages(_ context.Context, convID uint64, beforeSeq uint64, limit int) ([]*mongo.Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var all []*mongo.Message
	for _, m := range f.msgs {
		if m.ConversationID != convID {
			continue
		}
		if beforeSeq > 0 && m.Seq >= beforeSeq {
			continue
		}
		cp := *m
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Seq > all[j].Seq })

	hasMore := len(all) > limit
	if hasMore {
		all = all[:limit]
	}
	// 倒序取页后翻回升序
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, hasMore, nil
}

func (f *fakeMsgRepo) MarkRead(_ context.Context, msgID string, readerID uint64) (*mongo.Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	msg, ok := f.msgs[msgID]
	if !ok {
		return nil, false, ErrMessageNotFound
	}
	if msg.Read || msg.SenderID == readerID {
		cp := *msg
		return &cp, false, nil
	}
	msg.Read = true
	cp := *msg
	return &cp, true, nil
}

func (f *fakeMsgRepo) UpdateContent(_ context.Context, msgID string, editorID uint64, newContent string) (*mongo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	msg, ok := f.msgs[msgID]
	if !ok || msg.Deleted || msg.SenderID != editorID {
		return nil, ErrMessageNotFound
	}
	msg.Content = newContent
	msg.Edited = true
	cp := *msg
	return &cp, nil
}

func (f *fakeMsgRepo) SoftDelete(_ context.Context, msgID string) (*mongo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	msg, ok := f.msgs[msgID]
	if !ok {
		return nil, ErrMessageNotFound
	}
	msg.Content = ""
	msg.MediaRef = ""
	msg.Deleted = true
	cp := *msg
	return &cp, nil
}

func (f *fakeMsgRepo) ApplyCorrection(_ context.Context, msgID string, correctorID uint64, correction, originalSnapshot string) (*mongo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	msg, ok := f.msgs[msgID]
	if !ok {
		return nil, ErrMessageNotFound
	}
	msg.Correction = correction
	msg.CorrectorID = correctorID
	if originalSnapshot != "" {
		msg.OriginalContent = originalSnapshot
	}
	cp := *msg
	return &cp, nil
}

func (f *fakeMsgRepo) ClearConversation(_ context.Context, convID uint64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int64
	for id, m := range f.msgs {
		if m.ConversationID == convID {
			delete(f.msgs, id)
			n++
		}
	}
	return n, nil
}

// fakeConnStore 内存版连接集合
type fakeConnStore struct {
	mu    sync.Mutex
	conns map[uint64]map[string]struct{}
}

func newFakeConnStore() *fakeConnStore {
	return &fakeConnStore{conns: make(map[uint64]map[string]struct{})}
}

func (f *fakeConnStore) AddConn(_ context.Context, userID uint64, connID string, _ time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := f.conns[userID]
	if set == nil {
		set = make(map[string]struct{})
		f.conns[userID] = set
	}
	set[connID] = struct{}{}
	return int64(len(set)), nil
}

func (f *fakeConnStore) RemoveConn(_ context.Context, userID uint64, connID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := f.conns[userID]
	delete(set, connID)
	return int64(len(set)), nil
}

func (f *fakeConnStore) ConnCount(_ context.Context, userID uint64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.conns[userID])), nil
}

func (f *fakeConnStore) RefreshTTL(_ context.Context, _ uint64, _ time.Duration) error {
	return nil
}

// fakeUserRepo 记录在线标记落地调用
type fakeUserRepo struct {
	mu     sync.Mutex
	online map[uint64]bool
	calls  []string
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{online: make(map[uint64]bool)}
}

func (f *fakeUserRepo) UpdatePresence(_ context.Context, userID uint64, online bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[userID] = online
	f.calls = append(f.calls, fmt.Sprintf("%d:%v", userID, online))
	return nil
}

func (f *fakeUserRepo) GetOnlineUserIDs(_ context.Context) ([]uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uint64
	for id, on := range f.online {
		if on {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
