package hub

import (
	"Murmur/internal/api/dto"
	log "log/slog"
	"sync"

	"github.com/goccy/go-json"
)

// Hub 房间注册表与事件扇出器
// 两张表是仅有的跨连接共享态：connID -> Client、convID -> 房间成员集合，
// 只允许经由 Hub 方法修改，其余代码一律不得直接触碰
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[uint64]map[string]struct{} // convID -> set<connID>
	joined  map[string]map[uint64]struct{} // connID -> set<convID>
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[uint64]map[string]struct{}),
		joined:  make(map[string]map[uint64]struct{}),
	}
}

// Register 接入一条新连接
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
	h.joined[c.ID] = make(map[uint64]struct{})
}

// Unregister 摘除连接并清空其全部房间成员关系
// 之后的广播不再投递给该连接；已经入队的事件不受影响
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for convID := range h.joined[connID] {
		if members, ok := h.rooms[convID]; ok {
			delete(members, connID)
			if len(members) == 0 {
				delete(h.rooms, convID)
			}
		}
	}
	delete(h.joined, connID)
	delete(h.clients, connID)
}

// JoinRoom 把连接加入会话房间，成员资格校验由接入层先行完成
func (h *Hub) JoinRoom(connID string, convID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[connID]; !ok {
		return
	}
	if _, ok := h.rooms[convID]; !ok {
		h.rooms[convID] = make(map[string]struct{})
	}
	h.rooms[convID][connID] = struct{}{}
	h.joined[connID][convID] = struct{}{}
}

// LeaveRoom 把连接移出会话房间，立即停止后续投递
func (h *Hub) LeaveRoom(connID string, convID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[convID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, convID)
		}
	}
	if convs, ok := h.joined[connID]; ok {
		delete(convs, convID)
	}
}

// InRoom 连接是否在指定房间内
func (h *Hub) InRoom(connID string, convID uint64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.joined[connID][convID]
	return ok
}

// BroadcastRoom 向房间内全部连接扇出事件
// 同一会话的事件由持久化它的 handler goroutine 顺序入队，
// 因此单个连接观察到的顺序与持久化顺序一致
func (h *Hub) BroadcastRoom(convID uint64, evt *dto.ServerEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		log.Error("事件序列化失败", "event", evt.Event, "err", err)
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[convID]))
	for connID := range h.rooms[convID] {
		if c, ok := h.clients[connID]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(payload)
	}
}

// BroadcastRoomExcept 扇出但跳过指定连接（用于 typing 回声抑制）
func (h *Hub) BroadcastRoomExcept(convID uint64, exceptConnID string, evt *dto.ServerEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		log.Error("事件序列化失败", "event", evt.Event, "err", err)
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[convID]))
	for connID := range h.rooms[convID] {
		if connID == exceptConnID {
			continue
		}
		if c, ok := h.clients[connID]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(payload)
	}
}

// BroadcastAll 向全部在线连接广播（上下线等全局信号）
func (h *Hub) BroadcastAll(evt *dto.ServerEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		log.Error("事件序列化失败", "event", evt.Event, "err", err)
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(payload)
	}
}

// SendTo 点对点投递（错误事件、chat 应答等只给单连接的回包）
func (h *Hub) SendTo(connID string, evt *dto.ServerEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		log.Error("事件序列化失败", "event", evt.Event, "err", err)
		return
	}

	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if ok {
		c.enqueue(payload)
	}
}

// ConnCount 仅测试与指标使用
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
