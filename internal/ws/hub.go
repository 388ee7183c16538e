package ws

import (
	"encoding/json"
	"sync"

	"github.com/kamilllllllllllllllll/lightning-server/internal/metrics"
)

// Hub 维护显式的房间注册表（频道 id → 连接集合）和全部在线连接，
// 断开连接时保证从所有房间移除，不依赖运行时对死连接的隐式回收。
type Hub struct {
	mu      sync.RWMutex
	rooms   map[uint]map[*Client]struct{}
	clients map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		rooms:   make(map[uint]map[*Client]struct{}),
		clients: make(map[*Client]struct{}),
	}
}

// Register 将完成握手的连接加入全局集合。
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	metrics.WsConnections.Inc()
}

// Unregister 作为断开时的清理钩子，把连接从全局集合和所有房间移除，
// 并关闭其发送通道。重复调用是安全的。
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	for id, members := range h.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, id)
		}
	}
	h.mu.Unlock()
	c.closeSend()
	metrics.WsConnections.Dec()
}

// Join 将连接订阅到频道对应的房间。
func (h *Hub) Join(c *Client, channelID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[channelID]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[channelID] = members
	}
	members[c] = struct{}{}
}

// Leave 取消连接对房间的订阅。
func (h *Hub) Leave(c *Client, channelID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[channelID]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, channelID)
	}
}

// Subscribers 返回房间当前的订阅连接数，供 REST 接口复用。
func (h *Hub) Subscribers(channelID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[channelID])
}

// BroadcastRoom 向房间全部订阅者投递事件，exclude 非空时跳过该连接。
// 投递是 fire-and-forget：发送缓冲已满的慢连接直接放弃本条，不向发送方报错。
func (h *Hub) BroadcastRoom(channelID uint, payload []byte, exclude *Client) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[channelID]))
	for c := range h.rooms[channelID] {
		if c != exclude {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.trySend(payload)
	}
}

// BroadcastMessage 把持久化后的消息事件投递给房间全部订阅者，包含发送方自己的连接。
func (h *Hub) BroadcastMessage(channelID uint, dto interface{}) {
	b, err := json.Marshal(dto)
	if err != nil {
		return
	}
	h.BroadcastRoom(channelID, b, nil)
}

// BroadcastAll 向全部在线连接投递事件，用于 presence 离线通知。
func (h *Hub) BroadcastAll(payload []byte, exclude *Client) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if c != exclude {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.trySend(payload)
	}
}
