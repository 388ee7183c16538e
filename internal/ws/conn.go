package ws

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kamilllllllllllllllll/lightning-server/internal/auth"
	"github.com/kamilllllllllllllllll/lightning-server/internal/config"
	"github.com/kamilllllllllllllllll/lightning-server/internal/metrics"
	"github.com/kamilllllllllllllllll/lightning-server/internal/presence"
	"github.com/kamilllllllllllllllll/lightning-server/internal/service"
	"github.com/rs/zerolog/log"
)

// Client 是一条已认证的 WebSocket 连接。身份在握手时一次性捕获，
// 之后不再变更；connID 用于 presence 的属主判定。
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	presence *presence.Store
	chSvc    *service.ChannelService
	msgSvc   *service.MessageService
	userID   uint
	name     string
	connID   string

	mu     sync.Mutex
	closed bool
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// InboundEvent 是客户端上行事件的统一载荷。
type InboundEvent struct {
	Type          string `json:"type"`
	ChannelID     uint   `json:"channel_id"`
	Content       string `json:"content"`
	AttachmentIDs []uint `json:"attachment_ids"`
	IsTyping      bool   `json:"is_typing"`
}

type presenceEvent struct {
	Type   string `json:"type"`
	UserID uint   `json:"user_id"`
	Status string `json:"status"`
}

type typingEvent struct {
	Type        string `json:"type"`
	ChannelID   uint   `json:"channel_id"`
	UserID      uint   `json:"user_id"`
	DisplayName string `json:"display_name"`
	IsTyping    bool   `json:"is_typing"`
}

type ackEvent struct {
	Type      string `json:"type"`
	ChannelID uint   `json:"channel_id"`
	OK        bool   `json:"ok"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Serve 处理 /ws 握手：缺失或非法 token 直接拒绝，升级成功后注册在线状态，
// 并向连接自身回发一条 presence 在线事件。
func Serve(h *Hub, store *presence.Store, chSvc *service.ChannelService, msgSvc *service.MessageService, cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Token via Authorization header or token query param for WS
		authz := c.GetHeader("Authorization")
		token := c.Query("token")
		if token == "" && len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
			token = authz[7:]
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		claims, err := auth.ParseAccessToken(token, cfg.JWTSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := &Client{
			hub:      h,
			conn:     conn,
			send:     make(chan []byte, 256),
			presence: store,
			chSvc:    chSvc,
			msgSvc:   msgSvc,
			userID:   claims.UserID,
			name:     claims.DisplayName,
			connID:   uuid.NewString(),
		}
		h.Register(client)
		store.SetOnline(client.userID, client.connID)
		client.sendEvent(presenceEvent{Type: "presence:update", UserID: client.userID, Status: presence.StatusOnline})

		go client.writePump()
		client.readPump()
	}
}

// trySend 尝试向连接投递一条消息，通道已关闭或缓冲已满时放弃。
func (c *Client) trySend(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) sendEvent(evt interface{}) {
	b, err := json.Marshal(evt)
	if err != nil {
		return
	}
	c.trySend(b)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		// 只有仍持有在线记录的连接能清除状态，迟到的旧连接在这里是 no-op
		c.presence.SetOffline(c.userID, c.connID)
		if b, err := json.Marshal(presenceEvent{Type: "presence:update", UserID: c.userID, Status: presence.StatusOffline}); err == nil {
			c.hub.BroadcastAll(b, c)
		}
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(1 << 20) // 1MB
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var evt InboundEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		c.dispatch(evt)
	}
}

func (c *Client) dispatch(evt InboundEvent) {
	switch evt.Type {
	case "channel:join":
		ok, err := c.chSvc.IsMember(evt.ChannelID, c.userID)
		if err != nil {
			log.Error().Err(err).Uint("channel_id", evt.ChannelID).Msg("ws join membership check")
			c.sendEvent(errorEvent{Type: "error", Message: "join failed"})
			return
		}
		if !ok {
			c.sendEvent(errorEvent{Type: "error", Message: "not a channel member"})
			return
		}
		c.hub.Join(c, evt.ChannelID)
		c.sendEvent(ackEvent{Type: "channel:join", ChannelID: evt.ChannelID, OK: true})
	case "channel:leave":
		c.hub.Leave(c, evt.ChannelID)
		c.sendEvent(ackEvent{Type: "channel:leave", ChannelID: evt.ChannelID, OK: true})
	case "typing":
		// typing signal (not persisted), sender excluded
		b, err := json.Marshal(typingEvent{
			Type:        "typing:update",
			ChannelID:   evt.ChannelID,
			UserID:      c.userID,
			DisplayName: c.name,
			IsTyping:    evt.IsTyping,
		})
		if err == nil {
			c.hub.BroadcastRoom(evt.ChannelID, b, c)
		}
	case "message:send":
		if strings.TrimSpace(evt.Content) == "" {
			c.sendEvent(errorEvent{Type: "error", Message: "empty message"})
			return
		}
		if err := c.chSvc.RequireMember(evt.ChannelID, c.userID); err != nil {
			c.sendEvent(errorEvent{Type: "error", Message: "not a channel member"})
			return
		}
		dto, err := c.msgSvc.Create(evt.ChannelID, c.userID, evt.Content, evt.AttachmentIDs)
		if err != nil {
			log.Error().Err(err).Uint("channel_id", evt.ChannelID).Uint("user_id", c.userID).Msg("ws create message")
			c.sendEvent(errorEvent{Type: "error", Message: "send failed"})
			return
		}
		b, err := json.Marshal(dto)
		if err != nil {
			return
		}
		metrics.WsMessagesTotal.Inc()
		// 发送方的其他连接也要收到，所以不排除任何订阅者
		c.hub.BroadcastRoom(evt.ChannelID, b, nil)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
