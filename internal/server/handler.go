package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kamilllllllllllllllll/lightning-server/internal/auth"
	"github.com/kamilllllllllllllllll/lightning-server/internal/metrics"
	"github.com/kamilllllllllllllllll/lightning-server/internal/service"
	"github.com/kamilllllllllllllllll/lightning-server/internal/ws"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层和 ws hub。
type Handler struct {
	userSvc        *service.UserService
	channelSvc     *service.ChannelService
	msgSvc         *service.MessageService
	attSvc         *service.AttachmentService
	hub            *ws.Hub
	maxUploadBytes int64
}

func NewHandler(userSvc *service.UserService, channelSvc *service.ChannelService, msgSvc *service.MessageService, attSvc *service.AttachmentService, hub *ws.Hub, maxUploadBytes int64) *Handler {
	return &Handler{
		userSvc:        userSvc,
		channelSvc:     channelSvc,
		msgSvc:         msgSvc,
		attSvc:         attSvc,
		hub:            hub,
		maxUploadBytes: maxUploadBytes,
	}
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Email       string `json:"email"`
		DisplayName string `json:"display_name"`
		Password    string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.Email == "" || !strings.Contains(req.Email, "@") || len(req.Email) > 255 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email"})
		return
	}
	if req.DisplayName == "" || len(req.DisplayName) > 64 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid display name"})
		return
	}
	if len(req.Password) < 4 || len(req.Password) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid password"})
		return
	}
	result, err := h.userSvc.Register(req.Email, req.DisplayName, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "email taken"})
			return
		}
		log.Error().Err(err).Str("email", req.Email).Msg("register")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": result.ID, "email": result.Email, "display_name": result.DisplayName})
}

// Login 处理用户登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.Login(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		log.Error().Err(err).Str("email", req.Email).Msg("login")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
		"user":          gin.H{"id": result.User.ID, "email": result.User.Email, "display_name": result.User.DisplayName},
	})
}

// RefreshToken 处理 token 刷新请求。
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.RefreshTokens(req.RefreshToken)
	if err != nil {
		log.Warn().Err(err).Msg("refresh token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": result.AccessToken, "refresh_token": result.RefreshToken})
}

// CreateChannel 处理创建频道请求，调用者自动加入成员列表。
func (h *Handler) CreateChannel(c *gin.Context) {
	var req struct {
		Name      string `json:"name"`
		MemberIDs []uint `json:"member_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || len(req.Name) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel name"})
		return
	}
	callerID := auth.GetUserID(c)
	members := req.MemberIDs
	found := false
	for _, id := range members {
		if id == callerID {
			found = true
			break
		}
	}
	if !found {
		members = append(members, callerID)
	}
	channel, err := h.channelSvc.Create(req.Name, members)
	if err != nil {
		log.Error().Err(err).Uint("user_id", callerID).Str("name", req.Name).Msg("create channel")
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to create channel"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel": channel})
}

// ListChannels 返回调用者所属的频道，并附带各频道当前的订阅连接数。
func (h *Handler) ListChannels(c *gin.Context) {
	channels, err := h.channelSvc.ListForUser(auth.GetUserID(c))
	if err != nil {
		log.Error().Err(err).Msg("list channels")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list channels"})
		return
	}
	for i := range channels {
		channels[i].Online = h.hub.Subscribers(channels[i].ID)
	}
	c.JSON(http.StatusOK, gin.H{"channels": channels})
}

// ChannelMembers 返回频道成员列表。
func (h *Handler) ChannelMembers(c *gin.Context) {
	channelID, err := strconv.Atoi(c.Param("id"))
	if err != nil || channelID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel id"})
		return
	}
	members, err := h.channelSvc.Members(uint(channelID))
	if err != nil {
		if errors.Is(err, service.ErrChannelNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
			return
		}
		log.Error().Err(err).Int("channel_id", channelID).Msg("channel members")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list members"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

// SendMessage 持久化消息并把 message:new 事件广播给频道房间的全部订阅者。
func (h *Handler) SendMessage(c *gin.Context) {
	var req struct {
		ChannelID     uint   `json:"channel_id"`
		Content       string `json:"content"`
		AttachmentIDs []uint `json:"attachment_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if req.ChannelID == 0 || strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	senderID := auth.GetUserID(c)
	if !h.requireMember(c, req.ChannelID, senderID) {
		return
	}
	dto, err := h.msgSvc.Create(req.ChannelID, senderID, req.Content, req.AttachmentIDs)
	if err != nil {
		if errors.Is(err, service.ErrAttachmentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
			return
		}
		log.Error().Err(err).Uint("channel_id", req.ChannelID).Uint("user_id", senderID).Msg("send message")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send message"})
		return
	}
	metrics.WsMessagesTotal.Inc()
	h.hub.BroadcastMessage(req.ChannelID, dto)
	c.JSON(http.StatusOK, gin.H{"message": dto})
}

// ListMessages 按时间倒序分页返回频道消息，before 为 RFC3339 游标。
func (h *Handler) ListMessages(c *gin.Context) {
	channelID, err := strconv.Atoi(c.Query("channel_id"))
	if err != nil || channelID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel id"})
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	var before *time.Time
	if v := c.Query("before"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before cursor"})
			return
		}
		before = &t
	}
	if !h.requireMember(c, uint(channelID), auth.GetUserID(c)) {
		return
	}
	msgs, err := h.msgSvc.ListByChannel(uint(channelID), limit, before)
	if err != nil {
		log.Error().Err(err).Int("channel_id", channelID).Msg("list messages")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// requireMember 校验调用者是频道成员，失败时直接写出响应并返回 false。
func (h *Handler) requireMember(c *gin.Context, channelID, userID uint) bool {
	err := h.channelSvc.RequireMember(channelID, userID)
	switch {
	case err == nil:
		return true
	case errors.Is(err, service.ErrChannelNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
	case errors.Is(err, service.ErrNotMember):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a channel member"})
	default:
		log.Error().Err(err).Uint("channel_id", channelID).Msg("membership check")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "membership check failed"})
	}
	return false
}

// Upload 接收 multipart 上传并登记附件。
func (h *Handler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		log.Error().Err(err).Msg("open upload")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		return
	}
	defer f.Close()
	att, err := h.attSvc.SaveUpload(f, fh.Filename, fh.Header.Get("Content-Type"))
	if err != nil {
		log.Error().Err(err).Str("file", fh.Filename).Msg("save upload")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		return
	}
	metrics.UploadsTotal.Inc()
	c.JSON(http.StatusOK, gin.H{"attachment": att})
}

// GetUpload 按存储 key 流式返回附件内容。
func (h *Handler) GetUpload(c *gin.Context) {
	key := c.Param("filename")
	att, rc, err := h.attSvc.Open(key)
	if err != nil {
		if errors.Is(err, service.ErrAttachmentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		log.Error().Err(err).Str("key", key).Msg("get upload")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read file"})
		return
	}
	defer rc.Close()
	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", `inline; filename="`+att.FileName+`"`)
	c.Header("Content-Type", contentType)
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, rc)
}
