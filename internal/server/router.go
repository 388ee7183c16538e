package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kamilllllllllllllllll/lightning-server/internal/auth"
	"github.com/kamilllllllllllllllll/lightning-server/internal/config"
	"github.com/kamilllllllllllllllll/lightning-server/internal/files"
	"github.com/kamilllllllllllllllll/lightning-server/internal/metrics"
	"github.com/kamilllllllllllllllll/lightning-server/internal/mw"
	"github.com/kamilllllllllllllllll/lightning-server/internal/presence"
	"github.com/kamilllllllllllllllll/lightning-server/internal/service"
	"github.com/kamilllllllllllllllll/lightning-server/internal/ws"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, db *gorm.DB, hub *ws.Hub, store *presence.Store) (*gin.Engine, error) {
	fileStore, err := files.NewStore(cfg.UploadDir)
	if err != nil {
		return nil, err
	}

	userSvc := service.NewUserService(db, cfg)
	channelSvc := service.NewChannelService(db)
	msgSvc := service.NewMessageService(db)
	attSvc := service.NewAttachmentService(db, fileStore)
	h := NewHandler(userSvc, channelSvc, msgSvc, attSvc, hub, cfg.MaxUploadBytes)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	// 按客户端 IP 限速，保护单进程部署不被刷爆。
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.RefreshToken)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(cfg, db))
	authed.POST("/messages/channels", h.CreateChannel)
	authed.GET("/messages/channels", h.ListChannels)
	authed.GET("/messages/channels/:id/members", h.ChannelMembers)
	authed.POST("/messages", h.SendMessage)
	authed.GET("/messages", h.ListMessages)
	authed.POST("/uploads", h.Upload)
	authed.GET("/uploads/:filename", h.GetUpload)

	r.GET("/ws", ws.Serve(hub, store, channelSvc, msgSvc, cfg))

	registerStatic(r)
	return r, nil
}

// registerStatic 有前端构建产物时以 SPA 方式回退到 index.html，否则退回 ./web。
func registerStatic(r *gin.Engine) {
	distDir := filepath.Join(".", "frontend", "dist")
	if _, err := os.Stat(filepath.Join(distDir, "index.html")); err != nil {
		r.Static("/static", "./web")
		return
	}
	r.NoRoute(func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Status(http.StatusNotFound)
			return
		}
		rel := strings.TrimPrefix(filepath.Clean(c.Request.URL.Path), "/")
		if strings.HasPrefix(rel, "api/") {
			c.Status(http.StatusNotFound)
			return
		}
		target := filepath.Join(distDir, rel)
		if fi, err := os.Stat(target); err == nil && !fi.IsDir() {
			c.File(target)
			return
		}
		// SPA 前端路由统一回退到 index.html
		if strings.Contains(rel, ".") {
			c.Status(http.StatusNotFound)
			return
		}
		c.File(filepath.Join(distDir, "index.html"))
	})
}
