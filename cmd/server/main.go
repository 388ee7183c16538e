package main

import (
	"time"

	"github.com/kamilllllllllllllllll/lightning-server/internal/config"
	"github.com/kamilllllllllllllllll/lightning-server/internal/db"
	clog "github.com/kamilllllllllllllllll/lightning-server/internal/log"
	"github.com/kamilllllllllllllllll/lightning-server/internal/presence"
	"github.com/kamilllllllllllllllll/lightning-server/internal/server"
	"github.com/kamilllllllllllllllll/lightning-server/internal/ws"

	"github.com/rs/zerolog/log"
)

func main() {
	// main 函数负责加载配置、初始化日志、连接数据库并启动 Gin 服务。
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config validate")
	}

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	hub := ws.NewHub()
	store := presence.NewStore(time.Duration(cfg.PresenceTTLSeconds) * time.Second)
	defer store.Stop()

	r, err := server.SetupRouter(cfg, gdb, hub, store)
	if err != nil {
		log.Fatal().Err(err).Msg("router setup")
	}
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server run")
	}
}
