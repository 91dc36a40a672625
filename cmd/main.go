package main

import (
	"github.com/hts-platform/hts-account/internal/app"
	"github.com/hts-platform/hts-account/internal/config"
	"github.com/hts-platform/hts-account/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	// 初始化日志
	if err := logger.Init(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: cfg.Service.Name,
	}); err != nil {
		panic(err)
	}
	defer logger.Sync()

	// 启动应用
	if err := app.New(cfg).Run(); err != nil {
		logger.Fatal("application error", "error", err)
	}
}
