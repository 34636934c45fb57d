package main

import (
	"flag"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/app"
	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/config"
	"github.com/eidos-exchange/eidos/eidos-rpc-router/internal/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := logger.Init(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: cfg.Service.Name,
	}); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("starting service")

	a, err := app.NewApp(cfg)
	if err != nil {
		logger.Fatal("failed to init app", zap.Error(err))
		return
	}

	if err := a.Run(); err != nil {
		logger.Fatal("app run error", zap.Error(err))
	}
}
