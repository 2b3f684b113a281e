package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"psymed-emergency/internal/config"
	"psymed-emergency/internal/service"
	"psymed-emergency/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "psymed-emergency")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. 校验邮件通道凭证（只允许环境变量注入，源码不携带密钥）
	if cfg.SendGrid.APIKey == "" {
		log.Fatal("SENDGRID_API_KEY environment variable is required")
	}
	if cfg.SendGrid.FromEmail == "" {
		log.Fatal("SENDGRID_FROM_EMAIL environment variable is required")
	}

	// 4. 创建服务
	emergencyService, err := service.NewEmergencyService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create emergency service",
			zap.Error(err),
		)
	}
	defer emergencyService.Stop()

	// 5. 创建上下文（支持优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 6. 启动服务（在 goroutine 中）
	serviceErrChan := make(chan error, 1)
	go func() {
		if err := emergencyService.Start(ctx); err != nil {
			serviceErrChan <- err
		}
	}()

	// 7. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down",
			zap.String("signal", sig.String()),
		)
		cancel()
	case err := <-serviceErrChan:
		log.Fatal("Service error",
			zap.Error(err),
		)
	}

	log.Info("Emergency service stopped")
}
