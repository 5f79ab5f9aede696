package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"legacy_chat_server/internal/admin"
	"legacy_chat_server/internal/config"
	dao "legacy_chat_server/internal/dao/mysql"
	myredis "legacy_chat_server/internal/dao/redis"
	"legacy_chat_server/internal/gateway/switchboard"
	"legacy_chat_server/internal/infrastructure/logger"
	"legacy_chat_server/internal/infrastructure/stats"
	"legacy_chat_server/internal/service/auth"
	"legacy_chat_server/internal/service/backend"
	"legacy_chat_server/internal/service/user"
	"legacy_chat_server/pkg/util/jwt"
	"legacy_chat_server/pkg/util/snowflake"

	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	conf := config.GetConfig()

	// 2. 初始化日志
	if err := logger.Init(&conf.LogConfig, "dev"); err != nil {
		log.Fatalf("init logger failed: %v", err)
	}
	zap.L().Info("日志初始化成功")

	// 3. 初始化数据库
	repos := dao.Init()
	zap.L().Info("数据库初始化成功")

	// 4. 初始化 Redis
	myredis.Init()
	cache := myredis.GetCacheService()
	zap.L().Info("Redis 初始化成功")

	// 5. 初始化雪花算法（聊天室主编号）
	snowflake.Init()

	// 6. 初始化 JWT（管理接口认证）
	jwt.Init(conf.JWTConfig.Secret, conf.JWTConfig.AccessTokenExpiry, conf.JWTConfig.RefreshTokenExpiry)

	// 7. 初始化 validator 翻译器
	if err := admin.InitTrans("zh"); err != nil {
		zap.L().Fatal("init translator failed", zap.Error(err))
	}

	// 8. 初始化 Service 层（依赖注入）
	userService := user.NewService(repos, cache)
	tokenService := auth.NewTokenService(cache)
	zap.L().Info("Service 层初始化成功")

	// 9. 组装统计打点：管理接口事件流总是在，Kafka 按配置挂载
	hub := stats.NewEventHub()
	recorders := stats.Multi{hub}
	var kafkaStats *stats.KafkaStats
	if conf.KafkaConfig.StatsMode == "kafka" {
		kafkaStats = stats.NewKafkaStats()
		recorders = append(recorders, kafkaStats)
		zap.L().Info("Kafka 统计打点已启用")
	}

	// 10. 初始化在线注册表
	b := backend.NewBackend(userService, recorders)

	// 11. 启动交换台
	sbServer := switchboard.NewServer(b, tokenService)
	if err := sbServer.Start(); err != nil {
		zap.L().Fatal("switchboard start failed", zap.Error(err))
	}

	// 12. 启动管理接口
	handlers := admin.NewHandlers(userService, cache, b, hub)
	engine := admin.Init(handlers)
	adminServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", conf.MainConfig.Host, conf.MainConfig.Port),
		Handler: engine,
	}
	go func() {
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Fatal("admin server running fault", zap.Error(err))
		}
	}()
	zap.L().Info("服务启动完成",
		zap.String("switchboard", fmt.Sprintf("%s:%d", conf.SwitchboardConfig.Host, conf.SwitchboardConfig.Port)),
		zap.String("admin", adminServer.Addr),
	)

	// 设置信号监听
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zap.L().Info("关闭服务器...")

	// 先礼貌告别交换台连接，再关管理接口
	sbServer.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := adminServer.Shutdown(ctx); err != nil {
		zap.L().Warn("admin server shutdown failed", zap.Error(err))
	}

	if kafkaStats != nil {
		kafkaStats.Close()
	}

	zap.L().Info("服务器已关闭")
}
