package admin

import (
	"legacy_chat_server/internal/infrastructure/logger"
	"legacy_chat_server/internal/infrastructure/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Init 初始化管理接口的 Gin 引擎
// 配置顺序：日志/恢复中间件 -> CORS -> 路由
func Init(handlers *Handlers) *gin.Engine {
	engine := gin.New()

	engine.Use(logger.GinLogger())
	engine.Use(logger.GinRecovery(true))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	engine.Use(cors.New(corsConfig))

	// 由 Nginx 终结 SSL 的部署保持注释
	// engine.Use(middleware.TlsHandler(config.GetConfig().MainConfig.Host, config.GetConfig().MainConfig.Port))

	handlers.RegisterRoutes(engine)
	return engine
}

// RegisterRoutes 注册管理接口路由
// 登录与刷新是公开路由，其余全部挂 JWT 认证
func (h *Handlers) RegisterRoutes(r *gin.Engine) {
	r.POST("/admin/login", h.LoginHandler)
	r.POST("/admin/auth/refresh", h.RefreshTokenHandler)

	authorized := r.Group("/admin", middleware.JWTAuth())
	authorized.GET("/sessions", h.SessionsHandler)
	authorized.GET("/chats", h.ChatsHandler)
	authorized.POST("/maintenance", h.MaintenanceHandler)
	authorized.GET("/events", h.EventsHandler)
}
