// Package admin 提供运维管理 HTTP 接口
// 管理员登录换取 JWT 后，可以查看在线会话与聊天室、
// 广播维护下线通知、订阅实时使用统计事件流
package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"legacy_chat_server/internal/config"
	redisdao "legacy_chat_server/internal/dao/redis"
	"legacy_chat_server/internal/infrastructure/stats"
	"legacy_chat_server/internal/service/backend"
	"legacy_chat_server/pkg/constants"
	"legacy_chat_server/pkg/errorx"
	"legacy_chat_server/pkg/util/jwt"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// AccountService 管理接口需要的账号操作
type AccountService interface {
	// LoginAdmin 邮箱加密码认证，额外要求管理员标志
	LoginAdmin(email, password string) (*backend.User, error)
}

// adminTokenKey 单点互踢用的 Token ID 缓存键前缀
const adminTokenKey = "admin_token_"

// Handlers 管理接口处理器聚合
type Handlers struct {
	accounts AccountService
	cache    redisdao.CacheService
	backend  *backend.Backend
	hub      *stats.EventHub
}

// NewHandlers 创建管理接口处理器
func NewHandlers(accounts AccountService, cache redisdao.CacheService, b *backend.Backend, hub *stats.EventHub) *Handlers {
	return &Handlers{accounts: accounts, cache: cache, backend: b, hub: hub}
}

// LoginRequest 管理员登录请求
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// RefreshTokenRequest Token 刷新请求
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// LoginHandler 管理员登录
// POST /admin/login
// 成功后签发 Access/Refresh Token，并在缓存里记录 Token ID 实现单点互踢
func (h *Handlers) LoginHandler(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}

	user, err := h.accounts.LoginAdmin(req.Email, req.Password)
	if err != nil {
		HandleError(c, err)
		return
	}

	accessToken, err := jwt.GenerateAccessToken(user.Uuid)
	if err != nil {
		HandleError(c, err)
		return
	}
	refreshToken, tokenID, err := jwt.GenerateRefreshToken(user.Uuid)
	if err != nil {
		HandleError(c, err)
		return
	}

	// 后登录的覆盖先登录的 Token ID
	conf := config.GetConfig()
	ttl := time.Duration(conf.JWTConfig.RefreshTokenExpiry) * time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), constants.REDIS_TIMEOUT*time.Second)
	defer cancel()
	if err := h.cache.Set(ctx, adminTokenKey+user.Uuid, tokenID, ttl); err != nil {
		HandleError(c, err)
		return
	}

	HandleSuccess(c, gin.H{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"user": gin.H{
			"uuid":  user.Uuid,
			"email": user.Email,
			"name":  user.DisplayName(),
		},
	})
}

// RefreshTokenHandler 刷新 Access Token
// POST /admin/auth/refresh
// Token ID 与缓存中的不一致说明账号已在别处登录，拒绝刷新
func (h *Handlers) RefreshTokenHandler(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		HandleParamError(c, err)
		return
	}

	claims, err := jwt.ParseToken(req.RefreshToken)
	if err != nil {
		HandleError(c, errorx.New(errorx.CodeUnauthorized, "Refresh Token 已过期或无效，请重新登录"))
		return
	}
	if claims.Subject != "refresh_token" {
		HandleError(c, errorx.New(errorx.CodeUnauthorized, "请使用 Refresh Token"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.REDIS_TIMEOUT*time.Second)
	defer cancel()
	validTokenID, err := h.cache.GetOrError(ctx, adminTokenKey+claims.UserID)
	if err != nil {
		HandleError(c, errorx.New(errorx.CodeUnauthorized, "登录状态已失效，请重新登录"))
		return
	}
	if claims.TokenID != validTokenID {
		HandleError(c, errorx.New(errorx.CodeUnauthorized, "您的账号已在其他设备登录，请重新登录"))
		return
	}

	newAccessToken, err := jwt.GenerateAccessToken(claims.UserID)
	if err != nil {
		HandleError(c, err)
		return
	}
	HandleSuccess(c, gin.H{
		"access_token": newAccessToken,
	})
}

// SessionSummary 在线会话概要
type SessionSummary struct {
	UserUuid string `json:"userUuid"`
	Email    string `json:"email"`
	PopID    string `json:"popId,omitempty"`
	Program  string `json:"program,omitempty"`
	Version  string `json:"version,omitempty"`
	Via      string `json:"via,omitempty"`
}

// SessionsHandler 在线会话列表
// GET /admin/sessions
func (h *Handlers) SessionsHandler(c *gin.Context) {
	sessions := h.backend.ListSessions()
	out := make([]SessionSummary, 0, len(sessions))
	for _, bs := range sessions {
		user := bs.User()
		client := bs.Client()
		out = append(out, SessionSummary{
			UserUuid: user.Uuid,
			Email:    user.Email,
			PopID:    bs.PopID(),
			Program:  client.Program,
			Version:  client.Version,
			Via:      client.Via,
		})
	}
	HandleSuccess(c, gin.H{"sessions": out, "total": len(out)})
}

// ChatSummary 在线聊天室概要
type ChatSummary struct {
	MainID       string   `json:"mainId"` // 字符串化避免前端丢 int64 精度
	Participants []string `json:"participants"`
}

// ChatsHandler 在线聊天室列表
// GET /admin/chats
func (h *Handlers) ChatsHandler(c *gin.Context) {
	chats := h.backend.ListChats()
	out := make([]ChatSummary, 0, len(chats))
	for _, chat := range chats {
		summary := ChatSummary{MainID: strconv.FormatInt(chat.MainID, 10)}
		for _, cs := range chat.GetRoster() {
			label := cs.User().Email
			if popID := cs.Bs().PopID(); popID != "" {
				label += ";{" + popID + "}"
			}
			summary.Participants = append(summary.Participants, label)
		}
		out = append(out, summary)
	}
	HandleSuccess(c, gin.H{"chats": out, "total": len(out)})
}

// MaintenanceHandler 广播维护下线通知
// POST /admin/maintenance
func (h *Handlers) MaintenanceHandler(c *gin.Context) {
	h.backend.NotifyMaintenance()
	HandleSuccess(c, nil)
}

// upgrader 管理面板跨域访问事件流，放开来源检查
var upgrader = websocket.Upgrader{
	ReadBufferSize:  2048,
	WriteBufferSize: 2048,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventsHandler 实时使用统计事件流
// GET /admin/events（WebSocket）
// 把 EventHub 广播的登录/登出/消息打点推给订阅的管理面板
func (h *Handlers) EventsHandler(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		zap.L().Error("upgrade events socket failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ch, cancel := h.hub.Subscribe()
	defer cancel()

	// 读协程只为感知客户端断开
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for msg := range ch {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}
