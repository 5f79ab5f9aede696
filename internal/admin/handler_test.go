package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"legacy_chat_server/internal/infrastructure/stats"
	"legacy_chat_server/internal/service/backend"
	"legacy_chat_server/pkg/errorx"
	"legacy_chat_server/pkg/util/jwt"

	"github.com/gin-gonic/gin"
)

type stubAccounts struct {
	email    string
	password string
	user     *backend.User
}

func (s *stubAccounts) LoginAdmin(email, password string) (*backend.User, error) {
	if email != s.email || password != s.password {
		return nil, errorx.ErrAuthFail
	}
	return s.user, nil
}

type stubCache struct {
	mu     sync.Mutex
	values map[string]string
}

func newStubCache() *stubCache {
	return &stubCache{values: make(map[string]string)}
}

func (c *stubCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func (c *stubCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[key], nil
}

func (c *stubCache) GetOrError(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.values[key]
	if !ok {
		return "", errorx.New(errorx.CodeNotFound, "key not found")
	}
	return value, nil
}

func (c *stubCache) GetDel(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.values[key]
	if !ok {
		return "", errorx.New(errorx.CodeNotFound, "key not found")
	}
	delete(c.values, key)
	return value, nil
}

func (c *stubCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}

func (c *stubCache) DeleteByPattern(ctx context.Context, pattern string) error {
	return nil
}

type emptyUserStore struct{}

func (emptyUserStore) GetUser(uuid string) (*backend.User, error) {
	return nil, errorx.New(errorx.CodeNotFound, "no such user")
}

func (emptyUserStore) GetUserDetail(uuid string) (*backend.UserDetail, error) {
	return nil, errorx.New(errorx.CodeNotFound, "no detail")
}

func (emptyUserStore) GetUUIDFromEmail(email string) (string, error) {
	return "", errorx.New(errorx.CodeNotFound, "no such email")
}

func newTestEngine(t *testing.T, cache *stubCache) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if err := InitTrans("zh"); err != nil {
		t.Fatalf("InitTrans: %v", err)
	}
	jwt.Init("test-secret-with-enough-length-abc", 30, 24)

	accounts := &stubAccounts{
		email:    "root@example.com",
		password: "secret",
		user: &backend.User{
			Uuid:   "admin-1",
			Email:  "root@example.com",
			Status: &backend.UserStatus{Name: "Root"},
		},
	}
	b := backend.NewBackend(emptyUserStore{}, nil)
	handlers := NewHandlers(accounts, cache, b, stats.NewEventHub())
	return Init(handlers)
}

func doJSON(t *testing.T, engine *gin.Engine, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return w, resp
}

func loginToken(t *testing.T, engine *gin.Engine) (access, refresh string) {
	t.Helper()
	_, resp := doJSON(t, engine, http.MethodPost, "/admin/login", "", gin.H{
		"email":    "root@example.com",
		"password": "secret",
	})
	if code := resp["code"].(float64); int(code) != errorx.CodeSuccess {
		t.Fatalf("login code = %v, msg = %v", resp["code"], resp["msg"])
	}
	data := resp["data"].(map[string]any)
	return data["access_token"].(string), data["refresh_token"].(string)
}

func TestRequiresToken(t *testing.T) {
	engine := newTestEngine(t, newStubCache())

	w, _ := doJSON(t, engine, http.MethodGet, "/admin/sessions", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}

	w, _ = doJSON(t, engine, http.MethodGet, "/admin/sessions", "not-a-jwt", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status = %d, want 401", w.Code)
	}
}

func TestLoginAndListSessions(t *testing.T) {
	engine := newTestEngine(t, newStubCache())
	access, _ := loginToken(t, engine)

	w, resp := doJSON(t, engine, http.MethodGet, "/admin/sessions", access, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if code := resp["code"].(float64); int(code) != errorx.CodeSuccess {
		t.Fatalf("code = %v", resp["code"])
	}
	data := resp["data"].(map[string]any)
	if total := int(data["total"].(float64)); total != 0 {
		t.Fatalf("total = %d, want 0", total)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	engine := newTestEngine(t, newStubCache())

	_, resp := doJSON(t, engine, http.MethodPost, "/admin/login", "", gin.H{
		"email":    "root@example.com",
		"password": "wrong",
	})
	if code := resp["code"].(float64); int(code) != errorx.CodeAuthFail {
		t.Fatalf("code = %v, want auth fail", resp["code"])
	}
}

func TestRefreshTokenSinglePoint(t *testing.T) {
	cache := newStubCache()
	engine := newTestEngine(t, cache)
	_, refresh := loginToken(t, engine)

	// 正常刷新
	_, resp := doJSON(t, engine, http.MethodPost, "/admin/auth/refresh", "", gin.H{
		"refreshToken": refresh,
	})
	if code := resp["code"].(float64); int(code) != errorx.CodeSuccess {
		t.Fatalf("refresh code = %v, msg = %v", resp["code"], resp["msg"])
	}

	// 别处登录覆盖 Token ID 后，旧 Refresh Token 被拒绝
	_ = cache.Set(context.Background(), adminTokenKey+"admin-1", "other-token-id", 0)
	_, resp = doJSON(t, engine, http.MethodPost, "/admin/auth/refresh", "", gin.H{
		"refreshToken": refresh,
	})
	if code := resp["code"].(float64); int(code) != errorx.CodeUnauthorized {
		t.Fatalf("stale refresh code = %v, want unauthorized", resp["code"])
	}
}

func TestAccessTokenCannotRefresh(t *testing.T) {
	engine := newTestEngine(t, newStubCache())
	access, _ := loginToken(t, engine)

	_, resp := doJSON(t, engine, http.MethodPost, "/admin/auth/refresh", "", gin.H{
		"refreshToken": access,
	})
	if code := resp["code"].(float64); int(code) != errorx.CodeUnauthorized {
		t.Fatalf("code = %v, want unauthorized", resp["code"])
	}
}
