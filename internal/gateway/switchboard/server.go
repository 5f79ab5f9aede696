package switchboard

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"legacy_chat_server/internal/config"
	"legacy_chat_server/internal/service/auth"
	"legacy_chat_server/internal/service/backend"
	"legacy_chat_server/pkg/constants"

	"go.uber.org/zap"
)

// Server 交换台 TCP 服务器
// 每条连接一个控制器协程；关停时先礼貌告别再断开
type Server struct {
	backend     *backend.Backend
	tokens      auth.TokenService
	authTimeout time.Duration

	listener net.Listener
	wg       sync.WaitGroup

	mu     sync.Mutex
	ctrls  map[*Controller]struct{}
	closed bool
}

// NewServer 创建交换台服务器
func NewServer(b *backend.Backend, tokens auth.TokenService) *Server {
	conf := config.GetConfig()
	authTimeout := time.Duration(conf.SwitchboardConfig.AuthTimeoutSeconds) * time.Second
	if authTimeout <= 0 {
		authTimeout = constants.AUTH_HANDSHAKE_SECONDS * time.Second
	}
	return &Server{
		backend:     b,
		tokens:      tokens,
		authTimeout: authTimeout,
		ctrls:       make(map[*Controller]struct{}),
	}
}

// Start 开始监听并进入接受循环
func (s *Server) Start() error {
	conf := config.GetConfig()
	addr := conf.SwitchboardConfig.Host + ":" + strconv.Itoa(conf.SwitchboardConfig.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener
	zap.L().Info("switchboard listening", zap.String("addr", addr))

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			zap.L().Warn("accept failed", zap.Error(err))
			continue
		}

		ctrl := NewController(s.backend, s.tokens, conn, s.authTimeout)
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			ctrl.close(true)
			continue
		}
		s.ctrls[ctrl] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ctrl.Run()
			s.mu.Lock()
			delete(s.ctrls, ctrl)
			s.mu.Unlock()
		}()
	}
}

// Shutdown 优雅关停
// 停止接受新连接，向每条在线连接发送告别帧后断开，
// 等全部连接协程退出才返回
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ctrls := make([]*Controller, 0, len(s.ctrls))
	for ctrl := range s.ctrls {
		ctrls = append(ctrls, ctrl)
	}
	s.mu.Unlock()

	if s.listener != nil {
		_ = s.listener.Close()
	}
	for _, ctrl := range ctrls {
		ctrl.close(false)
	}
	s.wg.Wait()
	zap.L().Info("switchboard stopped")
}
