package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"custody-chain/internal/auth"
	"custody-chain/internal/observability/metrics"
	"custody-chain/internal/wallet"
	"custody-chain/pkg/logger"

	"github.com/gorilla/mux"
)

// HealthCheck 报告某个依赖是否可用。
type HealthCheck func(ctx context.Context) error

// Server 负责暴露 REST 接口，供聊天前端驱动托管钱包。
type Server struct {
	addr              string
	service           *wallet.Service
	auth              *auth.Service
	metrics           *metrics.Metrics
	checks            map[string]HealthCheck
	readHeaderTimeout time.Duration
	logger            *slog.Logger
}

// Option 配置 Server。
type Option func(*Server)

// WithAuth 指定认证服务，未指定时不做认证。
func WithAuth(a *auth.Service) Option {
	return func(s *Server) { s.auth = a }
}

// WithMetrics 启用请求度量并在同一端口暴露 /metrics。
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealthCheck 注册 /healthz 中的依赖检查。
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) {
		if name != "" && check != nil {
			s.checks[name] = check
		}
	}
}

// WithReadHeaderTimeout 覆盖请求头读取超时。
func WithReadHeaderTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.readHeaderTimeout = d
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, svc *wallet.Service, opts ...Option) *Server {
	s := &Server{
		addr:              addr,
		service:           svc,
		checks:            make(map[string]HealthCheck),
		readHeaderTimeout: 5 * time.Second,
		logger:            logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.observe)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet).Name("healthz")
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet).Name("metrics")
	}

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Handle("/wallets", s.protect(auth.PermWalletsWrite, s.handleOpenWallet)).
		Methods(http.MethodPost).Name("wallets.open")
	v1.Handle("/wallets/{userKey}", s.protect(auth.PermWalletsRead, s.handleGetWallet)).
		Methods(http.MethodGet).Name("wallets.get")
	v1.Handle("/wallets/{userKey}/balances/{asset}", s.protect(auth.PermWalletsRead, s.handleBalance)).
		Methods(http.MethodGet).Name("wallets.balance")
	v1.Handle("/recipients/{token}", s.protect(auth.PermWalletsRead, s.handleResolveRecipient)).
		Methods(http.MethodGet).Name("recipients.resolve")
	v1.Handle("/assets", s.protect(auth.PermWalletsRead, s.handleAssets)).
		Methods(http.MethodGet).Name("assets.list")
	v1.Handle("/transfers", s.protect(auth.PermTransfersWrite, s.handleTransfer)).
		Methods(http.MethodPost).Name("transfers.create")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: s.readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("api server listening", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// protect 为单个路由挂载认证与权限检查。
func (s *Server) protect(permission string, h http.HandlerFunc) http.Handler {
	return s.auth.Middleware(auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{"*": {permission}},
	})(h)
}

// observe 记录请求度量，handler 标签取路由名称。
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		name := ""
		if route := mux.CurrentRoute(r); route != nil {
			name = route.GetName()
		}
		s.metrics.ObserveHTTPRequest(name, r.Method, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeStatus(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
