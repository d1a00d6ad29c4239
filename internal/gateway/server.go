package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"ChainFlow-Gateway/internal/observability/metrics"
	"ChainFlow-Gateway/internal/session"
)

// Server 暴露 WebSocket 入口与旁路的健康检查、指标端点。
type Server struct {
	addr    string
	handler *Handler
	store   *session.Store
}

// NewServer 构造网关服务实例。
func NewServer(addr string, handler *Handler, store *session.Store) *Server {
	return &Server{addr: addr, handler: handler, store: store}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", s.handler)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}

// handleHealth 报告存活状态与当前活跃连接数。
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"connections": s.store.Len(),
	})
}
