package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ssuyashhhh/H2K/internal/coordination"
	xerrors "github.com/ssuyashhhh/H2K/internal/errors"
	"github.com/ssuyashhhh/H2K/internal/observability/metrics"
	"github.com/ssuyashhhh/H2K/internal/workflow"
)

// Server 负责暴露 REST 接口，供外部提交请求并查询执行进度。
type Server struct {
	addr    string
	service *workflow.Service
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, service *workflow.Service) *Server {
	return &Server{addr: addr, service: service}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/chat", instrument("chat", http.HandlerFunc(s.handleChat)))
	mux.Handle("/api/v1/executions", instrument("executions", http.HandlerFunc(s.handleListExecutions)))
	mux.Handle("/api/v1/executions/", instrument("execution", http.HandlerFunc(s.handleExecution)))
	mux.Handle("/health", instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// chatRequest 的可选字段沿用既有客户端的驼峰键名，保证兼容。
type chatRequest struct {
	Message       string `json:"message"`
	WalletAddress string `json:"walletAddress,omitempty"`
	UserID        string `json:"userId,omitempty"`
}

type chatResponse struct {
	ExecutionID string `json:"execution_id"`
	PortfolioID string `json:"portfolio_id"`
	Status      string `json:"status"`
	Message     string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.service == nil {
		http.Error(w, "服务未初始化", http.StatusServiceUnavailable)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	st, err := s.service.Submit(r.Context(), workflow.SubmitRequest{
		Message:       req.Message,
		WalletAddress: req.WalletAddress,
		UserID:        req.UserID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, chatResponse{
		ExecutionID: st.ExecutionID,
		PortfolioID: st.PortfolioID,
		Status:      string(st.Status),
		Message:     "Request accepted. The agents are processing your portfolio.",
	})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.service == nil {
		http.Error(w, "服务未初始化", http.StatusServiceUnavailable)
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	items, err := s.service.List(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": items})
}

// handleExecution 处理 /api/v1/executions/{id} 与 /api/v1/executions/{id}/decisions。
func (s *Server) handleExecution(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.service == nil {
		http.Error(w, "服务未初始化", http.StatusServiceUnavailable)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/executions/")
	id, suffix, _ := strings.Cut(rest, "/")
	if id == "" {
		http.Error(w, "缺少执行 ID", http.StatusBadRequest)
		return
	}

	switch suffix {
	case "":
		st, err := s.service.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	case "decisions":
		entries, err := s.service.Decisions(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		if entries == nil {
			entries = []coordination.DecisionEntry{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"decisions": entries})
	default:
		http.Error(w, "未知的子资源", http.StatusNotFound)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError 将统一错误码映射为 HTTP 状态码。
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := xerrors.CodeOf(err)
	switch code {
	case xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case xerrors.CodeNotFound:
		status = http.StatusNotFound
	case xerrors.CodeConflict:
		status = http.StatusConflict
	case xerrors.CodeInitializationFailure:
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":  string(code),
		"error": err.Error(),
	})
}

// statusRecorder 捕获响应状态码用于指标上报。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func instrument(name string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		handler.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
