package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/council"
	xerrors "github.com/GMAn0n/AI-COUNCIL-BETA/internal/errors"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/multisig"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/observability/metrics"
)

// Server 负责暴露 REST 接口，供外部查看事件流并驱动提案签名。
type Server struct {
	addr        string
	engine      *multisig.Engine
	coordinator *council.Coordinator
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, engine *multisig.Engine, coordinator *council.Coordinator) *Server {
	return &Server{addr: addr, engine: engine, coordinator: coordinator}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/feed", instrument("feed", s.handleFeed))
	mux.HandleFunc("/api/v1/proposals", instrument("proposals", s.handleProposals))
	mux.HandleFunc("/api/v1/proposals/sign", instrument("proposals_sign", s.handleSign))
	mux.HandleFunc("/api/v1/proposals/reject", instrument("proposals_reject", s.handleReject))
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

// handleFeed 以 SSE 推送事件流。晚接入的订阅者先收到窗口快照。
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "当前连接不支持流式推送", http.StatusInternalServerError)
		return
	}
	if s.coordinator == nil {
		http.Error(w, "事件流未初始化", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.coordinator.Attach()
	defer sub.Close()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if _, err := w.Write(append(append([]byte("data: "), payload...), '\n', '\n')); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleProposals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.engine == nil {
		http.Error(w, "提案引擎未初始化", http.StatusServiceUnavailable)
		return
	}

	proposals := s.engine.List()
	if proposals == nil {
		proposals = []multisig.Proposal{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(proposals)
}

type signRequest struct {
	ProposalID string `json:"proposal_id"`
	SignerID   string `json:"signer_id"`
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.engine == nil {
		http.Error(w, "提案引擎未初始化", http.StatusServiceUnavailable)
		return
	}

	var req signRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	if req.ProposalID == "" || req.SignerID == "" {
		http.Error(w, "proposal_id 与 signer_id 不能为空", http.StatusBadRequest)
		return
	}

	proposal, err := s.engine.Sign(r.Context(), req.ProposalID, req.SignerID)
	if err != nil {
		writeProposalError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(proposal)
}

type rejectRequest struct {
	ProposalID string `json:"proposal_id"`
	Reason     string `json:"reason"`
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.engine == nil {
		http.Error(w, "提案引擎未初始化", http.StatusServiceUnavailable)
		return
	}

	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	if req.ProposalID == "" {
		http.Error(w, "proposal_id 不能为空", http.StatusBadRequest)
		return
	}

	proposal, err := s.engine.Reject(r.Context(), req.ProposalID, req.Reason)
	if err != nil {
		writeProposalError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(proposal)
}

// writeProposalError 把引擎错误码映射到 HTTP 状态码。
func writeProposalError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, multisig.ErrProposalNotFound):
		status = http.StatusNotFound
	case errors.Is(err, multisig.ErrDuplicateSigner), errors.Is(err, multisig.ErrInvalidState):
		status = http.StatusConflict
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":    string(xerrors.CodeOf(err)),
		"message": err.Error(),
	})
}

// instrument 采集每个接口的请求量与时延指标。
func instrument(handler string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		metrics.ObserveHTTPRequest(handler, r.Method, recorder.status, time.Since(start))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush 透传给底层连接，SSE 推送依赖它。
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
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
