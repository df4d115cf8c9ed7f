package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"AgentFi-Client/internal/activity"
	xerrors "AgentFi-Client/internal/errors"
	"AgentFi-Client/internal/mode"
	"AgentFi-Client/internal/observability/metrics"
	"AgentFi-Client/internal/run"
)

// ActivityReader 提供活动流的回放能力。RabbitMQ 发布器没有回放，
// 未配置时活动接口返回空列表。
type ActivityReader interface {
	Recent(limit int) []activity.Event
}

// Server 负责暴露 REST 接口，供前端驱动雇佣运行。
type Server struct {
	addr     string
	runs     *run.Service
	activity ActivityReader
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, runs *run.Service, reader ActivityReader) *Server {
	return &Server{addr: addr, runs: runs, activity: reader}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/runs", instrument("runs", s.handleRuns))
	mux.HandleFunc("/api/v1/runs/current", instrument("run_current", s.handleCurrentRun))
	mux.HandleFunc("/api/v1/runs/reset", instrument("run_reset", s.handleResetRun))
	mux.HandleFunc("/api/v1/mode", instrument("mode", s.handleMode))
	mux.HandleFunc("/api/v1/activity", instrument("activity", s.handleActivity))
	mux.HandleFunc("/healthz", instrument("health", s.handleHealth))

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

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleStartRun(w, r)
	case http.MethodGet:
		s.handleListRuns(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// handleStartRun 处理启动一次雇佣运行的请求。
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		http.Error(w, "运行服务未初始化", http.StatusServiceUnavailable)
		return
	}

	var req run.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	snap, err := s.runs.StartRun(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		http.Error(w, "运行服务未初始化", http.StatusServiceUnavailable)
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	records, err := s.runs.History(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleCurrentRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.runs == nil {
		http.Error(w, "运行服务未初始化", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.runs.Current())
}

func (s *Server) handleResetRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.runs == nil {
		http.Error(w, "运行服务未初始化", http.StatusServiceUnavailable)
		return
	}
	snap, err := s.runs.ResetRun(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// modeResponse 描述模式查询的返回体。
type modeResponse struct {
	Selected bool       `json:"selected"`
	Mode     *mode.Mode `json:"mode,omitempty"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		http.Error(w, "运行服务未初始化", http.StatusServiceUnavailable)
		return
	}
	switch r.Method {
	case http.MethodGet:
		// 未显式选择模式之前没有可返回的资源。
		if !s.runs.ModeSelected() {
			writeJSON(w, http.StatusNotFound, errorResponse{
				Code:  string(xerrors.CodeModeNotSelected),
				Error: "尚未选择模式",
			})
			return
		}
		md, err := s.runs.CurrentMode()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, modeResponse{Selected: true, Mode: &md})
	case http.MethodPut:
		var req modeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "请求体解析失败", http.StatusBadRequest)
			return
		}
		name, ok := mode.Parse(req.Mode)
		if !ok {
			http.Error(w, "未知的模式: "+req.Mode, http.StatusBadRequest)
			return
		}
		if err := s.runs.SetMode(r.Context(), name); err != nil {
			writeError(w, err)
			return
		}
		md, err := s.runs.CurrentMode()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, modeResponse{Selected: true, Mode: &md})
	case http.MethodDelete:
		if err := s.runs.ClearMode(r.Context()); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "仅支持 GET/PUT/DELETE", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	events := []activity.Event{}
	if s.activity != nil {
		events = s.activity.Recent(limit)
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case xerrors.CodeNotFound:
		status = http.StatusNotFound
	case xerrors.CodeConflict, xerrors.CodeRunInFlight, xerrors.CodeModeNotSelected:
		status = http.StatusConflict
	case xerrors.CodeWalletRejected:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, errorResponse{
		Code:  string(code),
		Error: xerrors.DisplayMessage(err, 160),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// instrument 记录请求的指标信息。
func instrument(name string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
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
