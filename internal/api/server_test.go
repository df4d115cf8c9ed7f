package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"AgentFi-Client/internal/activity"
	xerrors "AgentFi-Client/internal/errors"
	"AgentFi-Client/internal/executor"
	"AgentFi-Client/internal/mode"
	"AgentFi-Client/internal/payment"
	"AgentFi-Client/internal/run"
)

// rejectingBuilder 在路径构造阶段直接失败，用于覆盖启动失败的返回码。
type rejectingBuilder struct {
	err error
}

func (b *rejectingBuilder) Build(_ context.Context, _ mode.Mode, _ run.StartRequest) (payment.Path, error) {
	return nil, b.err
}

type noopExecutor struct{}

func (noopExecutor) Resolve(_ uint64) (string, error) {
	return "portfolio_analyzer", nil
}

func (noopExecutor) Execute(_ context.Context, _ executor.Request) (*executor.Result, error) {
	return &executor.Result{Text: "ok"}, nil
}

func newTestService(t *testing.T, builder run.PathBuilder) (*run.Service, *mode.Selector) {
	t.Helper()
	selector := mode.NewSelector(context.Background(), mode.NewMemoryStore())
	if builder == nil {
		builder = &rejectingBuilder{err: xerrors.New(xerrors.CodeConfigurationMissing, "未配置合约地址")}
	}
	svc, err := run.NewService(selector, builder, noopExecutor{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc, selector
}

func serveRequest(s *Server, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	switch {
	case strings.HasPrefix(r.URL.Path, "/api/v1/runs/current"):
		s.handleCurrentRun(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/runs/reset"):
		s.handleResetRun(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/runs"):
		s.handleRuns(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/mode"):
		s.handleMode(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/activity"):
		s.handleActivity(w, r)
	default:
		s.handleHealth(w, r)
	}
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp
}

func TestStartRunWithoutModeReturnsConflict(t *testing.T) {
	svc, _ := newTestService(t, nil)
	server := NewServer(":0", svc, nil)

	body, _ := json.Marshal(run.StartRequest{TokenID: 1, Query: "分析组合"})
	r := httptest.NewRequest(http.MethodPost, "/api/v1/runs", bytes.NewReader(body))
	w := serveRequest(server, r)

	if w.Code != http.StatusConflict {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	resp := decodeError(t, w)
	if resp.Code != string(xerrors.CodeModeNotSelected) {
		t.Fatalf("unexpected error code: %s", resp.Code)
	}
}

func TestStartRunBuilderFailureMapsStatus(t *testing.T) {
	builder := &rejectingBuilder{err: xerrors.New(xerrors.CodeInvalidArgument, "非法的金额: x")}
	svc, selector := newTestService(t, builder)
	if err := selector.Set(context.Background(), mode.Permissionless); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	server := NewServer(":0", svc, nil)

	body, _ := json.Marshal(run.StartRequest{TokenID: 1, Query: "q", Price: "x"})
	r := httptest.NewRequest(http.MethodPost, "/api/v1/runs", bytes.NewReader(body))
	w := serveRequest(server, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", w.Code)
	}
}

func TestStartRunRejectsMalformedBody(t *testing.T) {
	svc, _ := newTestService(t, nil)
	server := NewServer(":0", svc, nil)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader("{not-json"))
	w := serveRequest(server, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", w.Code)
	}
}

func TestCurrentRunStartsIdle(t *testing.T) {
	svc, _ := newTestService(t, nil)
	server := NewServer(":0", svc, nil)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/runs/current", nil)
	w := serveRequest(server, r)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	var snap run.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Step != run.StepIdle {
		t.Fatalf("unexpected step: %s", snap.Step)
	}
}

func TestResetRunWhileIdleSucceeds(t *testing.T) {
	svc, _ := newTestService(t, nil)
	server := NewServer(":0", svc, nil)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/runs/reset", nil)
	w := serveRequest(server, r)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", w.Code)
	}
}

func TestModeLifecycle(t *testing.T) {
	svc, _ := newTestService(t, nil)
	server := NewServer(":0", svc, nil)

	// 初始状态：未选择，资源不存在。
	w := serveRequest(server, httptest.NewRequest(http.MethodGet, "/api/v1/mode", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	if resp := decodeError(t, w); resp.Code != string(xerrors.CodeModeNotSelected) {
		t.Fatalf("unexpected error code: %s", resp.Code)
	}
	var resp modeResponse

	// 选择合规模式。
	body, _ := json.Marshal(modeRequest{Mode: "compliant"})
	w = serveRequest(server, httptest.NewRequest(http.MethodPut, "/api/v1/mode", bytes.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode mode response: %v", err)
	}
	if !resp.Selected || resp.Mode == nil || resp.Mode.Name != mode.Compliant {
		t.Fatalf("unexpected mode response: %+v", resp)
	}
	if !resp.Mode.RequiresKYC {
		t.Fatal("compliant mode must require KYC")
	}

	// 清除模式。
	w = serveRequest(server, httptest.NewRequest(http.MethodDelete, "/api/v1/mode", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	w = serveRequest(server, httptest.NewRequest(http.MethodGet, "/api/v1/mode", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected cleared mode to vanish, got %d", w.Code)
	}
}

func TestSetModeRejectsUnknownName(t *testing.T) {
	svc, _ := newTestService(t, nil)
	server := NewServer(":0", svc, nil)

	body, _ := json.Marshal(modeRequest{Mode: "hybrid"})
	w := serveRequest(server, httptest.NewRequest(http.MethodPut, "/api/v1/mode", bytes.NewReader(body)))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", w.Code)
	}
}

func TestActivityEndpoint(t *testing.T) {
	svc, _ := newTestService(t, nil)
	publisher := activity.NewMemoryPublisher(0)
	_ = publisher.Publish(context.Background(), activity.Event{
		RunID:      "r1",
		Kind:       activity.KindRunStarted,
		Mode:       mode.Permissionless,
		Step:       "awaiting_signature",
		OccurredAt: time.Now(),
	})
	server := NewServer(":0", svc, publisher)

	w := serveRequest(server, httptest.NewRequest(http.MethodGet, "/api/v1/activity?limit=10", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	var events []activity.Event
	if err := json.Unmarshal(w.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 1 || events[0].RunID != "r1" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestActivityEndpointWithoutReader(t *testing.T) {
	svc, _ := newTestService(t, nil)
	server := NewServer(":0", svc, nil)

	w := serveRequest(server, httptest.NewRequest(http.MethodGet, "/api/v1/activity", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %s", w.Body.String())
	}
}

func TestHealthEndpoint(t *testing.T) {
	svc, _ := newTestService(t, nil)
	server := NewServer(":0", svc, nil)

	w := serveRequest(server, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", w.Code)
	}
}
