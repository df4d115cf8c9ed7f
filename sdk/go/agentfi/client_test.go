package agentfi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStartRunPostsPayload(t *testing.T) {
	started := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/runs" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		var req StartRunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("unexpected body: %v", err)
		}
		if req.Query != "analyze my portfolio" || req.TokenID != 1 {
			t.Fatalf("unexpected payload: %+v", req)
		}
		started = true
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(RunSnapshot{
			ID:      "run-1",
			Step:    "awaiting_signature",
			Mode:    "permissionless",
			TokenID: 1,
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	snap, err := client.StartRun(context.Background(), StartRunRequest{
		TokenID: 1,
		Query:   "analyze my portfolio",
		Price:   "0.01",
	})
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if !started {
		t.Fatal("run was not started")
	}
	if snap.Step != "awaiting_signature" {
		t.Fatalf("unexpected step: %q", snap.Step)
	}
}

func TestSetModeRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/mode" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		switch r.Method {
		case http.MethodPut:
			var payload struct {
				Mode string `json:"mode"`
			}
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Fatalf("decode payload: %v", err)
			}
			if payload.Mode != "compliant" {
				t.Fatalf("unexpected mode: %q", payload.Mode)
			}
			_, _ = w.Write([]byte(`{"selected":true,"mode":{"Name":"compliant","ChainName":"ADI Testnet"}}`))
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Fatalf("unexpected method: %s", r.Method)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	info, err := client.SetMode(context.Background(), "compliant")
	if err != nil {
		t.Fatalf("set mode: %v", err)
	}
	if !info.Selected || info.Mode == nil || info.Mode.Name != "compliant" {
		t.Fatalf("unexpected mode info: %+v", info)
	}

	if err := client.ClearMode(context.Background()); err != nil {
		t.Fatalf("clear mode: %v", err)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"RUN_IN_FLIGHT","error":"run already in progress"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	_, err := client.StartRun(context.Background(), StartRunRequest{TokenID: 0, Query: "q"})
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != "RUN_IN_FLIGHT" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestListRunsAppliesLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "5" {
			t.Fatalf("unexpected limit: %q", got)
		}
		_ = json.NewEncoder(w).Encode([]RunRecord{{ID: "run-1", Step: "done"}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	records, err := client.ListRuns(context.Background(), 5)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(records) != 1 || records[0].ID != "run-1" {
		t.Fatalf("unexpected records: %+v", records)
	}
}
