package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTokenMapStaticFallback(t *testing.T) {
	m := NewTokenMap("", nil)

	agent, err := m.Resolve(0)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if agent != "portfolio_analyzer" {
		t.Fatalf("unexpected agent: %s", agent)
	}
	if m.Loaded() {
		t.Fatal("dynamic table must start unloaded")
	}
	if _, err := m.Resolve(99); err == nil {
		t.Fatal("expected error for unmapped token")
	}
}

func TestTokenMapRefresh(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agents/token-map" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"0":"portfolio_analyzer_v2","7":"news_digester","bad":"ignored","8":""}`))
	}))
	t.Cleanup(server.Close)

	m := NewTokenMap(server.URL, nil)
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !m.Loaded() {
		t.Fatal("expected loaded table")
	}

	// 动态表优先于静态表。
	agent, err := m.Resolve(0)
	if err != nil || agent != "portfolio_analyzer_v2" {
		t.Fatalf("unexpected resolution: %s %v", agent, err)
	}
	agent, err = m.Resolve(7)
	if err != nil || agent != "news_digester" {
		t.Fatalf("unexpected resolution: %s %v", agent, err)
	}
	// 动态表里没有的条目回退静态表。
	agent, err = m.Resolve(2)
	if err != nil || agent != "risk_scorer" {
		t.Fatalf("unexpected resolution: %s %v", agent, err)
	}
}

func TestTokenMapRefreshFailureKeepsStatic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	m := NewTokenMap(server.URL, nil)
	if err := m.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	if m.Loaded() {
		t.Fatal("failed refresh must not mark the table loaded")
	}

	agent, err := m.Resolve(1)
	if err != nil || agent != "yield_optimizer" {
		t.Fatalf("static table must keep serving: %s %v", agent, err)
	}
}

func TestTokenMapRefreshRejectsEmptyTable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"bad":"x"}`))
	}))
	t.Cleanup(server.Close)

	m := NewTokenMap(server.URL, nil)
	if err := m.Refresh(context.Background()); err == nil {
		t.Fatal("expected error for empty table")
	}
}
