package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"AgentFi-Client/sdk/go/agentfi"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/mode", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"selected":true,"mode":{"Name":"permissionless","ChainName":"0G Galileo","CurrencySymbol":"OG"}}`))
	})
	mux.HandleFunc("/api/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(agentfi.RunSnapshot{
				ID:      "run-demo",
				Step:    "awaiting_signature",
				Mode:    "permissionless",
				TokenID: 0,
			})
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode([]agentfi.RunRecord{{
				ID:         "run-demo",
				Mode:       "permissionless",
				Step:       "done",
				ResultText: "portfolio looks balanced",
			}})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/runs/current", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(agentfi.RunSnapshot{
			ID:   "run-demo",
			Step: "done",
			Mode: "permissionless",
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := agentfi.NewClient(srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	info, err := client.Mode(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("active mode: %s on %s\n", info.Mode.Name, info.Mode.ChainName)

	snap, err := client.StartRun(ctx, agentfi.StartRunRequest{
		TokenID: 0,
		Query:   "analyze my portfolio",
		Price:   "0.01",
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("started run %s (step=%s)\n", snap.ID, snap.Step)

	current, err := client.CurrentRun(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("current run %s step=%s\n", current.ID, current.Step)

	history, err := client.ListRuns(ctx, 10)
	if err != nil {
		panic(err)
	}
	fmt.Printf("recorded runs: %d\n", len(history))
}
