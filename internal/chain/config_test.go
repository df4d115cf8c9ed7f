package chain

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"AgentFi-Client/internal/mode"
)

func TestLoadDefinitions(t *testing.T) {
	content := `chains:
  permissionless:
    rpc_url: "https://evmrpc-testnet.0g.ai"
    chain_id: 16602
    description: "0G Galileo testnet"
  compliant:
    rpc_url: "https://rpc.ab.testnet.adifoundation.ai"
    chain_id: 99999
    description: "ADI testnet"
`
	path := filepath.Join(t.TempDir(), "chains.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	defs, err := LoadDefinitions(path)
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	if len(defs.Chains) != 2 {
		t.Fatalf("unexpected chain count: %d", len(defs.Chains))
	}

	def, ok := defs.Chains["permissionless"]
	if !ok {
		t.Fatal("missing permissionless chain")
	}
	if def.ChainID != 16602 || def.RPCURL != "https://evmrpc-testnet.0g.ai" {
		t.Fatalf("unexpected definition: %+v", def)
	}
}

func TestLoadDefinitionsEmptyPath(t *testing.T) {
	defs, err := LoadDefinitions("  ")
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	if defs.Chains == nil || len(defs.Chains) != 0 {
		t.Fatalf("expected empty map, got %+v", defs.Chains)
	}
}

func TestLoadDefinitionsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chains.yaml")
	if err := os.WriteFile(path, []byte("chains: ["), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadDefinitions(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestRegistryRejectsUnknownModeName(t *testing.T) {
	defs := Definitions{Chains: map[string]Definition{
		"mainnet": {RPCURL: "http://127.0.0.1:8545", ChainID: 1},
	}}
	if _, err := NewRegistry(context.Background(), defs); err == nil {
		t.Fatal("expected error for unknown mode name")
	}
}

func TestStaticRegistryLookup(t *testing.T) {
	client, _ := newSimulatedClient(t)
	registry := NewStaticRegistry(map[mode.Name]*Client{
		mode.Permissionless: client,
	})

	got, err := registry.ClientFor(mode.Permissionless)
	if err != nil || got != client {
		t.Fatalf("unexpected lookup result: %v %v", got, err)
	}
	if _, err := registry.ClientFor(mode.Compliant); err == nil {
		t.Fatal("expected error for unconfigured mode")
	}
	if modes := registry.Modes(); len(modes) != 1 || modes[0] != "permissionless" {
		t.Fatalf("unexpected modes: %v", modes)
	}
}
