package payment

import (
	"bytes"
	"context"
	"math/big"
	"testing"
	"time"

	"AgentFi-Client/internal/chain"
	xerrors "AgentFi-Client/internal/errors"
	"AgentFi-Client/internal/mode"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/crypto"
)

// simulatedChain 搭建一条模拟链并返回客户端与签名器。
// 模式里的链 ID 必须跟客户端一致，否则提交会被链锁定检查拦下。
func simulatedChain(t *testing.T, name mode.Name) (*chain.Client, *bind.TransactOpts, *backends.SimulatedBackend) {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(1337))
	if err != nil {
		t.Fatalf("new transactor: %v", err)
	}
	auth.GasLimit = 1_000_000

	backend := backends.NewSimulatedBackend(core.GenesisAlloc{
		auth.From: {Balance: big.NewInt(1_000_000_000_000_000_000)},
	}, 8_000_000)
	t.Cleanup(func() { _ = backend.Close() })

	return chain.NewSimulatedClient(string(name), big.NewInt(1337), backend), auth, backend
}

func testMode(name mode.Name) mode.Mode {
	md, _ := mode.ByName(name)
	md.ChainID = big.NewInt(1337)
	return md
}

func waitSettled(t *testing.T, h *chain.Handle) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		switch h.State() {
		case chain.StateSuccess:
			return
		case chain.StateError:
			t.Fatalf("submit failed: %v", h.Err())
		}
		select {
		case <-deadline:
			t.Fatalf("handle stuck in state %s", h.State())
		case <-h.Updates():
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestDirectSubmitAndSettle(t *testing.T) {
	client, auth, _ := simulatedChain(t, mode.Permissionless)
	marketplace := common.HexToAddress("0x00000000000000000000000000000000000000a1")

	path := NewDirect(client, auth, marketplace, testMode(mode.Permissionless), big.NewInt(1), big.NewInt(1_000), common.Address{})

	handle, err := path.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitSettled(t, handle)

	if err := path.Settle(context.Background()); err != nil {
		t.Fatalf("settle: %v", err)
	}
	attempt := path.Attempt()
	if attempt == nil || attempt.TxHash == (common.Hash{}) {
		t.Fatalf("attempt must record the tx hash: %+v", attempt)
	}
	if attempt.Mode != mode.Permissionless || attempt.PaymentID != nil {
		t.Fatalf("unexpected attempt: %+v", attempt)
	}
}

func TestDirectUsesOwnerBypass(t *testing.T) {
	client, auth, backend := simulatedChain(t, mode.Permissionless)
	marketplace := common.HexToAddress("0x00000000000000000000000000000000000000a1")

	// 雇佣方就是持有者：走零值的 hireAsOwner 调用。
	path := NewDirect(client, auth, marketplace, testMode(mode.Permissionless), big.NewInt(2), big.NewInt(1_000), auth.From)

	handle, err := path.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitSettled(t, handle)

	tx, _, err := backend.TransactionByHash(context.Background(), handle.Hash())
	if err != nil {
		t.Fatalf("transaction by hash: %v", err)
	}
	if tx.Value().Sign() != 0 {
		t.Fatalf("owner bypass must not carry value, got %s", tx.Value())
	}
	wantSelector := marketplaceABI.Methods["hireAsOwner"].ID
	if !bytes.HasPrefix(tx.Data(), wantSelector) {
		t.Fatalf("unexpected calldata selector: %x", tx.Data()[:4])
	}
}

func TestDirectChargesNonOwner(t *testing.T) {
	client, auth, backend := simulatedChain(t, mode.Permissionless)
	marketplace := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	owner := common.HexToAddress("0x00000000000000000000000000000000000000b2")

	path := NewDirect(client, auth, marketplace, testMode(mode.Permissionless), big.NewInt(3), big.NewInt(5_000), owner)

	handle, err := path.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitSettled(t, handle)

	tx, _, err := backend.TransactionByHash(context.Background(), handle.Hash())
	if err != nil {
		t.Fatalf("transaction by hash: %v", err)
	}
	if tx.Value().Int64() != 5_000 {
		t.Fatalf("unexpected value: %s", tx.Value())
	}
	wantSelector := marketplaceABI.Methods["hireAgent"].ID
	if !bytes.HasPrefix(tx.Data(), wantSelector) {
		t.Fatalf("unexpected calldata selector: %x", tx.Data()[:4])
	}
}

func TestDirectSettleBeforeSubmit(t *testing.T) {
	client, auth, _ := simulatedChain(t, mode.Permissionless)
	path := NewDirect(client, auth, common.Address{}, testMode(mode.Permissionless), big.NewInt(1), big.NewInt(1), common.Address{})

	if err := path.Settle(context.Background()); xerrors.CodeOf(err) != xerrors.CodeConflict {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDirectResetClearsState(t *testing.T) {
	client, auth, _ := simulatedChain(t, mode.Permissionless)
	marketplace := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	path := NewDirect(client, auth, marketplace, testMode(mode.Permissionless), big.NewInt(1), big.NewInt(1), common.Address{})

	handle, err := path.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitSettled(t, handle)

	path.Reset()
	if path.Handle() != nil || path.Attempt() != nil {
		t.Fatal("reset must clear handle and attempt")
	}
	if handle.State() != chain.StateIdle {
		t.Fatalf("underlying handle must be reset, state=%s", handle.State())
	}
}
