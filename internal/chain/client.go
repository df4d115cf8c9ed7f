package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	xerrors "AgentFi-Client/internal/errors"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name    string
	RPCURL  string
	ChainID *big.Int
	Notes   string
}

// Backend 汇总提交交易与等待回执所需的节点能力。
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Client 封装单条链上的交易提交与回执查询。
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	backend   Backend
	chainID   *big.Int
}

// Call 描述一次合约调用。ChainID 用于锁定目标链：即使钱包连接到
// 其他网络，支付也只会发往这里指定的链。
type Call struct {
	Contract common.Address
	ABI      abi.ABI
	Method   string
	Args     []any
	Value    *big.Int
	ChainID  *big.Int
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	chainID := cfg.ChainID
	if chainID == nil {
		chainID, err = eth.ChainID(ctx)
		if err != nil {
			rpcClient.Close()
			return nil, fmt.Errorf("获取链 ID 失败: %w", err)
		}
	}

	return &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		eth:       eth,
		backend:   eth,
		chainID:   new(big.Int).Set(chainID),
	}, nil
}

// NewSimulatedClient wraps a go-ethereum simulated backend for testing purposes.
func NewSimulatedClient(name string, chainID *big.Int, backend *backends.SimulatedBackend) *Client {
	return &Client{
		name:    name,
		backend: backend,
		chainID: new(big.Int).Set(chainID),
		notes:   "simulated backend",
	}
}

// Name 返回链的可读名称。
func (c *Client) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// ChainID 返回客户端连接的链 ID。
func (c *Client) ChainID() *big.Int {
	if c == nil || c.chainID == nil {
		return nil
	}
	return new(big.Int).Set(c.chainID)
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	if c == nil {
		return
	}
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// Submit 提交一笔合约调用并返回跟踪句柄。
// 句柄经历 pending（等待签名提交）、confirming（已广播等待上链）、
// success/error 三个阶段，全部由后台协程驱动。
func (c *Client) Submit(ctx context.Context, opts *bind.TransactOpts, call Call) *Handle {
	h := newHandle()
	seq := h.begin()

	go func() {
		if c == nil || c.backend == nil {
			h.markError(seq, xerrors.New(xerrors.CodeInitializationFailure, "链客户端未初始化"))
			return
		}
		if opts == nil {
			h.markError(seq, xerrors.New(xerrors.CodeWalletRejected, "未提供交易签名器"))
			return
		}
		if call.ChainID != nil && c.chainID != nil && call.ChainID.Cmp(c.chainID) != 0 {
			h.markError(seq, xerrors.New(xerrors.CodeWalletRejected,
				fmt.Sprintf("目标链 %s 与客户端所在链 %s 不一致", call.ChainID, c.chainID)))
			return
		}

		bound := bind.NewBoundContract(call.Contract, call.ABI, c.backend, c.backend, c.backend)

		txOpts := *opts
		txOpts.Context = ctx
		txOpts.Value = call.Value

		tx, err := bound.Transact(&txOpts, call.Method, call.Args...)
		if err != nil {
			h.markError(seq, xerrors.Wrap(xerrors.CodeWalletRejected, err, "交易提交失败"))
			return
		}
		h.markConfirming(seq, tx.Hash())

		if sim, ok := c.backend.(*backends.SimulatedBackend); ok {
			sim.Commit()
		}

		receipt, err := bind.WaitMined(ctx, c.backend, tx)
		if err != nil {
			h.markError(seq, xerrors.Wrap(xerrors.CodeConfirmationFailed, err, "等待交易确认失败"))
			return
		}
		if receipt.Status != coretypes.ReceiptStatusSuccessful {
			h.markError(seq, xerrors.New(xerrors.CodeConfirmationFailed, "交易在链上被回滚"))
			return
		}
		h.markSuccess(seq)
	}()

	return h
}

// Receipt 按哈希获取交易回执，供合规支付提取事件日志。
func (c *Client) Receipt(ctx context.Context, hash common.Hash) (*coretypes.Receipt, error) {
	if c == nil || c.backend == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "链客户端未初始化")
	}
	receipt, err := c.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeReceiptFetchFailed, err, "获取交易回执失败")
	}
	return receipt, nil
}

// Commit 在模拟后端上立即出块，仅用于测试。
func (c *Client) Commit() {
	if c == nil {
		return
	}
	if sim, ok := c.backend.(*backends.SimulatedBackend); ok {
		sim.Commit()
	}
}
