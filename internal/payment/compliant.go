package payment

import (
	"context"
	"math/big"
	"sync"

	"AgentFi-Client/internal/chain"
	xerrors "AgentFi-Client/internal/errors"
	"AgentFi-Client/internal/mode"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// Compliant 实现合规模式的支付：向合规链上的支付合约发起带值调用。
// 完成条件分两段：交易确认成功，并且从回执日志中提取到 paymentId。
// 后续的执行调用必须携带这个标识，任何一段失败都不允许进入执行。
type Compliant struct {
	client   *chain.Client
	wallet   *bind.TransactOpts
	payments common.Address
	mode     mode.Mode
	service  *big.Int
	priceWei *big.Int

	mu      sync.Mutex
	handle  *chain.Handle
	attempt *Attempt
}

// NewCompliant 为一次运行构造合规支付路径。price 是十进制金额字符串。
func NewCompliant(client *chain.Client, wallet *bind.TransactOpts, payments common.Address, m mode.Mode, serviceID *big.Int, price string) (*Compliant, error) {
	priceWei, err := ParseEther(price)
	if err != nil {
		return nil, err
	}
	return &Compliant{
		client:   client,
		wallet:   wallet,
		payments: payments,
		mode:     m,
		service:  serviceID,
		priceWei: priceWei,
	}, nil
}

// Mode 实现 Path 接口。
func (c *Compliant) Mode() mode.Name { return c.mode.Name }

// Submit 实现 Path 接口。
func (c *Compliant) Submit(ctx context.Context) (*chain.Handle, error) {
	if c.client == nil || c.wallet == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "合规支付路径未初始化")
	}
	if c.service == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "service id 不能为空")
	}

	handle := c.client.Submit(ctx, c.wallet, chain.Call{
		Contract: c.payments,
		ABI:      paymentsABI,
		Method:   "payForAgentService",
		Args:     []any{c.service},
		Value:    c.priceWei,
		ChainID:  c.mode.ChainID,
	})

	c.mu.Lock()
	c.handle = handle
	c.attempt = &Attempt{ChainID: c.mode.ChainID, Mode: c.mode.Name}
	c.mu.Unlock()
	return handle, nil
}

// Settle 实现 Path 接口：拉取回执并按首个匹配的合规事件提取 paymentId。
// 找不到事件时显式失败，绝不回退到猜测的标识。
func (c *Compliant) Settle(ctx context.Context) error {
	c.mu.Lock()
	handle := c.handle
	attempt := c.attempt
	c.mu.Unlock()

	if handle == nil || attempt == nil {
		return xerrors.New(xerrors.CodeConflict, "支付尚未发起")
	}
	hash := handle.Hash()

	receipt, err := c.client.Receipt(ctx, hash)
	if err != nil {
		return err
	}
	paymentID, err := ExtractPaymentID(receipt)
	if err != nil {
		return err
	}

	c.mu.Lock()
	attempt.TxHash = hash
	attempt.PaymentID = &paymentID
	c.mu.Unlock()
	return nil
}

// Handle 实现 Path 接口。
func (c *Compliant) Handle() *chain.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// Attempt 实现 Path 接口。
func (c *Compliant) Attempt() *Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// Reset 实现 Path 接口。
func (c *Compliant) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle != nil {
		c.handle.Reset()
	}
	c.handle = nil
	c.attempt = nil
}

var _ Path = (*Compliant)(nil)
