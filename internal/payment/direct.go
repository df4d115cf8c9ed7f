package payment

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"AgentFi-Client/internal/chain"
	xerrors "AgentFi-Client/internal/errors"
	"AgentFi-Client/internal/mode"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// marketplaceABIJSON 覆盖直接雇佣用到的市场合约接口。
const marketplaceABIJSON = `[
  {"type":"function","name":"hireAgent","stateMutability":"payable","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"hireAsOwner","stateMutability":"nonpayable","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[]}
]`

var marketplaceABI = mustABI(marketplaceABIJSON)

// Direct 实现无准入模式的直接雇佣：向市场合约发起带值调用，
// 交易确认即视为支付完成，不需要任何标识提取。
type Direct struct {
	client      *chain.Client
	wallet      *bind.TransactOpts
	marketplace common.Address
	mode        mode.Mode
	tokenID     *big.Int
	priceWei    *big.Int
	owner       common.Address

	mu      sync.Mutex
	handle  *chain.Handle
	attempt *Attempt
}

// NewDirect 为一次运行构造直接雇佣路径。owner 是资源当前的持有者地址；
// 调用方就是持有者时走零值的 owner bypass 调用。
func NewDirect(client *chain.Client, wallet *bind.TransactOpts, marketplace common.Address, m mode.Mode, tokenID, priceWei *big.Int, owner common.Address) *Direct {
	return &Direct{
		client:      client,
		wallet:      wallet,
		marketplace: marketplace,
		mode:        m,
		tokenID:     tokenID,
		priceWei:    priceWei,
		owner:       owner,
	}
}

// Mode 实现 Path 接口。
func (d *Direct) Mode() mode.Name { return d.mode.Name }

// Submit 实现 Path 接口。
func (d *Direct) Submit(ctx context.Context) (*chain.Handle, error) {
	if d.client == nil || d.wallet == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "直接雇佣路径未初始化")
	}
	if d.tokenID == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "token id 不能为空")
	}

	call := chain.Call{
		Contract: d.marketplace,
		ABI:      marketplaceABI,
		ChainID:  d.mode.ChainID,
	}
	if d.isOwner() {
		call.Method = "hireAsOwner"
		call.Args = []any{d.tokenID}
	} else {
		call.Method = "hireAgent"
		call.Args = []any{d.tokenID}
		call.Value = d.priceWei
	}

	handle := d.client.Submit(ctx, d.wallet, call)

	d.mu.Lock()
	d.handle = handle
	d.attempt = &Attempt{ChainID: d.mode.ChainID, Mode: d.mode.Name}
	d.mu.Unlock()
	return handle, nil
}

// Settle 实现 Path 接口。直接雇佣的完成条件就是确认成功。
func (d *Direct) Settle(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle == nil || d.attempt == nil {
		return xerrors.New(xerrors.CodeConflict, "支付尚未发起")
	}
	d.attempt.TxHash = d.handle.Hash()
	return nil
}

// Handle 实现 Path 接口。
func (d *Direct) Handle() *chain.Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handle
}

// Attempt 实现 Path 接口。
func (d *Direct) Attempt() *Attempt {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempt
}

// Reset 实现 Path 接口。
func (d *Direct) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle != nil {
		d.handle.Reset()
	}
	d.handle = nil
	d.attempt = nil
}

func (d *Direct) isOwner() bool {
	if d.owner == (common.Address{}) {
		return false
	}
	return strings.EqualFold(d.wallet.From.Hex(), d.owner.Hex())
}

var _ Path = (*Direct)(nil)
