package payment

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"AgentFi-Client/internal/chain"
	xerrors "AgentFi-Client/internal/errors"
	"AgentFi-Client/internal/mode"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Path 抽象两种互斥的支付协议。编排器只依赖这个接口，
// 不在自己的逻辑里散落模式判断。
type Path interface {
	// Mode 返回路径绑定的模式名称。
	Mode() mode.Name
	// Submit 发起支付交易并返回跟踪句柄。
	Submit(ctx context.Context) (*chain.Handle, error)
	// Settle 在链上确认之后检查路径的完成条件。
	// 直接雇佣确认即完成；合规支付还需要从回执日志提取 paymentId。
	Settle(ctx context.Context) error
	// Handle 返回当前提交的交易句柄，尚未提交时为 nil。
	Handle() *chain.Handle
	// Attempt 返回本次运行的支付记录，按引用只读。
	Attempt() *Attempt
	// Reset 清空句柄与支付记录，避免旧哈希泄漏到下一次尝试。
	Reset()
}

// Attempt 记录一次运行中的支付。PaymentID 仅在合规路径
// 且日志解码成功后才会被填充。
type Attempt struct {
	TxHash    common.Hash
	ChainID   *big.Int
	Mode      mode.Name
	PaymentID *uint64
}

// weiPerEther 是十进制金额与 wei 之间的换算基数。
var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// ParseEther 将十进制金额字符串换算为 wei。
func ParseEther(amount string) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "金额不能为空")
	}
	rat, ok := new(big.Rat).SetString(amount)
	if !ok || rat.Sign() < 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("非法的金额: %s", amount))
	}
	wei := new(big.Rat).Mul(rat, new(big.Rat).SetInt(weiPerEther))
	if !wei.IsInt() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("金额精度超过 18 位小数: %s", amount))
	}
	return wei.Num(), nil
}

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("解析内置 ABI 失败: %v", err))
	}
	return parsed
}
