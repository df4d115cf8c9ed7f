package run

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"AgentFi-Client/internal/chain"
	xerrors "AgentFi-Client/internal/errors"
	"AgentFi-Client/internal/mode"
	"AgentFi-Client/internal/payment"
)

// ChainPaths 基于链客户端注册表为每次运行构造支付路径。
// 合规模式走支付合约，无准入模式走市场合约，两条路径互斥。
// 签名器按目标链的 chain ID 派生，两条链不会共用同一个签名配置。
type ChainPaths struct {
	registry    *chain.Registry
	key         *ecdsa.PrivateKey
	from        common.Address
	marketplace common.Address
	payments    common.Address
}

// NewChainPaths 构造支付路径工厂。
func NewChainPaths(registry *chain.Registry, key *ecdsa.PrivateKey, marketplace, payments common.Address) (*ChainPaths, error) {
	if registry == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置链客户端注册表")
	}
	if key == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置交易私钥")
	}
	return &ChainPaths{
		registry:    registry,
		key:         key,
		from:        crypto.PubkeyToAddress(key.PublicKey),
		marketplace: marketplace,
		payments:    payments,
	}, nil
}

// From 返回签名钱包地址。
func (b *ChainPaths) From() common.Address {
	return b.from
}

// Build 按模式构造支付路径。
func (b *ChainPaths) Build(_ context.Context, md mode.Mode, req StartRequest) (payment.Path, error) {
	client, err := b.registry.ClientFor(md.Name)
	if err != nil {
		return nil, err
	}
	wallet, err := bind.NewKeyedTransactorWithChainID(b.key, client.ChainID())
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "构造交易签名器失败")
	}

	if md.IsCompliant() {
		if b.payments == (common.Address{}) {
			return nil, xerrors.New(xerrors.CodeConfigurationMissing, "未配置合规支付合约地址")
		}
		serviceID := new(big.Int).SetUint64(req.TokenID)
		return payment.NewCompliant(client, wallet, b.payments, md, serviceID, req.Price)
	}

	if b.marketplace == (common.Address{}) {
		return nil, xerrors.New(xerrors.CodeConfigurationMissing, "未配置市场合约地址")
	}
	var owner common.Address
	if strings.TrimSpace(req.Owner) != "" {
		if !common.IsHexAddress(req.Owner) {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "非法的持有者地址: "+req.Owner)
		}
		owner = common.HexToAddress(req.Owner)
	}

	priceWei := new(big.Int)
	if strings.TrimSpace(req.Price) != "" {
		priceWei, err = payment.ParseEther(req.Price)
		if err != nil {
			return nil, err
		}
	} else if owner != b.from {
		// 只有持有者本人可以零价雇佣。
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "雇佣价格不能为空")
	}

	tokenID := new(big.Int).SetUint64(req.TokenID)
	return payment.NewDirect(client, wallet, b.marketplace, md, tokenID, priceWei, owner), nil
}

var _ PathBuilder = (*ChainPaths)(nil)
