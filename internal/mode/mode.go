package mode

import (
	"math/big"
	"strings"
)

// Name 标识两种互斥的支付协议模式。
type Name string

const (
	Permissionless Name = "permissionless"
	Compliant      Name = "compliant"
)

// StorageKey 是模式持久化使用的固定键名。
const StorageKey = "agentfi-mode"

// Mode 描述一个模式生效时固定下来的链与支付参数。
type Mode struct {
	Name           Name
	ChainID        *big.Int
	ChainName      string
	CurrencySymbol string
	ExplorerURL    string
	RequiresKYC    bool
}

// ByName 返回指定名称对应的模式定义。
func ByName(name Name) (Mode, bool) {
	switch name {
	case Permissionless:
		return Mode{
			Name:           Permissionless,
			ChainID:        big.NewInt(16602),
			ChainName:      "0G Galileo",
			CurrencySymbol: "OG",
			ExplorerURL:    "https://chainscan-galileo.0g.ai",
			RequiresKYC:    false,
		}, true
	case Compliant:
		return Mode{
			Name:           Compliant,
			ChainID:        big.NewInt(99999),
			ChainName:      "ADI Testnet",
			CurrencySymbol: "ADI",
			ExplorerURL:    "https://explorer.ab.testnet.adifoundation.ai",
			RequiresKYC:    true,
		}, true
	default:
		return Mode{}, false
	}
}

// Parse 将外部输入解析为合法的模式名称。
func Parse(raw string) (Name, bool) {
	switch Name(strings.ToLower(strings.TrimSpace(raw))) {
	case Permissionless:
		return Permissionless, true
	case Compliant:
		return Compliant, true
	default:
		return "", false
	}
}

// IsCompliant 判断模式是否需要合规支付流程。
func (m Mode) IsCompliant() bool {
	return m.Name == Compliant
}
