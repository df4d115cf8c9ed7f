package payment

import (
	"math/big"

	xerrors "AgentFi-Client/internal/errors"

	coretypes "github.com/ethereum/go-ethereum/core/types"
)

// paymentsABIJSON 覆盖合规支付合约的调用与事件接口。
// CompliancePayment 事件是 paymentId 的唯一权威来源。
const paymentsABIJSON = `[
  {"type":"function","name":"payForAgentService","stateMutability":"payable","inputs":[{"name":"serviceId","type":"uint256"}],"outputs":[]},
  {"type":"event","name":"CompliancePayment","inputs":[
    {"name":"paymentId","type":"uint256","indexed":true},
    {"name":"payer","type":"address","indexed":true},
    {"name":"serviceId","type":"uint256","indexed":false},
    {"name":"amount","type":"uint256","indexed":false}
  ]},
  {"type":"event","name":"ExecutionReceiptRecorded","inputs":[
    {"name":"paymentId","type":"uint256","indexed":true},
    {"name":"hederaTopicId","type":"string","indexed":false},
    {"name":"resultHash","type":"bytes32","indexed":false}
  ]}
]`

var paymentsABI = mustABI(paymentsABIJSON)

// compliancePaymentEventName 是回执解码时要求匹配的事件名。
const compliancePaymentEventName = "CompliancePayment"

// ExtractPaymentID 按序扫描回执日志，在第一条能按合规支付事件
// 解码的日志处停下并返回其 paymentId。
// 一笔交易可能发出多个事件，只有第一个合规事件是权威的，
// 因此是首个匹配而不是最后匹配。没有任何日志匹配时显式报错，
// 调用方不得继续带着猜测的标识去执行。
func ExtractPaymentID(receipt *coretypes.Receipt) (uint64, error) {
	if receipt == nil {
		return 0, xerrors.New(xerrors.CodeReceiptFetchFailed, "交易回执为空")
	}
	for _, log := range receipt.Logs {
		if log == nil || len(log.Topics) < 2 {
			continue
		}
		event, err := paymentsABI.EventByID(log.Topics[0])
		if err != nil || event.Name != compliancePaymentEventName {
			// 不是合规支付事件，跳过。
			continue
		}
		paymentID := new(big.Int).SetBytes(log.Topics[1].Bytes())
		if !paymentID.IsUint64() {
			return 0, xerrors.New(xerrors.CodeIdentifierExtraction, "paymentId 超出可表示范围")
		}
		return paymentID.Uint64(), nil
	}
	return 0, xerrors.New(xerrors.CodeIdentifierExtraction, "回执中没有合规支付事件")
}
