package run

import (
	"AgentFi-Client/internal/executor"
	"AgentFi-Client/internal/mode"
)

// Step 表示一次运行在编排状态机中的位置。
// 正常推进只有一个方向：idle -> awaiting_signature -> confirming ->
// executing -> done；签名与确认阶段的错误回到 idle，
// 支付落定之后的错误终止在 done。
type Step string

const (
	StepIdle              Step = "idle"
	StepAwaitingSignature Step = "awaiting_signature"
	StepConfirming        Step = "confirming"
	StepExecuting         Step = "executing"
	StepDone              Step = "done"
)

// StartRequest 描述一次运行的输入。输入在运行开始后冻结。
type StartRequest struct {
	TokenID    uint64 `json:"token_id"`
	Query      string `json:"query"`
	CrossAgent bool   `json:"cross_agent"`
	// Price 是十进制金额字符串，雇佣方是资源持有者时可以为空。
	Price string `json:"price,omitempty"`
	// Owner 是资源当前持有者地址，用于判断 owner bypass。
	Owner string `json:"owner,omitempty"`
}

// Snapshot 是对外暴露的运行视图。
type Snapshot struct {
	ID         string           `json:"id,omitempty"`
	Step       Step             `json:"step"`
	Mode       mode.Name        `json:"mode,omitempty"`
	TokenID    uint64           `json:"token_id"`
	Query      string           `json:"query,omitempty"`
	CrossAgent bool             `json:"cross_agent"`
	TxHash     string           `json:"tx_hash,omitempty"`
	ChainID    string           `json:"chain_id,omitempty"`
	PaymentID  *uint64          `json:"payment_id,omitempty"`
	Result     *executor.Result `json:"result,omitempty"`
	ErrorCode  string           `json:"error_code,omitempty"`
	LastError  string           `json:"last_error,omitempty"`
	StartedAt  int64            `json:"started_at,omitempty"`
	FinishedAt int64            `json:"finished_at,omitempty"`
}

// Failed 报告运行是否以错误收场。
func (s Snapshot) Failed() bool {
	return s.LastError != ""
}
