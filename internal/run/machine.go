package run

import (
	"strings"
	"sync"
	"time"

	xerrors "AgentFi-Client/internal/errors"
	"AgentFi-Client/internal/executor"
	"AgentFi-Client/internal/mode"
	"AgentFi-Client/internal/payment"
)

// displayErrorLimit 限制用户可见错误信息的长度。
const displayErrorLimit = 160

// Machine 是雇佣/支付/执行编排的状态机。
// step 与 lastError 由它独占持有；支付路径与执行器只产出事件，
// 所有事件方法都以当前 step 做守卫，重复触发是无害的。
type Machine struct {
	mu         sync.Mutex
	step       Step
	runID      string
	tokenID    uint64
	query      string
	crossAgent bool
	mode       mode.Mode
	modeSet    bool
	path       payment.Path
	result     *executor.Result
	errorCode  xerrors.Code
	lastError  string
	startedAt  int64
	finishedAt int64
}

// NewMachine 构造处于 idle 状态的状态机。
func NewMachine() *Machine {
	return &Machine{step: StepIdle}
}

// Step 返回当前所处的阶段。
func (m *Machine) Step() Step {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.step
}

// Idle 报告是否可以开始新的运行。
func (m *Machine) Idle() bool {
	return m.Step() == StepIdle
}

// Begin 启动一次运行：冻结查询、跨代理开关与模式，
// 原子地选定支付路径。运行期间的模式切换不影响本次运行。
func (m *Machine) Begin(runID string, req StartRequest, md mode.Mode, path payment.Path) error {
	if strings.TrimSpace(req.Query) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "查询内容不能为空")
	}
	if path == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "未提供支付路径")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.step != StepIdle {
		return xerrors.New(xerrors.CodeRunInFlight, "上一次运行尚未结束")
	}
	m.step = StepAwaitingSignature
	m.runID = runID
	m.tokenID = req.TokenID
	m.query = req.Query
	m.crossAgent = req.CrossAgent
	m.mode = md
	m.modeSet = true
	m.path = path
	m.result = nil
	m.errorCode = ""
	m.lastError = ""
	m.startedAt = time.Now().Unix()
	m.finishedAt = 0
	return nil
}

// OnConfirming 在链客户端报告交易已广播时推进到 confirming。
func (m *Machine) OnConfirming() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.step != StepAwaitingSignature {
		return false
	}
	m.step = StepConfirming
	return true
}

// OnPaymentComplete 在活动路径的完成条件满足后推进到 executing。
// owner bypass 等场景下确认可能快到状态机还停在 awaiting_signature，
// 因此这条边同时接受 awaiting_signature 与 confirming 作为起点。
// executing 每次运行至多进入一次：两个成功信号重叠触发时，
// 第二次会被 step 守卫拦下。
func (m *Machine) OnPaymentComplete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.step != StepAwaitingSignature && m.step != StepConfirming {
		return false
	}
	if strings.TrimSpace(m.query) == "" {
		return false
	}
	m.step = StepExecuting
	return true
}

// OnPaymentError 处理签名或确认阶段的失败：回到 idle 并允许立即重试。
// 错误信息必须在重置句柄之前截留，否则会随句柄的错误槽一起被清掉。
func (m *Machine) OnPaymentError(err error) bool {
	m.mu.Lock()
	if m.step != StepAwaitingSignature && m.step != StepConfirming {
		m.mu.Unlock()
		return false
	}
	m.errorCode = xerrors.CodeOf(err)
	m.lastError = xerrors.DisplayMessage(err, displayErrorLimit)
	path := m.path
	m.path = nil
	m.step = StepIdle
	m.runID = ""
	m.startedAt = 0
	m.mu.Unlock()

	if path != nil {
		path.Reset()
	}
	return true
}

// OnSettlementFailed 处理支付已落定但完成条件无法满足的情况，
// 典型的是合规路径提取不到 paymentId。支付已经花出去了，
// 本次运行终止在 done，不会调用执行。
func (m *Machine) OnSettlementFailed(err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.step != StepAwaitingSignature && m.step != StepConfirming {
		return false
	}
	m.step = StepDone
	m.errorCode = xerrors.CodeOf(err)
	m.lastError = xerrors.DisplayMessage(err, displayErrorLimit)
	m.finishedAt = time.Now().Unix()
	return true
}

// OnExecutionSettled 处理执行调用的结果或错误，二者都是合法的终态。
func (m *Machine) OnExecutionSettled(result *executor.Result, err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.step != StepExecuting {
		return false
	}
	m.step = StepDone
	m.result = result
	if err != nil {
		m.errorCode = xerrors.CodeOf(err)
		m.lastError = xerrors.DisplayMessage(err, displayErrorLimit)
	}
	m.finishedAt = time.Now().Unix()
	return true
}

// Reset 由用户显式触发，将 done（或带有残留错误的 idle）恢复为
// 干净的 idle：清空查询、跨代理开关、lastError，并重置支付路径，
// 保证下一次运行从全新的支付记录开始。
func (m *Machine) Reset() error {
	m.mu.Lock()
	if m.step != StepDone && m.step != StepIdle {
		m.mu.Unlock()
		return xerrors.New(xerrors.CodeConflict, "运行尚未结束，无法重置")
	}
	path := m.path
	m.step = StepIdle
	m.runID = ""
	m.tokenID = 0
	m.query = ""
	m.crossAgent = false
	m.modeSet = false
	m.path = nil
	m.result = nil
	m.errorCode = ""
	m.lastError = ""
	m.startedAt = 0
	m.finishedAt = 0
	m.mu.Unlock()

	if path != nil {
		path.Reset()
	}
	return nil
}

// Snapshot 返回当前运行的只读视图。
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		ID:         m.runID,
		Step:       m.step,
		TokenID:    m.tokenID,
		Query:      m.query,
		CrossAgent: m.crossAgent,
		Result:     m.result,
		ErrorCode:  string(m.errorCode),
		LastError:  m.lastError,
		StartedAt:  m.startedAt,
		FinishedAt: m.finishedAt,
	}
	if m.modeSet {
		snap.Mode = m.mode.Name
	}
	if m.path != nil {
		if attempt := m.path.Attempt(); attempt != nil {
			snap.TxHash = attempt.TxHash.Hex()
			if attempt.ChainID != nil {
				snap.ChainID = attempt.ChainID.String()
			}
			snap.PaymentID = attempt.PaymentID
		}
	}
	return snap
}

// Mode 返回本次运行冻结的模式。
func (m *Machine) Mode() (mode.Mode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode, m.modeSet
}

// Path 返回本次运行的支付路径。
func (m *Machine) Path() payment.Path {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.path
}
