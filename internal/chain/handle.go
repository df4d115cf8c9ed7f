package chain

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// State 表示一次交易提交所处的阶段。
type State string

const (
	StateIdle       State = "idle"
	StatePending    State = "pending"
	StateConfirming State = "confirming"
	StateSuccess    State = "success"
	StateError      State = "error"
)

// Handle 暴露一次交易提交的只读信号。
// 状态推进只有一个方向：pending -> confirming -> success/error；
// success 与 error 互斥且终止。Reset 在任意阶段都可调用，调用后
// 旧提交的迟到写入会被序号保护丢弃。
type Handle struct {
	mu      sync.Mutex
	seq     uint64
	state   State
	hash    common.Hash
	err     error
	updates chan State
}

func newHandle() *Handle {
	return &Handle{
		state:   StateIdle,
		updates: make(chan State, 8),
	}
}

// Updates 返回状态变更通知通道。
func (h *Handle) Updates() <-chan State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.updates
}

// State 返回当前状态。
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// IsPending 报告交易是否仍在等待被节点接受。
func (h *Handle) IsPending() bool { return h.State() == StatePending }

// IsConfirming 报告交易是否已广播并等待上链确认。
func (h *Handle) IsConfirming() bool { return h.State() == StateConfirming }

// IsSuccess 报告交易是否成功确认。
func (h *Handle) IsSuccess() bool { return h.State() == StateSuccess }

// IsError 报告交易是否以失败终止。
func (h *Handle) IsError() bool { return h.State() == StateError }

// Hash 返回交易哈希。广播前为零值。
func (h *Handle) Hash() common.Hash {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hash
}

// Err 返回失败原因。
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Reset 将句柄恢复到提交前的初始状态并清空错误槽。
// 上层若需要保留用户可见的错误信息，必须在 Reset 之前取走。
func (h *Handle) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	h.state = StateIdle
	h.hash = common.Hash{}
	h.err = nil
	h.updates = make(chan State, 8)
}

func (h *Handle) begin() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	h.state = StatePending
	h.hash = common.Hash{}
	h.err = nil
	h.notifyLocked(StatePending)
	return h.seq
}

func (h *Handle) markConfirming(seq uint64, hash common.Hash) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.seq != seq {
		return
	}
	h.state = StateConfirming
	h.hash = hash
	h.notifyLocked(StateConfirming)
}

func (h *Handle) markSuccess(seq uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.seq != seq || h.state == StateError {
		return
	}
	h.state = StateSuccess
	h.notifyLocked(StateSuccess)
}

func (h *Handle) markError(seq uint64, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.seq != seq || h.state == StateSuccess {
		return
	}
	h.state = StateError
	h.err = err
	h.notifyLocked(StateError)
}

func (h *Handle) notifyLocked(state State) {
	select {
	case h.updates <- state:
	default:
	}
}
