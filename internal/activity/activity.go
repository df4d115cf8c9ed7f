package activity

import (
	"context"
	"sync"
	"time"

	"AgentFi-Client/internal/mode"
)

// Kind 描述活动事件的类型。
type Kind string

const (
	KindRunStarted     Kind = "run_started"
	KindTxBroadcast    Kind = "tx_broadcast"
	KindPaymentSettled Kind = "payment_settled"
	KindRunFinished    Kind = "run_finished"
	KindRunFailed      Kind = "run_failed"
)

// Event 是向活动流广播的一条记录，对应前端实时活动面板的一行。
type Event struct {
	RunID      string    `json:"run_id"`
	Kind       Kind      `json:"kind"`
	Mode       mode.Name `json:"mode,omitempty"`
	Step       string    `json:"step"`
	TokenID    uint64    `json:"token_id"`
	TxHash     string    `json:"tx_hash,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher 将活动事件广播出去。发布失败不影响运行本身。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// MemoryPublisher 在内存中保留最近的活动事件，供查询接口回放。
type MemoryPublisher struct {
	mu     sync.RWMutex
	events []Event
	limit  int
}

// NewMemoryPublisher 创建内存活动流。
func NewMemoryPublisher(limit int) *MemoryPublisher {
	if limit <= 0 {
		limit = 256
	}
	return &MemoryPublisher{limit: limit}
}

// Publish 记录一条活动事件，超出上限时淘汰最旧的。
func (p *MemoryPublisher) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	if len(p.events) > p.limit {
		p.events = p.events[len(p.events)-p.limit:]
	}
	return nil
}

// Recent 返回最近的活动事件，按时间倒序排列。
func (p *MemoryPublisher) Recent(limit int) []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if limit <= 0 || limit > len(p.events) {
		limit = len(p.events)
	}
	out := make([]Event, 0, limit)
	for i := len(p.events) - 1; i >= len(p.events)-limit; i-- {
		out = append(out, p.events[i])
	}
	return out
}

// Close 实现 Publisher 接口。
func (p *MemoryPublisher) Close() error { return nil }

var _ Publisher = (*MemoryPublisher)(nil)
