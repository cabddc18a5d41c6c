// Package events 投递转账结果事件，供聊天前端或对账服务异步消费。
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// TransferEvent 描述一次已提交转账的结果。
type TransferEvent struct {
	IntentID      string    `json:"intent_id"`
	Sender        string    `json:"sender"`
	Recipient     string    `json:"recipient"`
	Asset         string    `json:"asset"`
	Symbol        string    `json:"symbol"`
	Amount        uint64    `json:"amount"`
	Memo          string    `json:"memo,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Status        string    `json:"status,omitempty"`
	Outcome       string    `json:"outcome"`
	ExplorerURL   string    `json:"explorer_url,omitempty"`
	Error         string    `json:"error,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Marshal 编码为 JSON。
func (e TransferEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher 投递事件。实现必须并发安全。
type Publisher interface {
	Publish(ctx context.Context, event TransferEvent) error
	Close() error
}

// NopPublisher 丢弃所有事件。
type NopPublisher struct{}

// Publish 实现 Publisher 接口。
func (NopPublisher) Publish(context.Context, TransferEvent) error { return nil }

// Close 实现 Publisher 接口。
func (NopPublisher) Close() error { return nil }

// MemoryPublisher 在内存中保存事件，用于测试和单机开发。
type MemoryPublisher struct {
	mu     sync.Mutex
	events []TransferEvent
}

// NewMemoryPublisher 创建 MemoryPublisher。
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish 实现 Publisher 接口。
func (m *MemoryPublisher) Publish(ctx context.Context, event TransferEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events 返回已投递事件的副本。
func (m *MemoryPublisher) Events() []TransferEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TransferEvent(nil), m.events...)
}

// Close 实现 Publisher 接口。
func (m *MemoryPublisher) Close() error { return nil }

var (
	_ Publisher = NopPublisher{}
	_ Publisher = (*MemoryPublisher)(nil)
)
