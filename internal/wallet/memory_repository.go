package wallet

import (
	"context"
	"sync"
	"time"

	xerrors "custody-chain/internal/errors"
)

// MemoryRepository 以内存方式保存钱包记录，用于测试和单机开发。
type MemoryRepository struct {
	mu      sync.RWMutex
	byUser  map[string]*Record
	byAlias map[string]string
	now     func() time.Time
}

// NewMemoryRepository 创建 MemoryRepository。
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byUser:  make(map[string]*Record),
		byAlias: make(map[string]string),
		now:     time.Now,
	}
}

// FindByUserKey 实现 Repository 接口。
func (m *MemoryRepository) FindByUserKey(_ context.Context, userKey string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.byUser[userKey]
	if !ok {
		return nil, ErrWalletNotFound
	}
	return rec.Clone(), nil
}

// FindByAlias 实现 Repository 接口。
func (m *MemoryRepository) FindByAlias(_ context.Context, alias string) (*Record, error) {
	alias = NormalizeAlias(alias)
	m.mu.RLock()
	defer m.mu.RUnlock()
	userKey, ok := m.byAlias[alias]
	if !ok || alias == "" {
		return nil, ErrWalletNotFound
	}
	return m.byUser[userKey].Clone(), nil
}

// Create 实现 Repository 接口。
func (m *MemoryRepository) Create(_ context.Context, record *Record) error {
	if record == nil || record.UserKey == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "钱包记录缺少 user_key")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byUser[record.UserKey]; ok {
		return ErrWalletExists
	}
	now := m.now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	record.Alias = NormalizeAlias(record.Alias)

	clone := record.Clone()
	m.byUser[record.UserKey] = clone
	m.claimAlias(clone, record.Alias)
	return nil
}

// UpdateAlias 只修改 alias 字段。
func (m *MemoryRepository) UpdateAlias(_ context.Context, userKey, alias string) (*Record, error) {
	alias = NormalizeAlias(alias)
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byUser[userKey]
	if !ok {
		return nil, ErrWalletNotFound
	}
	if rec.Alias != "" && m.byAlias[rec.Alias] == userKey {
		delete(m.byAlias, rec.Alias)
	}
	m.claimAlias(rec, alias)
	rec.UpdatedAt = m.now().UTC()
	return rec.Clone(), nil
}

// claimAlias 将 alias 归属到 rec，原持有者的 alias 被清空。调用方需持有写锁。
func (m *MemoryRepository) claimAlias(rec *Record, alias string) {
	rec.Alias = alias
	if alias == "" {
		return
	}
	if prev, ok := m.byAlias[alias]; ok && prev != rec.UserKey {
		if holder := m.byUser[prev]; holder != nil {
			holder.Alias = ""
			holder.UpdatedAt = m.now().UTC()
		}
	}
	m.byAlias[alias] = rec.UserKey
}

var _ Repository = (*MemoryRepository)(nil)
