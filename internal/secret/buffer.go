package secret

import "sync"

// Buffer 持有一段明文密钥材料，Release 后内容被清零且不可再用。
// Buffer 不实现 String/Format，避免被意外打印。
type Buffer struct {
	mu       sync.Mutex
	data     []byte
	released bool
}

// NewBuffer 复制 b 并接管副本，调用方仍需自行清理 b。
func NewBuffer(b []byte) *Buffer {
	data := make([]byte, len(b))
	copy(data, b)
	return &Buffer{data: data}
}

// adopt 直接接管 b，不再复制。
func adopt(b []byte) *Buffer {
	return &Buffer{data: b}
}

// Use 在持有锁的情况下把明文交给 fn，fn 不得保留该切片。
func (b *Buffer) Use(fn func(plaintext []byte) error) error {
	if b == nil {
		return ErrReleased
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return ErrReleased
	}
	return fn(b.data)
}

// Copy 返回一份独立副本，调用方负责释放。
func (b *Buffer) Copy() (*Buffer, error) {
	var out *Buffer
	err := b.Use(func(p []byte) error {
		out = NewBuffer(p)
		return nil
	})
	return out, err
}

// Len 返回明文长度，已释放时为 0。
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return 0
	}
	return len(b.data)
}

// Released 报告缓冲区是否已被清零。
func (b *Buffer) Released() bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.released
}

// Release 清零并丢弃明文，可重复调用。
func (b *Buffer) Release() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return
	}
	clear(b.data)
	b.data = nil
	b.released = true
}

// Scope 执行 fn，并在所有返回路径上释放 buf。
func Scope(buf *Buffer, fn func(plaintext []byte) error) error {
	defer buf.Release()
	return buf.Use(fn)
}
