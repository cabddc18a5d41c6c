package wallet

import (
	"context"
	"strings"
	"time"

	"custody-chain/internal/ledger"
	"custody-chain/internal/secret"
)

// Record 是持久化的钱包记录。私钥只以密文形式出现。
type Record struct {
	UserKey         string
	Alias           string
	AccountID       ledger.AccountID
	EVMAddress      string
	PublicKey       string
	EncryptedKey    string
	EncryptedAltKey string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Clone 返回记录的副本。
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

// PublicView 是可以对外返回的钱包信息，不含任何密钥材料。
type PublicView struct {
	UserKey    string    `json:"user_key"`
	Alias      string    `json:"alias,omitempty"`
	AccountID  string    `json:"account_id"`
	EVMAddress string    `json:"evm_address"`
	PublicKey  string    `json:"public_key"`
	CreatedAt  time.Time `json:"created_at"`
}

// Public 生成对外视图。
func (r *Record) Public() PublicView {
	return PublicView{
		UserKey:    r.UserKey,
		Alias:      r.Alias,
		AccountID:  r.AccountID.String(),
		EVMAddress: r.EVMAddress,
		PublicKey:  r.PublicKey,
		CreatedAt:  r.CreatedAt,
	}
}

// Wallet 是解密后的钱包视图，持有明文私钥直到 Release。
type Wallet struct {
	Record
	key    *secret.Buffer
	altKey *secret.Buffer
}

// SigningKey 返回原始 secp256k1 私钥。
func (w *Wallet) SigningKey() *secret.Buffer {
	return w.key
}

// AltKey 返回 "0x" 前缀的 EVM 格式私钥文本。
func (w *Wallet) AltKey() *secret.Buffer {
	return w.altKey
}

// Release 清零所有明文密钥，可重复调用。
func (w *Wallet) Release() {
	if w == nil {
		return
	}
	w.key.Release()
	w.altKey.Release()
}

// Repository 持久化钱包记录。实现必须并发安全。
// Find 系列在记录不存在时返回 ErrWalletNotFound；Create 在 UserKey 重复时返回 ErrWalletExists。
// alias 唯一：Create/UpdateAlias 会把该 alias 从原持有者处移除。
type Repository interface {
	FindByUserKey(ctx context.Context, userKey string) (*Record, error)
	FindByAlias(ctx context.Context, alias string) (*Record, error)
	Create(ctx context.Context, record *Record) error
	UpdateAlias(ctx context.Context, userKey, alias string) (*Record, error)
}

// NormalizeAlias 去掉 @ 前缀与空白并转为小写。
func NormalizeAlias(alias string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(alias), "@"))
}
