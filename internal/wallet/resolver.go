package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	xerrors "custody-chain/internal/errors"
	"custody-chain/internal/ledger"
	"custody-chain/internal/secret"
)

// AliasSigil 是 alias 形式收款方的前缀。
const AliasSigil = "@"

// Recipient 是解析后的收款方。托管的收款方带有其签名私钥，仅用于自签关联。
type Recipient struct {
	Account ledger.AccountID
	Alias   string
	UserKey string
	key     *secret.Buffer
}

// Custodied 报告收款方是否由本服务托管。
func (r *Recipient) Custodied() bool {
	return r != nil && r.key != nil
}

// SigningKey 返回收款方私钥，未托管时为 nil。
func (r *Recipient) SigningKey() *secret.Buffer {
	if r == nil {
		return nil
	}
	return r.key
}

// Release 清零收款方私钥。
func (r *Recipient) Release() {
	if r != nil {
		r.key.Release()
	}
}

// Resolver 将用户输入的收款方解析为账户。只读，不修改存储。
type Resolver struct {
	store *Store
}

// NewResolver 创建 Resolver。
func NewResolver(store *Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve 解析 "@alias" 或 "shard.realm.num"，其余输入返回 InvalidRecipientError。
func (r *Resolver) Resolve(ctx context.Context, token string) (*Recipient, error) {
	token = strings.TrimSpace(token)

	if strings.HasPrefix(token, AliasSigil) {
		alias := NormalizeAlias(token)
		if alias == "" {
			return nil, xerrors.New(CodeInvalidRecipient, "alias is empty")
		}
		rec, err := r.store.FindByAlias(ctx, alias)
		if err != nil {
			if errors.Is(err, ErrWalletNotFound) {
				return nil, xerrors.New(CodeAliasNotFound, fmt.Sprintf("no wallet for alias @%s", alias))
			}
			return nil, err
		}
		w, err := r.store.Open(rec)
		if err != nil {
			return nil, err
		}
		// 只保留签名私钥。
		w.altKey.Release()
		return &Recipient{Account: rec.AccountID, Alias: rec.Alias, UserKey: rec.UserKey, key: w.key}, nil
	}

	if ledger.LooksLikeAccountID(token) {
		id, err := ledger.ParseAccountID(token)
		if err != nil {
			return nil, xerrors.Wrap(CodeInvalidRecipient, err, fmt.Sprintf("invalid ledger account id %q", token))
		}
		return &Recipient{Account: id}, nil
	}

	return nil, xerrors.New(CodeInvalidRecipient, fmt.Sprintf("invalid ledger account id or alias %q", token))
}
