package wallet

import (
	"context"
	"errors"
	"log/slog"

	xerrors "custody-chain/internal/errors"
	"custody-chain/internal/ledger"
	"custody-chain/internal/secret"
	"custody-chain/pkg/logger"
)

// AssociationStatus 是关联结果的标签。
type AssociationStatus int

const (
	AssociatedOK AssociationStatus = iota + 1
	AlreadyAssociated
	AssociationFailedNonFatal
)

func (s AssociationStatus) String() string {
	switch s {
	case AssociatedOK:
		return "associated"
	case AlreadyAssociated:
		return "already_associated"
	case AssociationFailedNonFatal:
		return "failed_non_fatal"
	default:
		return "unknown"
	}
}

// AssociationResult 描述一次 Ensure 的结果。失败时 Err 为 AssociationError，调用方照常继续。
type AssociationResult struct {
	Status        AssociationStatus
	Account       ledger.AccountID
	Asset         ledger.AssetID
	TransactionID string
	SelfSigned    bool
	Err           error
}

// Associator 负责幂等地确保账户可以持有某种 token。
type Associator struct {
	ledger   ledger.Client
	logger   *slog.Logger
	observer Observer
}

// AssociatorOption 配置 Associator。
type AssociatorOption func(*Associator)

// WithAssociatorLogger 指定日志实例。
func WithAssociatorLogger(l *slog.Logger) AssociatorOption {
	return func(a *Associator) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithAssociatorObserver 指定度量观察者。
func WithAssociatorObserver(o Observer) AssociatorOption {
	return func(a *Associator) {
		if o != nil {
			a.observer = o
		}
	}
}

// NewAssociator 创建 Associator。
func NewAssociator(client ledger.Client, opts ...AssociatorOption) *Associator {
	a := &Associator{ledger: client, logger: logger.Named("wallet.association"), observer: nopObserver{}}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Ensure 提交 (account, asset) 的关联请求。signer 不为空时由账户自己签名，
// 否则由运营方签名并付费。"已关联" 视为成功，其他失败记录日志后返回非致命结果。
// signer 的生命周期由调用方管理。
func (a *Associator) Ensure(ctx context.Context, account ledger.AccountID, asset ledger.AssetID, signer *secret.Buffer) AssociationResult {
	result := AssociationResult{Account: account, Asset: asset}
	if asset.IsNative() {
		result.Status = AlreadyAssociated
		return result
	}

	var (
		receipt *ledger.Receipt
		err     error
	)
	if signer != nil && !signer.Released() {
		result.SelfSigned = true
		err = signer.Use(func(key []byte) error {
			var submitErr error
			receipt, submitErr = a.ledger.Associate(ctx, account, asset, key)
			return submitErr
		})
	} else {
		receipt, err = a.ledger.Associate(ctx, account, asset, nil)
	}
	if receipt != nil {
		result.TransactionID = receipt.TransactionID
	}

	switch {
	case err == nil && receipt != nil && receipt.Outcome == ledger.OutcomeConfirmed:
		result.Status = AssociatedOK
	case errors.Is(err, ledger.ErrAlreadyAssociated),
		err == nil && receipt != nil && receipt.Status == ledger.StatusTokenAlreadyAssociated:
		result.Status = AlreadyAssociated
	default:
		cause := err
		if cause == nil && receipt != nil {
			cause = &ledger.StatusError{Status: receipt.Status, TransactionID: receipt.TransactionID}
		}
		result.Status = AssociationFailedNonFatal
		result.Err = xerrors.Wrap(CodeAssociation, cause, "token association failed",
			xerrors.WithMetadata(MetaAccountID, account.String()),
			xerrors.WithMetadata(MetaAsset, string(asset)),
		)
		a.logger.Warn("token association failed, continuing",
			slog.String("account_id", account.String()),
			slog.String("asset", string(asset)),
			slog.Bool("self_signed", result.SelfSigned),
			slog.Any("error", cause),
		)
	}

	a.observer.Association(result.Status)
	if result.Status != AssociationFailedNonFatal {
		a.logger.Debug("token association ensured",
			slog.String("account_id", account.String()),
			slog.String("asset", string(asset)),
			slog.String("status", result.Status.String()),
		)
	}
	return result
}
