package wallet

import (
	"fmt"
	"strconv"

	xerrors "custody-chain/internal/errors"
)

const (
	CodeDecryption          xerrors.Code = "DECRYPTION_FAILED"
	CodeProvisioning        xerrors.Code = "WALLET_PROVISIONING_FAILED"
	CodeIdentity            xerrors.Code = "IDENTITY_GENERATION_FAILED"
	CodeWalletNotFound      xerrors.Code = "WALLET_NOT_FOUND"
	CodeWalletExists        xerrors.Code = "WALLET_EXISTS"
	CodeAliasNotFound       xerrors.Code = "ALIAS_NOT_FOUND"
	CodeInvalidRecipient    xerrors.Code = "INVALID_RECIPIENT"
	CodeUnknownAsset        xerrors.Code = "UNKNOWN_ASSET"
	CodeInsufficientBalance xerrors.Code = "INSUFFICIENT_BALANCE"
	CodeAssociation         xerrors.Code = "ASSOCIATION_FAILED"
	CodeTransferRejected    xerrors.Code = "TRANSFER_REJECTED"
	CodeOutcomeUnknown      xerrors.Code = "OUTCOME_UNKNOWN"
	CodeLedgerUnavailable   xerrors.Code = "LEDGER_UNAVAILABLE"
)

// 错误附加字段的键名。
const (
	MetaRequired    = "required"
	MetaAvailable   = "available"
	MetaAsset       = "asset"
	MetaStatus      = "status"
	MetaTxID        = "tx_id"
	MetaExplorerURL = "explorer_url"
	MetaUserKey     = "user_key"
	MetaAccountID   = "account_id"
)

var (
	// ErrWalletNotFound 表示用户尚未拥有钱包。
	ErrWalletNotFound = xerrors.New(CodeWalletNotFound, "wallet not found")
	// ErrWalletExists 表示同一用户的钱包已存在。
	ErrWalletExists = xerrors.New(CodeWalletExists, "wallet already exists")
	// ErrDecryption 表示主密钥不匹配或密文损坏。
	ErrDecryption = xerrors.New(CodeDecryption, "wallet key decryption failed")
	// ErrProvisioning 表示链上开户失败。
	ErrProvisioning = xerrors.New(CodeProvisioning, "wallet provisioning failed")
	// ErrAliasNotFound 表示 @alias 没有对应的钱包。
	ErrAliasNotFound = xerrors.New(CodeAliasNotFound, "alias not found")
	// ErrInvalidRecipient 表示收款方既不是 alias 也不是账户 ID。
	ErrInvalidRecipient = xerrors.New(CodeInvalidRecipient, "invalid ledger account id or alias")
	// ErrUnknownAsset 表示资产未在目录中配置。
	ErrUnknownAsset = xerrors.New(CodeUnknownAsset, "unknown asset")
	// ErrInsufficientBalance 表示原生币余额不足。
	ErrInsufficientBalance = xerrors.New(CodeInsufficientBalance, "insufficient balance")
	// ErrAssociation 表示关联失败（非致命）。
	ErrAssociation = xerrors.New(CodeAssociation, "token association failed")
	// ErrTransferRejected 表示账本拒绝了转账。
	ErrTransferRejected = xerrors.New(CodeTransferRejected, "transfer rejected by ledger")
	// ErrOutcomeUnknown 表示转账结果未知，调用方应先查询浏览器再决定是否重试。
	ErrOutcomeUnknown = xerrors.New(CodeOutcomeUnknown, "transfer outcome unknown")
	// ErrLedgerUnavailable 表示交易未送达账本。
	ErrLedgerUnavailable = xerrors.New(CodeLedgerUnavailable, "ledger unavailable")
)

func init() {
	xerrors.Register(CodeDecryption, xerrors.Attributes{
		Message:  "wallet key decryption failed",
		Severity: xerrors.SeverityCritical,
		Class:    xerrors.ClassFatal,
		Alert:    true,
	})
	xerrors.Register(CodeProvisioning, xerrors.Attributes{
		Message:   "wallet provisioning failed",
		Severity:  xerrors.SeverityWarning,
		Class:     xerrors.ClassTransient,
		Retryable: true,
	})
	xerrors.Register(CodeIdentity, xerrors.Attributes{
		Message:  "key generation failed",
		Severity: xerrors.SeverityCritical,
		Class:    xerrors.ClassFatal,
		Alert:    true,
	})
	xerrors.Register(CodeWalletNotFound, xerrors.Attributes{
		Message:  "wallet not found",
		Severity: xerrors.SeverityInfo,
		Class:    xerrors.ClassInput,
	})
	xerrors.Register(CodeWalletExists, xerrors.Attributes{
		Message:  "wallet already exists",
		Severity: xerrors.SeverityInfo,
		Class:    xerrors.ClassTransient,
	})
	xerrors.Register(CodeAliasNotFound, xerrors.Attributes{
		Message:  "alias not found",
		Severity: xerrors.SeverityInfo,
		Class:    xerrors.ClassInput,
	})
	xerrors.Register(CodeInvalidRecipient, xerrors.Attributes{
		Message:  "invalid ledger account id or alias",
		Severity: xerrors.SeverityInfo,
		Class:    xerrors.ClassInput,
	})
	xerrors.Register(CodeUnknownAsset, xerrors.Attributes{
		Message:  "unknown asset",
		Severity: xerrors.SeverityInfo,
		Class:    xerrors.ClassInput,
	})
	xerrors.Register(CodeInsufficientBalance, xerrors.Attributes{
		Message:  "insufficient balance",
		Severity: xerrors.SeverityInfo,
		Class:    xerrors.ClassInput,
	})
	xerrors.Register(CodeAssociation, xerrors.Attributes{
		Message:  "token association failed",
		Severity: xerrors.SeverityWarning,
		Class:    xerrors.ClassTransient,
	})
	xerrors.Register(CodeTransferRejected, xerrors.Attributes{
		Message:  "transfer rejected by ledger",
		Severity: xerrors.SeverityWarning,
		Class:    xerrors.ClassRejected,
	})
	xerrors.Register(CodeOutcomeUnknown, xerrors.Attributes{
		Message:  "transfer outcome unknown",
		Severity: xerrors.SeverityWarning,
		Class:    xerrors.ClassAmbiguous,
		Alert:    true,
	})
	xerrors.Register(CodeLedgerUnavailable, xerrors.Attributes{
		Message:   "ledger unavailable",
		Severity:  xerrors.SeverityWarning,
		Class:     xerrors.ClassTransient,
		Retryable: true,
	})
}

// newInsufficientBalance 构造携带所需和可用金额的错误。
func newInsufficientBalance(asset Asset, required, available uint64) error {
	return xerrors.New(CodeInsufficientBalance,
		fmt.Sprintf("insufficient %s balance: have %s, need %s",
			asset.Symbol, FromBaseUnits(available, asset.Decimals), FromBaseUnits(required, asset.Decimals)),
		xerrors.WithMetadata(MetaAsset, asset.Symbol),
		xerrors.WithMetadata(MetaRequired, strconv.FormatUint(required, 10)),
		xerrors.WithMetadata(MetaAvailable, strconv.FormatUint(available, 10)),
	)
}

// BalanceShortfall 从余额不足错误中取出所需与可用金额（最小单位）。
func BalanceShortfall(err error) (required, available uint64, ok bool) {
	if xerrors.CodeOf(err) != CodeInsufficientBalance {
		return 0, 0, false
	}
	req, okReq := xerrors.MetadataValue(err, MetaRequired)
	avail, okAvail := xerrors.MetadataValue(err, MetaAvailable)
	if !okReq || !okAvail {
		return 0, 0, false
	}
	r, err1 := strconv.ParseUint(req, 10, 64)
	a, err2 := strconv.ParseUint(avail, 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return r, a, true
}

// Classify 返回错误的处理类别，前端据此提示用户修正输入、稍后重试或先查询链上结果。
func Classify(err error) xerrors.Class {
	return xerrors.ClassOf(err)
}
