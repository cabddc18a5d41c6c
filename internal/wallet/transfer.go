package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	xerrors "custody-chain/internal/errors"
	"custody-chain/internal/events"
	"custody-chain/internal/ledger"
	"custody-chain/internal/observability/alerting"
	"custody-chain/internal/secret"
	"custody-chain/pkg/logger"
)

const publishTimeout = 5 * time.Second

// TransferIntent 是一次已换算为最小单位的转账请求。
// SenderKey 由 Transfer 接管并在所有返回路径上释放；RecipientKey 仍归调用方管理。
type TransferIntent struct {
	ID           string
	Asset        Asset
	Sender       ledger.AccountID
	Recipient    ledger.AccountID
	Amount       uint64
	Memo         string
	SenderKey    *secret.Buffer
	RecipientKey *secret.Buffer
}

// TransferResult 描述转账的最终状态。Outcome 为 Unknown 时调用方应先到浏览器核实。
type TransferResult struct {
	IntentID      string             `json:"intent_id"`
	TransactionID string             `json:"transaction_id,omitempty"`
	Status        string             `json:"status,omitempty"`
	Outcome       string             `json:"outcome"`
	Asset         string             `json:"asset"`
	AssetID       string             `json:"asset_id,omitempty"`
	Amount        uint64             `json:"amount"`
	DisplayAmount string             `json:"display_amount"`
	Sender        string             `json:"sender"`
	Recipient     string             `json:"recipient"`
	ExplorerURL   string             `json:"explorer_url,omitempty"`
	Association   *AssociationResult `json:"-"`
}

// Orchestrator 依次执行余额检查、关联、签名提交与回执确认。
// 同一发送方的并发转账不在客户端串行化，由账本自身排序。
type Orchestrator struct {
	ledger     ledger.Client
	associator *Associator
	settings   Settings
	publisher  events.Publisher
	alerts     alerting.Dispatcher
	logger     *slog.Logger
	observer   Observer
	now        func() time.Time
}

// OrchestratorOption 配置 Orchestrator。
type OrchestratorOption func(*Orchestrator)

// WithPublisher 指定转账事件投递器。
func WithPublisher(p events.Publisher) OrchestratorOption {
	return func(o *Orchestrator) {
		if p != nil {
			o.publisher = p
		}
	}
}

// WithAlerts 指定告警分发器。
func WithAlerts(d alerting.Dispatcher) OrchestratorOption {
	return func(o *Orchestrator) {
		if d != nil {
			o.alerts = d
		}
	}
}

// WithOrchestratorLogger 指定日志实例。
func WithOrchestratorLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithOrchestratorObserver 指定度量观察者。
func WithOrchestratorObserver(obs Observer) OrchestratorOption {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// NewOrchestrator 创建 Orchestrator。
func NewOrchestrator(client ledger.Client, associator *Associator, settings Settings, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		ledger:     client,
		associator: associator,
		settings:   settings.withDefaults(),
		publisher:  events.NopPublisher{},
		logger:     logger.Named("wallet.transfer"),
		observer:   nopObserver{},
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Transfer 执行转账。账本已受理交易时即使返回错误也会返回 TransferResult，
// 其中带有交易 ID 和浏览器链接。拒绝与结果未知均不会自动重试。
func (o *Orchestrator) Transfer(ctx context.Context, intent TransferIntent) (*TransferResult, error) {
	defer intent.SenderKey.Release()
	started := o.now()

	if intent.Amount == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "amount must be greater than zero")
	}
	if intent.SenderKey.Released() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "sender signing key unavailable")
	}

	result := &TransferResult{
		IntentID:      intent.ID,
		Asset:         intent.Asset.Symbol,
		AssetID:       string(intent.Asset.ID),
		Amount:        intent.Amount,
		DisplayAmount: FromBaseUnits(intent.Amount, intent.Asset.Decimals).String(),
		Sender:        intent.Sender.String(),
		Recipient:     intent.Recipient.String(),
		Outcome:       ledger.OutcomeUnknown.String(),
	}

	if intent.Asset.Native() {
		available, err := o.ledger.Balance(ctx, intent.Sender, ledger.Native)
		if err != nil {
			err = o.ledgerError(err, "query sender balance")
			o.finish(ctx, intent, nil, err, started)
			return nil, err
		}
		if available < intent.Amount {
			err := newInsufficientBalance(intent.Asset, intent.Amount, available)
			o.finish(ctx, intent, nil, err, started)
			return nil, err
		}
	} else {
		assoc := o.associator.Ensure(ctx, intent.Recipient, intent.Asset.ID, intent.RecipientKey)
		result.Association = &assoc
	}

	instr := ledger.TransferInstruction{
		Asset:  intent.Asset.ID,
		From:   intent.Sender,
		To:     intent.Recipient,
		Amount: intent.Amount,
		Memo:   intent.Memo,
	}
	submitCtx, cancel := context.WithTimeout(ctx, o.settings.ReceiptTimeout)
	defer cancel()

	var receipt *ledger.Receipt
	err := secret.Scope(intent.SenderKey, func(key []byte) error {
		var submitErr error
		receipt, submitErr = o.ledger.Transfer(submitCtx, instr, key)
		return submitErr
	})

	err = o.settle(result, receipt, err)
	o.finish(ctx, intent, result, err, started)
	if err != nil && result.TransactionID == "" {
		return nil, err
	}
	return result, err
}

// settle 将账本回执映射为结果与错误。
func (o *Orchestrator) settle(result *TransferResult, receipt *ledger.Receipt, err error) error {
	if receipt != nil {
		result.TransactionID = receipt.TransactionID
		result.Status = receipt.Status
		result.Outcome = receipt.Outcome.String()
		result.ExplorerURL = o.settings.TransactionURL(receipt.TransactionID)
	}

	if err != nil {
		if status, ok := ledger.StatusOf(err); ok {
			result.Outcome = ledger.OutcomeRejected.String()
			if result.Status == "" {
				result.Status = status
			}
			var statusErr *ledger.StatusError
			if errors.As(err, &statusErr) && result.TransactionID == "" {
				result.TransactionID = statusErr.TransactionID
				result.ExplorerURL = o.settings.TransactionURL(statusErr.TransactionID)
			}
			return o.rejected(result, err)
		}
		if errors.Is(err, ledger.ErrUnavailable) {
			return xerrors.Wrap(CodeLedgerUnavailable, err, "transfer not delivered to ledger")
		}
		if errors.Is(err, ledger.ErrInvalidInstruction) {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "transfer could not be built, nothing was submitted")
		}
		if errors.Is(err, secret.ErrReleased) {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "sender signing key unavailable")
		}
		return o.unknown(result, err.Error(), err)
	}

	if receipt == nil {
		return o.unknown(result, "ledger returned no receipt", nil)
	}
	switch receipt.Outcome {
	case ledger.OutcomeConfirmed:
		return nil
	case ledger.OutcomeRejected:
		return o.rejected(result, &ledger.StatusError{Status: receipt.Status, TransactionID: receipt.TransactionID})
	default:
		return o.unknown(result, receipt.Reason, nil)
	}
}

func (o *Orchestrator) rejected(result *TransferResult, cause error) error {
	return xerrors.Wrap(CodeTransferRejected, cause, fmt.Sprintf("transfer rejected with status %s", result.Status),
		xerrors.WithMetadata(MetaStatus, result.Status),
		xerrors.WithMetadata(MetaTxID, result.TransactionID),
		xerrors.WithMetadata(MetaExplorerURL, result.ExplorerURL),
	)
}

func (o *Orchestrator) unknown(result *TransferResult, reason string, cause error) error {
	result.Outcome = ledger.OutcomeUnknown.String()
	msg := "transfer outcome unknown, check the explorer before retrying"
	if reason != "" {
		msg = fmt.Sprintf("transfer outcome unknown (%s), check the explorer before retrying", reason)
	}
	opts := []xerrors.Option{
		xerrors.WithMetadata(MetaTxID, result.TransactionID),
		xerrors.WithMetadata(MetaExplorerURL, result.ExplorerURL),
	}
	if cause != nil {
		return xerrors.Wrap(CodeOutcomeUnknown, cause, msg, opts...)
	}
	return xerrors.New(CodeOutcomeUnknown, msg, opts...)
}

func (o *Orchestrator) ledgerError(err error, action string) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	if _, ok := ledger.StatusOf(err); ok {
		return xerrors.Wrap(CodeTransferRejected, err, action)
	}
	return xerrors.Wrap(CodeLedgerUnavailable, err, action)
}

// finish 记录审计日志、度量、事件与告警。这些副作用的失败不影响转账结果。
func (o *Orchestrator) finish(ctx context.Context, intent TransferIntent, result *TransferResult, err error, started time.Time) {
	outcome := outcomeLabel(result, err)
	elapsed := o.now().Sub(started)
	o.observer.TransferFinished(intent.Asset.Symbol, outcome, elapsed)

	attrs := []any{
		slog.String("intent_id", intent.ID),
		slog.String("sender", intent.Sender.String()),
		slog.String("recipient", intent.Recipient.String()),
		slog.String("asset", intent.Asset.Symbol),
		slog.String("amount", strconv.FormatUint(intent.Amount, 10)),
		slog.String("outcome", outcome),
		slog.Duration("elapsed", elapsed),
	}
	if result != nil && result.TransactionID != "" {
		attrs = append(attrs, slog.String("tx_id", result.TransactionID), slog.String("status", result.Status))
	}
	if err != nil {
		attrs = append(attrs, slog.String("code", string(xerrors.CodeOf(err))), slog.Any("error", err))
		logger.Audit().Warn("transfer finished", attrs...)
	} else {
		logger.Audit().Info("transfer finished", attrs...)
	}

	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if result != nil && result.TransactionID != "" {
		event := events.TransferEvent{
			IntentID:      intent.ID,
			Sender:        result.Sender,
			Recipient:     result.Recipient,
			Asset:         result.AssetID,
			Symbol:        result.Asset,
			Amount:        result.Amount,
			Memo:          intent.Memo,
			TransactionID: result.TransactionID,
			Status:        result.Status,
			Outcome:       result.Outcome,
			ExplorerURL:   result.ExplorerURL,
			OccurredAt:    o.now().UTC(),
		}
		if err != nil {
			event.Error = err.Error()
		}
		if pubErr := o.publisher.Publish(bg, event); pubErr != nil {
			o.logger.Warn("transfer event publish failed",
				slog.String("intent_id", intent.ID),
				slog.Any("error", xerrors.Wrap(xerrors.CodePublishFailure, pubErr, "publish transfer event")),
			)
		}
	}

	if err != nil && o.alerts != nil && xerrors.ShouldAlert(err) {
		alert := alerting.FromError("transfer", err)
		alert.IntentID = intent.ID
		if alertErr := o.alerts.Notify(bg, alert); alertErr != nil {
			o.logger.Warn("transfer alert dispatch failed", slog.String("intent_id", intent.ID), slog.Any("error", alertErr))
		}
	}
}

func outcomeLabel(result *TransferResult, err error) string {
	switch xerrors.CodeOf(err) {
	case CodeInsufficientBalance:
		return "insufficient_balance"
	case CodeLedgerUnavailable:
		return "unavailable"
	}
	if result != nil && (err == nil || result.TransactionID != "") {
		return result.Outcome
	}
	if err != nil {
		return "failed"
	}
	return ledger.OutcomeUnknown.String()
}
