package wallet

import (
	"context"
	"log/slog"
	"strings"

	xerrors "custody-chain/internal/errors"
	"custody-chain/internal/ledger"
	"custody-chain/pkg/logger"

	"github.com/google/uuid"
)

// MaxMemoBytes 是账本允许的交易备注长度上限。
const MaxMemoBytes = 100

// SendRequest 是聊天前端提交的转账命令。
type SendRequest struct {
	UserKey   string `json:"user_key"`
	Alias     string `json:"alias"`
	Recipient string `json:"recipient"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	Memo      string `json:"memo"`
}

// Balance 是某个钱包在某种资产上的余额。
type Balance struct {
	UserKey   string `json:"user_key"`
	AccountID string `json:"account_id"`
	Asset     string `json:"asset"`
	AssetID   string `json:"asset_id,omitempty"`
	Decimals  int32  `json:"decimals"`
	BaseUnits uint64 `json:"base_units"`
	Amount    string `json:"amount"`
}

// RecipientView 是收款方解析结果的对外视图。
type RecipientView struct {
	AccountID string `json:"account_id"`
	Alias     string `json:"alias,omitempty"`
	Custodied bool   `json:"custodied"`
}

// Service 组合钱包存储、收款方解析与转账编排，是 API 层唯一依赖的入口。
type Service struct {
	store        *Store
	resolver     *Resolver
	orchestrator *Orchestrator
	catalog      *Catalog
	balances     ledger.BalanceReader
	logger       *slog.Logger
}

// NewService 创建 Service。balances 为空时使用 orchestrator 的账本客户端。
func NewService(store *Store, resolver *Resolver, orchestrator *Orchestrator, catalog *Catalog, balances ledger.BalanceReader) *Service {
	if balances == nil {
		balances = orchestrator.ledger
	}
	return &Service{
		store:        store,
		resolver:     resolver,
		orchestrator: orchestrator,
		catalog:      catalog,
		balances:     balances,
		logger:       logger.Named("wallet.service"),
	}
}

// Catalog 返回资产目录。
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// OpenWallet 返回用户的钱包，不存在时开户。
func (s *Service) OpenWallet(ctx context.Context, userKey, alias string) (PublicView, error) {
	w, err := s.store.GetOrCreate(ctx, strings.TrimSpace(userKey), alias)
	if err != nil {
		return PublicView{}, err
	}
	defer w.Release()
	return w.Public(), nil
}

// Wallet 查询已有钱包。
func (s *Service) Wallet(ctx context.Context, userKey string) (PublicView, error) {
	rec, err := s.store.Find(ctx, strings.TrimSpace(userKey))
	if err != nil {
		return PublicView{}, err
	}
	return rec.Public(), nil
}

// Balance 查询钱包在指定资产上的余额。
func (s *Service) Balance(ctx context.Context, userKey, assetRef string) (Balance, error) {
	asset, err := s.catalog.Lookup(assetRef)
	if err != nil {
		return Balance{}, err
	}
	rec, err := s.store.Find(ctx, strings.TrimSpace(userKey))
	if err != nil {
		return Balance{}, err
	}
	units, err := s.balances.Balance(ctx, rec.AccountID, asset.ID)
	if err != nil {
		return Balance{}, xerrors.Wrap(CodeLedgerUnavailable, err, "query balance",
			xerrors.WithMetadata(MetaAccountID, rec.AccountID.String()),
			xerrors.WithMetadata(MetaAsset, asset.Symbol),
		)
	}
	return Balance{
		UserKey:   rec.UserKey,
		AccountID: rec.AccountID.String(),
		Asset:     asset.Symbol,
		AssetID:   string(asset.ID),
		Decimals:  asset.Decimals,
		BaseUnits: units,
		Amount:    FromBaseUnits(units, asset.Decimals).String(),
	}, nil
}

// ResolveRecipient 预览收款方解析结果，不会保留任何密钥。
func (s *Service) ResolveRecipient(ctx context.Context, token string) (RecipientView, error) {
	r, err := s.resolver.Resolve(ctx, token)
	if err != nil {
		return RecipientView{}, err
	}
	defer r.Release()
	return RecipientView{AccountID: r.Account.String(), Alias: r.Alias, Custodied: r.Custodied()}, nil
}

// Send 执行端到端转账：解析金额与收款方、获取或创建发送方钱包、编排转账。
// 金额只在这里换算一次，余额检查、关联与转账指令使用同一个数值。
func (s *Service) Send(ctx context.Context, req SendRequest) (*TransferResult, error) {
	asset, err := s.catalog.Lookup(req.Asset)
	if err != nil {
		return nil, err
	}
	amount, err := ParseAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	units, err := ToBaseUnits(amount, asset.Decimals)
	if err != nil {
		return nil, err
	}
	if units == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "amount is below the smallest unit of "+asset.Symbol)
	}

	memo := strings.TrimSpace(req.Memo)
	if len(memo) > MaxMemoBytes {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "memo exceeds 100 bytes")
	}

	// 收款方先于发送方解析，输入错误不会触发开户。
	recipient, err := s.resolver.Resolve(ctx, req.Recipient)
	if err != nil {
		return nil, err
	}
	defer recipient.Release()

	sender, err := s.store.GetOrCreate(ctx, strings.TrimSpace(req.UserKey), req.Alias)
	if err != nil {
		return nil, err
	}
	defer sender.Release()

	intent := TransferIntent{
		ID:           uuid.NewString(),
		Asset:        asset,
		Sender:       sender.AccountID,
		Recipient:    recipient.Account,
		Amount:       units,
		Memo:         memo,
		SenderKey:    sender.SigningKey(),
		RecipientKey: recipient.SigningKey(),
	}
	s.logger.Debug("transfer intent built",
		slog.String("intent_id", intent.ID),
		slog.String("user_key", sender.UserKey),
		slog.String("asset", asset.Symbol),
		slog.Uint64("amount", units),
	)
	return s.orchestrator.Transfer(ctx, intent)
}
