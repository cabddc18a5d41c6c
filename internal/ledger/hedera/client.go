// Package hedera 基于 Hedera Go SDK 实现 ledger.Client。
package hedera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"custody-chain/internal/ledger"
	"custody-chain/pkg/logger"

	hsdk "github.com/hashgraph/hedera-sdk-go/v2"
)

// Config 描述连接 Hedera 网络所需的信息。
type Config struct {
	Network        string
	OperatorID     string
	OperatorKey    string
	RequestTimeout time.Duration
}

// Client 通过 SDK 提交交易，运营方账户作为默认付费方。
type Client struct {
	sdk        *hsdk.Client
	operatorID hsdk.AccountID
	logger     *slog.Logger
}

// Option 配置 Client。
type Option func(*Client)

// WithLogger 指定日志实例。
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient 根据网络名称创建 SDK 客户端并设置运营方。
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	var sdk *hsdk.Client
	switch strings.ToLower(cfg.Network) {
	case "mainnet":
		sdk = hsdk.ClientForMainnet()
	case "previewnet":
		sdk = hsdk.ClientForPreviewnet()
	case "testnet", "":
		sdk = hsdk.ClientForTestnet()
	default:
		return nil, fmt.Errorf("不支持的网络: %s", cfg.Network)
	}

	operatorID, err := hsdk.AccountIDFromString(cfg.OperatorID)
	if err != nil {
		return nil, fmt.Errorf("解析运营方账户失败: %w", err)
	}
	operatorKey, err := parsePrivateKey(cfg.OperatorKey)
	if err != nil {
		return nil, fmt.Errorf("解析运营方私钥失败: %w", err)
	}
	sdk.SetOperator(operatorID, operatorKey)
	if cfg.RequestTimeout > 0 {
		sdk.SetRequestTimeout(&cfg.RequestTimeout)
	}

	c := &Client{sdk: sdk, operatorID: operatorID, logger: logger.Named("ledger.hedera")}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Close 释放 SDK 的网络连接。
func (c *Client) Close() error {
	if c == nil || c.sdk == nil {
		return nil
	}
	return c.sdk.Close()
}

// parsePrivateKey 接受 DER 编码或 64 位十六进制的 ECDSA 原始私钥。
func parsePrivateKey(raw string) (hsdk.PrivateKey, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if len(raw) == 64 {
		return hsdk.PrivateKeyFromStringECDSA(raw)
	}
	return hsdk.PrivateKeyFromString(raw)
}

// CreateAccount 以运营方出资创建账户。
func (c *Client) CreateAccount(ctx context.Context, publicKey []byte, initialBalance uint64) (ledger.AccountID, error) {
	pub, err := hsdk.PublicKeyFromBytesECDSA(publicKey)
	if err != nil {
		return ledger.AccountID{}, fmt.Errorf("解析公钥失败: %w", err)
	}

	receipt, err := c.await(ctx, func() (hsdk.TransactionResponse, error) {
		return hsdk.NewAccountCreateTransaction().
			SetKey(pub).
			SetInitialBalance(hsdk.HbarFromTinybar(int64(initialBalance))).
			Execute(c.sdk)
	})
	if err != nil {
		return ledger.AccountID{}, err
	}
	if receipt.Outcome != ledger.OutcomeConfirmed {
		return ledger.AccountID{}, &ledger.StatusError{Status: receipt.Status, TransactionID: receipt.TransactionID}
	}
	if receipt.accountID == nil {
		return ledger.AccountID{}, errors.New("账户创建回执缺少账户 ID")
	}
	return fromSDKAccount(*receipt.accountID), nil
}

// Balance 查询原生币（tinybar）或 token 余额。
func (c *Client) Balance(ctx context.Context, account ledger.AccountID, asset ledger.AssetID) (uint64, error) {
	type result struct {
		balance hsdk.AccountBalance
		err     error
	}
	done := make(chan result, 1)
	go func() {
		b, err := hsdk.NewAccountBalanceQuery().SetAccountID(toSDKAccount(account)).Execute(c.sdk)
		done <- result{balance: b, err: err}
	}()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return 0, classify(res.err, "")
		}
		if asset.IsNative() {
			tinybar := res.balance.Hbars.AsTinybar()
			if tinybar < 0 {
				return 0, nil
			}
			return uint64(tinybar), nil
		}
		tokenID, err := hsdk.TokenIDFromString(string(asset))
		if err != nil {
			return 0, fmt.Errorf("解析 token ID 失败: %w", err)
		}
		return res.balance.Tokens.Get(tokenID), nil
	}
}

// Associate 提交 token 关联交易。signer 为空时仅由运营方签名。
func (c *Client) Associate(ctx context.Context, account ledger.AccountID, asset ledger.AssetID, signer []byte) (*ledger.Receipt, error) {
	tokenID, err := hsdk.TokenIDFromString(string(asset))
	if err != nil {
		return nil, fmt.Errorf("%w: 解析 token ID 失败: %v", ledger.ErrInvalidInstruction, err)
	}

	var key *hsdk.PrivateKey
	if signer != nil {
		parsed, err := parseSigner(signer)
		if err != nil {
			return nil, err
		}
		key = &parsed
	}

	receipt, err := c.await(ctx, func() (hsdk.TransactionResponse, error) {
		tx, err := hsdk.NewTokenAssociateTransaction().
			SetAccountID(toSDKAccount(account)).
			SetTokenIDs(tokenID).
			FreezeWith(c.sdk)
		if err != nil {
			return hsdk.TransactionResponse{}, err
		}
		if key != nil {
			tx = tx.Sign(*key)
		}
		return tx.Execute(c.sdk)
	})
	if err != nil {
		return nil, err
	}
	if receipt.Outcome == ledger.OutcomeRejected {
		return &receipt.Receipt, &ledger.StatusError{Status: receipt.Status, TransactionID: receipt.TransactionID}
	}
	return &receipt.Receipt, nil
}

// Transfer 构造单笔借贷对称的转账并由 signer 签名。
func (c *Client) Transfer(ctx context.Context, instr ledger.TransferInstruction, signer []byte) (*ledger.Receipt, error) {
	tx, err := buildTransfer(instr)
	if err != nil {
		return nil, err
	}
	key, err := parseSigner(signer)
	if err != nil {
		return nil, err
	}

	receipt, err := c.await(ctx, func() (hsdk.TransactionResponse, error) {
		frozen, err := tx.FreezeWith(c.sdk)
		if err != nil {
			return hsdk.TransactionResponse{}, err
		}
		return frozen.Sign(key).Execute(c.sdk)
	})
	if err != nil {
		return nil, err
	}
	return &receipt.Receipt, nil
}

// buildTransfer 在本地组装转账交易，失败时不会有任何内容发送到账本。
func buildTransfer(instr ledger.TransferInstruction) (*hsdk.TransferTransaction, error) {
	if instr.Amount > uint64(1<<63-1) {
		return nil, fmt.Errorf("%w: 金额超出范围: %d", ledger.ErrInvalidInstruction, instr.Amount)
	}
	amount := int64(instr.Amount)

	tx := hsdk.NewTransferTransaction()
	if instr.Asset.IsNative() {
		tx = tx.AddHbarTransfer(toSDKAccount(instr.From), hsdk.HbarFromTinybar(-amount)).
			AddHbarTransfer(toSDKAccount(instr.To), hsdk.HbarFromTinybar(amount))
	} else {
		tokenID, err := hsdk.TokenIDFromString(string(instr.Asset))
		if err != nil {
			return nil, fmt.Errorf("%w: 解析 token ID 失败: %v", ledger.ErrInvalidInstruction, err)
		}
		tx = tx.AddTokenTransfer(tokenID, toSDKAccount(instr.From), -amount).
			AddTokenTransfer(tokenID, toSDKAccount(instr.To), amount)
	}
	if instr.Memo != "" {
		tx = tx.SetTransactionMemo(instr.Memo)
	}
	return tx, nil
}

func parseSigner(signer []byte) (hsdk.PrivateKey, error) {
	key, err := hsdk.PrivateKeyFromBytesECDSA(signer)
	if err != nil {
		return hsdk.PrivateKey{}, fmt.Errorf("%w: 解析签名私钥失败: %v", ledger.ErrInvalidInstruction, err)
	}
	return key, nil
}

// sdkReceipt 在 ledger.Receipt 之外携带账户创建结果。
type sdkReceipt struct {
	ledger.Receipt
	accountID *hsdk.AccountID
}

// await 在后台提交交易并等待回执。上下文结束时若交易已提交，返回 OutcomeUnknown；
// 预检失败返回 StatusError，传输层失败返回 ErrUnavailable。
func (c *Client) await(ctx context.Context, submit func() (hsdk.TransactionResponse, error)) (*sdkReceipt, error) {
	type result struct {
		receipt *sdkReceipt
		err     error
	}
	submitted := make(chan string, 1)
	done := make(chan result, 1)

	go func() {
		resp, err := submit()
		if err != nil {
			done <- result{err: classify(err, "")}
			return
		}
		txID := resp.TransactionID.String()
		submitted <- txID

		receipt, err := resp.GetReceipt(c.sdk)
		var receiptErr hsdk.ErrHederaReceiptStatus
		switch {
		case err == nil:
		case errors.As(err, &receiptErr):
			receipt = receiptErr.Receipt
		default:
			done <- result{receipt: &sdkReceipt{Receipt: ledger.Receipt{
				TransactionID: txID,
				Outcome:       ledger.OutcomeUnknown,
				Reason:        err.Error(),
			}}}
			return
		}

		status := receipt.Status.String()
		outcome := ledger.OutcomeRejected
		if receipt.Status == hsdk.StatusSuccess {
			outcome = ledger.OutcomeConfirmed
		}
		done <- result{receipt: &sdkReceipt{
			Receipt:   ledger.Receipt{TransactionID: txID, Status: status, Outcome: outcome},
			accountID: receipt.AccountID,
		}}
	}()

	var txID string
	for {
		select {
		case id := <-submitted:
			txID = id
		case res := <-done:
			return res.receipt, res.err
		case <-ctx.Done():
			if txID == "" {
				select {
				case txID = <-submitted:
				default:
				}
			}
			if txID == "" {
				c.logger.Warn("ledger submission abandoned before acknowledgement", slog.Any("error", ctx.Err()))
				return &sdkReceipt{Receipt: ledger.Receipt{Outcome: ledger.OutcomeUnknown, Reason: ctx.Err().Error()}}, nil
			}
			return &sdkReceipt{Receipt: ledger.Receipt{
				TransactionID: txID,
				Outcome:       ledger.OutcomeUnknown,
				Reason:        "receipt wait: " + ctx.Err().Error(),
			}}, nil
		}
	}
}

// classify 把 SDK 错误映射为账本错误。
func classify(err error, txID string) error {
	var precheck hsdk.ErrHederaPreCheckStatus
	if errors.As(err, &precheck) {
		id := txID
		if precheck.TxID.AccountID != nil {
			id = precheck.TxID.String()
		}
		return &ledger.StatusError{Status: precheck.Status.String(), TransactionID: id}
	}
	var receiptErr hsdk.ErrHederaReceiptStatus
	if errors.As(err, &receiptErr) {
		return &ledger.StatusError{Status: receiptErr.Status.String(), TransactionID: receiptErr.TxID.String()}
	}
	return fmt.Errorf("%w: %v", ledger.ErrUnavailable, err)
}

func toSDKAccount(id ledger.AccountID) hsdk.AccountID {
	return hsdk.AccountID{Shard: id.Shard, Realm: id.Realm, Account: id.Num}
}

func fromSDKAccount(id hsdk.AccountID) ledger.AccountID {
	return ledger.AccountID{Shard: id.Shard, Realm: id.Realm, Num: id.Account}
}

var _ ledger.Client = (*Client)(nil)
