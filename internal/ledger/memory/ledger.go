// Package memory 提供进程内账本实现，用于本地开发和测试。
package memory

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"custody-chain/internal/ledger"

	"github.com/ethereum/go-ethereum/crypto"
)

// TransferHook 在转账执行前被调用；返回非 nil 的回执或错误时将直接作为结果，不再记账。
type TransferHook func(instr ledger.TransferInstruction) (*ledger.Receipt, error)

// AssociateHook 在关联执行前被调用；返回非 nil 错误时直接作为结果。
type AssociateHook func(account ledger.AccountID, asset ledger.AssetID) error

type account struct {
	publicKey    []byte
	balances     map[ledger.AssetID]uint64
	associations map[ledger.AssetID]struct{}
}

// Ledger 是线程安全的内存账本。运营方账户默认为 0.0.2。
type Ledger struct {
	mu            sync.Mutex
	operator      ledger.AccountID
	accounts      map[ledger.AccountID]*account
	tokens        map[ledger.AssetID]struct{}
	nextNum       uint64
	txSeq         atomic.Uint64
	transfers     []ledger.TransferInstruction
	associateLog  []ledger.AccountID
	transferHook  TransferHook
	associateHook AssociateHook
}

// Option 配置内存账本。
type Option func(*Ledger)

// WithTransferHook 注入转账钩子，测试用于模拟拒绝或超时。
func WithTransferHook(hook TransferHook) Option {
	return func(l *Ledger) { l.transferHook = hook }
}

// WithAssociateHook 注入关联钩子。
func WithAssociateHook(hook AssociateHook) Option {
	return func(l *Ledger) { l.associateHook = hook }
}

// New 创建内存账本，运营方持有 operatorBalance tinybar。
func New(operatorBalance uint64, opts ...Option) *Ledger {
	operator := ledger.AccountID{Num: 2}
	l := &Ledger{
		operator: operator,
		accounts: map[ledger.AccountID]*account{
			operator: newAccount(nil, operatorBalance),
		},
		tokens:  make(map[ledger.AssetID]struct{}),
		nextNum: 1001,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

func newAccount(publicKey []byte, native uint64) *account {
	return &account{
		publicKey:    append([]byte(nil), publicKey...),
		balances:     map[ledger.AssetID]uint64{ledger.Native: native},
		associations: make(map[ledger.AssetID]struct{}),
	}
}

// Operator 返回运营方账户。
func (l *Ledger) Operator() ledger.AccountID {
	return l.operator
}

// CreateToken 注册一种 token，并把 supply 记到运营方名下。
func (l *Ledger) CreateToken(asset ledger.AssetID, supply uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens[asset] = struct{}{}
	op := l.accounts[l.operator]
	op.associations[asset] = struct{}{}
	op.balances[asset] += supply
}

// Credit 直接给账户记入余额，用于测试准备数据。
func (l *Ledger) Credit(id ledger.AccountID, asset ledger.AssetID, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[id]
	if !ok {
		return fmt.Errorf("account %s not found", id)
	}
	if !asset.IsNative() {
		acct.associations[asset] = struct{}{}
	}
	acct.balances[asset] += amount
	return nil
}

// IsAssociated 报告账户是否已关联 token。
func (l *Ledger) IsAssociated(id ledger.AccountID, asset ledger.AssetID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[id]
	if !ok {
		return false
	}
	_, ok = acct.associations[asset]
	return ok
}

// Transfers 返回已提交到账本的转账指令副本。
func (l *Ledger) Transfers() []ledger.TransferInstruction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ledger.TransferInstruction(nil), l.transfers...)
}

// AccountCount 返回除运营方以外的账户数量。
func (l *Ledger) AccountCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.accounts) - 1
}

// AssociationAttempts 返回关联请求的账户序列。
func (l *Ledger) AssociationAttempts() []ledger.AccountID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ledger.AccountID(nil), l.associateLog...)
}

// CreateAccount 由运营方出资创建账户。
func (l *Ledger) CreateAccount(ctx context.Context, publicKey []byte, initialBalance uint64) (ledger.AccountID, error) {
	if err := ctx.Err(); err != nil {
		return ledger.AccountID{}, err
	}
	if len(publicKey) == 0 {
		return ledger.AccountID{}, &ledger.StatusError{Status: "KEY_REQUIRED"}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	op := l.accounts[l.operator]
	if op.balances[ledger.Native] < initialBalance {
		return ledger.AccountID{}, &ledger.StatusError{Status: ledger.StatusInsufficientAccountBalance}
	}
	op.balances[ledger.Native] -= initialBalance

	id := ledger.AccountID{Num: l.nextNum}
	l.nextNum++
	l.accounts[id] = newAccount(publicKey, initialBalance)
	return id, nil
}

// Balance 查询余额。
func (l *Ledger) Balance(ctx context.Context, id ledger.AccountID, asset ledger.AssetID) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[id]
	if !ok {
		return 0, &ledger.StatusError{Status: ledger.StatusInvalidAccountID}
	}
	return acct.balances[asset], nil
}

// Associate 关联 token。signer 为空时视为运营方代付。
func (l *Ledger) Associate(ctx context.Context, id ledger.AccountID, asset ledger.AssetID, signer []byte) (*ledger.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	txID := l.nextTxID()

	l.mu.Lock()
	l.associateLog = append(l.associateLog, id)
	hook := l.associateHook
	l.mu.Unlock()
	if hook != nil {
		if err := hook(id, asset); err != nil {
			return nil, err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[id]
	if !ok {
		return nil, &ledger.StatusError{Status: ledger.StatusInvalidAccountID, TransactionID: txID}
	}
	if _, ok := l.tokens[asset]; !ok {
		return nil, &ledger.StatusError{Status: ledger.StatusInvalidTokenID, TransactionID: txID}
	}
	if signer != nil && !l.signerMatches(acct, signer) {
		return nil, &ledger.StatusError{Status: ledger.StatusInvalidSignature, TransactionID: txID}
	}
	if _, ok := acct.associations[asset]; ok {
		return nil, &ledger.StatusError{Status: ledger.StatusTokenAlreadyAssociated, TransactionID: txID}
	}
	acct.associations[asset] = struct{}{}
	return &ledger.Receipt{TransactionID: txID, Status: ledger.StatusSuccess, Outcome: ledger.OutcomeConfirmed}, nil
}

// Transfer 执行原子转账并返回回执。
func (l *Ledger) Transfer(ctx context.Context, instr ledger.TransferInstruction, signer []byte) (*ledger.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	txID := l.nextTxID()

	l.mu.Lock()
	l.transfers = append(l.transfers, instr)
	hook := l.transferHook
	l.mu.Unlock()
	if hook != nil {
		receipt, err := hook(instr)
		if receipt != nil || err != nil {
			if receipt != nil && receipt.TransactionID == "" {
				receipt.TransactionID = txID
			}
			return receipt, err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	reject := func(status string) (*ledger.Receipt, error) {
		return &ledger.Receipt{TransactionID: txID, Status: status, Outcome: ledger.OutcomeRejected}, nil
	}

	from, ok := l.accounts[instr.From]
	if !ok {
		return reject(ledger.StatusInvalidAccountID)
	}
	to, ok := l.accounts[instr.To]
	if !ok {
		return reject(ledger.StatusInvalidAccountID)
	}
	if !l.signerMatches(from, signer) {
		return reject(ledger.StatusInvalidSignature)
	}
	if !instr.Asset.IsNative() {
		if _, ok := to.associations[instr.Asset]; !ok {
			return reject(ledger.StatusTokenNotAssociated)
		}
		if from.balances[instr.Asset] < instr.Amount {
			return reject(ledger.StatusInsufficientTokenBalance)
		}
	} else if from.balances[ledger.Native] < instr.Amount {
		return reject(ledger.StatusInsufficientAccountBalance)
	}

	from.balances[instr.Asset] -= instr.Amount
	to.balances[instr.Asset] += instr.Amount
	return &ledger.Receipt{TransactionID: txID, Status: ledger.StatusSuccess, Outcome: ledger.OutcomeConfirmed}, nil
}

func (l *Ledger) signerMatches(acct *account, signer []byte) bool {
	if len(acct.publicKey) == 0 {
		// 运营方账户不校验签名。
		return true
	}
	if len(signer) == 0 {
		return false
	}
	key, err := crypto.ToECDSA(signer)
	if err != nil {
		return false
	}
	return bytes.Equal(crypto.CompressPubkey(&key.PublicKey), acct.publicKey)
}

func (l *Ledger) nextTxID() string {
	seq := l.txSeq.Add(1)
	return fmt.Sprintf("%s@1700000000.%09d", l.operator, seq)
}

var _ ledger.Client = (*Ledger)(nil)
