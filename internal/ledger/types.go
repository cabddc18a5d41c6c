package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var accountIDPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// AccountID 是账本原生账户标识 shard.realm.num。
type AccountID struct {
	Shard uint64
	Realm uint64
	Num   uint64
}

// LooksLikeAccountID 判断字符串是否符合三段数字的账户格式。
func LooksLikeAccountID(s string) bool {
	return accountIDPattern.MatchString(s)
}

// ParseAccountID 解析 "0.0.1234" 形式的账户标识。
func ParseAccountID(s string) (AccountID, error) {
	s = strings.TrimSpace(s)
	if !LooksLikeAccountID(s) {
		return AccountID{}, fmt.Errorf("invalid account id %q", s)
	}
	parts := strings.Split(s, ".")
	var vals [3]uint64
	for i, part := range parts {
		v, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return AccountID{}, fmt.Errorf("invalid account id %q: %w", s, err)
		}
		vals[i] = v
	}
	return AccountID{Shard: vals[0], Realm: vals[1], Num: vals[2]}, nil
}

// MustParseAccountID 供测试与常量使用。
func MustParseAccountID(s string) AccountID {
	id, err := ParseAccountID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (a AccountID) String() string {
	return fmt.Sprintf("%d.%d.%d", a.Shard, a.Realm, a.Num)
}

// IsZero 报告是否为零值。
func (a AccountID) IsZero() bool {
	return a == AccountID{}
}

// LongZeroAddress 返回账户在 EVM 中的 long-zero 地址：4 字节 shard，8 字节 realm，8 字节 num。
func (a AccountID) LongZeroAddress() common.Address {
	var b [common.AddressLength]byte
	binary.BigEndian.PutUint32(b[0:4], uint32(a.Shard))
	binary.BigEndian.PutUint64(b[4:12], a.Realm)
	binary.BigEndian.PutUint64(b[12:20], a.Num)
	return common.Address(b)
}

// AssetID 标识一种资产。空值表示原生币，否则为 token 的 shard.realm.num。
type AssetID string

// Native 表示账本原生币。
const Native AssetID = ""

// IsNative 报告是否为原生币。
func (a AssetID) IsNative() bool {
	return a == Native
}

// TokenAccount 将 token ID 解析为账户形式，用于计算其 EVM 地址。
func (a AssetID) TokenAccount() (AccountID, error) {
	if a.IsNative() {
		return AccountID{}, errors.New("native asset has no token id")
	}
	return ParseAccountID(string(a))
}

func (a AssetID) String() string {
	if a.IsNative() {
		return "native"
	}
	return string(a)
}

// Outcome 描述交易回执的三种结果。
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeConfirmed
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Receipt 是一次已提交交易的回执引用。
type Receipt struct {
	TransactionID string
	Status        string
	Outcome       Outcome
	// Reason 在 OutcomeUnknown 时说明为何无法确认。
	Reason        string
}

// TransferInstruction 是一条原子的借贷指令。
type TransferInstruction struct {
	Asset  AssetID
	From   AccountID
	To     AccountID
	Amount uint64
	Memo   string
}

const (
	StatusSuccess                    = "SUCCESS"
	StatusTokenAlreadyAssociated     = "TOKEN_ALREADY_ASSOCIATED_TO_ACCOUNT"
	StatusTokenNotAssociated         = "TOKEN_NOT_ASSOCIATED_TO_ACCOUNT"
	StatusInsufficientAccountBalance = "INSUFFICIENT_ACCOUNT_BALANCE"
	StatusInsufficientTokenBalance   = "INSUFFICIENT_TOKEN_BALANCE"
	StatusInvalidSignature           = "INVALID_SIGNATURE"
	StatusInvalidAccountID           = "INVALID_ACCOUNT_ID"
	StatusInvalidTokenID             = "INVALID_TOKEN_ID"
)

var (
	// ErrAlreadyAssociated 表示账户已经关联过该 token。
	ErrAlreadyAssociated = errors.New("token already associated to account")
	// ErrUnavailable 表示交易未能送达账本，可以安全重试。
	ErrUnavailable = errors.New("ledger unavailable")
	// ErrInvalidInstruction 表示交易在本地构造或签名阶段失败，未发送到账本。
	ErrInvalidInstruction = errors.New("invalid ledger instruction")
)

// StatusError 是账本以非成功状态拒绝交易时返回的错误。
type StatusError struct {
	Status        string
	TransactionID string
}

func (e *StatusError) Error() string {
	if e.TransactionID == "" {
		return "ledger status " + e.Status
	}
	return fmt.Sprintf("ledger status %s for %s", e.Status, e.TransactionID)
}

// Is 让 TOKEN_ALREADY_ASSOCIATED 状态能够匹配 ErrAlreadyAssociated。
func (e *StatusError) Is(target error) bool {
	return target == ErrAlreadyAssociated && e.Status == StatusTokenAlreadyAssociated
}

// StatusOf 提取错误链上的账本状态码。
func StatusOf(err error) (string, bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status, true
	}
	return "", false
}
