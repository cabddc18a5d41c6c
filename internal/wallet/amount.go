package wallet

import (
	"fmt"
	"strings"

	xerrors "custody-chain/internal/errors"

	"github.com/shopspring/decimal"
)

// ParseAmount 解析用户输入的十进制金额，拒绝负数。
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, xerrors.New(xerrors.CodeInvalidArgument, "amount is required")
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("invalid amount %q", raw))
	}
	if amount.IsNegative() {
		return decimal.Zero, xerrors.New(xerrors.CodeInvalidArgument, "amount must not be negative")
	}
	return amount, nil
}

// ToBaseUnits 计算 floor(amount × 10^decimals)。结果为负或超出 uint64 时返回错误。
func ToBaseUnits(amount decimal.Decimal, decimals int32) (uint64, error) {
	if amount.IsNegative() {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, "amount must not be negative")
	}
	units := amount.Shift(decimals).Floor().BigInt()
	if !units.IsUint64() {
		return 0, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("amount %s out of range", amount))
	}
	return units.Uint64(), nil
}

// FromBaseUnits 将最小单位金额转换回十进制数。
func FromBaseUnits(units uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromUint64(units).Shift(-decimals)
}
