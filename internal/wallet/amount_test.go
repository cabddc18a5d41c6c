package wallet

import (
	"testing"

	xerrors "custody-chain/internal/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestToBaseUnitsFloors(t *testing.T) {
	cases := []struct {
		amount   string
		decimals int32
		want     uint64
	}{
		{"10.5", 2, 1050},
		{"0.001", 2, 0},
		{"1.999", 0, 1},
		{"5", 8, 500_000_000},
		{"0.00000001", 8, 1},
		{"0.000000019", 8, 1},
		{"123.456789", 6, 123_456_789},
	}
	for _, tc := range cases {
		t.Run(tc.amount, func(t *testing.T) {
			got, err := ToBaseUnits(decimal.RequireFromString(tc.amount), tc.decimals)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestToBaseUnitsRejectsOutOfRange(t *testing.T) {
	_, err := ToBaseUnits(decimal.RequireFromString("184467440737.09551616"), 8)
	require.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))

	_, err = ToBaseUnits(decimal.RequireFromString("-1"), 2)
	require.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestParseAmount(t *testing.T) {
	got, err := ParseAmount(" 2.50 ")
	require.NoError(t, err)
	require.True(t, got.Equal(decimal.RequireFromString("2.5")))

	for _, raw := range []string{"", "abc", "-1", "1.2.3"} {
		_, err := ParseAmount(raw)
		require.Error(t, err, raw)
		require.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err), raw)
	}
}

func TestFromBaseUnits(t *testing.T) {
	require.Equal(t, "10.5", FromBaseUnits(1050, 2).String())
	require.Equal(t, "1", FromBaseUnits(100_000_000, 8).String())
	require.Equal(t, "0", FromBaseUnits(0, 8).String())
}
