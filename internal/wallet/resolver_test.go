package wallet

import (
	"context"
	"testing"

	xerrors "custody-chain/internal/errors"
	"custody-chain/internal/ledger"

	"github.com/stretchr/testify/require"
)

func TestResolveAlias(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob, err := f.store.GetOrCreate(ctx, "tg:bob", "bob")
	require.NoError(t, err)
	defer bob.Release()

	for _, token := range []string{"@bob", " @BOB "} {
		r, err := f.resolver.Resolve(ctx, token)
		require.NoError(t, err, token)
		require.Equal(t, bob.AccountID, r.Account)
		require.Equal(t, "bob", r.Alias)
		require.Equal(t, "tg:bob", r.UserKey)
		require.True(t, r.Custodied())
		r.Release()
		require.True(t, r.SigningKey().Released())
	}
}

func TestResolveAccountIDIsLiteral(t *testing.T) {
	f := newFixture(t)
	r, err := f.resolver.Resolve(context.Background(), "0.0.1234")
	require.NoError(t, err)
	require.Equal(t, ledger.AccountID{Num: 1234}, r.Account)
	require.Equal(t, "0.0.1234", r.Account.String())
	require.False(t, r.Custodied())
	require.Nil(t, r.SigningKey())
}

func TestResolveRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := map[string]xerrors.Code{
		"not-valid":  CodeInvalidRecipient,
		"0.0":        CodeInvalidRecipient,
		"0.0.-1":     CodeInvalidRecipient,
		"@":          CodeInvalidRecipient,
		"":           CodeInvalidRecipient,
		"@nobody":    CodeAliasNotFound,
		"0x12345678": CodeInvalidRecipient,
	}
	for token, want := range cases {
		_, err := f.resolver.Resolve(ctx, token)
		require.Equal(t, want, xerrors.CodeOf(err), token)
		require.Equal(t, xerrors.ClassInput, Classify(err), token)
	}
	require.Zero(t, f.ledger.AccountCount())
}
