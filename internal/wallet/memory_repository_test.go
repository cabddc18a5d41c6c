package wallet

import (
	"context"
	"testing"

	"custody-chain/internal/ledger"

	"github.com/stretchr/testify/require"
)

func TestMemoryRepositoryAliasMovesToNewestClaimant(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &Record{UserKey: "u1", Alias: "@Bob", AccountID: ledger.AccountID{Num: 1001}}))
	require.NoError(t, repo.Create(ctx, &Record{UserKey: "u2", AccountID: ledger.AccountID{Num: 1002}}))

	got, err := repo.FindByAlias(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, "u1", got.UserKey)

	updated, err := repo.UpdateAlias(ctx, "u2", "bob")
	require.NoError(t, err)
	require.Equal(t, "bob", updated.Alias)

	got, err = repo.FindByAlias(ctx, "@BOB")
	require.NoError(t, err)
	require.Equal(t, "u2", got.UserKey)

	previous, err := repo.FindByUserKey(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, previous.Alias)
}

func TestMemoryRepositoryErrors(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &Record{UserKey: "u1"}))

	require.ErrorIs(t, repo.Create(ctx, &Record{UserKey: "u1"}), ErrWalletExists)
	require.Error(t, repo.Create(ctx, &Record{}))

	_, err := repo.UpdateAlias(ctx, "missing", "x")
	require.ErrorIs(t, err, ErrWalletNotFound)
	_, err = repo.FindByAlias(ctx, "")
	require.ErrorIs(t, err, ErrWalletNotFound)
}

func TestMemoryRepositoryReturnsCopies(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &Record{UserKey: "u1", Alias: "a"}))

	got, err := repo.FindByUserKey(ctx, "u1")
	require.NoError(t, err)
	got.Alias = "mutated"

	again, err := repo.FindByUserKey(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "a", again.Alias)
	require.False(t, again.CreatedAt.IsZero())
}
