package wallet

import (
	"context"
	"errors"
	"testing"

	"custody-chain/internal/ledger"
	"custody-chain/internal/ledger/memory"
	"custody-chain/pkg/logger"

	"github.com/stretchr/testify/require"
)

type countingObserver struct {
	nopObserver
	associations map[AssociationStatus]int
}

func (c *countingObserver) Association(status AssociationStatus) {
	if c.associations == nil {
		c.associations = make(map[AssociationStatus]int)
	}
	c.associations[status]++
}

func TestEnsureIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l := memory.New(1_000_000)
	l.CreateToken(testToken, 100)
	account, key := newLedgerAccount(t, l, 0)
	defer key.Release()

	obs := &countingObserver{}
	a := NewAssociator(l, WithAssociatorLogger(logger.Discard()), WithAssociatorObserver(obs))

	first := a.Ensure(ctx, account, testToken, key)
	require.Equal(t, AssociatedOK, first.Status)
	require.NoError(t, first.Err)
	require.True(t, first.SelfSigned)
	require.NotEmpty(t, first.TransactionID)
	require.False(t, key.Released(), "signer lifetime belongs to the caller")

	second := a.Ensure(ctx, account, testToken, nil)
	require.Equal(t, AlreadyAssociated, second.Status)
	require.NoError(t, second.Err)
	require.False(t, second.SelfSigned)

	require.True(t, l.IsAssociated(account, testToken))
	require.Equal(t, 1, obs.associations[AssociatedOK])
	require.Equal(t, 1, obs.associations[AlreadyAssociated])
}

func TestEnsureNativeIsNoop(t *testing.T) {
	l := memory.New(1_000_000)
	account, key := newLedgerAccount(t, l, 0)
	defer key.Release()

	res := NewAssociator(l).Ensure(context.Background(), account, ledger.Native, key)
	require.Equal(t, AlreadyAssociated, res.Status)
	require.Empty(t, l.AssociationAttempts())
}

func TestEnsureFailureIsNonFatal(t *testing.T) {
	l := memory.New(1_000_000, memory.WithAssociateHook(func(ledger.AccountID, ledger.AssetID) error {
		return errors.New("connection reset")
	}))
	l.CreateToken(testToken, 100)
	account, key := newLedgerAccount(t, l, 0)
	defer key.Release()

	res := NewAssociator(l, WithAssociatorLogger(logger.Discard())).Ensure(context.Background(), account, testToken, key)
	require.Equal(t, AssociationFailedNonFatal, res.Status)
	require.ErrorIs(t, res.Err, ErrAssociation)
	require.Equal(t, "failed_non_fatal", res.Status.String())
}

func TestEnsureWrongSignerIsNonFatal(t *testing.T) {
	l := memory.New(1_000_000)
	l.CreateToken(testToken, 100)
	account, key := newLedgerAccount(t, l, 0)
	defer key.Release()
	_, otherKey := newLedgerAccount(t, l, 0)
	defer otherKey.Release()

	res := NewAssociator(l, WithAssociatorLogger(logger.Discard())).Ensure(context.Background(), account, testToken, otherKey)
	require.Equal(t, AssociationFailedNonFatal, res.Status)
	status, ok := ledger.StatusOf(res.Err)
	require.True(t, ok)
	require.Equal(t, ledger.StatusInvalidSignature, status)
	require.False(t, l.IsAssociated(account, testToken))
}

func TestEnsureReleasedSignerFallsBackToOperator(t *testing.T) {
	l := memory.New(1_000_000)
	l.CreateToken(testToken, 100)
	account, key := newLedgerAccount(t, l, 0)
	key.Release()

	res := NewAssociator(l, WithAssociatorLogger(logger.Discard())).Ensure(context.Background(), account, testToken, key)
	require.Equal(t, AssociatedOK, res.Status)
	require.False(t, res.SelfSigned)
}
