package memory

import (
	"context"
	"errors"
	"testing"

	"custody-chain/internal/ledger"

	"github.com/ethereum/go-ethereum/crypto"
)

func newKey(t *testing.T) (priv []byte, pub []byte) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return crypto.FromECDSA(key), crypto.CompressPubkey(&key.PublicKey)
}

func TestLedgerTransferRequiresOwnerSignature(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := New(10_000_000_000)

	alicePriv, alicePub := newKey(t)
	bobPriv, bobPub := newKey(t)
	alice, err := l.CreateAccount(ctx, alicePub, 500)
	if err != nil {
		t.Fatalf("create alice: %v", err)
	}
	bob, err := l.CreateAccount(ctx, bobPub, 0)
	if err != nil {
		t.Fatalf("create bob: %v", err)
	}

	instr := ledger.TransferInstruction{Asset: ledger.Native, From: alice, To: bob, Amount: 200}
	receipt, err := l.Transfer(ctx, instr, bobPriv)
	if err != nil || receipt.Outcome != ledger.OutcomeRejected || receipt.Status != ledger.StatusInvalidSignature {
		t.Fatalf("expected signature rejection, got %+v %v", receipt, err)
	}

	receipt, err = l.Transfer(ctx, instr, alicePriv)
	if err != nil || receipt.Outcome != ledger.OutcomeConfirmed {
		t.Fatalf("expected confirmation, got %+v %v", receipt, err)
	}
	if bal, _ := l.Balance(ctx, bob, ledger.Native); bal != 200 {
		t.Fatalf("unexpected bob balance %d", bal)
	}
}

func TestLedgerAssociationIsReportedOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := New(1_000)
	token := ledger.AssetID("0.0.4800")
	l.CreateToken(token, 1_000_000)

	priv, pub := newKey(t)
	id, err := l.CreateAccount(ctx, pub, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := l.Associate(ctx, id, token, priv); err != nil {
		t.Fatalf("first associate: %v", err)
	}
	_, err = l.Associate(ctx, id, token, nil)
	if !errors.Is(err, ledger.ErrAlreadyAssociated) {
		t.Fatalf("expected already associated, got %v", err)
	}
	if !l.IsAssociated(id, token) {
		t.Fatalf("association not recorded")
	}
}

func TestLedgerTokenTransferNeedsAssociation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l := New(1_000)
	token := ledger.AssetID("0.0.4800")
	l.CreateToken(token, 0)

	priv, pub := newKey(t)
	_, otherPub := newKey(t)
	from, _ := l.CreateAccount(ctx, pub, 0)
	to, _ := l.CreateAccount(ctx, otherPub, 0)
	if err := l.Credit(from, token, 50); err != nil {
		t.Fatalf("credit: %v", err)
	}

	receipt, err := l.Transfer(ctx, ledger.TransferInstruction{Asset: token, From: from, To: to, Amount: 10}, priv)
	if err != nil || receipt.Status != ledger.StatusTokenNotAssociated {
		t.Fatalf("expected not-associated rejection, got %+v %v", receipt, err)
	}
}
