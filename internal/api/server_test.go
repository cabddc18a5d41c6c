package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"custody-chain/internal/auth"
	"custody-chain/internal/config"
	xerrors "custody-chain/internal/errors"
	"custody-chain/internal/ledger"
	"custody-chain/internal/ledger/memory"
	"custody-chain/internal/observability/metrics"
	"custody-chain/internal/secret"
	"custody-chain/internal/wallet"
	"custody-chain/pkg/logger"

	"github.com/stretchr/testify/require"
)

const testToken = ledger.AssetID("0.0.5005")

func newTestService(t *testing.T, opts ...memory.Option) *wallet.Service {
	t.Helper()
	l := memory.New(1_000_000_000_000, opts...)
	l.CreateToken(testToken, 1_000_000)

	key := make([]byte, secret.MasterKeySize)
	for i := range key {
		key[i] = byte(i + 7)
	}
	cipher, err := secret.NewCipher(key)
	require.NoError(t, err)

	settings := wallet.Settings{Network: "testnet", InitialBalance: 100_000_000, ReceiptTimeout: time.Second}
	quiet := logger.Discard()
	catalog := wallet.NewCatalog([]config.Asset{{Symbol: "Z", TokenID: string(testToken), Decimals: 2, Name: "Zed"}})
	assoc := wallet.NewAssociator(l, wallet.WithAssociatorLogger(quiet))
	store := wallet.NewStore(wallet.NewMemoryRepository(), l, cipher, assoc, settings, wallet.WithStoreLogger(quiet))
	orch := wallet.NewOrchestrator(l, assoc, settings, wallet.WithOrchestratorLogger(quiet))
	return wallet.NewService(store, wallet.NewResolver(store), orch, catalog, nil)
}

func do(t *testing.T, h http.Handler, method, path string, body any, header http.Header) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestOpenAndGetWallet(t *testing.T) {
	h := NewServer(":0", newTestService(t)).Handler()

	rec, body := do(t, h, http.MethodPost, "/api/v1/wallets", map[string]string{"user_key": "u-alice", "alias": "Alice"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "alice", body["alias"])
	accountID := body["account_id"].(string)
	require.NotEmpty(t, accountID)
	require.NotContains(t, rec.Body.String(), "encrypted")

	rec, body = do(t, h, http.MethodGet, "/api/v1/wallets/u-alice", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, accountID, body["account_id"])

	rec, body = do(t, h, http.MethodGet, "/api/v1/wallets/u-nobody", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, string(wallet.CodeWalletNotFound), body["code"])
}

func TestBalanceAndAssets(t *testing.T) {
	h := NewServer(":0", newTestService(t)).Handler()
	rec, _ := do(t, h, http.MethodPost, "/api/v1/wallets", map[string]string{"user_key": "u-alice"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := do(t, h, http.MethodGet, "/api/v1/wallets/u-alice/balances/hbar", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(100_000_000), body["base_units"])
	require.Equal(t, "1", body["amount"])

	rec, body = do(t, h, http.MethodGet, "/api/v1/wallets/u-alice/balances/DOGE", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, string(wallet.CodeUnknownAsset), body["code"])

	rec, _ = do(t, h, http.MethodGet, "/api/v1/assets", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"symbol":"Z"`)
	require.Contains(t, rec.Body.String(), `"symbol":"HBAR"`)
}

func TestResolveRecipient(t *testing.T) {
	h := NewServer(":0", newTestService(t)).Handler()
	rec, _ := do(t, h, http.MethodPost, "/api/v1/wallets", map[string]string{"user_key": "u-bob", "alias": "bob"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := do(t, h, http.MethodGet, "/api/v1/recipients/@bob", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["custodied"])

	rec, body = do(t, h, http.MethodGet, "/api/v1/recipients/@carol", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, string(wallet.CodeAliasNotFound), body["code"])

	rec, body = do(t, h, http.MethodGet, "/api/v1/recipients/not-an-account", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, string(wallet.CodeInvalidRecipient), body["code"])
}

func TestTransferConfirmed(t *testing.T) {
	h := NewServer(":0", newTestService(t)).Handler()
	rec, _ := do(t, h, http.MethodPost, "/api/v1/wallets", map[string]string{"user_key": "u-bob", "alias": "bob"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := do(t, h, http.MethodPost, "/api/v1/transfers", wallet.SendRequest{
		UserKey: "u-alice", Recipient: "@bob", Asset: "HBAR", Amount: "0.5", Memo: "lunch",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "confirmed", body["outcome"])
	require.Equal(t, float64(50_000_000), body["amount"])
	require.Contains(t, body["explorer_url"], "https://hashscan.io/testnet/transaction/")
}

func TestTransferInsufficientBalance(t *testing.T) {
	h := NewServer(":0", newTestService(t)).Handler()
	rec, _ := do(t, h, http.MethodPost, "/api/v1/wallets", map[string]string{"user_key": "u-bob", "alias": "bob"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := do(t, h, http.MethodPost, "/api/v1/transfers", wallet.SendRequest{
		UserKey: "u-alice", Recipient: "@bob", Asset: "HBAR", Amount: "5",
	}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, string(wallet.CodeInsufficientBalance), body["code"])
	meta := body["metadata"].(map[string]any)
	require.Equal(t, "500000000", meta[wallet.MetaRequired])
	require.Equal(t, "100000000", meta[wallet.MetaAvailable])
	require.Nil(t, body["transfer"])
}

func TestTransferBadInput(t *testing.T) {
	h := NewServer(":0", newTestService(t)).Handler()

	rec, body := do(t, h, http.MethodPost, "/api/v1/transfers", wallet.SendRequest{
		UserKey: "u-alice", Recipient: "0.0.999", Asset: "HBAR", Amount: "-1",
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, string(xerrors.CodeInvalidArgument), body["code"])

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transfers", strings.NewReader("{"))
	raw := httptest.NewRecorder()
	h.ServeHTTP(raw, req)
	require.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestTransferRejectedAndUnknown(t *testing.T) {
	outcome := ledger.OutcomeConfirmed
	hook := memory.WithTransferHook(func(ledger.TransferInstruction) (*ledger.Receipt, error) {
		switch outcome {
		case ledger.OutcomeRejected:
			return &ledger.Receipt{TransactionID: "0.0.2@1700000000.1", Status: "INVALID_SIGNATURE", Outcome: ledger.OutcomeRejected}, nil
		case ledger.OutcomeUnknown:
			return &ledger.Receipt{TransactionID: "0.0.2@1700000000.2", Outcome: ledger.OutcomeUnknown, Reason: "receipt timeout"}, nil
		}
		return nil, nil
	})
	h := NewServer(":0", newTestService(t, hook)).Handler()
	rec, _ := do(t, h, http.MethodPost, "/api/v1/wallets", map[string]string{"user_key": "u-bob", "alias": "bob"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	send := wallet.SendRequest{UserKey: "u-alice", Recipient: "@bob", Asset: "HBAR", Amount: "0.1"}

	outcome = ledger.OutcomeRejected
	rec, body := do(t, h, http.MethodPost, "/api/v1/transfers", send, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, string(wallet.CodeTransferRejected), body["code"])
	transfer := body["transfer"].(map[string]any)
	require.Equal(t, "0.0.2@1700000000.1", transfer["transaction_id"])
	require.Equal(t, "rejected", transfer["outcome"])

	outcome = ledger.OutcomeUnknown
	rec, body = do(t, h, http.MethodPost, "/api/v1/transfers", send, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, string(wallet.CodeOutcomeUnknown), body["code"])
	transfer = body["transfer"].(map[string]any)
	require.Equal(t, "unknown", transfer["outcome"])
	require.Contains(t, transfer["explorer_url"], "0.0.2@1700000000.2")
}

func TestAuthRequired(t *testing.T) {
	authSvc, err := auth.NewService(auth.Config{Mode: auth.ModeJWT, Secret: "s3cret"})
	require.NoError(t, err)
	h := NewServer(":0", newTestService(t), WithAuth(authSvc)).Handler()

	rec, body := do(t, h, http.MethodPost, "/api/v1/wallets", map[string]string{"user_key": "u-alice"}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "UNAUTHENTICATED", body["code"])

	reader, err := authSvc.Issue("bot", []string{auth.PermWalletsRead}, time.Minute)
	require.NoError(t, err)
	rec, _ = do(t, h, http.MethodPost, "/api/v1/wallets", map[string]string{"user_key": "u-alice"}, http.Header{"Authorization": {"Bearer " + reader}})
	require.Equal(t, http.StatusForbidden, rec.Code)

	writer, err := authSvc.Issue("bot", []string{auth.PermWalletsWrite}, time.Minute)
	require.NoError(t, err)
	rec, _ = do(t, h, http.MethodPost, "/api/v1/wallets", map[string]string{"user_key": "u-alice"}, http.Header{"Authorization": {"Bearer " + writer}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthz(t *testing.T) {
	h := NewServer(":0", newTestService(t),
		WithHealthCheck("ledger", func(context.Context) error { return nil }),
		WithHealthCheck("storage", func(context.Context) error { return errors.New("connection refused") }),
	).Handler()

	rec, body := do(t, h, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "degraded", body["status"])
	checks := body["checks"].(map[string]any)
	require.Equal(t, "ok", checks["ledger"])
	require.Equal(t, "connection refused", checks["storage"])
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	h := NewServer(":0", newTestService(t), WithMetrics(m)).Handler()

	rec, _ := do(t, h, http.MethodGet, "/api/v1/wallets/u-nobody", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `custody_http_requests_total{code="404",handler="wallets.get",method="GET"} 1`)
}

func TestUnknownRoute(t *testing.T) {
	h := NewServer(":0", newTestService(t)).Handler()
	rec, body := do(t, h, http.MethodGet, "/api/v2/anything", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NOT_FOUND", body["code"])

	rec, _ = do(t, h, http.MethodDelete, "/api/v1/transfers", nil, nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStartStopsOnCancel(t *testing.T) {
	srv := NewServer("127.0.0.1:0", newTestService(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not stop")
	}
}
