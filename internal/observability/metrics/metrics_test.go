package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"custody-chain/internal/wallet"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserverCounters(t *testing.T) {
	m := New()

	m.WalletProvisioned(true)
	m.WalletProvisioned(true)
	m.WalletProvisioned(false)
	m.Association(wallet.AssociatedOK)
	m.Association(wallet.AlreadyAssociated)
	m.TransferFinished("HBAR", "confirmed", 2*time.Second)
	m.TransferFinished("HBAR", "unknown", 30*time.Second)

	require.Equal(t, 2.0, testutil.ToFloat64(m.walletsProvisioned.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.walletsProvisioned.WithLabelValues("failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.associations.WithLabelValues(wallet.AssociatedOK.String())))
	require.Equal(t, 1.0, testutil.ToFloat64(m.associations.WithLabelValues(wallet.AlreadyAssociated.String())))
	require.Equal(t, 1.0, testutil.ToFloat64(m.transfers.WithLabelValues("HBAR", "confirmed")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.transfers.WithLabelValues("HBAR", "unknown")))
}

func TestObserveHTTPRequestDefaultsHandler(t *testing.T) {
	m := New()
	m.ObserveHTTPRequest("", http.MethodGet, http.StatusOK, time.Millisecond)
	m.ObserveHTTPRequest("transfers", http.MethodPost, http.StatusAccepted, time.Millisecond)

	require.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("unknown", http.MethodGet, "200")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("transfers", http.MethodPost, "202")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.TransferFinished("Z", "rejected", time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	require.True(t, strings.Contains(text, `custody_transfer_total{asset="Z",outcome="rejected"} 1`), text)
	require.True(t, strings.Contains(text, "custody_transfer_duration_seconds_bucket"))
	require.True(t, strings.Contains(text, "go_goroutines"))
}

func TestStartServerValidation(t *testing.T) {
	m := New()
	require.Error(t, StartServer(context.Background(), "", m.Handler()))
	require.Error(t, StartServer(context.Background(), "127.0.0.1:0", nil))
}

func TestStartServerStopsOnCancel(t *testing.T) {
	m := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- StartServer(ctx, "127.0.0.1:0", m.Handler()) }()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}
