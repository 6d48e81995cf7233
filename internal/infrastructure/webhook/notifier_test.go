package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent() IssuedEvent {
	return IssuedEvent{
		SaleID:   "venda-123",
		Protocol: "PROT-abc",
		Amount:   decimal.RequireFromString("150.50"),
		IssuedAt: time.Date(2025, 3, 15, 12, 30, 0, 0, time.UTC),
	}
}

func TestNotifyIssued_PayloadCompleto(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(srv.URL)
	err := n.NotifyIssued(context.Background(), sampleEvent())

	require.NoError(t, err)
	assert.Equal(t, "nfse.issued", got["event"])
	assert.Equal(t, "venda-123", got["saleId"])
	assert.Equal(t, "PROT-abc", got["protocol"])
	assert.Equal(t, "150.5", got["amount"])
	assert.Equal(t, "2025-03-15T12:30:00Z", got["issuedAt"])
}

func TestNotifyIssued_RespostaDeErro(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "fila cheia", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(srv.URL)
	err := n.NotifyIssued(context.Background(), sampleEvent())

	assert.ErrorContains(t, err, "503")
}

func TestNotifyIssued_FalhaDeRede(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	n := NewHTTPNotifier(srv.URL)
	err := n.NotifyIssued(context.Background(), sampleEvent())

	assert.Error(t, err)
}

func TestEnabled_DependeDaURLConfigurada(t *testing.T) {
	assert.False(t, NewHTTPNotifier("").Enabled())
	assert.True(t, NewHTTPNotifier("http://destino.local/hook").Enabled())
}

func TestNotifyIssued_SemURLConfiguradaEhErro(t *testing.T) {
	n := NewHTTPNotifier("")

	err := n.NotifyIssued(context.Background(), sampleEvent())
	assert.Error(t, err, "sem destino a entrega nunca conta como feita")
}
