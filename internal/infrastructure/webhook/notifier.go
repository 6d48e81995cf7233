// Package webhook notifica sistemas externos sobre notas emitidas.
// A entrega é melhor-esforço: uma falha aqui nunca reverte a emissão.
package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const notifyTimeout = 10 * time.Second

// IssuedEvent payload publicado quando uma NFS-e é autorizada.
type IssuedEvent struct {
	Event    string          `json:"event"`
	SaleID   string          `json:"saleId"`
	Protocol string          `json:"protocol"`
	Amount   decimal.Decimal `json:"amount"`
	IssuedAt time.Time       `json:"issuedAt"`
}

// Notifier publica eventos de emissão. Enabled distingue "sem destino
// configurado" de "entrega falhou": quem notifica só deve registrar o envio
// quando houver de fato uma entrega.
type Notifier interface {
	Enabled() bool
	NotifyIssued(ctx context.Context, event IssuedEvent) error
}

// HTTPNotifier entrega o evento via POST na URL configurada.
type HTTPNotifier struct {
	http *resty.Client
	url  string
}

// NewHTTPNotifier constrói o notificador. URL vazia desliga a entrega.
func NewHTTPNotifier(url string) *HTTPNotifier {
	return &HTTPNotifier{
		http: resty.New().
			SetTimeout(notifyTimeout).
			SetHeader("Content-Type", "application/json"),
		url: url,
	}
}

// Enabled informa se há uma URL de destino configurada.
func (n *HTTPNotifier) Enabled() bool {
	return n.url != ""
}

// NotifyIssued envia o evento nfse.issued. Qualquer resposta 2xx conta como
// entregue; o resto é erro para o chamador decidir (e normalmente engolir).
func (n *HTTPNotifier) NotifyIssued(ctx context.Context, event IssuedEvent) error {
	if !n.Enabled() {
		return fmt.Errorf("webhook sem URL configurada")
	}
	event.Event = "nfse.issued"

	resp, err := n.http.R().
		SetContext(ctx).
		SetBody(event).
		Post(n.url)
	if err != nil {
		return fmt.Errorf("entregar webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook respondeu status %d", resp.StatusCode())
	}
	return nil
}
