// Package prefeitura cliente HTTP do serviço de emissão da prefeitura.
package prefeitura

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const submitTimeout = 30 * time.Second

// SubmitResult resposta da prefeitura a uma submissão de lote.
type SubmitResult struct {
	Success  bool   `json:"success"`
	Protocol string `json:"protocol"`
	Message  string `json:"message"`
}

// Submitter abstrai a submissão do documento à autoridade fiscal.
type Submitter interface {
	Submit(ctx context.Context, xml string) (SubmitResult, error)
}

// TransportError falha de transporte ao falar com a prefeitura: rede,
// timeout ou resposta fora da faixa 2xx. Esta classe de erro é retentável;
// uma rejeição de negócio (2xx com success=false) não é.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("prefeitura indisponível: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client implementação resty do Submitter.
type Client struct {
	http *resty.Client
}

// NewClient constrói o cliente apontando para a base da prefeitura.
func NewClient(baseURL string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(submitTimeout).
			SetHeader("Content-Type", "application/json"),
	}
}

// Submit envia o XML para POST /nfse e interpreta a resposta.
// Erros de rede e respostas não-2xx viram *TransportError.
func (c *Client) Submit(ctx context.Context, xml string) (SubmitResult, error) {
	var result SubmitResult

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"xml": xml}).
		SetResult(&result).
		Post("/nfse")
	if err != nil {
		return SubmitResult{}, &TransportError{Err: err}
	}
	if resp.IsError() {
		return SubmitResult{}, &TransportError{
			Err: fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()),
		}
	}
	return result, nil
}
