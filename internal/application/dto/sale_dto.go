package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreateSaleRequest pedido de emissão de uma NFS-e.
type CreateSaleRequest struct {
	Amount         decimal.Decimal `json:"amount" validate:"required"`
	Description    string          `json:"description" validate:"required"`
	ServiceCode    string          `json:"serviceCode" validate:"required"`
	BuyerName      string          `json:"buyerName" validate:"required"`
	BuyerDocument  string          `json:"buyerDocument" validate:"required"`
	BuyerEmail     string          `json:"buyerEmail"`
	IdempotencyKey string          `json:"idempotencyKey"`
}

// SaleResponse visão da venda com o estado corrente da emissão.
type SaleResponse struct {
	ID            string          `json:"id"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
	ServiceCode   string          `json:"serviceCode"`
	BuyerName     string          `json:"buyerName"`
	BuyerDocument string          `json:"buyerDocument"`
	BuyerEmail    string          `json:"buyerEmail,omitempty"`
	Status        string          `json:"status"`
	Protocol      string          `json:"protocol,omitempty"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`
	WebhookSentAt *time.Time      `json:"webhookSentAt,omitempty"`
	ProcessedAt   *time.Time      `json:"processedAt,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// SaleListResponse página de vendas do usuário.
type SaleListResponse struct {
	Items []SaleResponse `json:"items"`
	Page  PageResponse   `json:"page"`
}
