package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Estados do ciclo de vida de uma venda (emissão de NFS-e).
// PROCESSING é o estado inicial; SUCCESS e ERROR são terminais: uma venda em
// estado terminal nunca volta a ser processada.
const (
	SaleStatusProcessing = "PROCESSING"
	SaleStatusSuccess    = "SUCCESS"
	SaleStatusError      = "ERROR"
)

// Sale representa um pedido de emissão de NFS-e e seu estado de processamento.
// Os campos do pedido (valor, descrição, tomador) são imutáveis após a criação;
// apenas o pipeline de emissão muta os campos de ciclo de vida.
type Sale struct {
	ID             string
	UserID         string
	Amount         decimal.Decimal
	Description    string
	ServiceCode    string
	BuyerName      string
	BuyerDocument  string
	BuyerEmail     string // opcional
	IdempotencyKey string // opcional; único quando presente

	Status        string
	Protocol      string     // referência da prefeitura; presente somente em SUCCESS
	XMLContent    string     // documento construído; retido mesmo em rejeição
	ErrorMessage  string     // última falha observada (inclui transitórias entre retries)
	WebhookSentAt *time.Time // presente somente se a notificação teve sucesso
	ProcessedAt   *time.Time // marcado na transição terminal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal indica se a venda já chegou a um estado final.
func (s *Sale) Terminal() bool {
	return s.Status == SaleStatusSuccess || s.Status == SaleStatusError
}
