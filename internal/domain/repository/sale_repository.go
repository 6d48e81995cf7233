package repository

import (
	"context"
	"time"

	"github.com/emitejafacil/nfse-api/internal/domain/entity"
)

// SaleRepository porta de persistência das vendas.
//
// MarkSuccess e MarkError são atualizações condicionais: só têm efeito se a
// venda ainda estiver em PROCESSING, e devolvem false quando outra entrega já
// a processou. É esse compare-and-swap que fecha a janela de duplicidade sob
// entrega at-least-once.
type SaleRepository interface {
	Create(ctx context.Context, sale *entity.Sale) error
	GetByID(ctx context.Context, id string) (*entity.Sale, error)
	GetByIDAndUser(ctx context.Context, id, userID string) (*entity.Sale, error)
	GetByIdempotencyKey(ctx context.Context, userID, key string) (*entity.Sale, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]entity.Sale, int, error)

	// RecordTransientError registra a mensagem de uma falha transitória sem
	// sair de PROCESSING (a fila fará retry).
	RecordTransientError(ctx context.Context, id, message string) error

	// MarkSuccess transiciona PROCESSING -> SUCCESS com protocolo e documento.
	MarkSuccess(ctx context.Context, id, protocol, xmlContent string, processedAt time.Time) (bool, error)

	// MarkError transiciona PROCESSING -> ERROR. xmlContent pode ser vazio
	// (falha antes da construção do documento).
	MarkError(ctx context.Context, id, xmlContent, message string, processedAt time.Time) (bool, error)

	SetWebhookSent(ctx context.Context, id string, sentAt time.Time) error
}
