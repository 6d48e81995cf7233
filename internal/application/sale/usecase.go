// Package sale casos de uso de vendas: aceite do pedido de emissão e consulta.
package sale

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/emitejafacil/nfse-api/internal/application/dto"
	"github.com/emitejafacil/nfse-api/internal/application/emission"
	"github.com/emitejafacil/nfse-api/internal/domain"
	"github.com/emitejafacil/nfse-api/internal/domain/entity"
	"github.com/emitejafacil/nfse-api/internal/domain/repository"
	"github.com/emitejafacil/nfse-api/pkg/logger"
)

// UseCase orquestra o aceite assíncrono: valida o pré-requisito do
// certificado, persiste a venda em PROCESSING e agenda o job de emissão.
type UseCase struct {
	sales    repository.SaleRepository
	certs    repository.CertificateRepository
	enqueuer emission.Enqueuer
	log      *logger.Logger
}

// NewUseCase constrói o caso de uso de vendas.
func NewUseCase(sales repository.SaleRepository, certs repository.CertificateRepository, enqueuer emission.Enqueuer, log *logger.Logger) *UseCase {
	return &UseCase{sales: sales, certs: certs, enqueuer: enqueuer, log: log}
}

// Create aceita o pedido de emissão. A resposta é imediata (a emissão corre
// na fila); se o idempotencyKey já foi usado, devolve a venda original sem
// criar nada nem reenfileirar.
func (uc *UseCase) Create(ctx context.Context, userID string, in dto.CreateSaleRequest) (*dto.SaleResponse, bool, error) {
	if in.IdempotencyKey != "" {
		existing, err := uc.sales.GetByIdempotencyKey(ctx, userID, in.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return toSaleResponse(existing), false, nil
		}
	}

	// Sem certificado ativo a emissão falharia de qualquer jeito; melhor
	// recusar na porta do que enfileirar um job condenado.
	cert, err := uc.certs.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if cert == nil {
		return nil, false, domain.ErrNoActiveCertificate
	}

	now := time.Now().UTC()
	sale := &entity.Sale{
		ID:             uuid.New().String(),
		UserID:         userID,
		Amount:         in.Amount,
		Description:    in.Description,
		ServiceCode:    in.ServiceCode,
		BuyerName:      in.BuyerName,
		BuyerDocument:  in.BuyerDocument,
		BuyerEmail:     in.BuyerEmail,
		IdempotencyKey: in.IdempotencyKey,
		Status:         entity.SaleStatusProcessing,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := uc.sales.Create(ctx, sale); err != nil {
		if errors.Is(err, domain.ErrDuplicate) && in.IdempotencyKey != "" {
			// Corrida entre duas requisições com a mesma chave: a outra
			// venceu o unique do banco, devolve a dela.
			existing, gerr := uc.sales.GetByIdempotencyKey(ctx, userID, in.IdempotencyKey)
			if gerr == nil && existing != nil {
				return toSaleResponse(existing), false, nil
			}
		}
		return nil, false, err
	}

	if _, err := uc.enqueuer.Enqueue(ctx, sale.ID); err != nil {
		// A venda existe mas nunca será processada; fecha em erro para o
		// cliente não ficar olhando um PROCESSING eterno.
		if _, merr := uc.sales.MarkError(ctx, sale.ID, "", "falha ao agendar emissão", time.Now().UTC()); merr != nil {
			uc.log.Error().Err(merr).Str("sale_id", sale.ID).Msg("falha ao fechar venda sem job")
		}
		return nil, false, err
	}

	uc.log.Info().Str("sale_id", sale.ID).Str("user_id", userID).Msg("emissão aceita e enfileirada")
	return toSaleResponse(sale), true, nil
}

// Get devolve a venda do usuário ou ErrNotFound.
func (uc *UseCase) Get(ctx context.Context, userID, saleID string) (*dto.SaleResponse, error) {
	sale, err := uc.getOwned(ctx, userID, saleID)
	if err != nil {
		return nil, err
	}
	return toSaleResponse(sale), nil
}

// List devolve uma página das vendas do usuário, mais recentes primeiro.
func (uc *UseCase) List(ctx context.Context, userID string, page dto.PageRequest) (*dto.SaleListResponse, error) {
	page.DefaultPage()
	sales, total, err := uc.sales.ListByUser(ctx, userID, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	items := make([]dto.SaleResponse, 0, len(sales))
	for i := range sales {
		items = append(items, *toSaleResponse(&sales[i]))
	}
	return &dto.SaleListResponse{
		Items: items,
		Page:  dto.PageResponse{Limit: page.Limit, Offset: page.Offset, Total: total},
	}, nil
}

// GetEntity devolve a entidade completa (com XML) para consumidores internos,
// como a geração do DANFSE.
func (uc *UseCase) GetEntity(ctx context.Context, userID, saleID string) (*entity.Sale, error) {
	return uc.getOwned(ctx, userID, saleID)
}

func (uc *UseCase) getOwned(ctx context.Context, userID, saleID string) (*entity.Sale, error) {
	sale, err := uc.sales.GetByIDAndUser(ctx, saleID, userID)
	if err != nil {
		return nil, err
	}
	if sale == nil {
		return nil, domain.ErrNotFound
	}
	return sale, nil
}

func toSaleResponse(s *entity.Sale) *dto.SaleResponse {
	return &dto.SaleResponse{
		ID:            s.ID,
		Amount:        s.Amount,
		Description:   s.Description,
		ServiceCode:   s.ServiceCode,
		BuyerName:     s.BuyerName,
		BuyerDocument: s.BuyerDocument,
		BuyerEmail:    s.BuyerEmail,
		Status:        string(s.Status),
		Protocol:      s.Protocol,
		ErrorMessage:  s.ErrorMessage,
		WebhookSentAt: s.WebhookSentAt,
		ProcessedAt:   s.ProcessedAt,
		CreatedAt:     s.CreatedAt,
	}
}
