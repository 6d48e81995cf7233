package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/emitejafacil/nfse-api/internal/domain"
	"github.com/emitejafacil/nfse-api/internal/domain/entity"
	"github.com/emitejafacil/nfse-api/internal/domain/repository"
)

var _ repository.SaleRepository = (*SaleRepo)(nil)

const saleColumns = `id, user_id, amount, description, service_code, buyer_name,
	buyer_document, buyer_email, idempotency_key, status, protocol, xml_content,
	error_message, webhook_sent_at, processed_at, created_at, updated_at`

// SaleRepo implementação de SaleRepository (usável com pool ou tx).
type SaleRepo struct {
	q Querier
}

// NewSaleRepository constrói o adaptador. Passar pool ou tx (Querier).
func NewSaleRepository(q Querier) *SaleRepo {
	return &SaleRepo{q: q}
}

// Create persiste a venda em estado PROCESSING.
func (r *SaleRepo) Create(ctx context.Context, sale *entity.Sale) error {
	if sale.ID == "" {
		sale.ID = uuid.New().String()
	}
	query := `
		INSERT INTO sales (id, user_id, amount, description, service_code, buyer_name,
			buyer_document, buyer_email, idempotency_key, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.q.Exec(ctx, query,
		sale.ID, sale.UserID, sale.Amount, sale.Description, sale.ServiceCode,
		sale.BuyerName, sale.BuyerDocument, nullIfEmpty(sale.BuyerEmail),
		nullIfEmpty(sale.IdempotencyKey), sale.Status, sale.CreatedAt, sale.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert sale: %w", domain.ErrDuplicate)
		}
		return fmt.Errorf("insert sale: %w", err)
	}
	return nil
}

// GetByID obtém a venda por ID. Devolve nil quando não existe.
func (r *SaleRepo) GetByID(ctx context.Context, id string) (*entity.Sale, error) {
	return r.getWhere(ctx, "WHERE id = $1", id)
}

// GetByIDAndUser obtém a venda restrita ao dono.
func (r *SaleRepo) GetByIDAndUser(ctx context.Context, id, userID string) (*entity.Sale, error) {
	return r.getWhere(ctx, "WHERE id = $1 AND user_id = $2", id, userID)
}

// GetByIdempotencyKey devolve a venda existente para a chave, se houver.
func (r *SaleRepo) GetByIdempotencyKey(ctx context.Context, userID, key string) (*entity.Sale, error) {
	return r.getWhere(ctx, "WHERE user_id = $1 AND idempotency_key = $2", userID, key)
}

func (r *SaleRepo) getWhere(ctx context.Context, where string, args ...any) (*entity.Sale, error) {
	query := "SELECT " + saleColumns + " FROM sales " + where
	row := r.q.QueryRow(ctx, query, args...)
	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get sale: %w", err)
	}
	return sale, nil
}

// ListByUser devolve a página de vendas do usuário (mais recentes primeiro) e o total.
func (r *SaleRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]entity.Sale, int, error) {
	query := "SELECT " + saleColumns + ` FROM sales
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.q.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list sales: %w", err)
	}
	defer rows.Close()

	var sales []entity.Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan sale: %w", err)
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list sales: %w", err)
	}

	var total int
	if err := r.q.QueryRow(ctx, "SELECT COUNT(*) FROM sales WHERE user_id = $1", userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sales: %w", err)
	}
	return sales, total, nil
}

// RecordTransientError grava a mensagem da falha transitória mantendo PROCESSING.
func (r *SaleRepo) RecordTransientError(ctx context.Context, id, message string) error {
	query := `
		UPDATE sales
		SET error_message = $2, updated_at = now()
		WHERE id = $1 AND status = 'PROCESSING'`
	if _, err := r.q.Exec(ctx, query, id, message); err != nil {
		return fmt.Errorf("record transient error: %w", err)
	}
	return nil
}

// MarkSuccess transição condicional PROCESSING -> SUCCESS.
// Devolve false se a venda já não estava em PROCESSING (entrega duplicada).
// error_message não é tocada: um erro transiente anotado no meio dos retries
// fica registrado mesmo quando a emissão acaba dando certo.
func (r *SaleRepo) MarkSuccess(ctx context.Context, id, protocol, xmlContent string, processedAt time.Time) (bool, error) {
	query := `
		UPDATE sales
		SET status = 'SUCCESS', protocol = $2, xml_content = $3,
		    processed_at = $4, updated_at = now()
		WHERE id = $1 AND status = 'PROCESSING'`
	tag, err := r.q.Exec(ctx, query, id, protocol, xmlContent, processedAt)
	if err != nil {
		return false, fmt.Errorf("mark success: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkError transição condicional PROCESSING -> ERROR. O documento é retido
// quando presente (rejeição da prefeitura acontece depois da construção).
func (r *SaleRepo) MarkError(ctx context.Context, id, xmlContent, message string, processedAt time.Time) (bool, error) {
	query := `
		UPDATE sales
		SET status = 'ERROR', xml_content = COALESCE($2, xml_content),
		    error_message = $3, processed_at = $4, updated_at = now()
		WHERE id = $1 AND status = 'PROCESSING'`
	tag, err := r.q.Exec(ctx, query, id, nullIfEmpty(xmlContent), message, processedAt)
	if err != nil {
		return false, fmt.Errorf("mark error: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetWebhookSent marca o instante da notificação entregue.
func (r *SaleRepo) SetWebhookSent(ctx context.Context, id string, sentAt time.Time) error {
	query := `UPDATE sales SET webhook_sent_at = $2, updated_at = now() WHERE id = $1`
	if _, err := r.q.Exec(ctx, query, id, sentAt); err != nil {
		return fmt.Errorf("set webhook sent: %w", err)
	}
	return nil
}

func scanSale(row pgx.Row) (*entity.Sale, error) {
	var s entity.Sale
	var buyerEmail, idempotencyKey, protocol, xmlContent, errorMessage *string
	err := row.Scan(
		&s.ID, &s.UserID, &s.Amount, &s.Description, &s.ServiceCode, &s.BuyerName,
		&s.BuyerDocument, &buyerEmail, &idempotencyKey, &s.Status, &protocol,
		&xmlContent, &errorMessage, &s.WebhookSentAt, &s.ProcessedAt,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.BuyerEmail = derefStr(buyerEmail)
	s.IdempotencyKey = derefStr(idempotencyKey)
	s.Protocol = derefStr(protocol)
	s.XMLContent = derefStr(xmlContent)
	s.ErrorMessage = derefStr(errorMessage)
	return &s, nil
}
