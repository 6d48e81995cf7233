package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emitejafacil/nfse-api/internal/domain/entity"
	"github.com/emitejafacil/nfse-api/internal/domain/repository"
)

var _ repository.CertificateRepository = (*CertificateRepo)(nil)

// CertificateRepo implementação de CertificateRepository.
// Guarda o pool (não um Querier) porque CreateActive abre a própria transação.
type CertificateRepo struct {
	pool *pgxpool.Pool
}

// NewCertificateRepository constrói o adaptador.
func NewCertificateRepository(pool *pgxpool.Pool) *CertificateRepo {
	return &CertificateRepo{pool: pool}
}

// CreateActive desativa os certificados anteriores do usuário e insere o novo
// como ativo, na mesma transação. Garante no máximo um ativo por usuário.
func (r *CertificateRepo) CreateActive(ctx context.Context, cert *entity.Certificate) error {
	if cert.ID == "" {
		cert.ID = uuid.New().String()
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`UPDATE certificates SET active = false WHERE user_id = $1 AND active`,
		cert.UserID,
	); err != nil {
		return fmt.Errorf("deactivate previous certificates: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO certificates (id, user_id, filename, pfx_data, encrypted_password, active, created_at)
		VALUES ($1, $2, $3, $4, $5, true, $6)`,
		cert.ID, cert.UserID, cert.Filename, cert.PfxData, cert.EncryptedPassword, cert.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert certificate: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	cert.Active = true
	return nil
}

// FindActiveByUser devolve o certificado ativo do usuário, ou nil.
func (r *CertificateRepo) FindActiveByUser(ctx context.Context, userID string) (*entity.Certificate, error) {
	query := `
		SELECT id, user_id, filename, pfx_data, encrypted_password, active, created_at
		FROM certificates
		WHERE user_id = $1 AND active
		ORDER BY created_at DESC
		LIMIT 1`
	var c entity.Certificate
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&c.ID, &c.UserID, &c.Filename, &c.PfxData, &c.EncryptedPassword, &c.Active, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active certificate: %w", err)
	}
	return &c, nil
}

// ListByUser devolve os certificados do usuário (sem o material cifrado).
func (r *CertificateRepo) ListByUser(ctx context.Context, userID string) ([]entity.Certificate, error) {
	query := `
		SELECT id, user_id, filename, active, created_at
		FROM certificates
		WHERE user_id = $1
		ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	defer rows.Close()

	var certs []entity.Certificate
	for rows.Next() {
		var c entity.Certificate
		if err := rows.Scan(&c.ID, &c.UserID, &c.Filename, &c.Active, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan certificate: %w", err)
		}
		certs = append(certs, c)
	}
	return certs, rows.Err()
}

// GetByIDAndUser obtém um certificado restrito ao dono (sem material cifrado).
func (r *CertificateRepo) GetByIDAndUser(ctx context.Context, id, userID string) (*entity.Certificate, error) {
	query := `
		SELECT id, user_id, filename, active, created_at
		FROM certificates
		WHERE id = $1 AND user_id = $2`
	var c entity.Certificate
	err := r.pool.QueryRow(ctx, query, id, userID).Scan(
		&c.ID, &c.UserID, &c.Filename, &c.Active, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get certificate: %w", err)
	}
	return &c, nil
}

// Deactivate marca o certificado como inativo. Nunca apaga nem reativa.
func (r *CertificateRepo) Deactivate(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx,
		`UPDATE certificates SET active = false WHERE id = $1`, id,
	); err != nil {
		return fmt.Errorf("deactivate certificate: %w", err)
	}
	return nil
}
