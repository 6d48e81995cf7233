package repository

import (
	"context"

	"github.com/emitejafacil/nfse-api/internal/domain/entity"
)

// CertificateRepository porta de persistência dos certificados.
type CertificateRepository interface {
	// CreateActive insere o certificado como ativo e, na mesma transação,
	// desativa os anteriores do usuário: no máximo um ativo por usuário.
	CreateActive(ctx context.Context, cert *entity.Certificate) error

	FindActiveByUser(ctx context.Context, userID string) (*entity.Certificate, error)
	ListByUser(ctx context.Context, userID string) ([]entity.Certificate, error)
	GetByIDAndUser(ctx context.Context, id, userID string) (*entity.Certificate, error)
	Deactivate(ctx context.Context, id string) error
}
