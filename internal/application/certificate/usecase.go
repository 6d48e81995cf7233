// Package certificate gestão dos certificados digitais A1 (.pfx) do emissor.
package certificate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/pkcs12"

	"github.com/emitejafacil/nfse-api/internal/application/dto"
	"github.com/emitejafacil/nfse-api/internal/domain"
	"github.com/emitejafacil/nfse-api/internal/domain/entity"
	"github.com/emitejafacil/nfse-api/internal/domain/repository"
	"github.com/emitejafacil/nfse-api/pkg/logger"
)

// Encrypter fecha o material sensível antes de persistir.
type Encrypter interface {
	EncryptBytes(plain []byte) ([]byte, error)
	EncryptString(plain string) (string, error)
}

// UseCase casos de uso de certificado: upload, listagem e desativação.
type UseCase struct {
	certs repository.CertificateRepository
	box   Encrypter
	log   *logger.Logger
}

// NewUseCase constrói o caso de uso de certificados.
func NewUseCase(certs repository.CertificateRepository, box Encrypter, log *logger.Logger) *UseCase {
	return &UseCase{certs: certs, box: box, log: log}
}

// Upload valida o .pfx contra a senha informada, cifra ambos e persiste o
// certificado como o ativo do usuário (o anterior é desativado).
func (uc *UseCase) Upload(ctx context.Context, userID, filename string, pfx []byte, password string) (*dto.CertificateResponse, error) {
	if len(pfx) == 0 {
		return nil, fmt.Errorf("%w: arquivo vazio", domain.ErrInvalidInput)
	}
	// ToPEM abre o contêiner inteiro: senha errada ou arquivo corrompido
	// falham aqui, antes de qualquer persistência.
	if _, err := pkcs12.ToPEM(pfx, password); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCertificate, err)
	}

	encPfx, err := uc.box.EncryptBytes(pfx)
	if err != nil {
		return nil, fmt.Errorf("cifrar pfx: %w", err)
	}
	encPass, err := uc.box.EncryptString(password)
	if err != nil {
		return nil, fmt.Errorf("cifrar senha: %w", err)
	}

	cert := &entity.Certificate{
		ID:                uuid.New().String(),
		UserID:            userID,
		Filename:          filename,
		PfxData:           encPfx,
		EncryptedPassword: encPass,
		Active:            true,
		CreatedAt:         time.Now().UTC(),
	}
	if err := uc.certs.CreateActive(ctx, cert); err != nil {
		return nil, err
	}

	uc.log.Info().Str("certificate_id", cert.ID).Str("user_id", userID).Msg("certificado ativado")
	return toCertificateResponse(cert), nil
}

// List devolve os certificados do usuário, sem material cifrado.
func (uc *UseCase) List(ctx context.Context, userID string) ([]dto.CertificateResponse, error) {
	certs, err := uc.certs.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]dto.CertificateResponse, 0, len(certs))
	for i := range certs {
		out = append(out, *toCertificateResponse(&certs[i]))
	}
	return out, nil
}

// Deactivate desativa um certificado do usuário. Vendas novas passam a ser
// recusadas até um novo upload.
func (uc *UseCase) Deactivate(ctx context.Context, userID, certID string) error {
	cert, err := uc.certs.GetByIDAndUser(ctx, certID, userID)
	if err != nil {
		return err
	}
	if cert == nil {
		return domain.ErrNotFound
	}
	return uc.certs.Deactivate(ctx, certID)
}

func toCertificateResponse(c *entity.Certificate) *dto.CertificateResponse {
	return &dto.CertificateResponse{
		ID:        c.ID,
		Filename:  c.Filename,
		Active:    c.Active,
		CreatedAt: c.CreatedAt,
	}
}
