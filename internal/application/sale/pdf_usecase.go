package sale

import (
	"context"
	"fmt"

	"github.com/emitejafacil/nfse-api/internal/domain"
	"github.com/emitejafacil/nfse-api/internal/domain/entity"
	"github.com/emitejafacil/nfse-api/internal/domain/repository"
)

// DANFSEGenerator porta de geração da representação gráfica da nota.
type DANFSEGenerator interface {
	Generate(ctx context.Context, sale *entity.Sale, provider *entity.User) ([]byte, error)
}

// PDFUseCase gera o DANFSE de uma venda já emitida.
type PDFUseCase struct {
	sales repository.SaleRepository
	users repository.UserRepository
	gen   DANFSEGenerator
}

// NewPDFUseCase constrói o caso de uso de DANFSE.
func NewPDFUseCase(sales repository.SaleRepository, users repository.UserRepository, gen DANFSEGenerator) *PDFUseCase {
	return &PDFUseCase{sales: sales, users: users, gen: gen}
}

// Generate devolve os bytes do PDF. Só há DANFSE para vendas em SUCCESS.
func (uc *PDFUseCase) Generate(ctx context.Context, userID, saleID string) ([]byte, error) {
	sale, err := uc.sales.GetByIDAndUser(ctx, saleID, userID)
	if err != nil {
		return nil, err
	}
	if sale == nil {
		return nil, domain.ErrNotFound
	}
	if sale.Status != entity.SaleStatusSuccess {
		return nil, fmt.Errorf("%w: a nota ainda não foi emitida", domain.ErrInvalidInput)
	}
	user, err := uc.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrUserNotFound
	}
	return uc.gen.Generate(ctx, sale, user)
}
