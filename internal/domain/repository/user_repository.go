package repository

import (
	"context"

	"github.com/emitejafacil/nfse-api/internal/domain/entity"
)

// UserRepository porta de persistência dos usuários.
type UserRepository interface {
	Create(ctx context.Context, user *entity.User) error
	FindByEmail(ctx context.Context, email string) (*entity.User, error)
	GetByID(ctx context.Context, id string) (*entity.User, error)
}
