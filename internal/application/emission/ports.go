package emission

import (
	"context"

	"github.com/emitejafacil/nfse-api/internal/infrastructure/nfse"
	"github.com/emitejafacil/nfse-api/internal/infrastructure/prefeitura"
	"github.com/emitejafacil/nfse-api/internal/infrastructure/webhook"
)

// DocumentBuilder monta o XML de envio a partir dos dados da venda.
type DocumentBuilder interface {
	Build(in nfse.Input) (string, error)
}

// Decrypter abre o material cifrado do certificado.
type Decrypter interface {
	DecryptBytes(packed []byte) ([]byte, error)
	DecryptString(packedHex string) (string, error)
}

// Submitter reexporta o contrato da prefeitura para os testes do pacote.
type Submitter = prefeitura.Submitter

// Notifier reexporta o contrato do webhook.
type Notifier = webhook.Notifier

// Enqueuer agenda a emissão assíncrona de uma venda.
type Enqueuer interface {
	Enqueue(ctx context.Context, saleID string) (string, error)
}
