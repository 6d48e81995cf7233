// Package emission orquestra o ciclo de vida de emissão de uma NFS-e:
// certificado, documento, submissão à prefeitura e notificação.
package emission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emitejafacil/nfse-api/internal/domain/entity"
	"github.com/emitejafacil/nfse-api/internal/domain/repository"
	"github.com/emitejafacil/nfse-api/internal/infrastructure/nfse"
	"github.com/emitejafacil/nfse-api/internal/infrastructure/prefeitura"
	"github.com/emitejafacil/nfse-api/internal/infrastructure/webhook"
	"github.com/emitejafacil/nfse-api/pkg/cryptobox"
	"github.com/emitejafacil/nfse-api/pkg/logger"
)

// Mensagens gravadas na venda em falhas terminais.
const (
	msgSemCertificado      = "nenhum certificado ativo para o emissor"
	msgCertificadoIlegivel = "certificado armazenado está corrompido ou ilegível"
	msgRetriesEsgotados    = "tentativas de emissão esgotadas"
)

// Processor executa uma tentativa de emissão do início ao fim.
//
// O contrato com a fila: retornar erro significa "vale tentar de novo";
// retornar nil significa "este job terminou" — inclusive quando a venda
// acabou em ERROR por uma causa que repetir não resolve.
type Processor struct {
	sales     repository.SaleRepository
	certs     repository.CertificateRepository
	box       Decrypter
	builder   DocumentBuilder
	authority Submitter
	notifier  Notifier
	log       *logger.Logger
}

// NewProcessor monta o processador com as suas dependências.
func NewProcessor(
	sales repository.SaleRepository,
	certs repository.CertificateRepository,
	box Decrypter,
	builder DocumentBuilder,
	authority Submitter,
	notifier Notifier,
	log *logger.Logger,
) *Processor {
	return &Processor{
		sales:     sales,
		certs:     certs,
		box:       box,
		builder:   builder,
		authority: authority,
		notifier:  notifier,
		log:       log,
	}
}

// Process trata uma tentativa de emissão da venda.
func (p *Processor) Process(ctx context.Context, saleID string, attempt int) error {
	log := p.log.With().Str("sale_id", saleID).Int("attempt", attempt).Logger()

	sale, err := p.sales.GetByID(ctx, saleID)
	if err != nil {
		return fmt.Errorf("carregar venda: %w", err)
	}
	if sale == nil {
		// Venda sumiu da base; não há o que reprocessar.
		log.Warn().Msg("job de emissão para venda inexistente, descartando")
		return nil
	}
	if sale.Terminal() {
		// Entrega duplicada da fila: a venda já fechou numa tentativa
		// anterior. Nenhum efeito colateral pode acontecer aqui.
		log.Info().Str("status", string(sale.Status)).Msg("venda já em estado terminal, ignorando job")
		return nil
	}

	cert, err := p.certs.FindActiveByUser(ctx, sale.UserID)
	if err != nil {
		return fmt.Errorf("buscar certificado ativo: %w", err)
	}
	if cert == nil {
		log.Warn().Msg("emissão abortada: usuário sem certificado ativo")
		return p.failTerminal(ctx, sale, "", msgSemCertificado)
	}

	fingerprint, err := p.openCertificate(cert)
	if err != nil {
		if errors.Is(err, cryptobox.ErrIntegrity) {
			log.Error().Err(err).Str("certificate_id", cert.ID).Msg("material do certificado falhou na verificação de integridade")
			return p.failTerminal(ctx, sale, "", msgCertificadoIlegivel)
		}
		return fmt.Errorf("abrir certificado: %w", err)
	}

	xmlDoc, err := p.builder.Build(nfse.Input{
		SaleID:        sale.ID,
		Amount:        sale.Amount,
		Description:   sale.Description,
		ServiceCode:   sale.ServiceCode,
		BuyerName:     sale.BuyerName,
		BuyerDocument: sale.BuyerDocument,
		BuyerEmail:    sale.BuyerEmail,
		Fingerprint:   fingerprint,
	})
	if err != nil {
		return fmt.Errorf("montar documento: %w", err)
	}

	result, err := p.authority.Submit(ctx, xmlDoc)
	if err != nil {
		var te *prefeitura.TransportError
		if errors.As(err, &te) {
			// Indisponibilidade é transiente: anota e devolve o erro
			// para a fila reagendar com backoff.
			if rerr := p.sales.RecordTransientError(ctx, sale.ID, te.Error()); rerr != nil {
				log.Error().Err(rerr).Msg("falha ao anotar erro transiente na venda")
			}
			log.Warn().Err(te).Msg("prefeitura indisponível, tentativa será reagendada")
			return err
		}
		return fmt.Errorf("submeter à prefeitura: %w", err)
	}

	if !result.Success {
		// Rejeição de negócio: repetir o mesmo documento daria o mesmo
		// resultado, então a venda fecha em erro.
		log.Warn().Str("motivo", result.Message).Msg("lote rejeitado pela prefeitura")
		return p.failTerminal(ctx, sale, xmlDoc, rejectionMessage(result.Message))
	}

	issuedAt := time.Now().UTC()
	won, err := p.sales.MarkSuccess(ctx, sale.ID, result.Protocol, xmlDoc, issuedAt)
	if err != nil {
		return fmt.Errorf("gravar sucesso da emissão: %w", err)
	}
	if !won {
		// Outro worker fechou a venda primeiro; não notificar de novo.
		log.Info().Msg("venda fechada concorrentemente, notificação suprimida")
		return nil
	}

	log.Info().Str("protocol", result.Protocol).Msg("NFS-e autorizada")
	p.notifyIssued(ctx, sale, result.Protocol, issuedAt)
	return nil
}

// MarkRetriesExhausted fecha a venda em ERROR quando a fila desiste do job.
// Usada como gancho de falha permanente do worker.
func (p *Processor) MarkRetriesExhausted(ctx context.Context, saleID, lastError string) {
	msg := msgRetriesEsgotados
	if lastError != "" {
		msg = fmt.Sprintf("%s: %s", msgRetriesEsgotados, lastError)
	}
	won, err := p.sales.MarkError(ctx, saleID, "", msg, time.Now().UTC())
	if err != nil {
		p.log.Error().Err(err).Str("sale_id", saleID).Msg("falha ao fechar venda com tentativas esgotadas")
		return
	}
	if won {
		p.log.Warn().Str("sale_id", saleID).Msg("tentativas de emissão esgotadas, venda fechada em erro")
	}
}

// openCertificate decifra o .pfx e a senha e deriva o fingerprint.
// A senha decifrada valida o material; o fingerprint amarra o documento.
func (p *Processor) openCertificate(cert *entity.Certificate) (string, error) {
	pfx, err := p.box.DecryptBytes(cert.PfxData)
	if err != nil {
		return "", fmt.Errorf("decifrar pfx: %w", err)
	}
	if _, err := p.box.DecryptString(cert.EncryptedPassword); err != nil {
		return "", fmt.Errorf("decifrar senha do certificado: %w", err)
	}
	return nfse.Fingerprint(pfx), nil
}

func (p *Processor) failTerminal(ctx context.Context, sale *entity.Sale, xmlDoc, msg string) error {
	won, err := p.sales.MarkError(ctx, sale.ID, xmlDoc, msg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("gravar erro terminal: %w", err)
	}
	if !won {
		p.log.Info().Str("sale_id", sale.ID).Msg("venda já havia sido fechada por outra tentativa")
	}
	return nil
}

// notifyIssued entrega o webhook em melhor esforço. Falha aqui é registrada
// e engolida: a emissão já está consumada na prefeitura. Sem destino
// configurado não há entrega, e o carimbo de envio não pode ser gravado.
func (p *Processor) notifyIssued(ctx context.Context, sale *entity.Sale, protocol string, issuedAt time.Time) {
	if !p.notifier.Enabled() {
		return
	}
	err := p.notifier.NotifyIssued(ctx, webhook.IssuedEvent{
		SaleID:   sale.ID,
		Protocol: protocol,
		Amount:   sale.Amount,
		IssuedAt: issuedAt,
	})
	if err != nil {
		p.log.Warn().Err(err).Str("sale_id", sale.ID).Msg("webhook de emissão não entregue")
		return
	}
	if err := p.sales.SetWebhookSent(ctx, sale.ID, time.Now().UTC()); err != nil {
		p.log.Error().Err(err).Str("sale_id", sale.ID).Msg("falha ao registrar entrega do webhook")
	}
}

// rejectionMessage escolhe o que persistir na venda: o motivo da prefeitura
// literal, ou um texto padrão quando ela não mandou nenhum.
func rejectionMessage(msg string) string {
	if msg == "" {
		return "emissão rejeitada pela prefeitura"
	}
	return msg
}
