package emission_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emitejafacil/nfse-api/internal/application/emission"
	"github.com/emitejafacil/nfse-api/internal/domain/entity"
	"github.com/emitejafacil/nfse-api/internal/infrastructure/nfse"
	"github.com/emitejafacil/nfse-api/internal/infrastructure/prefeitura"
	"github.com/emitejafacil/nfse-api/internal/infrastructure/webhook"
	"github.com/emitejafacil/nfse-api/pkg/cryptobox"
	"github.com/emitejafacil/nfse-api/pkg/logger"
)

const testKey = "0123456789abcdef0123456789abcdef"

// ──────────────────────────────────────────────────────────────────────────────
// Fakes
// ──────────────────────────────────────────────────────────────────────────────

type fakeSaleRepo struct {
	mu    sync.Mutex
	sales map[string]*entity.Sale

	transientErrors []string
	webhookSent     []string
	markSuccessErr  error
	loseSuccessCAS  bool
}

func newFakeSaleRepo(sales ...*entity.Sale) *fakeSaleRepo {
	m := map[string]*entity.Sale{}
	for _, s := range sales {
		m[s.ID] = s
	}
	return &fakeSaleRepo{sales: m}
}

func (f *fakeSaleRepo) Create(_ context.Context, sale *entity.Sale) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sales[sale.ID] = sale
	return nil
}

func (f *fakeSaleRepo) GetByID(_ context.Context, id string) (*entity.Sale, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sales[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSaleRepo) GetByIDAndUser(ctx context.Context, id, _ string) (*entity.Sale, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeSaleRepo) GetByIdempotencyKey(_ context.Context, _, _ string) (*entity.Sale, error) {
	return nil, nil
}

func (f *fakeSaleRepo) ListByUser(_ context.Context, _ string, _, _ int) ([]entity.Sale, int, error) {
	return nil, 0, nil
}

func (f *fakeSaleRepo) RecordTransientError(_ context.Context, id, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transientErrors = append(f.transientErrors, message)
	if s, ok := f.sales[id]; ok && s.Status == entity.SaleStatusProcessing {
		s.ErrorMessage = message
	}
	return nil
}

func (f *fakeSaleRepo) MarkSuccess(_ context.Context, id, protocol, xmlContent string, processedAt time.Time) (bool, error) {
	if f.markSuccessErr != nil {
		return false, f.markSuccessErr
	}
	if f.loseSuccessCAS {
		return false, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sales[id]
	if !ok || s.Status != entity.SaleStatusProcessing {
		return false, nil
	}
	s.Status = entity.SaleStatusSuccess
	s.Protocol = protocol
	s.XMLContent = xmlContent
	s.ProcessedAt = &processedAt
	return true, nil
}

func (f *fakeSaleRepo) MarkError(_ context.Context, id, xmlContent, message string, processedAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sales[id]
	if !ok || s.Status != entity.SaleStatusProcessing {
		return false, nil
	}
	s.Status = entity.SaleStatusError
	if xmlContent != "" {
		s.XMLContent = xmlContent
	}
	s.ErrorMessage = message
	s.ProcessedAt = &processedAt
	return true, nil
}

func (f *fakeSaleRepo) SetWebhookSent(_ context.Context, id string, sentAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.webhookSent = append(f.webhookSent, id)
	if s, ok := f.sales[id]; ok {
		s.WebhookSentAt = &sentAt
	}
	return nil
}

type fakeCertRepo struct {
	active *entity.Certificate
	err    error
}

func (f *fakeCertRepo) CreateActive(_ context.Context, _ *entity.Certificate) error { return nil }
func (f *fakeCertRepo) FindActiveByUser(_ context.Context, _ string) (*entity.Certificate, error) {
	return f.active, f.err
}
func (f *fakeCertRepo) ListByUser(_ context.Context, _ string) ([]entity.Certificate, error) {
	return nil, nil
}
func (f *fakeCertRepo) GetByIDAndUser(_ context.Context, _, _ string) (*entity.Certificate, error) {
	return nil, nil
}
func (f *fakeCertRepo) Deactivate(_ context.Context, _ string) error { return nil }

type fakeSubmitter struct {
	mu     sync.Mutex
	calls  int
	gotXML string
	result prefeitura.SubmitResult
	err    error
}

func (f *fakeSubmitter) Submit(_ context.Context, xml string) (prefeitura.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.gotXML = xml
	return f.result, f.err
}

type fakeNotifier struct {
	mu       sync.Mutex
	events   []webhook.IssuedEvent
	err      error
	disabled bool
}

func (f *fakeNotifier) Enabled() bool { return !f.disabled }

func (f *fakeNotifier) NotifyIssued(_ context.Context, event webhook.IssuedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

// ──────────────────────────────────────────────────────────────────────────────
// Montagem
// ──────────────────────────────────────────────────────────────────────────────

type fixture struct {
	sales     *fakeSaleRepo
	certs     *fakeCertRepo
	authority *fakeSubmitter
	notifier  *fakeNotifier
	proc      *emission.Processor
}

func processingSale() *entity.Sale {
	return &entity.Sale{
		ID:            "venda-1",
		UserID:        "user-1",
		Amount:        decimal.RequireFromString("150.50"),
		Description:   "Consultoria",
		ServiceCode:   "01.05",
		BuyerName:     "ACME Ltda",
		BuyerDocument: "12345678000190",
		Status:        entity.SaleStatusProcessing,
	}
}

// validCertificate cifra material de certificado de verdade com a chave de
// teste, para exercitar o caminho real de decifragem.
func validCertificate(t *testing.T) *entity.Certificate {
	t.Helper()
	box, err := cryptobox.New(testKey)
	require.NoError(t, err)

	pfx, err := box.EncryptBytes([]byte("pfx-binario-de-teste"))
	require.NoError(t, err)
	pass, err := box.EncryptString("senha-secreta")
	require.NoError(t, err)

	return &entity.Certificate{
		ID:                "cert-1",
		UserID:            "user-1",
		Filename:          "empresa.pfx",
		PfxData:           pfx,
		EncryptedPassword: pass,
		Active:            true,
	}
}

func newFixture(t *testing.T, sale *entity.Sale, cert *entity.Certificate) *fixture {
	t.Helper()
	box, err := cryptobox.New(testKey)
	require.NoError(t, err)

	f := &fixture{
		sales:     newFakeSaleRepo(sale),
		certs:     &fakeCertRepo{active: cert},
		authority: &fakeSubmitter{},
		notifier:  &fakeNotifier{},
	}
	f.proc = emission.NewProcessor(
		f.sales,
		f.certs,
		box,
		nfse.NewBuilder(),
		f.authority,
		f.notifier,
		logger.New(logger.Config{Env: "test", Level: "error"}),
	)
	return f
}

// ──────────────────────────────────────────────────────────────────────────────
// Caminho feliz
// ──────────────────────────────────────────────────────────────────────────────

func TestProcess_EmissaoAutorizada(t *testing.T) {
	f := newFixture(t, processingSale(), validCertificate(t))
	f.authority.result = prefeitura.SubmitResult{Success: true, Protocol: "PROT-xyz"}

	err := f.proc.Process(context.Background(), "venda-1", 1)
	require.NoError(t, err)

	sale, _ := f.sales.GetByID(context.Background(), "venda-1")
	assert.Equal(t, entity.SaleStatusSuccess, sale.Status)
	assert.Equal(t, "PROT-xyz", sale.Protocol)
	assert.Contains(t, sale.XMLContent, "<EnviarLoteRpsEnvio")
	assert.NotNil(t, sale.ProcessedAt)

	require.Len(t, f.notifier.events, 1)
	ev := f.notifier.events[0]
	assert.Equal(t, "venda-1", ev.SaleID)
	assert.Equal(t, "PROT-xyz", ev.Protocol)
	assert.True(t, ev.Amount.Equal(sale.Amount))

	assert.Equal(t, []string{"venda-1"}, f.sales.webhookSent)
	assert.NotNil(t, sale.WebhookSentAt)
}

func TestProcess_FalhaDoWebhookNaoDerrubaEmissao(t *testing.T) {
	f := newFixture(t, processingSale(), validCertificate(t))
	f.authority.result = prefeitura.SubmitResult{Success: true, Protocol: "PROT-xyz"}
	f.notifier.err = errors.New("destino fora do ar")

	err := f.proc.Process(context.Background(), "venda-1", 1)
	require.NoError(t, err, "webhook é melhor esforço")

	sale, _ := f.sales.GetByID(context.Background(), "venda-1")
	assert.Equal(t, entity.SaleStatusSuccess, sale.Status)
	assert.Nil(t, sale.WebhookSentAt, "entrega não confirmada não pode ser registrada")
	assert.Empty(t, f.sales.webhookSent)
}

func TestProcess_SemWebhookConfiguradoNaoRegistraEnvio(t *testing.T) {
	f := newFixture(t, processingSale(), validCertificate(t))
	f.authority.result = prefeitura.SubmitResult{Success: true, Protocol: "PROT-xyz"}
	f.notifier.disabled = true

	err := f.proc.Process(context.Background(), "venda-1", 1)
	require.NoError(t, err)

	sale, _ := f.sales.GetByID(context.Background(), "venda-1")
	assert.Equal(t, entity.SaleStatusSuccess, sale.Status)
	assert.Empty(t, f.notifier.events, "sem destino não há entrega")
	assert.Nil(t, sale.WebhookSentAt, "o carimbo só existe quando houve entrega de fato")
	assert.Empty(t, f.sales.webhookSent)
}

// ──────────────────────────────────────────────────────────────────────────────
// Idempotência
// ──────────────────────────────────────────────────────────────────────────────

func TestProcess_VendaTerminalEhIgnoradaSemEfeitos(t *testing.T) {
	sale := processingSale()
	sale.Status = entity.SaleStatusSuccess
	sale.Protocol = "PROT-antigo"
	f := newFixture(t, sale, validCertificate(t))

	err := f.proc.Process(context.Background(), "venda-1", 2)
	require.NoError(t, err)

	assert.Zero(t, f.authority.calls, "não pode ressubmeter à prefeitura")
	assert.Empty(t, f.notifier.events, "não pode renotificar")

	got, _ := f.sales.GetByID(context.Background(), "venda-1")
	assert.Equal(t, "PROT-antigo", got.Protocol)
}

func TestProcess_VendaInexistenteDescartaJob(t *testing.T) {
	f := newFixture(t, processingSale(), validCertificate(t))

	err := f.proc.Process(context.Background(), "venda-fantasma", 1)

	assert.NoError(t, err, "nada a reprocessar")
	assert.Zero(t, f.authority.calls)
}

// ──────────────────────────────────────────────────────────────────────────────
// Falhas terminais
// ──────────────────────────────────────────────────────────────────────────────

func TestProcess_SemCertificadoAtivoFechaEmErro(t *testing.T) {
	f := newFixture(t, processingSale(), nil)

	err := f.proc.Process(context.Background(), "venda-1", 1)
	require.NoError(t, err, "repetir sem certificado daria no mesmo")

	sale, _ := f.sales.GetByID(context.Background(), "venda-1")
	assert.Equal(t, entity.SaleStatusError, sale.Status)
	assert.Contains(t, sale.ErrorMessage, "certificado ativo")
	assert.Zero(t, f.authority.calls)
}

func TestProcess_CertificadoCorrompidoFechaEmErro(t *testing.T) {
	cert := validCertificate(t)
	cert.PfxData[len(cert.PfxData)-1] ^= 0xFF // viola a tag de autenticação
	f := newFixture(t, processingSale(), cert)

	err := f.proc.Process(context.Background(), "venda-1", 1)
	require.NoError(t, err)

	sale, _ := f.sales.GetByID(context.Background(), "venda-1")
	assert.Equal(t, entity.SaleStatusError, sale.Status)
	assert.Contains(t, sale.ErrorMessage, "corrompido")
	assert.Zero(t, f.authority.calls)
}

func TestProcess_RejeicaoDaPrefeituraFechaEmErro(t *testing.T) {
	f := newFixture(t, processingSale(), validCertificate(t))
	f.authority.result = prefeitura.SubmitResult{Success: false, Message: "CNPJ do tomador inválido"}

	err := f.proc.Process(context.Background(), "venda-1", 1)
	require.NoError(t, err, "rejeição não é retentável")

	sale, _ := f.sales.GetByID(context.Background(), "venda-1")
	assert.Equal(t, entity.SaleStatusError, sale.Status)
	assert.Equal(t, "CNPJ do tomador inválido", sale.ErrorMessage, "o motivo da prefeitura é gravado literal")
	assert.Contains(t, sale.XMLContent, "<EnviarLoteRpsEnvio", "documento rejeitado fica arquivado")
	assert.Empty(t, f.notifier.events)
}

func TestProcess_RejeicaoSemMotivoGanhaTextoPadrao(t *testing.T) {
	f := newFixture(t, processingSale(), validCertificate(t))
	f.authority.result = prefeitura.SubmitResult{Success: false}

	err := f.proc.Process(context.Background(), "venda-1", 1)
	require.NoError(t, err)

	sale, _ := f.sales.GetByID(context.Background(), "venda-1")
	assert.Equal(t, entity.SaleStatusError, sale.Status)
	assert.Equal(t, "emissão rejeitada pela prefeitura", sale.ErrorMessage)
}

// ──────────────────────────────────────────────────────────────────────────────
// Falhas transientes
// ──────────────────────────────────────────────────────────────────────────────

func TestProcess_PrefeituraIndisponivelPedeRetry(t *testing.T) {
	f := newFixture(t, processingSale(), validCertificate(t))
	f.authority.err = &prefeitura.TransportError{Err: errors.New("connection refused")}

	err := f.proc.Process(context.Background(), "venda-1", 1)

	var te *prefeitura.TransportError
	require.ErrorAs(t, err, &te, "erro de transporte volta para a fila reagendar")

	sale, _ := f.sales.GetByID(context.Background(), "venda-1")
	assert.Equal(t, entity.SaleStatusProcessing, sale.Status, "venda segue aberta para a próxima tentativa")
	assert.Contains(t, sale.ErrorMessage, "connection refused")
	require.Len(t, f.sales.transientErrors, 1)
	assert.Empty(t, f.notifier.events)
}

func TestProcess_SucessoAposTransientePreservaUltimoErro(t *testing.T) {
	f := newFixture(t, processingSale(), validCertificate(t))

	f.authority.err = &prefeitura.TransportError{Err: errors.New("connection refused")}
	require.Error(t, f.proc.Process(context.Background(), "venda-1", 1))

	f.authority.err = nil
	f.authority.result = prefeitura.SubmitResult{Success: true, Protocol: "PROT-xyz"}
	require.NoError(t, f.proc.Process(context.Background(), "venda-1", 2))

	sale, _ := f.sales.GetByID(context.Background(), "venda-1")
	assert.Equal(t, entity.SaleStatusSuccess, sale.Status)
	assert.Contains(t, sale.ErrorMessage, "connection refused",
		"a falha transiente anotada no meio dos retries fica no histórico da venda")
}

func TestProcess_CorridaDeFechamentoSuprimeNotificacao(t *testing.T) {
	f := newFixture(t, processingSale(), validCertificate(t))
	f.authority.result = prefeitura.SubmitResult{Success: true, Protocol: "PROT-xyz"}

	// Outra entrega fecha a venda entre a submissão e o MarkSuccess: o CAS
	// perde e o processador deve sair sem notificar.
	f.sales.loseSuccessCAS = true

	err := f.proc.Process(context.Background(), "venda-1", 2)
	require.NoError(t, err)
	assert.Empty(t, f.notifier.events)
	assert.Empty(t, f.sales.webhookSent)
}

func TestProcess_ErroAoGravarSucessoVoltaParaFila(t *testing.T) {
	f := newFixture(t, processingSale(), validCertificate(t))
	f.authority.result = prefeitura.SubmitResult{Success: true, Protocol: "PROT-xyz"}
	f.sales.markSuccessErr = errors.New("conexão com o banco perdida")

	err := f.proc.Process(context.Background(), "venda-1", 1)

	assert.Error(t, err, "persistência falhou, o job precisa de retry")
	assert.Empty(t, f.notifier.events)
}

// ──────────────────────────────────────────────────────────────────────────────
// Tentativas esgotadas
// ──────────────────────────────────────────────────────────────────────────────

func TestMarkRetriesExhausted_FechaVendaEmErro(t *testing.T) {
	f := newFixture(t, processingSale(), validCertificate(t))

	f.proc.MarkRetriesExhausted(context.Background(), "venda-1", "prefeitura indisponível: timeout")

	sale, _ := f.sales.GetByID(context.Background(), "venda-1")
	assert.Equal(t, entity.SaleStatusError, sale.Status)
	assert.Contains(t, sale.ErrorMessage, "tentativas de emissão esgotadas")
	assert.Contains(t, sale.ErrorMessage, "timeout")
}

func TestMarkRetriesExhausted_VendaJaFechadaNaoEhSobrescrita(t *testing.T) {
	sale := processingSale()
	sale.Status = entity.SaleStatusSuccess
	sale.Protocol = "PROT-xyz"
	f := newFixture(t, sale, validCertificate(t))

	f.proc.MarkRetriesExhausted(context.Background(), "venda-1", "")

	got, _ := f.sales.GetByID(context.Background(), "venda-1")
	assert.Equal(t, entity.SaleStatusSuccess, got.Status)
	assert.Equal(t, "PROT-xyz", got.Protocol)
}
