package queue

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/emitejafacil/nfse-api/internal/domain/entity"
	"github.com/emitejafacil/nfse-api/internal/domain/repository"
	"github.com/emitejafacil/nfse-api/pkg/logger"
)

// Handler processa um job entregue. Retorno nil sinaliza conclusão; erro
// sinaliza falha e agenda o retry (ou a falha permanente na última tentativa).
type Handler func(ctx context.Context, saleID string, attempt int) error

// PermanentFailureHook é chamado quando as tentativas de um job se esgotam,
// para que a venda não fique presa em PROCESSING em silêncio.
type PermanentFailureHook func(ctx context.Context, saleID, lastError string)

// WorkerConfig parâmetros do pool.
type WorkerConfig struct {
	Concurrency  int           // slots concorrentes (3 em produção)
	PollInterval time.Duration // espera quando a fila está vazia
}

// Worker pool de consumo da fila: cada slot puxa um job por vez, invoca o
// Handler e reporta completed/retry/failed ao JobStore. O pool não interpreta
// o conteúdo do erro; toda a política de negócio vive no Handler.
type Worker struct {
	store   repository.JobStore
	handler Handler
	onDead  PermanentFailureHook
	cfg     WorkerConfig
	log     *logger.Logger
}

// NewWorker constrói o pool.
func NewWorker(store repository.JobStore, handler Handler, onDead PermanentFailureHook, cfg WorkerConfig, log *logger.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &Worker{store: store, handler: handler, onDead: onDead, cfg: cfg, log: log}
}

// Run bloqueia consumindo a fila até ctx ser cancelado. No shutdown os slots
// param de puxar jobs novos e os jobs em voo terminam antes do retorno.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Int("concurrency", w.cfg.Concurrency).Msg("worker pool de emissão iniciado")

	g := new(errgroup.Group)
	for i := 0; i < w.cfg.Concurrency; i++ {
		slot := i
		g.Go(func() error {
			w.runSlot(ctx, slot)
			return nil
		})
	}
	err := g.Wait()
	w.log.Info().Msg("worker pool de emissão encerrado")
	return err
}

func (w *Worker) runSlot(ctx context.Context, slot int) {
	log := w.log.With().Int("slot", slot).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.store.ClaimNext(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Msg("falha ao puxar job da fila")
			}
			if !w.sleep(ctx) {
				return
			}
			continue
		}
		if job == nil {
			if !w.sleep(ctx) {
				return
			}
			continue
		}

		w.execute(ctx, job)
	}
}

// execute roda um job até o fim. Usa um contexto desacoplado do cancelamento
// do pool: o shutdown não interrompe jobs em voo, apenas os timeouts fixos
// dos clients HTTP limitam a duração.
func (w *Worker) execute(ctx context.Context, job *entity.EmissionJob) {
	jobCtx := context.WithoutCancel(ctx)
	log := w.log.With().Str("job_id", job.ID).Str("sale_id", job.SaleID).Int("attempt", job.Attempts).Logger()

	err := w.handler(jobCtx, job.SaleID, job.Attempts)
	if err == nil {
		if cErr := w.store.Complete(jobCtx, job.ID); cErr != nil {
			log.Error().Err(cErr).Msg("falha ao arquivar job concluído")
		}
		log.Info().Msg("job concluído")
		return
	}

	if job.Attempts >= job.MaxAttempts {
		if fErr := w.store.Fail(jobCtx, job.ID, err.Error()); fErr != nil {
			log.Error().Err(fErr).Msg("falha ao arquivar job esgotado")
		}
		log.Error().Err(err).Msg("tentativas esgotadas, job marcado como failed")
		if w.onDead != nil {
			w.onDead(jobCtx, job.SaleID, err.Error())
		}
		return
	}

	delay := Backoff(job.Attempts)
	if rErr := w.store.Retry(jobCtx, job.ID, time.Now().Add(delay), err.Error()); rErr != nil {
		log.Error().Err(rErr).Msg("falha ao reagendar job")
		return
	}
	log.Warn().Err(err).Dur("delay", delay).Msg("job falhou, retry agendado")
}

// sleep espera o intervalo de polling; devolve false se ctx foi cancelado.
func (w *Worker) sleep(ctx context.Context) bool {
	timer := time.NewTimer(w.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
