package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emitejafacil/nfse-api/internal/domain/entity"
	"github.com/emitejafacil/nfse-api/internal/queue"
	"github.com/emitejafacil/nfse-api/pkg/logger"
)

// ──────────────────────────────────────────────────────────────────────────────
// Fake do JobStore
// ──────────────────────────────────────────────────────────────────────────────

type retryRecord struct {
	jobID     string
	nextRun   time.Time
	lastError string
}

type fakeJobStore struct {
	mu        sync.Mutex
	pending   []*entity.EmissionJob
	enqueued  []*entity.EmissionJob
	completed []string
	failed    map[string]string
	retries   []retryRecord

	enqueueErr error
	// signal recebe um aviso a cada Complete/Retry/Fail
	signal chan struct{}
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{
		failed: map[string]string{},
		signal: make(chan struct{}, 16),
	}
}

func (f *fakeJobStore) Enqueue(_ context.Context, job *entity.EmissionJob) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	job.ID = "job-1"
	f.enqueued = append(f.enqueued, job)
	return nil
}

func (f *fakeJobStore) ClaimNext(_ context.Context) (*entity.EmissionJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return nil, nil
	}
	job := f.pending[0]
	f.pending = f.pending[1:]
	job.Attempts++
	job.Status = entity.JobStatusActive
	cp := *job
	return &cp, nil
}

func (f *fakeJobStore) Complete(_ context.Context, jobID string) error {
	f.mu.Lock()
	f.completed = append(f.completed, jobID)
	f.mu.Unlock()
	f.signal <- struct{}{}
	return nil
}

func (f *fakeJobStore) Retry(_ context.Context, jobID string, nextRun time.Time, lastError string) error {
	f.mu.Lock()
	f.retries = append(f.retries, retryRecord{jobID: jobID, nextRun: nextRun, lastError: lastError})
	f.mu.Unlock()
	f.signal <- struct{}{}
	return nil
}

func (f *fakeJobStore) Fail(_ context.Context, jobID string, lastError string) error {
	f.mu.Lock()
	f.failed[jobID] = lastError
	f.mu.Unlock()
	f.signal <- struct{}{}
	return nil
}

func (f *fakeJobStore) waitSignal(t *testing.T) {
	t.Helper()
	select {
	case <-f.signal:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout esperando o worker reportar o job")
	}
}

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Env: "test", Level: "error"})
}

// ──────────────────────────────────────────────────────────────────────────────
// Backoff
// ──────────────────────────────────────────────────────────────────────────────

// A política é 1000ms * 4^(tentativa-1): exatamente 1s, 4s e 16s.
func TestBackoff_ValoresExatos(t *testing.T) {
	assert.Equal(t, 1000*time.Millisecond, queue.Backoff(1))
	assert.Equal(t, 4000*time.Millisecond, queue.Backoff(2))
	assert.Equal(t, 16000*time.Millisecond, queue.Backoff(3))
}

func TestBackoff_TentativaInvalidaUsaBase(t *testing.T) {
	assert.Equal(t, 1000*time.Millisecond, queue.Backoff(0))
	assert.Equal(t, 1000*time.Millisecond, queue.Backoff(-5))
}

// ──────────────────────────────────────────────────────────────────────────────
// Enqueuer
// ──────────────────────────────────────────────────────────────────────────────

func TestEnqueuer_Enqueue(t *testing.T) {
	store := newFakeJobStore()
	enq := queue.NewEnqueuer(store, 0, testLogger())

	jobID, err := enq.Enqueue(context.Background(), "sale-42")
	require.NoError(t, err)
	assert.Equal(t, "job-1", jobID)

	require.Len(t, store.enqueued, 1)
	assert.Equal(t, "sale-42", store.enqueued[0].SaleID)
	assert.Equal(t, queue.DefaultMaxAttempts, store.enqueued[0].MaxAttempts)
}

// Falha do broker deve chegar ao caller, nunca ser engolida.
func TestEnqueuer_ErroDoBrokerPropaga(t *testing.T) {
	store := newFakeJobStore()
	store.enqueueErr = errors.New("broker indisponível")
	enq := queue.NewEnqueuer(store, 3, testLogger())

	_, err := enq.Enqueue(context.Background(), "sale-42")
	assert.Error(t, err)
}

// ──────────────────────────────────────────────────────────────────────────────
// Worker pool
// ──────────────────────────────────────────────────────────────────────────────

func runWorker(t *testing.T, store *fakeJobStore, handler queue.Handler, hook queue.PermanentFailureHook) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	w := queue.NewWorker(store, handler, hook, queue.WorkerConfig{
		Concurrency:  3,
		PollInterval: 10 * time.Millisecond,
	}, testLogger())

	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("worker não encerrou após cancelamento")
		}
	})
	return cancel
}

func TestWorker_JobComSucessoEhArquivado(t *testing.T) {
	store := newFakeJobStore()
	store.pending = []*entity.EmissionJob{{ID: "j1", SaleID: "sale-1", MaxAttempts: 3}}

	var mu sync.Mutex
	var calls []int
	handler := func(_ context.Context, saleID string, attempt int) error {
		mu.Lock()
		calls = append(calls, attempt)
		mu.Unlock()
		assert.Equal(t, "sale-1", saleID)
		return nil
	}

	runWorker(t, store, handler, nil)
	store.waitSignal(t)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, []string{"j1"}, store.completed)
	assert.Empty(t, store.retries)
	mu.Lock()
	assert.Equal(t, []int{1}, calls)
	mu.Unlock()
}

func TestWorker_FalhaAgendaRetryComBackoff(t *testing.T) {
	store := newFakeJobStore()
	store.pending = []*entity.EmissionJob{{ID: "j1", SaleID: "sale-1", MaxAttempts: 3}}

	handler := func(_ context.Context, _ string, _ int) error {
		return errors.New("timeout na prefeitura")
	}

	before := time.Now()
	runWorker(t, store, handler, nil)
	store.waitSignal(t)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.retries, 1)
	r := store.retries[0]
	assert.Equal(t, "j1", r.jobID)
	assert.Equal(t, "timeout na prefeitura", r.lastError)
	// primeira tentativa falhou: próximo agendamento ~1s à frente
	delay := r.nextRun.Sub(before)
	assert.GreaterOrEqual(t, delay, 1*time.Second)
	assert.Less(t, delay, 3*time.Second)
	assert.Empty(t, store.completed)
}

func TestWorker_TentativasEsgotadasDisparamHook(t *testing.T) {
	store := newFakeJobStore()
	// já na última tentativa (2 feitas, máximo 3)
	store.pending = []*entity.EmissionJob{{ID: "j1", SaleID: "sale-1", Attempts: 2, MaxAttempts: 3}}

	handler := func(_ context.Context, _ string, _ int) error {
		return errors.New("timeout na prefeitura")
	}

	var mu sync.Mutex
	var deadSale, deadErr string
	hook := func(_ context.Context, saleID, lastError string) {
		mu.Lock()
		deadSale, deadErr = saleID, lastError
		mu.Unlock()
	}

	runWorker(t, store, handler, hook)
	store.waitSignal(t)

	store.mu.Lock()
	assert.Equal(t, "timeout na prefeitura", store.failed["j1"])
	assert.Empty(t, store.retries)
	store.mu.Unlock()

	// o hook roda depois do Fail; dá uma folga mínima
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return deadSale == "sale-1" && deadErr == "timeout na prefeitura"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorker_ShutdownNaoPuxaJobsNovos(t *testing.T) {
	store := newFakeJobStore()

	handler := func(_ context.Context, _ string, _ int) error { return nil }
	cancel := runWorker(t, store, handler, nil)

	// cancela com a fila vazia; depois adiciona um job que não deve ser puxado
	cancel()
	time.Sleep(50 * time.Millisecond)
	store.mu.Lock()
	store.pending = []*entity.EmissionJob{{ID: "j1", SaleID: "sale-1", MaxAttempts: 3}}
	store.mu.Unlock()

	time.Sleep(100 * time.Millisecond)
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Empty(t, store.completed)
	assert.Len(t, store.pending, 1)
}
