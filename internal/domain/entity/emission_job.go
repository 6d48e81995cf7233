package entity

import "time"

// Estados de um job na fila de emissão.
const (
	JobStatusQueued    = "queued"
	JobStatusActive    = "active"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// EmissionJob unidade de trabalho entregue ao worker pool, com entrega
// at-least-once. O job só referencia a venda por ID: todo o estado de negócio
// é re-derivado de Sale e Certificate no momento do processamento, o que torna
// o job seguramente re-executável.
type EmissionJob struct {
	ID          string
	SaleID      string
	Status      string
	Attempts    int // número da entrega corrente (1 na primeira)
	MaxAttempts int
	ScheduledAt time.Time // não entregar antes deste instante (backoff)
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
