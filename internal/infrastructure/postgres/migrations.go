package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema DDL idempotente aplicado no arranque da API.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            UUID PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS certificates (
	id                 UUID PRIMARY KEY,
	user_id            UUID NOT NULL REFERENCES users(id),
	filename           TEXT NOT NULL,
	pfx_data           BYTEA NOT NULL,
	encrypted_password TEXT NOT NULL,
	active             BOOLEAN NOT NULL DEFAULT true,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_certificates_user_active
	ON certificates (user_id) WHERE active;

CREATE TABLE IF NOT EXISTS sales (
	id              UUID PRIMARY KEY,
	user_id         UUID NOT NULL REFERENCES users(id),
	amount          NUMERIC(14,2) NOT NULL,
	description     TEXT NOT NULL,
	service_code    TEXT NOT NULL,
	buyer_name      TEXT NOT NULL,
	buyer_document  TEXT NOT NULL,
	buyer_email     TEXT,
	idempotency_key TEXT UNIQUE,
	status          TEXT NOT NULL DEFAULT 'PROCESSING',
	protocol        TEXT,
	xml_content     TEXT,
	error_message   TEXT,
	webhook_sent_at TIMESTAMPTZ,
	processed_at    TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sales_user_created
	ON sales (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS emission_jobs (
	id           UUID PRIMARY KEY,
	sale_id      UUID NOT NULL,
	status       TEXT NOT NULL DEFAULT 'queued',
	attempts     INT  NOT NULL DEFAULT 0,
	max_attempts INT  NOT NULL DEFAULT 3,
	scheduled_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_error   TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_emission_jobs_claim
	ON emission_jobs (scheduled_at) WHERE status = 'queued';
`

// Migrate aplica o schema. Todas as sentenças são idempotentes, então pode
// rodar em todo arranque sem controle de versão de migração.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("aplicar schema: %w", err)
	}
	return nil
}
