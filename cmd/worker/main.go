package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/emitejafacil/nfse-api/internal/application/emission"
	"github.com/emitejafacil/nfse-api/internal/infrastructure/nfse"
	"github.com/emitejafacil/nfse-api/internal/infrastructure/postgres"
	"github.com/emitejafacil/nfse-api/internal/infrastructure/prefeitura"
	"github.com/emitejafacil/nfse-api/internal/infrastructure/webhook"
	"github.com/emitejafacil/nfse-api/internal/queue"
	"github.com/emitejafacil/nfse-api/pkg/config"
	"github.com/emitejafacil/nfse-api/pkg/cryptobox"
	"github.com/emitejafacil/nfse-api/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("carregar configuração: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: "info",
	})
	log.Info().
		Str("env", cfg.App.Env).
		Int("concurrency", cfg.Queue.Concurrency).
		Msg("iniciando worker de emissão")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("conexão com o PostgreSQL")
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("aplicar migrações")
	}

	box, err := cryptobox.New(cfg.Crypto.CertificateKey)
	if err != nil {
		log.Fatal().Err(err).Msg("chave de cifra de certificados")
	}

	saleRepo := postgres.NewSaleRepository(pool)
	certRepo := postgres.NewCertificateRepository(pool)
	jobRepo := postgres.NewJobRepository(pool)

	processor := emission.NewProcessor(
		saleRepo,
		certRepo,
		box,
		nfse.NewBuilder(),
		prefeitura.NewClient(cfg.Prefeitura.BaseURL),
		webhook.NewHTTPNotifier(cfg.Webhook.URL),
		log,
	)

	worker := queue.NewWorker(
		jobRepo,
		processor.Process,
		processor.MarkRetriesExhausted,
		queue.WorkerConfig{
			Concurrency:  cfg.Queue.Concurrency,
			PollInterval: cfg.Queue.PollInterval,
		},
		log,
	)

	// Bloqueia até o sinal de desligamento; jobs em voo terminam antes de sair.
	if err := worker.Run(ctx); err != nil {
		log.Error().Err(err).Msg("worker finalizado com erro")
	}

	log.Info().Msg("worker encerrado")
}
