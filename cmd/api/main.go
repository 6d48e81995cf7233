package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/emitejafacil/nfse-api/internal/application/auth"
	"github.com/emitejafacil/nfse-api/internal/application/certificate"
	"github.com/emitejafacil/nfse-api/internal/application/sale"
	infrapdf "github.com/emitejafacil/nfse-api/internal/infrastructure/pdf"
	"github.com/emitejafacil/nfse-api/internal/infrastructure/postgres"
	httpRouter "github.com/emitejafacil/nfse-api/internal/interfaces/http"
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
		Str("app", cfg.App.Name).
		Msg("iniciando API")

	ctx := context.Background()
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

	userRepo := postgres.NewUserRepository(pool)
	saleRepo := postgres.NewSaleRepository(pool)
	certRepo := postgres.NewCertificateRepository(pool)
	jobRepo := postgres.NewJobRepository(pool)

	enqueuer := queue.NewEnqueuer(jobRepo, cfg.Queue.MaxAttempts, log)

	authUC := auth.NewAuthUseCase(userRepo, auth.JWTConfig{
		Secret:     cfg.JWT.Secret,
		ExpMinutes: cfg.JWT.Expiration,
		Issuer:     cfg.JWT.Issuer,
	})
	saleUC := sale.NewUseCase(saleRepo, certRepo, enqueuer, log)
	salePDFUC := sale.NewPDFUseCase(saleRepo, userRepo, infrapdf.NewDANFSEGenerator())
	certUC := certificate.NewUseCase(certRepo, box, log)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 10,
		IdleTimeout:  time.Second * 60,
		BodyLimit:    4 << 20,
	})
	app.Use(recover.New())

	httpRouter.Router(app, httpRouter.RouterDeps{
		AuthUC:        authUC,
		SaleUC:        saleUC,
		SalePDFUC:     salePDFUC,
		CertificateUC: certUC,
		JWTSecret:     cfg.JWT.Secret,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("sinal de desligamento recebido, encerrando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("desligamento do servidor")
	}

	log.Info().Msg("aplicação encerrada")
}
