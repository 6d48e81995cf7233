// Simulador da prefeitura para desenvolvimento local: demora 2 segundos e
// autoriza ~70% dos lotes. Útil para exercitar retries e rejeições de ponta
// a ponta sem depender do serviço real.
package main

import (
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/emitejafacil/nfse-api/pkg/logger"
)

const (
	processingDelay = 2 * time.Second
	successRate     = 0.7
)

type loteRequest struct {
	XML string `json:"xml"`
}

func main() {
	log := logger.New(logger.Config{Env: "development", Level: "info"})

	addr := os.Getenv("PREFEITURA_MOCK_ADDR")
	if addr == "" {
		addr = ":3002"
	}

	app := fiber.New(fiber.Config{AppName: "prefeitura-mock"})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Post("/nfse", func(c *fiber.Ctx) error {
		var in loteRequest
		if err := c.BodyParser(&in); err != nil || in.XML == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": "campo xml obrigatório",
			})
		}

		time.Sleep(processingDelay)

		if rand.Float64() < successRate {
			protocol := "PROT-" + uuid.New().String()
			log.Info().Str("protocol", protocol).Msg("lote autorizado")
			return c.JSON(fiber.Map{
				"success":  true,
				"protocol": protocol,
			})
		}

		log.Warn().Msg("lote rejeitado (simulação)")
		return c.JSON(fiber.Map{
			"success": false,
			"message": "lote rejeitado pela validação da prefeitura (simulação)",
		})
	})

	go func() {
		if err := app.Listen(addr); err != nil {
			log.Error().Err(err).Msg("servidor finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	_ = app.Shutdown()
	log.Info().Msg("mock encerrado")
}
