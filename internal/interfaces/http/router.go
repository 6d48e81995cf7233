package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/emitejafacil/nfse-api/internal/application/auth"
	"github.com/emitejafacil/nfse-api/internal/application/certificate"
	"github.com/emitejafacil/nfse-api/internal/application/sale"
)

// RouterDeps dependências para o router.
type RouterDeps struct {
	AuthUC        *auth.AuthUseCase
	SaleUC        *sale.UseCase
	SalePDFUC     *sale.PDFUseCase
	CertificateUC *certificate.UseCase
	JWTSecret     string
}

// Router registra as rotas da API.
func Router(app *fiber.App, deps RouterDeps) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	// Auth (público)
	authGroup := api.Group("/auth")
	authHandler := NewAuthHandler(deps.AuthUC)
	authGroup.Post("/register", authHandler.Register)
	authGroup.Post("/login", authHandler.Login)

	// Rotas protegidas (exigem Bearer Token)
	protected := api.Group("/", AuthMiddleware(deps.JWTSecret))

	// Vendas (protegido)
	sales := protected.Group("/sales")
	saleHandler := NewSaleHandler(deps.SaleUC, deps.SalePDFUC)
	sales.Post("/", saleHandler.Create)
	sales.Get("/", saleHandler.List)
	sales.Get("/:id", saleHandler.GetByID)
	sales.Get("/:id/pdf", saleHandler.GetPDF)

	// Certificados (protegido)
	certs := protected.Group("/certificates")
	certHandler := NewCertificateHandler(deps.CertificateUC)
	certs.Post("/", certHandler.Upload)
	certs.Get("/", certHandler.List)
	certs.Delete("/:id", certHandler.Deactivate)
}
