package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/emitejafacil/nfse-api/internal/application/dto"
	"github.com/emitejafacil/nfse-api/internal/application/sale"
	"github.com/emitejafacil/nfse-api/internal/domain"
)

// SaleHandler trata o aceite e a consulta de vendas.
type SaleHandler struct {
	uc    *sale.UseCase
	pdfUC *sale.PDFUseCase
}

// NewSaleHandler constrói o handler de vendas.
func NewSaleHandler(uc *sale.UseCase, pdfUC *sale.PDFUseCase) *SaleHandler {
	return &SaleHandler{uc: uc, pdfUC: pdfUC}
}

// Create aceita o pedido de emissão. Responde 202: a nota sai da fila.
// Com idempotencyKey repetido devolve 200 com a venda original.
func (h *SaleHandler) Create(c *fiber.Ctx) error {
	var in dto.CreateSaleRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "corpo inválido"})
	}
	if in.Description == "" || in.ServiceCode == "" || in.BuyerName == "" || in.BuyerDocument == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "description, serviceCode, buyerName e buyerDocument são obrigatórios"})
	}
	if !in.Amount.IsPositive() {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "amount deve ser maior que zero"})
	}

	out, created, err := h.uc.Create(c.Context(), GetUserID(c), in)
	if err != nil {
		if errors.Is(err, domain.ErrNoActiveCertificate) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.ErrorResponse{Code: "NO_ACTIVE_CERTIFICATE", Message: "nenhum certificado ativo; faça upload antes de emitir"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	if !created {
		return c.JSON(out)
	}
	return c.Status(fiber.StatusAccepted).JSON(out)
}

// List devolve uma página das vendas do usuário.
func (h *SaleHandler) List(c *fiber.Ctx) error {
	var page dto.PageRequest
	if err := c.QueryParser(&page); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "parâmetros de página inválidos"})
	}
	out, err := h.uc.List(c.Context(), GetUserID(c), page)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	return c.JSON(out)
}

// GetByID devolve o estado corrente da emissão.
func (h *SaleHandler) GetByID(c *fiber.Ctx) error {
	out, err := h.uc.Get(c.Context(), GetUserID(c), c.Params("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "venda não encontrada"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	return c.JSON(out)
}

// GetPDF devolve o DANFSE da venda emitida.
func (h *SaleHandler) GetPDF(c *fiber.Ctx) error {
	pdfBytes, err := h.pdfUC.Generate(c.Context(), GetUserID(c), c.Params("id"))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrUserNotFound):
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "venda não encontrada"})
		case errors.Is(err, domain.ErrInvalidInput):
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "NOT_ISSUED", Message: "a nota ainda não foi emitida"})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
		}
	}
	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, `inline; filename="danfse-`+c.Params("id")+`.pdf"`)
	return c.Send(pdfBytes)
}
