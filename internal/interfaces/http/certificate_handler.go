package http

import (
	"errors"
	"io"

	"github.com/gofiber/fiber/v2"

	"github.com/emitejafacil/nfse-api/internal/application/certificate"
	"github.com/emitejafacil/nfse-api/internal/application/dto"
	"github.com/emitejafacil/nfse-api/internal/domain"
)

// Limite de upload do .pfx. Certificados A1 reais têm poucos KB.
const maxPfxSize = 1 << 20

// CertificateHandler trata upload e gestão de certificados.
type CertificateHandler struct {
	uc *certificate.UseCase
}

// NewCertificateHandler constrói o handler de certificados.
func NewCertificateHandler(uc *certificate.UseCase) *CertificateHandler {
	return &CertificateHandler{uc: uc}
}

// Upload recebe multipart com o arquivo .pfx (campo "file") e a senha
// (campo "password"), valida e ativa o certificado.
func (h *CertificateHandler) Upload(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "arquivo .pfx obrigatório no campo 'file'"})
	}
	if fileHeader.Size > maxPfxSize {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "arquivo excede o tamanho máximo"})
	}
	password := c.FormValue("password")
	if password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "password do certificado é obrigatório"})
	}

	f, err := fileHeader.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "não foi possível ler o arquivo"})
	}
	defer f.Close()
	pfx, err := io.ReadAll(f)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "não foi possível ler o arquivo"})
	}

	out, err := h.uc.Upload(c.Context(), GetUserID(c), fileHeader.Filename, pfx, password)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidCertificate):
			return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.ErrorResponse{Code: "INVALID_CERTIFICATE", Message: "certificado inválido ou senha incorreta"})
		case errors.Is(err, domain.ErrInvalidInput):
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
		}
	}
	return c.Status(fiber.StatusCreated).JSON(out)
}

// List devolve os certificados do usuário.
func (h *CertificateHandler) List(c *fiber.Ctx) error {
	out, err := h.uc.List(c.Context(), GetUserID(c))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	return c.JSON(out)
}

// Deactivate desativa um certificado do usuário.
func (h *CertificateHandler) Deactivate(c *fiber.Ctx) error {
	err := h.uc.Deactivate(c.Context(), GetUserID(c), c.Params("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "certificado não encontrado"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}
