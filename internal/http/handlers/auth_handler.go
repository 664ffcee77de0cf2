package handlers

import (
	"errors"

	"github.com/ads-marketplace/escrow/internal/http/dto"
	"github.com/ads-marketplace/escrow/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type AuthHandler struct {
	authService *services.AuthService
	log         *zap.Logger
}

func NewAuthHandler(authService *services.AuthService, log *zap.Logger) *AuthHandler {
	return &AuthHandler{authService: authService, log: log}
}

// GeneratePayload создаёт nonce для TON Proof.
// POST /auth/proof-payload
func (h *AuthHandler) GeneratePayload(c *fiber.Ctx) error {
	payload, err := h.authService.GeneratePayload(c.Context())
	if err != nil {
		h.log.Error("failed to generate proof payload", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.PayloadResponse{Payload: payload})
}

// TonProof выдаёт JWT после проверки TON Proof.
// POST /auth/ton-proof
func (h *AuthHandler) TonProof(c *fiber.Ctx) error {
	var req dto.TonProofRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if err := dto.Validate(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	if req.Proof.Signature == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "proof.signature is required"})
	}

	session, err := h.authService.IssueToken(c.Context(), req)
	if err != nil {
		h.log.Debug("ton proof rejected", zap.String("address", req.Address), zap.Error(err))
		status := fiber.StatusUnauthorized
		if errors.Is(err, services.ErrNetworkMismatch) {
			status = fiber.StatusBadRequest
		}
		return c.Status(status).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.JSON(dto.AuthResponse{
		Token:   session.Token,
		Address: session.Address,
		Network: session.Network,
	})
}
