package handlers

import (
	"encoding/base64"
	"errors"
	"strconv"

	"github.com/ads-marketplace/escrow/internal/escrow"
	"github.com/ads-marketplace/escrow/internal/http/dto"
	"github.com/ads-marketplace/escrow/internal/middleware"
	"github.com/ads-marketplace/escrow/internal/services"
	"github.com/ads-marketplace/escrow/internal/ton"
	"github.com/gofiber/fiber/v2"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
	"go.uber.org/zap"
)

type DealHandler struct {
	settlement *services.SettlementService
	log        *zap.Logger
}

func NewDealHandler(settlement *services.SettlementService, log *zap.Logger) *DealHandler {
	return &DealHandler{settlement: settlement, log: log}
}

// CreateDeal registers a new escrow unit for the given terms.
// POST /deals
func (h *DealHandler) CreateDeal(c *fiber.Ctx) error {
	var req dto.CreateDealRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if err := dto.Validate(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	var parties [3]*address.Address
	for i, s := range []string{req.Buyer, req.Seller, req.Guarantor} {
		a, err := ton.ParseAnyAddress(s)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
		}
		parties[i] = a
	}

	deal, err := h.settlement.CreateUnit(c.Context(), services.CreateUnitParams{
		DealID:               req.DealID,
		UsesToken:            req.UsesToken,
		ConfirmationDuration: req.ConfirmationDuration,
		Buyer:                parties[0],
		Seller:               parties[1],
		Guarantor:            parties[2],
		GuarantorFeeBps:      req.GuarantorFeeBps,
	})
	if err != nil {
		return h.fail(c, err)
	}

	h.log.Info("deal created via api",
		zap.String("unit", deal.RawAddress),
		zap.String("actor", middleware.GetAddress(c)),
	)
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: deal})
}

// GET /deals/:address
func (h *DealHandler) GetDeal(c *fiber.Ctx) error {
	unit, err := ton.ParseAnyAddress(c.Params("address"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid unit address"})
	}

	deal, err := h.settlement.GetDeal(c.Context(), unit)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deal})
}

// GET /deals/:address/messages
func (h *DealHandler) ListMessages(c *fiber.Ctx) error {
	unit, err := ton.ParseAnyAddress(c.Params("address"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid unit address"})
	}

	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}

	msgs, err := h.settlement.ListMessages(c.Context(), unit, limit, offset)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: msgs})
}

// SendMessage delivers an internal message to the unit from the caller's
// wallet. The API drives simulated units only: the value is taken as
// declared and message time is the server clock.
// POST /deals/:address/messages
func (h *DealHandler) SendMessage(c *fiber.Ctx) error {
	unit, err := ton.ParseAnyAddress(c.Params("address"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid unit address"})
	}

	var req dto.SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if err := dto.Validate(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	value, err := ton.ParseTON(req.ValueTON)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	body := cell.BeginCell().EndCell()
	if req.BodyBOC != "" {
		raw, err := base64.StdEncoding.DecodeString(req.BodyBOC)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "body_boc is not base64"})
		}
		if body, err = cell.FromBOC(raw); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid body_boc: " + err.Error()})
		}
	}

	sender, err := ton.RawToAddress(middleware.GetAddress(c))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "invalid token address"})
	}

	bounce := req.Bounce == nil || *req.Bounce
	delivery, err := h.settlement.Deliver(c.Context(), unit, services.Envelope{
		Sender: sender,
		Value:  value,
		Body:   body,
		Bounce: bounce,
		Source: services.SourceAPI,
	})
	if delivery == nil {
		return h.fail(c, err)
	}

	resp := dto.DeliveryResponse{
		Op:       delivery.Op,
		ExitCode: delivery.ExitCode,
		Status:   delivery.Unit.Status,
		Returned: delivery.Returned,
		Reason:   delivery.Reason,
		Outbound: make([]dto.OutMessageResponse, 0, len(delivery.Outbound)),
		Deal:     delivery.Unit,
	}
	for _, m := range delivery.Outbound {
		resp.Outbound = append(resp.Outbound, dto.OutMessageResponse{
			Op:          m.OpName,
			Destination: m.Destination,
			ValueNano:   m.ValueNano,
			SendMode:    m.SendMode,
			BodyBOC:     m.BodyBOC,
		})
	}
	if err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(resp)
	}
	return c.JSON(resp)
}

func (h *DealHandler) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrUnitNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "deal not found"})
	case errors.Is(err, services.ErrUnitExists):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, services.ErrDuplicateMessage),
		errors.Is(err, services.ErrStaleClock),
		errors.Is(err, services.ErrCustodyMismatch):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, escrow.ErrInvalidDeal):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	var exit *escrow.ExitError
	if errors.As(err, &exit) {
		code := exit.Code
		return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.ErrorResponse{Error: err.Error(), ExitCode: &code})
	}

	h.log.Error("deal request failed", zap.String("path", c.Path()), zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
}
