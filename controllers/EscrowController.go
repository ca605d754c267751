package controllers

import (
	"errors"
	"time"

	"rei360.com/broker"
	"rei360.com/dto"
	"rei360.com/escrow"
	"rei360.com/middlewares"
	"rei360.com/types"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

type EscrowController struct {
	validator *validator.Validate
	engine    *escrow.Engine
}

func NewEscrowController(engine *escrow.Engine) *EscrowController {
	return &EscrowController{
		validator: validator.New(),
		engine:    engine,
	}
}

type CreateEscrowRequest struct {
	BuyerID           uint   `json:"buyerId" validate:"required,gt=0"`
	SellerID          uint   `json:"sellerId" validate:"required,gt=0"`
	Amount            int64  `json:"amount" validate:"required,gt=0"`
	PropertyReference string `json:"propertyReference" validate:"required"`
	ReleaseEligibleAt string `json:"releaseEligibleAt" validate:"required"`
}

type RecordFundingRequest struct {
	PaymentReference string `json:"paymentReference" validate:"required"`
}

// CreateEscrow godoc
//
//	@Summary		Open a new escrow transaction
//	@Description	Creates a pending escrow between a buyer and a seller for a property. Admin only. Resubmitting the same deal returns the existing record.
//	@Tags			Escrow
//	@Accept			json
//	@Produce		json
//	@Success		201	{object}	types.Response{data=types.Transaction}
//	@Failure		400	{object}	types.Response	"Malformed input"
//	@Failure		403	{object}	types.Response	"Caller is not an admin"
//	@Security		BearerAuth
//	@Router			/escrow [post]
func (c *EscrowController) CreateEscrow(ctx *fiber.Ctx) error {
	var req CreateEscrowRequest
	if err := ctx.BodyParser(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(types.Response{Success: false, Error: "Invalid JSON format"})
	}
	if err := c.validator.Struct(req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(types.Response{Success: false, Error: err.Error()})
	}
	releaseEligibleAt, err := time.Parse(time.RFC3339, req.ReleaseEligibleAt)
	if err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(types.Response{Success: false, Error: "Invalid releaseEligibleAt, expected RFC3339"})
	}

	actor := middlewares.ActorFromLocals(ctx)
	tx, err := c.engine.CreateTransaction(actor, req.BuyerID, req.SellerID, req.Amount, req.PropertyReference, releaseEligibleAt)
	if err != nil {
		var dup *escrow.DuplicateError
		if errors.As(err, &dup) {
			// Idempotent creation: hand back the record that already exists.
			existing, getErr := c.engine.GetTransaction(dup.ID)
			if getErr != nil {
				return escrowError(ctx, getErr)
			}
			return ctx.Status(fiber.StatusOK).JSON(types.Response{Success: true, Data: existing})
		}
		return escrowError(ctx, err)
	}

	return ctx.Status(fiber.StatusCreated).JSON(types.Response{Success: true, Data: tx})
}

// RecordFunding godoc
//
//	@Summary		Record a confirmed deposit
//	@Description	Marks the escrow funded after the payment capture service confirms receipt. Legal only from pending.
//	@Tags			Escrow
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	types.Response{data=types.Transaction}
//	@Failure		409	{object}	types.Response	"Already funded or otherwise illegal"
//	@Security		BearerAuth
//	@Router			/escrow/{id}/funding [post]
func (c *EscrowController) RecordFunding(ctx *fiber.Ctx) error {
	var req RecordFundingRequest
	if err := ctx.BodyParser(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(types.Response{Success: false, Error: "Invalid JSON format"})
	}
	if err := c.validator.Struct(req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(types.Response{Success: false, Error: err.Error()})
	}

	actor := middlewares.ActorFromLocals(ctx)
	tx, err := c.engine.RecordFunding(ctx.UserContext(), ctx.Params("id"), actor, req.PaymentReference)
	if err != nil {
		return escrowError(ctx, err)
	}
	return ctx.JSON(types.Response{Success: true, Data: tx})
}

// Approve godoc
//
//	@Summary		Approve the transaction as buyer or seller
//	@Description	Records the caller's approval. Re-approving is a no-op returning the current state. Both approvals make the escrow ready for release.
//	@Tags			Escrow
//	@Produce		json
//	@Success		200	{object}	types.Response{data=types.Transaction}
//	@Security		BearerAuth
//	@Router			/escrow/{id}/approve [put]
func (c *EscrowController) Approve(ctx *fiber.Ctx) error {
	actor := middlewares.ActorFromLocals(ctx)
	tx, err := c.engine.Approve(ctx.UserContext(), ctx.Params("id"), actor)
	if err != nil {
		return escrowError(ctx, err)
	}
	return ctx.JSON(types.Response{Success: true, Data: tx})
}

// Release godoc
//
//	@Summary		Release the escrowed funds
//	@Description	Disburses the seller payout and the platform fee. Requires both approvals and the eligibility timestamp to have passed.
//	@Tags			Escrow
//	@Produce		json
//	@Success		200	{object}	types.Response{data=types.Transaction}
//	@Failure		425	{object}	types.Response	"Not eligible yet"
//	@Security		BearerAuth
//	@Router			/escrow/{id}/release [put]
func (c *EscrowController) Release(ctx *fiber.Ctx) error {
	actor := middlewares.ActorFromLocals(ctx)
	tx, err := c.engine.Release(ctx.UserContext(), ctx.Params("id"), actor)
	if err != nil {
		return escrowError(ctx, err)
	}

	if tx.DisbursementReference == escrow.PendingReconciliation {
		notifyReconcile(tx)
	} else if err := broker.SendEscrowDisbursed(&dto.EscrowDisbursedDTO{
		TransactionID: tx.ID,
		ReceiptID:     tx.DisbursementReference,
		Amount:        tx.Amount,
		PlatformFee:   tx.PlatformFee,
		SellerPayout:  tx.SellerPayout,
	}); err != nil {
		log.Warnf("failed to publish disbursed event for %s: %v", tx.ID, err)
	}

	return ctx.JSON(types.Response{Success: true, Data: tx})
}

// Refund godoc
//
//	@Summary		Refund the full amount to the buyer
//	@Description	Admin-only. Legal from funded, in-progress or disputed.
//	@Tags			Escrow
//	@Produce		json
//	@Success		200	{object}	types.Response{data=types.Transaction}
//	@Failure		403	{object}	types.Response	"Caller is not an admin"
//	@Security		BearerAuth
//	@Router			/escrow/{id}/refund [put]
func (c *EscrowController) Refund(ctx *fiber.Ctx) error {
	actor := middlewares.ActorFromLocals(ctx)
	tx, err := c.engine.Refund(ctx.UserContext(), ctx.Params("id"), actor)
	if err != nil {
		return escrowError(ctx, err)
	}

	if tx.DisbursementReference == escrow.PendingReconciliation {
		notifyReconcile(tx)
	} else if err := broker.SendEscrowRefunded(&dto.EscrowRefundedDTO{
		TransactionID: tx.ID,
		ReceiptID:     tx.DisbursementReference,
		Amount:        tx.Amount,
	}); err != nil {
		log.Warnf("failed to publish refunded event for %s: %v", tx.ID, err)
	}

	return ctx.JSON(types.Response{Success: true, Data: tx})
}

// Dispute godoc
//
//	@Summary		Raise a dispute
//	@Description	Freezes the escrow until an admin refunds or the dispute is withdrawn out of band. Only the transaction's buyer or seller may call it.
//	@Tags			Escrow
//	@Produce		json
//	@Success		200	{object}	types.Response{data=types.Transaction}
//	@Security		BearerAuth
//	@Router			/escrow/{id}/dispute [put]
func (c *EscrowController) Dispute(ctx *fiber.Ctx) error {
	actor := middlewares.ActorFromLocals(ctx)
	tx, err := c.engine.Dispute(ctx.UserContext(), ctx.Params("id"), actor)
	if err != nil {
		return escrowError(ctx, err)
	}
	return ctx.JSON(types.Response{Success: true, Data: tx})
}

// Cancel godoc
//
//	@Summary		Cancel a never-funded escrow
//	@Description	Admin-only. Legal only from pending.
//	@Tags			Escrow
//	@Produce		json
//	@Success		200	{object}	types.Response{data=types.Transaction}
//	@Security		BearerAuth
//	@Router			/escrow/{id}/cancel [put]
func (c *EscrowController) Cancel(ctx *fiber.Ctx) error {
	actor := middlewares.ActorFromLocals(ctx)
	tx, err := c.engine.Cancel(ctx.UserContext(), ctx.Params("id"), actor)
	if err != nil {
		return escrowError(ctx, err)
	}
	return ctx.JSON(types.Response{Success: true, Data: tx})
}

// GetEscrow godoc
//
//	@Summary		Fetch one escrow transaction
//	@Tags			Escrow
//	@Produce		json
//	@Success		200	{object}	types.Response{data=types.Transaction}
//	@Failure		404	{object}	types.Response
//	@Security		BearerAuth
//	@Router			/escrow/{id} [get]
func (c *EscrowController) GetEscrow(ctx *fiber.Ctx) error {
	actor := middlewares.ActorFromLocals(ctx)
	tx, err := c.engine.GetTransaction(ctx.Params("id"))
	if err != nil {
		return escrowError(ctx, err)
	}
	if !canView(actor, tx) {
		return ctx.Status(fiber.StatusForbidden).JSON(types.Response{Success: false, Error: "Not a participant of this transaction"})
	}
	return ctx.JSON(types.Response{Success: true, Data: tx})
}

// ListEscrows godoc
//
//	@Summary		List the caller's escrow transactions
//	@Tags			Escrow
//	@Produce		json
//	@Success		200	{object}	types.Response{data=[]types.Transaction}
//	@Security		BearerAuth
//	@Router			/escrow [get]
func (c *EscrowController) ListEscrows(ctx *fiber.Ctx) error {
	actor := middlewares.ActorFromLocals(ctx)
	txs, err := c.engine.ListForParty(actor.UserID)
	if err != nil {
		return escrowError(ctx, err)
	}
	return ctx.JSON(types.Response{Success: true, Data: txs})
}

// GetAuditTrail godoc
//
//	@Summary		Fetch the audit trail of a transaction
//	@Tags			Escrow
//	@Produce		json
//	@Success		200	{object}	types.Response{data=[]types.AuditEntry}
//	@Failure		404	{object}	types.Response
//	@Security		BearerAuth
//	@Router			/escrow/{id}/audit [get]
func (c *EscrowController) GetAuditTrail(ctx *fiber.Ctx) error {
	actor := middlewares.ActorFromLocals(ctx)
	tx, err := c.engine.GetTransaction(ctx.Params("id"))
	if err != nil {
		return escrowError(ctx, err)
	}
	if !canView(actor, tx) {
		return ctx.Status(fiber.StatusForbidden).JSON(types.Response{Success: false, Error: "Not a participant of this transaction"})
	}

	entries, err := c.engine.AuditTrail(tx.ID)
	if err != nil {
		return escrowError(ctx, err)
	}
	return ctx.JSON(types.Response{Success: true, Data: entries})
}

func canView(actor escrow.Actor, tx *types.Transaction) bool {
	return actor.Admin || actor.UserID == tx.BuyerID || actor.UserID == tx.SellerID
}

func notifyReconcile(tx *types.Transaction) {
	if err := broker.SendEscrowReconcile(&dto.EscrowReconcileDTO{
		TransactionID:  tx.ID,
		IdempotencyKey: escrow.IdempotencyKeyFor(tx),
		Reason:         "rail timeout during disbursement",
	}); err != nil {
		log.Warnf("failed to publish reconcile event for %s: %v", tx.ID, err)
	}
}

// escrowError maps the engine's error taxonomy onto HTTP statuses.
func escrowError(ctx *fiber.Ctx, err error) error {
	var (
		validation   *escrow.ValidationError
		config       *escrow.ConfigurationError
		transition   *escrow.InvalidTransitionError
		unauthorized *escrow.UnauthorizedError
		notEligible  *escrow.NotEligibleYetError
		transfer     *escrow.TransferError
	)

	status := fiber.StatusInternalServerError
	switch {
	case errors.As(err, &validation), errors.As(err, &config):
		status = fiber.StatusBadRequest
	case errors.As(err, &unauthorized):
		status = fiber.StatusForbidden
	case errors.Is(err, escrow.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.As(err, &transition), errors.Is(err, escrow.ErrConflict):
		status = fiber.StatusConflict
	case errors.As(err, &notEligible):
		status = fiber.StatusTooEarly
	case errors.Is(err, escrow.ErrTimeout):
		status = fiber.StatusGatewayTimeout
	case errors.As(err, &transfer):
		status = fiber.StatusBadGateway
	}

	return ctx.Status(status).JSON(types.Response{Success: false, Error: err.Error()})
}

func InitEscrowRoutes(app *fiber.App, engine *escrow.Engine) {
	controller := NewEscrowController(engine)

	group := app.Group("/escrow", middlewares.Auth)
	group.Post("/", middlewares.RequireAdmin, controller.CreateEscrow)
	group.Post("/:id/funding", middlewares.RequireAdmin, controller.RecordFunding)
	group.Put("/:id/approve", controller.Approve)
	group.Put("/:id/release", controller.Release)
	group.Put("/:id/refund", middlewares.RequireAdmin, controller.Refund)
	group.Put("/:id/dispute", controller.Dispute)
	group.Put("/:id/cancel", middlewares.RequireAdmin, controller.Cancel)
	group.Get("/:id/audit", controller.GetAuditTrail)
	group.Get("/:id", controller.GetEscrow)
	group.Get("/", controller.ListEscrows)
}
