package actions

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-action-engine/internal/models"
)

// PaymentHandler charges payments and refunds them on rollback.
// The default safety rules keep make_payment blocked.
type PaymentHandler struct {
	gateway  PaymentGateway
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewPaymentHandler constructs the make_payment handler.
func NewPaymentHandler(gateway PaymentGateway, validate *validator.Validate, logger zerolog.Logger) *PaymentHandler {
	return &PaymentHandler{
		gateway:  gateway,
		validate: validate,
		logger:   logger.With().Str("component", "payment_handler").Logger(),
	}
}

func (h *PaymentHandler) Validate(payload PaymentPayload) error {
	return validateStruct(h.validate, models.ActionMakePayment, payload)
}

func (h *PaymentHandler) Execute(ctx context.Context, payload PaymentPayload) (Outcome[PaymentRollback], error) {
	transactionID, err := h.gateway.Charge(ctx, payload)
	if err != nil {
		return Outcome[PaymentRollback]{}, executionFailed(models.ActionMakePayment, "charge", err)
	}

	h.logger.Info().Str("transaction_id", transactionID).Int64("amount", payload.Amount).Str("currency", payload.Currency).Msg("payment charged")

	return Outcome[PaymentRollback]{
		Result: map[string]interface{}{
			"transaction_id": transactionID,
			"amount":         payload.Amount,
			"currency":       payload.Currency,
		},
		Rollback: &PaymentRollback{TransactionID: transactionID, Amount: payload.Amount, Currency: payload.Currency},
	}, nil
}

func (h *PaymentHandler) Rollback(ctx context.Context, data PaymentRollback) error {
	if data.TransactionID == "" {
		return invalid(models.ActionMakePayment, "transaction_id", "missing from rollback data")
	}
	if err := h.gateway.Refund(ctx, data.TransactionID); err != nil {
		return executionFailed(models.ActionMakePayment, "refund", err)
	}
	return nil
}

// PurchaseHandler places orders and cancels them on rollback.
// The default safety rules require KYC for make_purchase.
type PurchaseHandler struct {
	gateway  PaymentGateway
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewPurchaseHandler constructs the make_purchase handler.
func NewPurchaseHandler(gateway PaymentGateway, validate *validator.Validate, logger zerolog.Logger) *PurchaseHandler {
	return &PurchaseHandler{
		gateway:  gateway,
		validate: validate,
		logger:   logger.With().Str("component", "purchase_handler").Logger(),
	}
}

func (h *PurchaseHandler) Validate(payload PurchasePayload) error {
	return validateStruct(h.validate, models.ActionMakePurchase, payload)
}

func (h *PurchaseHandler) Execute(ctx context.Context, payload PurchasePayload) (Outcome[PurchaseRollback], error) {
	if payload.Quantity == 0 {
		payload.Quantity = 1
	}
	orderID, err := h.gateway.Purchase(ctx, payload)
	if err != nil {
		return Outcome[PurchaseRollback]{}, executionFailed(models.ActionMakePurchase, "purchase", err)
	}

	h.logger.Info().Str("order_id", orderID).Str("merchant", payload.Merchant).Msg("purchase placed")

	return Outcome[PurchaseRollback]{
		Result: map[string]interface{}{
			"order_id": orderID,
			"item":     payload.Item,
			"quantity": payload.Quantity,
			"amount":   payload.Amount,
			"currency": payload.Currency,
		},
		Rollback: &PurchaseRollback{OrderID: orderID},
	}, nil
}

func (h *PurchaseHandler) Rollback(ctx context.Context, data PurchaseRollback) error {
	if data.OrderID == "" {
		return invalid(models.ActionMakePurchase, "order_id", "missing from rollback data")
	}
	if err := h.gateway.CancelOrder(ctx, data.OrderID); err != nil {
		return executionFailed(models.ActionMakePurchase, "cancel order", err)
	}
	return nil
}
