package service

import (
	"errors"

	"storefront/internal/payment"
	"storefront/internal/repository"
)

// Error taxonomy. Callers wrap these with fmt.Errorf("%w: ...") to add detail
// and classify with errors.Is or Code.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrEmptyOrder        = errors.New("order has no items")
	ErrProductNotFound   = errors.New("product not found")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrInvalidAddress    = errors.New("invalid shipping address")
	ErrInsufficientStock = repository.ErrInsufficientStock
	ErrOrderNotFound     = errors.New("order not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidSignature  = payment.ErrInvalidSignature
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrGatewayError      = payment.ErrGateway
)

// Taxonomy codes as exposed to clients.
const (
	CodeInvalidInput      = "InvalidInput"
	CodeEmptyOrder        = "EmptyOrder"
	CodeProductNotFound   = "ProductNotFound"
	CodeInvalidQuantity   = "InvalidQuantity"
	CodeInvalidAddress    = "InvalidAddress"
	CodeInsufficientStock = "InsufficientStock"
	CodeOrderNotFound     = "OrderNotFound"
	CodeForbidden         = "Forbidden"
	CodeInvalidSignature  = "InvalidSignature"
	CodeInvalidTransition = "InvalidTransition"
	CodeGatewayError      = "GatewayError"
	CodeInternal          = "Internal"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrEmptyOrder, CodeEmptyOrder},
	{ErrProductNotFound, CodeProductNotFound},
	{ErrInvalidQuantity, CodeInvalidQuantity},
	{ErrInvalidAddress, CodeInvalidAddress},
	{ErrInsufficientStock, CodeInsufficientStock},
	{ErrOrderNotFound, CodeOrderNotFound},
	{ErrForbidden, CodeForbidden},
	{ErrInvalidSignature, CodeInvalidSignature},
	{ErrInvalidTransition, CodeInvalidTransition},
	{ErrGatewayError, CodeGatewayError},
	{ErrInvalidInput, CodeInvalidInput},
}

// Code returns the taxonomy code of err, or CodeInternal.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}
