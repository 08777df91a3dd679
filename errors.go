package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Ledger error taxonomy. NotFound covers rows that do not exist or belong to
// another user; the insufficiency errors are business-rule rejections that a
// client must not blindly retry.
var (
	ErrNotFound             = errors.New("not found")
	ErrBudgetWalletMismatch = errors.New("budget is linked to a different wallet")
)

// Labels used in the JSON error field, matched by clients.
const (
	labelInsufficientFunds  = "Insufficient funds"
	labelInsufficientBudget = "Insufficient budget"
)

// InsufficientError is returned when an operation would overdraw a wallet
// (budget allocation) or a budget (linked expense). The message always names
// both the available and the requested amount.
type InsufficientError struct {
	Label     string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("%s: available %s, requested %s", e.Label, e.Available.String(), e.Requested.String())
}

func insufficientFunds(available, requested decimal.Decimal) error {
	return &InsufficientError{Label: labelInsufficientFunds, Available: available, Requested: requested}
}

func insufficientBudget(available, requested decimal.Decimal) error {
	return &InsufficientError{Label: labelInsufficientBudget, Available: available, Requested: requested}
}

// respondLedgerError maps a ledger error onto the HTTP surface.
func respondLedgerError(c *gin.Context, err error) {
	var insuf *InsufficientError
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &insuf):
		c.JSON(http.StatusBadRequest, gin.H{"error": insuf.Label, "message": insuf.Error()})
	case errors.Is(err, ErrBudgetWalletMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
