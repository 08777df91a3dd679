package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types.
const (
	TypeIncome  = "income"
	TypeExpense = "expense"
)

// Transaction is a single committed wallet movement. A committed row has
// applied exactly one directional effect to its wallet (income +, expense -)
// and, when BudgetID is set, a mirrored effect on that budget's remaining
// amount. BudgetID is nulled out when the referenced budget is deleted.
type Transaction struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	UserID     uint            `gorm:"index;not null" json:"userId"`
	WalletID   uint            `gorm:"index;not null" json:"walletId"`
	CategoryID *uint           `gorm:"index" json:"categoryId,omitempty"`
	BudgetID   *uint           `gorm:"index" json:"budgetId,omitempty"`
	Type       string          `gorm:"size:16;not null" json:"type"` // income / expense
	Amount     decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Date       time.Time       `gorm:"index;not null" json:"date"`
	Note       string          `gorm:"size:255" json:"note,omitempty"`
	// ClientLocalID carries the client-generated queue identifier for
	// submissions replayed from an offline outbox. Unique so a duplicate
	// delivery of the same entry cannot commit twice.
	ClientLocalID *string `gorm:"size:64;uniqueIndex" json:"localId,omitempty"`
}
