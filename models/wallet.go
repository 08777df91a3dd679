package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet holds a running balance for one user. The balance is never
// recomputed from transaction history: every mutation is a relative delta
// applied by the ledger alongside exactly one transaction or budget
// operation.
type Wallet struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	UserID    uint            `gorm:"index;not null" json:"userId"`
	Name      string          `gorm:"size:255;not null" json:"name"`
	Balance   decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance"`
	Currency  string          `gorm:"size:8;not null;default:IDR" json:"currency"`
	IsActive  bool            `gorm:"default:true;not null" json:"isActive"`
}
