package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Budget reserves AllocatedAmount from exactly one source wallet at creation
// time. RemainingAmount starts equal to AllocatedAmount, shrinks on linked
// expenses and grows on linked incomes; deleting the budget returns the
// allocation to the wallet.
type Budget struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	UserID          uint            `gorm:"index;not null" json:"userId"`
	WalletID        uint            `gorm:"index;not null" json:"walletId"`
	CategoryID      *uint           `gorm:"index" json:"categoryId,omitempty"`
	Name            string          `gorm:"size:255;not null" json:"name"`
	AllocatedAmount decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"allocatedAmount"`
	RemainingAmount decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"remainingAmount"`
	Period          string          `gorm:"size:16;not null;default:monthly" json:"period"` // weekly / monthly / yearly
	StartDate       time.Time       `json:"startDate"`
	EndDate         time.Time       `json:"endDate"`
	IsActive        bool            `gorm:"default:true;not null" json:"isActive"`
}
