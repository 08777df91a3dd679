package main

import (
	"fmt"
	"time"

	"github.com/mufa2906/uangku/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// The ledger is the only code allowed to touch wallet balances and budget
// remaining amounts. Every mutation here is a relative SQL increment, never a
// read-modify-write, and every caller wraps the full operation in a single
// db.Transaction so a wallet delta can never commit without its mirrored
// budget delta.

type transactionInput struct {
	WalletID      uint
	CategoryID    *uint
	BudgetID      *uint
	Type          string
	Amount        decimal.Decimal
	Date          time.Time
	Note          string
	ClientLocalID *string
}

type transactionPatch struct {
	WalletID   *uint
	CategoryID *uint
	BudgetID   *uint
	Type       *string
	Amount     *decimal.Decimal
	Date       *time.Time
	Note       *string
}

type budgetInput struct {
	WalletID        uint
	CategoryID      *uint
	Name            string
	AllocatedAmount decimal.Decimal
	Period          string
	StartDate       time.Time
	EndDate         time.Time
}

type budgetPatch struct {
	WalletID        *uint
	CategoryID      *uint
	Name            *string
	AllocatedAmount *decimal.Decimal
	Period          *string
	StartDate       *time.Time
	EndDate         *time.Time
	IsActive        *bool
}

// signedAmount is the wallet-facing delta of a transaction: income adds,
// expense subtracts. The budget-facing delta is identical (mirrored effect).
func signedAmount(txType string, amount decimal.Decimal) decimal.Decimal {
	if txType == models.TypeExpense {
		return amount.Neg()
	}
	return amount
}

// ---------- row lookups (ownership-scoped) ----------

func findWallet(tx *gorm.DB, userID, id uint) (*models.Wallet, error) {
	var w models.Wallet
	if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&w).Error; err != nil {
		return nil, fmt.Errorf("wallet %w", ErrNotFound)
	}
	return &w, nil
}

func findCategory(tx *gorm.DB, userID, id uint) (*models.Category, error) {
	var c models.Category
	if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&c).Error; err != nil {
		return nil, fmt.Errorf("category %w", ErrNotFound)
	}
	return &c, nil
}

func findBudget(tx *gorm.DB, userID, id uint) (*models.Budget, error) {
	var b models.Budget
	if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&b).Error; err != nil {
		return nil, fmt.Errorf("budget %w", ErrNotFound)
	}
	return &b, nil
}

func findTransaction(tx *gorm.DB, userID, id uint) (*models.Transaction, error) {
	var t models.Transaction
	if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&t).Error; err != nil {
		return nil, fmt.Errorf("transaction %w", ErrNotFound)
	}
	return &t, nil
}

// ---------- atomic delta application ----------

func applyWalletDelta(tx *gorm.DB, walletID uint, delta decimal.Decimal) error {
	return tx.Model(&models.Wallet{}).Where("id = ?", walletID).
		Update("balance", gorm.Expr("balance + ?", delta)).Error
}

// debitWalletGuarded subtracts amount only when the balance covers it. The
// condition and the decrement are one statement, so two concurrent debits
// cannot both pass on the same funds.
func debitWalletGuarded(tx *gorm.DB, walletID uint, amount decimal.Decimal) (bool, error) {
	res := tx.Model(&models.Wallet{}).Where("id = ? AND balance >= ?", walletID, amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	return res.RowsAffected > 0, res.Error
}

func applyBudgetDelta(tx *gorm.DB, budgetID uint, delta decimal.Decimal) error {
	return tx.Model(&models.Budget{}).Where("id = ?", budgetID).
		Update("remaining_amount", gorm.Expr("remaining_amount + ?", delta)).Error
}

func debitBudgetGuarded(tx *gorm.DB, budgetID uint, amount decimal.Decimal) (bool, error) {
	res := tx.Model(&models.Budget{}).Where("id = ? AND remaining_amount >= ?", budgetID, amount).
		Update("remaining_amount", gorm.Expr("remaining_amount - ?", amount))
	return res.RowsAffected > 0, res.Error
}

// applyTransactionEffect commits the directional effect of t: the wallet
// delta plus, when linked, the mirrored budget delta. The expense path goes
// through the guarded debit so a concurrent spender cannot overdraw the
// budget between validation and commit.
func applyTransactionEffect(tx *gorm.DB, t *models.Transaction) error {
	if err := applyWalletDelta(tx, t.WalletID, signedAmount(t.Type, t.Amount)); err != nil {
		return err
	}
	if t.BudgetID == nil {
		return nil
	}
	if t.Type == models.TypeExpense {
		ok, err := debitBudgetGuarded(tx, *t.BudgetID, t.Amount)
		if err != nil {
			return err
		}
		if !ok {
			var b models.Budget
			if err := tx.First(&b, *t.BudgetID).Error; err != nil {
				return err
			}
			return insufficientBudget(b.RemainingAmount, t.Amount)
		}
		return nil
	}
	return applyBudgetDelta(tx, *t.BudgetID, t.Amount)
}

// reverseTransactionEffect undoes applyTransactionEffect exactly: the same
// deltas with flipped sign, on both the wallet and the linked budget.
func reverseTransactionEffect(tx *gorm.DB, t *models.Transaction) error {
	rev := signedAmount(t.Type, t.Amount).Neg()
	if err := applyWalletDelta(tx, t.WalletID, rev); err != nil {
		return err
	}
	if t.BudgetID != nil {
		return applyBudgetDelta(tx, *t.BudgetID, rev)
	}
	return nil
}

// validateTransactionRefs checks ownership of every referenced row and, for a
// budget-linked entry, the wallet linkage and expense sufficiency. Used by
// both create and update; updates re-validate on purpose so a reversal plus
// reapply can never sneak past the budget guard.
func validateTransactionRefs(tx *gorm.DB, userID uint, in transactionInput) error {
	if _, err := findWallet(tx, userID, in.WalletID); err != nil {
		return err
	}
	if in.CategoryID != nil {
		if _, err := findCategory(tx, userID, *in.CategoryID); err != nil {
			return err
		}
	}
	if in.BudgetID != nil {
		b, err := findBudget(tx, userID, *in.BudgetID)
		if err != nil {
			return err
		}
		if b.WalletID != in.WalletID {
			return ErrBudgetWalletMismatch
		}
		if in.Type == models.TypeExpense && in.Amount.GreaterThan(b.RemainingAmount) {
			return insufficientBudget(b.RemainingAmount, in.Amount)
		}
	}
	return nil
}

// ---------- transaction operations ----------

func createTransaction(tx *gorm.DB, userID uint, in transactionInput) (*models.Transaction, error) {
	if err := validateTransactionRefs(tx, userID, in); err != nil {
		return nil, err
	}
	t := &models.Transaction{
		UserID:        userID,
		WalletID:      in.WalletID,
		CategoryID:    in.CategoryID,
		BudgetID:      in.BudgetID,
		Type:          in.Type,
		Amount:        in.Amount,
		Date:          in.Date,
		Note:          in.Note,
		ClientLocalID: in.ClientLocalID,
	}
	if err := tx.Create(t).Error; err != nil {
		return nil, err
	}
	if err := applyTransactionEffect(tx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func updateTransaction(tx *gorm.DB, userID, id uint, patch transactionPatch) (*models.Transaction, error) {
	t, err := findTransaction(tx, userID, id)
	if err != nil {
		return nil, err
	}
	// reverse the committed effect first so validation and reapply see the
	// wallet and budget as if this transaction never happened
	if err := reverseTransactionEffect(tx, t); err != nil {
		return nil, err
	}
	if patch.WalletID != nil {
		t.WalletID = *patch.WalletID
	}
	if patch.CategoryID != nil {
		t.CategoryID = patch.CategoryID
	}
	if patch.BudgetID != nil {
		t.BudgetID = patch.BudgetID
	}
	if patch.Type != nil {
		t.Type = *patch.Type
	}
	if patch.Amount != nil {
		t.Amount = *patch.Amount
	}
	if patch.Date != nil {
		t.Date = *patch.Date
	}
	if patch.Note != nil {
		t.Note = *patch.Note
	}
	next := transactionInput{
		WalletID:   t.WalletID,
		CategoryID: t.CategoryID,
		BudgetID:   t.BudgetID,
		Type:       t.Type,
		Amount:     t.Amount,
	}
	if err := validateTransactionRefs(tx, userID, next); err != nil {
		return nil, err
	}
	if err := tx.Model(t).Updates(map[string]interface{}{
		"wallet_id":   t.WalletID,
		"category_id": t.CategoryID,
		"budget_id":   t.BudgetID,
		"type":        t.Type,
		"amount":      t.Amount,
		"date":        t.Date,
		"note":        t.Note,
	}).Error; err != nil {
		return nil, err
	}
	if err := applyTransactionEffect(tx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func deleteTransaction(tx *gorm.DB, userID, id uint) error {
	t, err := findTransaction(tx, userID, id)
	if err != nil {
		return err
	}
	if err := reverseTransactionEffect(tx, t); err != nil {
		return err
	}
	return tx.Delete(&models.Transaction{}, t.ID).Error
}

// ---------- budget operations ----------

func createBudget(tx *gorm.DB, userID uint, in budgetInput) (*models.Budget, error) {
	wallet, err := findWallet(tx, userID, in.WalletID)
	if err != nil {
		return nil, err
	}
	if in.CategoryID != nil {
		if _, err := findCategory(tx, userID, *in.CategoryID); err != nil {
			return nil, err
		}
	}
	if in.AllocatedAmount.GreaterThan(wallet.Balance) {
		return nil, insufficientFunds(wallet.Balance, in.AllocatedAmount)
	}
	ok, err := debitWalletGuarded(tx, wallet.ID, in.AllocatedAmount)
	if err != nil {
		return nil, err
	}
	if !ok {
		// lost a race with a concurrent debit; re-read for the message
		fresh, ferr := findWallet(tx, userID, in.WalletID)
		if ferr != nil {
			return nil, ferr
		}
		return nil, insufficientFunds(fresh.Balance, in.AllocatedAmount)
	}
	b := &models.Budget{
		UserID:          userID,
		WalletID:        in.WalletID,
		CategoryID:      in.CategoryID,
		Name:            in.Name,
		AllocatedAmount: in.AllocatedAmount,
		RemainingAmount: in.AllocatedAmount,
		Period:          in.Period,
		StartDate:       in.StartDate,
		EndDate:         in.EndDate,
		IsActive:        true,
	}
	if err := tx.Create(b).Error; err != nil {
		return nil, err
	}
	return b, nil
}

func updateBudget(tx *gorm.DB, userID, id uint, patch budgetPatch) (*models.Budget, error) {
	b, err := findBudget(tx, userID, id)
	if err != nil {
		return nil, err
	}
	newWalletID := b.WalletID
	if patch.WalletID != nil {
		newWalletID = *patch.WalletID
	}
	newAlloc := b.AllocatedAmount
	if patch.AllocatedAmount != nil {
		newAlloc = *patch.AllocatedAmount
	}

	switch {
	case newWalletID != b.WalletID:
		wallet, err := findWallet(tx, userID, newWalletID)
		if err != nil {
			return nil, err
		}
		// return the old allocation to the old wallet, then deduct the new
		// allocation from the new wallet; rollback undoes both on failure
		if err := applyWalletDelta(tx, b.WalletID, b.AllocatedAmount); err != nil {
			return nil, err
		}
		ok, err := debitWalletGuarded(tx, newWalletID, newAlloc)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, insufficientFunds(wallet.Balance, newAlloc)
		}
	case !newAlloc.Equal(b.AllocatedAmount):
		delta := newAlloc.Sub(b.AllocatedAmount)
		if delta.IsPositive() {
			ok, err := debitWalletGuarded(tx, b.WalletID, delta)
			if err != nil {
				return nil, err
			}
			if !ok {
				wallet, ferr := findWallet(tx, userID, b.WalletID)
				if ferr != nil {
					return nil, ferr
				}
				return nil, insufficientFunds(wallet.Balance, delta)
			}
		} else if err := applyWalletDelta(tx, b.WalletID, delta.Neg()); err != nil {
			return nil, err
		}
	}

	updates := map[string]interface{}{}
	if newWalletID != b.WalletID {
		updates["wallet_id"] = newWalletID
	}
	if !newAlloc.Equal(b.AllocatedAmount) {
		// remaining moves by the same delta, preserving whatever had
		// already been spent
		updates["allocated_amount"] = newAlloc
		updates["remaining_amount"] = gorm.Expr("remaining_amount + ?", newAlloc.Sub(b.AllocatedAmount))
	}
	if patch.CategoryID != nil {
		if _, err := findCategory(tx, userID, *patch.CategoryID); err != nil {
			return nil, err
		}
		updates["category_id"] = *patch.CategoryID
	}
	if patch.Name != nil {
		updates["name"] = *patch.Name
	}
	if patch.Period != nil {
		updates["period"] = *patch.Period
	}
	if patch.StartDate != nil {
		updates["start_date"] = *patch.StartDate
	}
	if patch.EndDate != nil {
		updates["end_date"] = *patch.EndDate
	}
	if patch.IsActive != nil {
		updates["is_active"] = *patch.IsActive
	}
	if len(updates) > 0 {
		if err := tx.Model(&models.Budget{}).Where("id = ?", b.ID).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return findBudget(tx, userID, id)
}

func deleteBudget(tx *gorm.DB, userID, id uint) error {
	b, err := findBudget(tx, userID, id)
	if err != nil {
		return err
	}
	// the full allocation flows back; spent amounts already left the wallet
	// when their transactions were applied
	if err := applyWalletDelta(tx, b.WalletID, b.AllocatedAmount); err != nil {
		return err
	}
	// the schema cannot rely on a cascading SET NULL across drivers, so null
	// out dangling references explicitly
	if err := tx.Model(&models.Transaction{}).Where("budget_id = ?", b.ID).
		Update("budget_id", nil).Error; err != nil {
		return err
	}
	return tx.Delete(&models.Budget{}, b.ID).Error
}
