// Package outbox is the durable client-side queue of transaction submissions
// made while offline. Entries survive process restarts, migrate between
// backing stores without loss or duplication, and are drained oldest-first by
// the syncer.
package outbox

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// State is the tri-state outcome of an entry. Only pending entries are ever
// retried; failed ones carry a business-rule rejection that blind retry can
// never fix and wait for manual resolution.
type State string

const (
	StatePending State = "pending"
	StateSynced  State = "synced"
	StateFailed  State = "failed"
)

// Draft is the transaction-creation payload captured at enqueue time. It
// mirrors the POST /transactions body.
type Draft struct {
	WalletID   uint            `json:"walletId"`
	CategoryID *uint           `json:"categoryId,omitempty"`
	BudgetID   *uint           `json:"budgetId,omitempty"`
	Type       string          `json:"type"`
	Amount     decimal.Decimal `json:"amount"`
	Date       time.Time       `json:"date"`
	Note       string          `json:"note,omitempty"`
}

// Entry is one queued submission. LocalID is assigned at enqueue time and
// never changes; ServerID arrives once the ledger commits the entry. The two
// identities are kept separate, with the storage key renamed explicitly from
// one to the other.
type Entry struct {
	LocalID    string    `json:"localId"`
	ServerID   string    `json:"serverId,omitempty"`
	Draft      Draft     `json:"draft"`
	CreatedAt  time.Time `json:"createdAt"`
	State      State     `json:"state"`
	FailReason string    `json:"failReason,omitempty"`
}

// Key is the current storage key: the server identity once committed, the
// local identity before that.
func (e Entry) Key() string {
	if e.ServerID != "" {
		return e.ServerID
	}
	return e.LocalID
}

// NewLocalID builds a client-generated identifier that sorts roughly by
// creation time: millisecond timestamp plus a random suffix.
func NewLocalID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}
