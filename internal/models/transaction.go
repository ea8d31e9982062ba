package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	KindDaily      = "daily"
	KindDonation   = "donation"
	KindGamble     = "gamble"
	KindTradeOpen  = "trade_open"
	KindTradeClose = "trade_close"
	KindAdmin      = "admin"
)

// Transaction is the append-only audit record written on every balance
// change. Rows are never updated or deleted.
type Transaction struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	AccountID uint64 `gorm:"not null;index;index:idx_transactions_account_time,priority:1"`

	// Amount is the signed delta applied to the balance.
	Amount decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Kind   string          `gorm:"type:varchar(20);not null;index"`

	// ResultingBalance is the balance immediately after this delta committed.
	ResultingBalance decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	RelatedPositionID *uint64 `gorm:"index"`

	// TransferID correlates the two legs of a donation.
	TransferID *string `gorm:"type:varchar(40);index"`

	// Detail carries operation-specific context, e.g. a game outcome payload
	// or the donation counterparty.
	Detail datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index:idx_transactions_account_time,priority:2"`
}

func (Transaction) TableName() string {
	return "transactions"
}
