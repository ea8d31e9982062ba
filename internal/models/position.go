package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	DirectionLong  = "long"
	DirectionShort = "short"

	PositionOpen   = "open"
	PositionClosed = "closed"
)

// Position is one leveraged paper-trading exposure. It stores a copy of the
// entry price and leverage factor at open time so later price refreshes or
// instrument reconfiguration never alter an existing position's basis.
type Position struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	AccountID uint64 `gorm:"not null;index;index:idx_positions_account_status,priority:1"`

	Ticker    string `gorm:"type:varchar(20);not null;index"`
	Direction string `gorm:"type:varchar(10);not null"`

	EntryPrice     decimal.Decimal `gorm:"type:numeric(20,10);not null"`
	LeverageFactor decimal.Decimal `gorm:"type:numeric(10,4);not null"`

	// NotionalOpened is the leveraged dollar exposure at open;
	// MarginReserved is the balance debited for it (notional / leverage).
	NotionalOpened decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	MarginReserved decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	// RemainingNotional decreases on each partial close; zero means closed.
	RemainingNotional decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	// RealizedPnL accumulates over partial closes.
	RealizedPnL decimal.Decimal `gorm:"column:realized_pnl;type:numeric(30,10);not null;default:0"`

	Status   string     `gorm:"type:varchar(20);not null;default:'open';index:idx_positions_account_status,priority:2;index"`
	OpenedAt time.Time  `gorm:"type:timestamptz;not null"`
	ClosedAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Position) TableName() string {
	return "positions"
}
