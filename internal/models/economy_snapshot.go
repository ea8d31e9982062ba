package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EconomySnapshot is a periodic aggregate of the whole economy, written by a
// cron job and served by the stats endpoint.
type EconomySnapshot struct {
	ID      uint64    `gorm:"primaryKey;autoIncrement"`
	TakenAt time.Time `gorm:"type:timestamptz;not null;uniqueIndex"`

	AccountCount      int64 `gorm:"not null"`
	OpenPositionCount int64 `gorm:"not null"`

	TotalCurrency decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	OpenNotional  decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	OpenMargin    decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (EconomySnapshot) TableName() string {
	return "economy_snapshots"
}
