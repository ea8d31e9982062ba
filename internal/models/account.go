package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ReminderOnce   = "once"
	ReminderAlways = "always"
	ReminderNever  = "never"
)

// Account is one member's wallet inside one community. Created lazily on the
// first economic interaction and never deleted.
type Account struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	GuildID string `gorm:"type:varchar(64);not null;uniqueIndex:idx_accounts_guild_user,priority:1"`
	UserID  string `gorm:"type:varchar(64);not null;uniqueIndex:idx_accounts_guild_user,priority:2"`

	// Balance never goes below zero; every debit is a guarded conditional
	// update, not a read-modify-write.
	Balance decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	LastDailyClaimAt   *time.Time `gorm:"type:timestamptz"`
	ReminderPreference string     `gorm:"type:varchar(10);not null;default:'never'"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Account) TableName() string {
	return "accounts"
}

// Key returns the serialization key used by the transaction coordinator.
func (a *Account) Key() string {
	return a.GuildID + "/" + a.UserID
}
