package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Cycle is one evaluation cycle that produced a trade plan.
type Cycle struct {
	gorm.Model
	CycleID      string          `gorm:"uniqueIndex;not null" json:"cycle_id"`
	Pair         string          `gorm:"index" json:"pair"`
	Direction    string          `json:"direction"`
	Status       string          `json:"status"`
	DexPrice     decimal.Decimal `gorm:"type:text" json:"dex_price"`
	CexPrice     decimal.Decimal `gorm:"type:text" json:"cex_price"`
	Spread       decimal.Decimal `gorm:"type:text" json:"spread"`
	Quantity     decimal.Decimal `gorm:"type:text" json:"quantity"`
	Slippage     decimal.Decimal `gorm:"type:text" json:"slippage"`
	IsSimulation bool            `json:"is_simulation"`
	FullyFilled  bool            `json:"fully_filled"`
	Unbalanced   bool            `gorm:"index" json:"unbalanced"`
	Error        string          `json:"error,omitempty"`
	StartedAt    time.Time       `gorm:"index" json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	Trades       []Trade         `gorm:"foreignKey:CycleID;references:CycleID" json:"trades"`
}
