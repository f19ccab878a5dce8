package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Trade is the settlement record of one leg of a cycle.
type Trade struct {
	gorm.Model
	CycleID        string          `gorm:"index;not null" json:"cycle_id"`
	Venue          string          `json:"venue"`
	Kind           string          `json:"kind"`
	Symbol         string          `json:"symbol"`
	Type           string          `json:"type"` // "BUY" or "SELL"
	Status         string          `json:"status"`
	Price          decimal.Decimal `gorm:"type:text" json:"price"`
	Quantity       decimal.Decimal `gorm:"type:text" json:"quantity"`
	FilledQuantity decimal.Decimal `gorm:"type:text" json:"filled_quantity"`
	QuoteQuantity  decimal.Decimal `gorm:"type:text" json:"quote_quantity"`
	MinOut         decimal.Decimal `gorm:"type:text" json:"min_out"`
	Reference      string          `json:"reference,omitempty"`
	Error          string          `json:"error,omitempty"`
	Timestamp      int64           `json:"timestamp"`
	IsSimulation   bool            `json:"is_simulation"`
}
