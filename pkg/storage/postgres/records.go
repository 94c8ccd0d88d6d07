package postgres

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderRecord is one journaled order submission.
type OrderRecord struct {
	ID uint `gorm:"primaryKey"`

	// unique index
	ClientOrderID string `gorm:"type:varchar(64);not null;uniqueIndex:idx_order_client_order_id"`

	Symbol   string          `gorm:"type:text;not null;index:idx_order_symbol"`
	Side     string          `gorm:"type:varchar(4);not null"`
	Quantity decimal.Decimal `gorm:"type:numeric;not null"`
	Price    decimal.Decimal `gorm:"type:numeric;not null"`

	OrderID   int64  `gorm:"index:idx_order_exchange_id"`
	Status    string `gorm:"type:varchar(32)"`
	ErrorCode int
	Error     string `gorm:"type:text"`
	Adjusted  bool   `gorm:"not null"`

	SubmittedAt time.Time `gorm:"not null;index:idx_order_submitted_at"`
	RecordedAt  time.Time `gorm:"autoCreateTime"`
}

// TableName overrides the default table name for GORM.
func (OrderRecord) TableName() string {
	return "order_record"
}

// CancelRecord is one journaled cancel-all attempt.
type CancelRecord struct {
	ID uint `gorm:"primaryKey"`

	Symbol      string `gorm:"type:text;not null;index:idx_cancel_symbol"`
	Submissions int    `gorm:"not null"`
	Code        int
	Msg         string `gorm:"type:text"`
	Error       string `gorm:"type:text"`

	RequestedAt time.Time `gorm:"not null;index:idx_cancel_requested_at"`
	RecordedAt  time.Time `gorm:"autoCreateTime"`
}

func (CancelRecord) TableName() string {
	return "cancel_record"
}
