package postgres

import (
	"context"
	"fmt"

	"fapitrader/pkg/storage"

	"gorm.io/gorm/clause"
)

var _ storage.Journal = (*PostgresClient)(nil)

func (p *PostgresClient) RecordOrder(ctx context.Context, entry storage.OrderEntry) error {
	record := ToOrderRecord(entry)
	tx := p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "client_order_id"}},
		DoNothing: true,
	}).Create(record)

	if tx.Error != nil {
		return tx.Error
	}

	if tx.RowsAffected == 0 {
		return fmt.Errorf("duplicate order skipped: client_order_id=%s", record.ClientOrderID)
	}

	return nil
}

func (p *PostgresClient) RecordCancel(ctx context.Context, entry storage.CancelEntry) error {
	return p.DB.WithContext(ctx).Create(ToCancelRecord(entry)).Error
}

// ToOrderRecord converts a journal entry into an OrderRecord for DB insertion.
func ToOrderRecord(e storage.OrderEntry) *OrderRecord {
	return &OrderRecord{
		ClientOrderID: e.ClientOrderID,
		Symbol:        e.Symbol,
		Side:          e.Side,
		Quantity:      e.Quantity,
		Price:         e.Price,
		OrderID:       e.OrderID,
		Status:        e.Status,
		ErrorCode:     e.ErrorCode,
		Error:         e.Error,
		Adjusted:      e.Adjusted,
		SubmittedAt:   e.SubmittedAt.UTC(),
	}
}

func ToCancelRecord(e storage.CancelEntry) *CancelRecord {
	return &CancelRecord{
		Symbol:      e.Symbol,
		Submissions: e.Submissions,
		Code:        e.Code,
		Msg:         e.Msg,
		Error:       e.Error,
		RequestedAt: e.RequestedAt.UTC(),
	}
}
