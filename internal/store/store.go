// Package store persists hedge/unhedge operations to a relational database
// using GORM. Each operation is one row in hedge_operations: the planned
// targets, running order ids, cumulative filled quantities, a terminal
// status, and an optional back-reference to the unhedge that retired it.
//
// Writes are incremental: CreateHedge inserts the Running row,
// UpdateSpotProgress patches it as fills arrive, and Finalize closes it out
// with a terminal status and an end timestamp. Nothing in this package
// interprets the numbers it stores; that is the executor's job.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"hedgeengine/pkg/types"
)

// Row is the GORM model backing the hedge_operations table. Decimal fields
// round-trip through shopspring/decimal's own Scan/Value, stored as TEXT so
// no precision is lost to a float column type.
type Row struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	ChatID           string `gorm:"index:idx_hedge_ops_lookup;not null"`
	OperationType    string `gorm:"not null"`
	BaseSymbol       string `gorm:"index:idx_hedge_ops_lookup;not null"`
	QuoteCurrency    string `gorm:"not null"`
	InitialSum       decimal.Decimal `gorm:"type:text;not null"`
	Volatility       decimal.Decimal `gorm:"type:text;not null"`
	TargetSpotQty    decimal.Decimal `gorm:"type:text;not null"`
	TargetFuturesQty decimal.Decimal `gorm:"type:text;not null"`
	Status           string          `gorm:"index:idx_hedge_ops_lookup;not null;check:status IN ('Running','Completed','Cancelled','Failed','Interrupted')"`
	SpotOrderID      string
	SpotFilledQty    decimal.Decimal `gorm:"type:text"`
	FuturesOrderID   string
	FuturesFilledQty decimal.Decimal `gorm:"type:text"`
	StartTimestamp   time.Time  `gorm:"not null"`
	EndTimestamp     *time.Time
	ErrorMessage     string
	UnhedgedOpID     int64 `gorm:"default:0"` // 0 means none
}

func (Row) TableName() string {
	return "hedge_operations"
}

// Store is a GORM-backed implementation of the operation store.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if necessary) a SQLite database at path and migrates
// the hedge_operations schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if err := db.AutoMigrate(&Row{}); err != nil {
		return nil, fmt.Errorf("migrate hedge_operations: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// CreateHedge inserts a new Running row for rec and returns the assigned
// operation id.
func (s *Store) CreateHedge(ctx context.Context, rec types.OperationRecord) (int64, error) {
	row := fromRecord(rec)
	row.ID = 0
	row.Status = string(types.StatusRunning)
	row.StartTimestamp = time.Now()
	row.EndTimestamp = nil
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("create hedge operation: %w", err)
	}
	return row.ID, nil
}

// UpdateSpotProgress incrementally records spot-leg fill progress. orderID
// is left untouched when empty, so repeated fill-quantity updates against an
// already-known order id don't need to resend it.
func (s *Store) UpdateSpotProgress(ctx context.Context, id int64, orderID string, filledQty decimal.Decimal) error {
	updates := map[string]any{"spot_filled_qty": filledQty}
	if orderID != "" {
		updates["spot_order_id"] = orderID
	}
	result := s.db.WithContext(ctx).Model(&Row{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("update spot progress for %d: %w", id, result.Error)
	}
	return nil
}

// UpdateFuturesProgress mirrors UpdateSpotProgress for the futures leg.
func (s *Store) UpdateFuturesProgress(ctx context.Context, id int64, orderID string, filledQty decimal.Decimal) error {
	updates := map[string]any{"futures_filled_qty": filledQty}
	if orderID != "" {
		updates["futures_order_id"] = orderID
	}
	result := s.db.WithContext(ctx).Model(&Row{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("update futures progress for %d: %w", id, result.Error)
	}
	return nil
}

// Finalize writes a terminal status with an end timestamp. futuresOrderID
// and errMsg are left/cleared as given; an empty futuresOrderID leaves the
// existing value untouched.
func (s *Store) Finalize(ctx context.Context, id int64, status types.OperationStatus, futuresOrderID string, futuresFilled decimal.Decimal, errMsg string) error {
	now := time.Now()
	updates := map[string]any{
		"status":             string(status),
		"end_timestamp":      &now,
		"futures_filled_qty": futuresFilled,
		"error_message":      errMsg,
	}
	if futuresOrderID != "" {
		updates["futures_order_id"] = futuresOrderID
	}
	result := s.db.WithContext(ctx).Model(&Row{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("finalize operation %d: %w", id, result.Error)
	}
	return nil
}

// MarkUnhedged records that unhedgeOpID is the unhedge operation that retired
// originalID.
func (s *Store) MarkUnhedged(ctx context.Context, originalID, unhedgeOpID int64) error {
	result := s.db.WithContext(ctx).Model(&Row{}).Where("id = ?", originalID).Update("unhedged_op_id", unhedgeOpID)
	if result.Error != nil {
		return fmt.Errorf("mark operation %d unhedged: %w", originalID, result.Error)
	}
	return nil
}

// ByID fetches a single operation, or (nil, nil) if it doesn't exist.
func (s *Store) ByID(ctx context.Context, id int64) (*types.OperationRecord, error) {
	var row Row
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("load operation %d: %w", id, err)
	}
	rec := toRecord(row)
	return &rec, nil
}

// Running returns every operation currently in the Running state, in
// ascending id order.
func (s *Store) Running(ctx context.Context) ([]types.OperationRecord, error) {
	return s.whereRecords(ctx, "status = ?", string(types.StatusRunning))
}

// CompletedUnhedged returns completed hedge operations for chatID that have
// not yet been retired by an unhedge.
func (s *Store) CompletedUnhedged(ctx context.Context, chatID string) ([]types.OperationRecord, error) {
	return s.whereRecords(ctx,
		"chat_id = ? AND operation_type = ? AND status = ? AND unhedged_op_id = 0",
		chatID, string(types.OperationHedge), string(types.StatusCompleted))
}

// CompletedUnhedgedForSymbol narrows CompletedUnhedged to a single base
// symbol.
func (s *Store) CompletedUnhedgedForSymbol(ctx context.Context, chatID, baseSymbol string) ([]types.OperationRecord, error) {
	return s.whereRecords(ctx,
		"chat_id = ? AND base_symbol = ? AND operation_type = ? AND status = ? AND unhedged_op_id = 0",
		chatID, baseSymbol, string(types.OperationHedge), string(types.StatusCompleted))
}

// ReclaimInterrupted reclassifies every still-Running row as Interrupted.
// The supervisor calls this once at startup: a Running row with no live
// executor behind it means the process died mid-operation.
func (s *Store) ReclaimInterrupted(ctx context.Context) (int64, error) {
	now := time.Now()
	result := s.db.WithContext(ctx).Model(&Row{}).
		Where("status = ?", string(types.StatusRunning)).
		Updates(map[string]any{
			"status":        string(types.StatusInterrupted),
			"end_timestamp": &now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("reclaim interrupted operations: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *Store) whereRecords(ctx context.Context, query string, args ...any) ([]types.OperationRecord, error) {
	var rows []Row
	if err := s.db.WithContext(ctx).Where(query, args...).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	recs := make([]types.OperationRecord, len(rows))
	for i, row := range rows {
		recs[i] = toRecord(row)
	}
	return recs, nil
}

func fromRecord(rec types.OperationRecord) Row {
	return Row{
		ID:               rec.ID,
		ChatID:           rec.ChatID,
		OperationType:    string(rec.OperationType),
		BaseSymbol:       rec.BaseSymbol,
		QuoteCurrency:    rec.QuoteCurrency,
		InitialSum:       rec.InitialSum,
		Volatility:       rec.Volatility,
		TargetSpotQty:    rec.TargetSpotQty,
		TargetFuturesQty: rec.TargetFuturesQty,
		Status:           string(rec.Status),
		SpotOrderID:      rec.SpotOrderID,
		SpotFilledQty:    rec.SpotFilledQty,
		FuturesOrderID:   rec.FuturesOrderID,
		FuturesFilledQty: rec.FuturesFilledQty,
		StartTimestamp:   rec.StartTimestamp,
		EndTimestamp:     rec.EndTimestamp,
		ErrorMessage:     rec.ErrorMessage,
		UnhedgedOpID:     rec.UnhedgedOpID,
	}
}

func toRecord(row Row) types.OperationRecord {
	return types.OperationRecord{
		ID:               row.ID,
		ChatID:           row.ChatID,
		OperationType:    types.OperationType(row.OperationType),
		BaseSymbol:       row.BaseSymbol,
		QuoteCurrency:    row.QuoteCurrency,
		InitialSum:       row.InitialSum,
		Volatility:       row.Volatility,
		TargetSpotQty:    row.TargetSpotQty,
		TargetFuturesQty: row.TargetFuturesQty,
		Status:           types.OperationStatus(row.Status),
		SpotOrderID:      row.SpotOrderID,
		SpotFilledQty:    row.SpotFilledQty,
		FuturesOrderID:   row.FuturesOrderID,
		FuturesFilledQty: row.FuturesFilledQty,
		StartTimestamp:   row.StartTimestamp,
		EndTimestamp:     row.EndTimestamp,
		ErrorMessage:     row.ErrorMessage,
		UnhedgedOpID:     row.UnhedgedOpID,
	}
}
