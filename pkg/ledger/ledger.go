// Package ledger keeps a MySQL record of every shipping label purchase
// attempt and how far it got, so that a failure after the wallet debit can be
// reconciled by hand.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/config"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type ShipmentRecord struct {
	ID                        uint      `gorm:"primaryKey" json:"id"`
	RequestID                 string    `gorm:"type:varchar(36);index" json:"requestId"`
	RequestedBy               string    `gorm:"type:varchar(36)" json:"requestedBy"`
	ServiceID                 string    `gorm:"type:varchar(20)" json:"serviceId"`
	ToPostalCode              string    `gorm:"type:varchar(12)" json:"toPostalCode"`
	CarrierOrderID            string    `gorm:"type:varchar(64);index" json:"carrierOrderId"`
	Step                      string    `gorm:"type:varchar(20)" json:"step"`
	Status                    string    `gorm:"type:varchar(20);index" json:"status"`
	CompletedSteps            string    `gorm:"type:varchar(100)" json:"completedSteps"`
	NeedsManualReconciliation bool      `gorm:"index" json:"needsManualReconciliation"`
	Error                     string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt                 time.Time `json:"createdAt"`
	UpdatedAt                 time.Time `json:"updatedAt"`
}

func (ShipmentRecord) TableName() string {
	return "shipment_records"
}

func (r *ShipmentRecord) SetCompletedSteps(steps []string) {
	r.CompletedSteps = strings.Join(steps, ",")
}

// Ledger records label purchase attempts.
type Ledger interface {
	Begin(ctx context.Context, rec *ShipmentRecord) error
	Save(ctx context.Context, rec *ShipmentRecord) error
	Recent(ctx context.Context, onlyUnreconciled bool, limit int) ([]ShipmentRecord, error)
}

type GormLedger struct {
	db *gorm.DB
}

// Open connects to MySQL and migrates the ledger table.
func Open(cfg *config.MySQLConfig) (*GormLedger, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)

	if err := db.AutoMigrate(&ShipmentRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return NewGormLedger(db), nil
}

func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db}
}

func (l *GormLedger) Begin(ctx context.Context, rec *ShipmentRecord) error {
	if rec.Status == "" {
		rec.Status = StatusStarted
	}
	return l.db.WithContext(ctx).Create(rec).Error
}

func (l *GormLedger) Save(ctx context.Context, rec *ShipmentRecord) error {
	if rec.ID == 0 {
		return errors.New("ledger record was never begun")
	}
	return l.db.WithContext(ctx).Save(rec).Error
}

func (l *GormLedger) Recent(ctx context.Context, onlyUnreconciled bool, limit int) ([]ShipmentRecord, error) {
	query := l.db.WithContext(ctx).Model(&ShipmentRecord{})
	if onlyUnreconciled {
		query = query.Where("needs_manual_reconciliation = ?", true)
	}

	var records []ShipmentRecord
	if err := query.Order("created_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (l *GormLedger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type nopLedger struct{}

func (nopLedger) Begin(context.Context, *ShipmentRecord) error { return nil }

func (nopLedger) Save(context.Context, *ShipmentRecord) error { return nil }

func (nopLedger) Recent(context.Context, bool, int) ([]ShipmentRecord, error) {
	return []ShipmentRecord{}, nil
}

// Nop is used when mysql.enabled is false.
func Nop() Ledger { return nopLedger{} }
