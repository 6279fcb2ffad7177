package records

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"invoice-split/pkg/errdefs"
	"invoice-split/pkg/models"
)

// DBStore persists records with gorm.
type DBStore struct {
	db *gorm.DB
}

// OpenPostgres connects to DATABASE_URL and migrates the invoice tables.
func OpenPostgres(dsn string) (*DBStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewDBStore(db)
}

// NewDBStore migrates the invoice tables on db.
func NewDBStore(db *gorm.DB) (*DBStore, error) {
	if err := db.AutoMigrate(&models.Invoice{}, &models.InvoiceLineItem{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &DBStore{db: db}, nil
}

// CreateBatch inserts every entry with its line items in one transaction.
func (s *DBStore) CreateBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]models.Invoice, len(entries))
	for i, e := range entries {
		rows[i] = ToRow(e)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("insert invoices: %v: %w", err, errdefs.ErrGateway)
	}
	return nil
}

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	AttachmentID  int64
	InvoiceNumber string
	Limit         int
}

// List returns stored invoices, newest first, with line items in extraction order.
func (s *DBStore) List(ctx context.Context, f ListFilter) ([]models.Invoice, error) {
	q := s.db.WithContext(ctx).
		Preload("LineItems", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Order("id desc")
	if f.AttachmentID != 0 {
		q = q.Where("attachment_id = ?", f.AttachmentID)
	}
	if f.InvoiceNumber != "" {
		q = q.Where("invoice_number = ?", f.InvoiceNumber)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var invoices []models.Invoice
	if err := q.Find(&invoices).Error; err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	return invoices, nil
}

// Close releases the database connections.
func (s *DBStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
