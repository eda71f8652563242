package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"exitwatch/internal/models"
)

// DefaultTable is the collection holding position documents when the config
// does not override it.
const DefaultTable = "positions"

// GormStore persists position records through GORM. The DSN selects the
// backend: postgres:// or postgresql:// prefixes open PostgreSQL, anything
// else is treated as a SQLite file path.
type GormStore struct {
	db     *gorm.DB
	table  string
	logger *logrus.Logger
}

// NewGormStore opens the backing database, runs migrations, and returns the
// store.
func NewGormStore(dsn, table string, logger *logrus.Logger) (*GormStore, error) {
	if table == "" {
		table = DefaultTable
	}

	var (
		db  *gorm.DB
		err error
	)
	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		logger.Info("Position store connected (PostgreSQL)")
	} else {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating store directory: %w", err)
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), cfg)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		logger.WithField("path", dsn).Info("Position store initialized (SQLite)")
	}

	if err := db.Table(table).AutoMigrate(&PositionRecord{}); err != nil {
		return nil, fmt.Errorf("migrating position table %q: %w", table, err)
	}

	return &GormStore{db: db, table: table, logger: logger}, nil
}

func (s *GormStore) tx(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.table)
}

// InsertPosition assigns a UUID id and persists the record.
func (s *GormStore) InsertPosition(ctx context.Context, rec *PositionRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Status == "" {
		rec.Status = models.StatusActive
	}
	if err := s.tx(ctx).Create(rec).Error; err != nil {
		return "", fmt.Errorf("inserting position %s: %w", rec.TradeID, err)
	}
	return rec.ID, nil
}

// ListActive returns every record still marked active.
func (s *GormStore) ListActive(ctx context.Context) ([]PositionRecord, error) {
	var recs []PositionRecord
	if err := s.tx(ctx).Where("status = ?", models.StatusActive).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("listing active positions: %w", err)
	}
	return recs, nil
}

// UpdateStatus writes the terminal status and exit sub-record. Repeated
// terminal writes for the same id are last-writer-wins; the registry gate
// upstream makes them single-shot in practice.
func (s *GormStore) UpdateStatus(ctx context.Context, id string, status models.PositionStatus, exit *models.ExitRecord) error {
	if !status.Terminal() {
		return ErrTerminalStatus
	}

	fields := map[string]interface{}{"status": status}
	if exit != nil {
		exitedAt := exit.ExitedAt
		if exitedAt.IsZero() {
			exitedAt = time.Now().UTC()
		}
		fields["exit_kind"] = exit.Kind
		fields["exit_price"] = exit.Price
		fields["exit_amount"] = exit.Amount
		fields["profit_loss"] = exit.ProfitLoss
		fields["exit_tx_hash"] = exit.TxHash
		fields["exit_error"] = exit.Error
		fields["exited_at"] = exitedAt
	}

	res := s.tx(ctx).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("updating position %s to %s: %w", id, status, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByTradeID looks a record up by the user-facing trade id.
func (s *GormStore) GetByTradeID(ctx context.Context, tradeID string) (*PositionRecord, error) {
	var rec PositionRecord
	err := s.tx(ctx).Where("trade_id = ?", tradeID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up trade %s: %w", tradeID, err)
	}
	return &rec, nil
}

// GetHistory returns terminal records matching the filter, newest first.
func (s *GormStore) GetHistory(ctx context.Context, filter HistoryFilter) ([]PositionRecord, error) {
	q := s.tx(ctx).Where("status IN ?", []models.PositionStatus{models.StatusExited, models.StatusFailed})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	q = q.Order("exited_at DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var recs []PositionRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("listing position history: %w", err)
	}
	return recs, nil
}

// Ensure GormStore implements Interface
var _ Interface = (*GormStore)(nil)
