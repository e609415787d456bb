package storage

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"coordinator/internal/logger"
)

var ErrRecordNotFound = errors.New("record not found")

type SqliteStorage struct {
	db *gorm.DB
}

func NewSqliteStorage(path string) (*SqliteStorage, error) {
	logger.Debug("storage: initializing database...", zap.String("path", path))

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}

	err = db.AutoMigrate(
		&OperationRecord{},
		&RaffleStatus{},
	)
	if err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}

	logger.Debug("storage: initializing database... done")
	return &SqliteStorage{
		db: db,
	}, nil
}

func (s *SqliteStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SqliteStorage) CreateOperation(record *OperationRecord) error {
	logger.Debug("storage: journaling operation...", zap.String("operation", record.Operation), zap.String("signature", record.Signature))

	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "signature"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "slot", "error", "updated_at"}),
	}).Create(record).Error
	if err != nil {
		return err
	}

	logger.Debug("storage: journaling operation... done")
	return nil
}

func (s *SqliteStorage) UpdateOperationStatus(signature string, status OperationStatus, slot uint64, failure string) error {
	logger.Debug("storage: updating operation status...", zap.String("signature", signature), zap.String("status", status))

	tx := s.db.Model(&OperationRecord{}).
		Where("signature = ?", signature).
		Updates(map[string]interface{}{
			"status": status,
			"slot":   slot,
			"error":  failure,
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("storage: operation %s: %w", signature, ErrRecordNotFound)
	}

	logger.Debug("storage: updating operation status... done")
	return nil
}

func (s *SqliteStorage) GetOperationsByMint(mint string) ([]*OperationRecord, error) {

	var records []*OperationRecord
	err := s.db.Where("nft_mint = ?", mint).Order("id").Find(&records).Error
	if err != nil {
		return nil, err
	}

	return records, nil
}

func (s *SqliteStorage) GetOperationsByStatus(status OperationStatus) ([]*OperationRecord, error) {

	var records []*OperationRecord
	err := s.db.Where("status = ?", status).Order("id").Find(&records).Error
	if err != nil {
		return nil, err
	}

	return records, nil
}

func (s *SqliteStorage) UpdateRaffleStatus(status *RaffleStatus) error {
	logger.Debug("storage: updating raffle status...", zap.String("raffle", status.Raffle))

	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "raffle"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"end_timestamp",
			"entrants",
			"revealed",
			"closed",
			"updated_at",
		}),
	}).Create(status).Error
	if err != nil {
		return err
	}

	logger.Debug("storage: updating raffle status... done")
	return nil
}

func (s *SqliteStorage) GetRaffleStatus(raffle string) (*RaffleStatus, error) {

	var status RaffleStatus
	err := s.db.Where("raffle = ?", raffle).First(&status).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("storage: raffle %s: %w", raffle, ErrRecordNotFound)
	}
	if err != nil {
		return nil, err
	}

	return &status, nil
}

// GetExpiredRaffles returns open watched raffles whose end is at or before now.
func (s *SqliteStorage) GetExpiredRaffles(now int64) ([]*RaffleStatus, error) {
	logger.Debug("storage: getting expired raffles...")

	var statuses []*RaffleStatus
	err := s.db.
		Where("revealed = ? and closed = ? and end_timestamp <= ?", false, false, now).
		Order("end_timestamp").
		Find(&statuses).Error
	if err != nil {
		return nil, err
	}

	logger.Debug("storage: getting expired raffles... done", zap.Int("count", len(statuses)))
	return statuses, nil
}
