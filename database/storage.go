package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"delta-trader/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// LocalStorage archives closed positions, exit evaluations and alerts
// in SQLite. Persistence here is best-effort history; the engine never
// depends on it for decisions.
type LocalStorage struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewLocalStorage opens (or creates) the archive database.
func NewLocalStorage(dbPath string) (*LocalStorage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.DBPosition{},
		&models.DBExitEvaluation{},
		&models.DBAlert{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &LocalStorage{
		db:     db,
		logger: log,
	}, nil
}

// ArchivePosition saves the final state of a position leaving OPEN.
func (s *LocalStorage) ArchivePosition(position *models.DBPosition) error {
	result := s.db.Save(position)
	if result.Error != nil {
		return fmt.Errorf("failed to archive position: %w", result.Error)
	}

	s.logger.WithFields(logrus.Fields{
		"position_id": position.PositionID,
		"status":      position.Status,
		"pnl":         position.PnL,
	}).Info("Position archived")

	return nil
}

// GetArchivedPosition retrieves an archived position by ID.
func (s *LocalStorage) GetArchivedPosition(positionID string) (*models.DBPosition, error) {
	var position models.DBPosition

	result := s.db.Where("position_id = ?", positionID).First(&position)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get archived position: %w", result.Error)
	}

	return &position, nil
}

// GetArchivedPositions retrieves archived positions with an optional
// status filter.
func (s *LocalStorage) GetArchivedPositions(status string) ([]*models.DBPosition, error) {
	var positions []*models.DBPosition

	query := s.db.Model(&models.DBPosition{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	result := query.Order("created_at DESC").Find(&positions)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get archived positions: %w", result.Error)
	}

	return positions, nil
}

// SaveExitEvaluation records a triggered exit decision.
func (s *LocalStorage) SaveExitEvaluation(eval *models.DBExitEvaluation) error {
	result := s.db.Save(eval)
	if result.Error != nil {
		return fmt.Errorf("failed to save exit evaluation: %w", result.Error)
	}
	return nil
}

// GetExitEvaluations retrieves the exit history for a position.
func (s *LocalStorage) GetExitEvaluations(positionID string) ([]*models.DBExitEvaluation, error) {
	var evals []*models.DBExitEvaluation

	result := s.db.Where("position_id = ?", positionID).
		Order("evaluated_at ASC").
		Find(&evals)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get exit evaluations: %w", result.Error)
	}

	return evals, nil
}

// SaveAlert records a monitor alert.
func (s *LocalStorage) SaveAlert(alert *models.DBAlert) error {
	result := s.db.Save(alert)
	if result.Error != nil {
		return fmt.Errorf("failed to save alert: %w", result.Error)
	}
	return nil
}

// CleanupOldData removes alerts and evaluations older than the cutoff.
func (s *LocalStorage) CleanupOldData(before time.Time) error {
	s.logger.WithField("before", before).Info("Cleaning up old data")

	if err := s.db.Where("raised_at < ?", before).Delete(&models.DBAlert{}).Error; err != nil {
		return fmt.Errorf("failed to delete old alerts: %w", err)
	}

	if err := s.db.Where("evaluated_at < ?", before).Delete(&models.DBExitEvaluation{}).Error; err != nil {
		return fmt.Errorf("failed to delete old evaluations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *LocalStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
