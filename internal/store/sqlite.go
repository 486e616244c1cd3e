package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"trader/internal/portfolio"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type strategyModel struct {
	ID           string `gorm:"primaryKey;size:64"`
	Name         string `gorm:"size:64"`
	Instrument   string `gorm:"size:32;index"`
	BasePair     datatypes.JSONType[portfolio.Pair]
	QuotePair    datatypes.JSONType[portfolio.Pair]
	ClassifierID string `gorm:"size:64"`
	ModelPath    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (strategyModel) TableName() string {
	return "strategies"
}

type SQLiteStore struct {
	db *gorm.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return NewSQLiteStoreFromDB(db)
}

func NewSQLiteStoreFromDB(db *gorm.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("gorm db cannot be nil")
	}
	if err := db.AutoMigrate(&strategyModel{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, id string, record Record) error {
	if err := record.Validate(); err != nil {
		return err
	}
	m := strategyModel{
		ID:           id,
		Name:         record.Name,
		Instrument:   record.Instrument,
		BasePair:     datatypes.NewJSONType(record.BasePair),
		QuotePair:    datatypes.NewJSONType(record.QuotePair),
		ClassifierID: record.Classifier.ID,
		ModelPath:    record.Classifier.ModelPath,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&m).Error
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (Record, error) {
	var m strategyModel
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Record{}, err
	}
	record := Record{
		ID:         m.ID,
		Name:       m.Name,
		Instrument: m.Instrument,
		BasePair:   m.BasePair.Data(),
		QuotePair:  m.QuotePair.Data(),
		Classifier: ClassifierConfig{ID: m.ClassifierID, ModelPath: m.ModelPath},
		UpdatedAt:  m.UpdatedAt,
	}
	return record, record.Validate()
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
