package snapshot

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Record is one persisted snapshot row.
type Record struct {
	Key       string `gorm:"primaryKey;size:128"`
	Data      []byte
	UpdatedAt time.Time
}

func (Record) TableName() string { return "host_snapshots" }

// SQLStore keeps snapshots in Postgres, for deployments where rooms must
// survive the process being rescheduled to another machine.
type SQLStore struct {
	db *gorm.DB
}

// OpenSQL connects and migrates the snapshot table.
func OpenSQL(dsn string) (*SQLStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open snapshot database: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate snapshot table: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Save(key string, data []byte) error {
	rec := Record{Key: key, Data: data}
	return s.db.Save(&rec).Error
}

func (s *SQLStore) Load(key string) ([]byte, error) {
	var rec Record
	err := s.db.First(&rec, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec.Data, nil
}

func (s *SQLStore) Delete(key string) error {
	return s.db.Delete(&Record{}, "key = ?", key).Error
}
