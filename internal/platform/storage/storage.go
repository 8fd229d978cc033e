package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// TriggerWordList is the persisted trigger vocabulary. A single row
// (ID 1) is kept current; updates overwrite it.
type TriggerWordList struct {
	ID        uint           `gorm:"primaryKey"`
	Words     datatypes.JSON `gorm:"type:json"`
	UpdatedAt time.Time
}

// DeviceLiveness records the last heartbeat seen from a device.
type DeviceLiveness struct {
	DeviceID   string `gorm:"primaryKey;size:64"`
	ReportedIP string `gorm:"size:64"`
	Signal     int
	Metadata   datatypes.JSON `gorm:"type:json"`
	LastSeen   time.Time
}

// DB wraps the sqlite-backed store used for trigger words and device
// liveness.
type DB struct {
	conn *gorm.DB
}

func Open(dsn string) (*DB, error) {
	if dir := filepath.Dir(dsn); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", dsn, err)
	}
	if err := conn.AutoMigrate(&TriggerWordList{}, &DeviceLiveness{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

func (d *DB) Close() error {
	sqlDB, err := d.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
