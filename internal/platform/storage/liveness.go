package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Heartbeat is the device-reported liveness payload.
type Heartbeat struct {
	DeviceID   string
	ReportedIP string
	Signal     int
	Metadata   map[string]any
	SeenAt     time.Time
}

// RecordHeartbeat upserts the liveness row for the device.
func (d *DB) RecordHeartbeat(hb Heartbeat) error {
	var meta []byte
	if hb.Metadata != nil {
		var err error
		meta, err = json.Marshal(hb.Metadata)
		if err != nil {
			return fmt.Errorf("marshal heartbeat metadata: %w", err)
		}
	}
	seen := hb.SeenAt
	if seen.IsZero() {
		seen = time.Now()
	}
	row := DeviceLiveness{
		DeviceID:   hb.DeviceID,
		ReportedIP: hb.ReportedIP,
		Signal:     hb.Signal,
		Metadata:   meta,
		LastSeen:   seen,
	}
	return d.conn.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"reported_ip", "signal", "metadata", "last_seen"}),
	}).Create(&row).Error
}

// LastSeen returns the liveness row for deviceID, or nil when the
// device has never reported.
func (d *DB) LastSeen(deviceID string) (*DeviceLiveness, error) {
	var row DeviceLiveness
	err := d.conn.First(&row, "device_id = ?", deviceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Devices lists every device that has ever reported, newest first.
func (d *DB) Devices() ([]DeviceLiveness, error) {
	var rows []DeviceLiveness
	if err := d.conn.Order("last_seen desc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
