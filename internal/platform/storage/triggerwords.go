package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const triggerWordRowID = 1

// SaveTriggerWords overwrites the persisted trigger vocabulary.
func (d *DB) SaveTriggerWords(words []string) error {
	data, err := json.Marshal(words)
	if err != nil {
		return fmt.Errorf("marshal trigger words: %w", err)
	}
	row := TriggerWordList{
		ID:        triggerWordRowID,
		Words:     data,
		UpdatedAt: time.Now(),
	}
	return d.conn.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"words", "updated_at"}),
	}).Create(&row).Error
}

// LoadTriggerWords returns the persisted vocabulary, or nil when none
// has been saved yet.
func (d *DB) LoadTriggerWords() ([]string, error) {
	var row TriggerWordList
	err := d.conn.First(&row, triggerWordRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var words []string
	if err := json.Unmarshal(row.Words, &words); err != nil {
		return nil, fmt.Errorf("unmarshal trigger words: %w", err)
	}
	return words, nil
}
