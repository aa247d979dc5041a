package db

import (
	"database/sql"
	"fmt"
	"math"
	"strconv"
)

// Setting keys.
const (
	SettingFeedRate = "feed_rate_mm_per_minute"
)

// Setting is one stored key/value pair.
type Setting struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	UpdatedAt int64  `json:"updated_at"`
}

// GetSetting returns the value stored under key and whether it exists.
func (db *DB) GetSetting(key string) (string, bool, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM driver_settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get setting %q: %w", key, err)
	}
	return value, true, nil
}

// SetSetting inserts or replaces a setting.
func (db *DB) SetSetting(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO driver_settings (key, value, updated_at) VALUES (?, ?, unixepoch())
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting %q: %w", key, err)
	}
	return nil
}

// Settings returns every stored setting ordered by key.
func (db *DB) Settings() ([]Setting, error) {
	rows, err := db.Query(`SELECT key, value, updated_at FROM driver_settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	var settings []Setting
	for rows.Next() {
		var s Setting
		if err := rows.Scan(&s.Key, &s.Value, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		settings = append(settings, s)
	}
	return settings, rows.Err()
}

// FeedRate returns the persisted feed rate in mm per minute and whether one
// has been stored.
func (db *DB) FeedRate() (float64, bool, error) {
	raw, ok, err := db.GetSetting(SettingFeedRate)
	if err != nil || !ok {
		return 0, false, err
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("stored feed rate %q: %w", raw, err)
	}
	return v, true, nil
}

func (db *DB) SetFeedRate(mmPerMinute float64) error {
	if math.IsNaN(mmPerMinute) || math.IsInf(mmPerMinute, 0) || mmPerMinute < 0 {
		return fmt.Errorf("invalid feed rate %v", mmPerMinute)
	}
	return db.SetSetting(SettingFeedRate, strconv.FormatFloat(mmPerMinute, 'f', -1, 64))
}
