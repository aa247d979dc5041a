package db

import (
	"database/sql"
	"fmt"
	"math"

	"github.com/banshee-data/smallsmt/internal/position"
)

// Mountables returns every registered tool ordered by name.
func (db *DB) Mountables() ([]position.Mountable, error) {
	rows, err := db.Query(`SELECT name, head, offset_x, offset_y, offset_z, offset_rot
	                       FROM mountables ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query mountables: %w", err)
	}
	defer rows.Close()

	var out []position.Mountable
	for rows.Next() {
		var m position.Mountable
		if err := rows.Scan(&m.Name, &m.Head, &m.Offset.X, &m.Offset.Y, &m.Offset.Z, &m.Offset.Rotation); err != nil {
			return nil, fmt.Errorf("failed to scan mountable: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMountable returns the named tool, or nil if it is not registered.
func (db *DB) GetMountable(name string) (*position.Mountable, error) {
	var m position.Mountable
	err := db.QueryRow(`SELECT name, head, offset_x, offset_y, offset_z, offset_rot
	                    FROM mountables WHERE name = ?`, name).
		Scan(&m.Name, &m.Head, &m.Offset.X, &m.Offset.Y, &m.Offset.Z, &m.Offset.Rotation)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mountable %q: %w", name, err)
	}
	return &m, nil
}

// SaveMountable registers or updates a tool.
func (db *DB) SaveMountable(m position.Mountable) error {
	if m.Name == "" || m.Head == "" {
		return fmt.Errorf("mountable needs a name and a head")
	}
	for _, v := range []float64{m.Offset.X, m.Offset.Y, m.Offset.Z, m.Offset.Rotation} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("mountable %q: offsets must be finite", m.Name)
		}
	}
	_, err := db.Exec(`
		INSERT INTO mountables (name, head, offset_x, offset_y, offset_z, offset_rot, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, unixepoch())
		ON CONFLICT(name) DO UPDATE SET
			head = excluded.head,
			offset_x = excluded.offset_x,
			offset_y = excluded.offset_y,
			offset_z = excluded.offset_z,
			offset_rot = excluded.offset_rot,
			updated_at = excluded.updated_at`,
		m.Name, m.Head, m.Offset.X, m.Offset.Y, m.Offset.Z, m.Offset.Rotation)
	if err != nil {
		return fmt.Errorf("failed to save mountable %q: %w", m.Name, err)
	}
	return nil
}

// DeleteMountable removes a tool. Deleting an unknown name is not an error.
func (db *DB) DeleteMountable(name string) error {
	if _, err := db.Exec(`DELETE FROM mountables WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete mountable %q: %w", name, err)
	}
	return nil
}
