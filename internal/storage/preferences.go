package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/camlearnd/internal/preferences"
)

// PreferenceStore implements preferences.Store on the SQLite database.
type PreferenceStore struct {
	db *sql.DB
}

var _ preferences.Store = (*PreferenceStore)(nil)

const preferenceColumns = `id, material, geometry_type, offsets_xy_mm, offsets_z_mm,
	preferred_orientation, stock_shape, machining_allowance_mm, created_at, updated_at`

// Get returns the stored preference, or (nil, nil) when absent.
func (s *PreferenceStore) Get(ctx context.Context, material, geometryType string) (*preferences.StockPreference, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+preferenceColumns+`
		FROM cam_stock_preferences
		WHERE material = ? AND geometry_type = ?`,
		preferences.NormalizeKey(material), preferences.NormalizeKey(geometryType))

	p, err := scanPreference(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying preference: %w", err)
	}
	return p, nil
}

// Save upserts p under its (material, geometry type) key. A replacement
// keeps the row's id and created_at and only bumps updated_at.
func (s *PreferenceStore) Save(ctx context.Context, p *preferences.StockPreference) error {
	p.Material = preferences.NormalizeKey(p.Material)
	p.GeometryType = preferences.NormalizeKey(p.GeometryType)
	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cam_stock_preferences
		  (material, geometry_type, offsets_xy_mm, offsets_z_mm,
		   preferred_orientation, stock_shape, machining_allowance_mm,
		   created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(material, geometry_type) DO UPDATE SET
		  offsets_xy_mm = excluded.offsets_xy_mm,
		  offsets_z_mm = excluded.offsets_z_mm,
		  preferred_orientation = excluded.preferred_orientation,
		  stock_shape = excluded.stock_shape,
		  machining_allowance_mm = excluded.machining_allowance_mm,
		  updated_at = excluded.updated_at`,
		p.Material, p.GeometryType, p.OffsetXYMM, p.OffsetZMM,
		nullableString(p.PreferredOrientation), p.StockShape, p.MachiningAllowanceMM,
		now, now)
	if err != nil {
		return fmt.Errorf("saving preference: %w", err)
	}

	// Read the row back so the caller sees the assigned id and, on a
	// replacement, the original created_at.
	saved, err := s.Get(ctx, p.Material, p.GeometryType)
	if err != nil {
		return fmt.Errorf("reading saved preference: %w", err)
	}
	if saved == nil {
		return fmt.Errorf("reading saved preference: row vanished after upsert")
	}
	p.ID = saved.ID
	p.CreatedAt = saved.CreatedAt
	p.UpdatedAt = saved.UpdatedAt
	return nil
}

// List returns all preferences ordered by material, then geometry type.
func (s *PreferenceStore) List(ctx context.Context) ([]preferences.StockPreference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+preferenceColumns+`
		FROM cam_stock_preferences
		ORDER BY material ASC, geometry_type ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying preferences: %w", err)
	}
	defer rows.Close()

	var out []preferences.StockPreference
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning preference: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPreference(row rowScanner) (*preferences.StockPreference, error) {
	var (
		p           preferences.StockPreference
		orientation sql.NullString
		allowance   sql.NullFloat64
		created     string
		updated     string
	)
	if err := row.Scan(&p.ID, &p.Material, &p.GeometryType, &p.OffsetXYMM, &p.OffsetZMM,
		&orientation, &p.StockShape, &allowance, &created, &updated); err != nil {
		return nil, err
	}

	if orientation.Valid {
		p.PreferredOrientation = orientation.String
	}
	if allowance.Valid {
		v := allowance.Float64
		p.MachiningAllowanceMM = &v
	}

	var err error
	if p.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("parsing created_at %q: %w", created, err)
	}
	if p.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, fmt.Errorf("parsing updated_at %q: %w", updated, err)
	}
	return &p, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
