package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Preset is a named snapshot of a template's form values and flag maps.
// The three payloads are JSON documents owned by the caller.
type Preset struct {
	Template  string
	Name      string
	FormData  string
	Randomize string
	Bypass    string
	Seq       int64
}

// SavePreset inserts or replaces the preset (Template, Name). Seq is
// assigned by the store and bumped on every save.
func (s *Store) SavePreset(ctx context.Context, p Preset) (int64, error) {
	if p.Randomize == "" {
		p.Randomize = "{}"
	}
	if p.Bypass == "" {
		p.Bypass = "{}"
	}
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO presets (template, name, form_data, randomize, bypass, seq)
		VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM presets))
		ON CONFLICT(template, name) DO UPDATE SET
			form_data = excluded.form_data,
			randomize = excluded.randomize,
			bypass    = excluded.bypass,
			seq       = excluded.seq
		RETURNING seq
	`, p.Template, p.Name, p.FormData, p.Randomize, p.Bypass).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("save preset %s/%s: %w", p.Template, p.Name, err)
	}
	return seq, nil
}

// Preset loads one preset. Returns ErrNotFound when absent.
func (s *Store) Preset(ctx context.Context, template, name string) (Preset, error) {
	p := Preset{Template: template, Name: name}
	err := s.db.QueryRowContext(ctx, `
		SELECT form_data, randomize, bypass, seq FROM presets
		WHERE template = ? AND name = ?
	`, template, name).Scan(&p.FormData, &p.Randomize, &p.Bypass, &p.Seq)
	if errors.Is(err, sql.ErrNoRows) {
		return Preset{}, fmt.Errorf("preset %s/%s: %w", template, name, ErrNotFound)
	}
	if err != nil {
		return Preset{}, fmt.Errorf("load preset %s/%s: %w", template, name, err)
	}
	return p, nil
}

// Presets lists a template's presets ordered by name.
func (s *Store) Presets(ctx context.Context, template string) ([]Preset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, form_data, randomize, bypass, seq FROM presets
		WHERE template = ?
		ORDER BY name ASC COLLATE BINARY
	`, template)
	if err != nil {
		return nil, fmt.Errorf("list presets %s: %w", template, err)
	}
	defer rows.Close()

	var out []Preset
	for rows.Next() {
		p := Preset{Template: template}
		if err := rows.Scan(&p.Name, &p.FormData, &p.Randomize, &p.Bypass, &p.Seq); err != nil {
			return nil, fmt.Errorf("scan preset: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeletePreset removes a preset. Returns ErrNotFound when absent.
func (s *Store) DeletePreset(ctx context.Context, template, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM presets WHERE template = ? AND name = ?`, template, name)
	if err != nil {
		return fmt.Errorf("delete preset %s/%s: %w", template, name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete preset %s/%s: %w", template, name, err)
	}
	if n == 0 {
		return fmt.Errorf("preset %s/%s: %w", template, name, ErrNotFound)
	}
	return nil
}
