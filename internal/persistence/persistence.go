// Package persistence mirrors the live zone set and finalized rollup
// windows into SQLite so a restart doesn't lose calibration or the
// last N windows. The TOML configuration file remains the durable
// source of truth for save_toml; the database is a mirror for fast
// reads and history.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roadlens/roadlens/internal/database"
	"github.com/roadlens/roadlens/internal/geo"
	"github.com/roadlens/roadlens/internal/zone"
)

// Store persists zone definitions and window history.
type Store struct {
	db *database.DB
}

// New wraps an already-opened database handle.
func New(db *database.DB) *Store {
	return &Store{db: db}
}

// Migrate applies all pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	return database.NewMigrator(s.db).Run(ctx)
}

// SaveZones replaces the persisted zone set atomically within one
// transaction, mirroring store.ReplaceAll's all-or-nothing semantics.
func (s *Store) SaveZones(ctx context.Context, zones []*zone.Zone) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM zones"); err != nil {
			return fmt.Errorf("persistence: clearing zones: %w", err)
		}

		for _, z := range zones {
			pixelJSON, err := json.Marshal(z.PixelVertices)
			if err != nil {
				return fmt.Errorf("persistence: marshal pixel vertices: %w", err)
			}

			var wgs84JSON []byte
			if z.HasWGS84 {
				wgs84JSON, err = json.Marshal(z.WGS84Vertices)
				if err != nil {
					return fmt.Errorf("persistence: marshal wgs84 vertices: %w", err)
				}
			}

			var lineJSON []byte
			if z.Line != nil {
				lineJSON, err = json.Marshal(z.Line)
				if err != nil {
					return fmt.Errorf("persistence: marshal virtual line: %w", err)
				}
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO zones (id, pixel_vertices_json, wgs84_vertices_json, color, lane_number, lane_direction, virtual_line_json)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				z.ID, string(pixelJSON), nullableString(wgs84JSON), z.Color, z.LaneNumber, z.LaneDirection, nullableString(lineJSON),
			)
			if err != nil {
				return fmt.Errorf("persistence: insert zone %s: %w", z.ID, err)
			}
		}
		return nil
	})
}

func nullableString(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// LoadZones reconstructs the persisted zone set as live zones, each built
// with zone.New from its stored row; ids are preserved by constructing
// then overwriting, since zone.New always assigns a fresh UUID.
func (s *Store) LoadZones(ctx context.Context) ([]*zone.Zone, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pixel_vertices_json, wgs84_vertices_json, color, lane_number, lane_direction, virtual_line_json
		FROM zones`)
	if err != nil {
		return nil, fmt.Errorf("persistence: query zones: %w", err)
	}
	defer rows.Close()

	var out []*zone.Zone
	for rows.Next() {
		var (
			id, pixelJSON, color, laneDirection string
			laneNumber                          int
			wgs84JSON, lineJSON                 sql.NullString
		)
		if err := rows.Scan(&id, &pixelJSON, &wgs84JSON, &color, &laneNumber, &laneDirection, &lineJSON); err != nil {
			return nil, fmt.Errorf("persistence: scan zone row: %w", err)
		}

		var spec zone.Spec
		if err := json.Unmarshal([]byte(pixelJSON), &spec.PixelVertices); err != nil {
			return nil, fmt.Errorf("persistence: unmarshal pixel vertices for %s: %w", id, err)
		}
		if wgs84JSON.Valid {
			var ll [4]geo.LatLon
			if err := json.Unmarshal([]byte(wgs84JSON.String), &ll); err != nil {
				return nil, fmt.Errorf("persistence: unmarshal wgs84 vertices for %s: %w", id, err)
			}
			spec.WGS84Vertices = &ll
		}
		if lineJSON.Valid {
			var line zone.VirtualLine
			if err := json.Unmarshal([]byte(lineJSON.String), &line); err != nil {
				return nil, fmt.Errorf("persistence: unmarshal virtual line for %s: %w", id, err)
			}
			spec.Line = &line
		}
		spec.Color = color
		spec.LaneNumber = laneNumber
		spec.LaneDirection = laneDirection

		z, err := zone.New(spec)
		if err != nil {
			return nil, fmt.Errorf("persistence: reconstruct zone %s: %w", id, err)
		}
		z.ID = id
		out = append(out, z)
	}
	return out, rows.Err()
}

// RecordWindow appends one finalized window to a zone's history.
func (s *Store) RecordWindow(ctx context.Context, zoneID string, stats zone.Stats) error {
	perClassJSON, err := json.Marshal(stats.PerClass)
	if err != nil {
		return fmt.Errorf("persistence: marshal per-class stats: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO zone_window_history (zone_id, period_start, period_end, per_class_json, total_count, total_avg_speed_kmh, avg_headway_sec)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		zoneID, stats.PeriodStart.Unix(), stats.PeriodEnd.Unix(), string(perClassJSON), stats.TotalCount, stats.TotalAvgSpeed, stats.AvgHeadwaySec,
	)
	if err != nil {
		return fmt.Errorf("persistence: record window for %s: %w", zoneID, err)
	}
	return nil
}

// History returns the most recent N finalized windows for a zone,
// newest first.
func (s *Store) History(ctx context.Context, zoneID string, limit int) ([]zone.Stats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT period_start, period_end, per_class_json, total_count, total_avg_speed_kmh, avg_headway_sec
		FROM zone_window_history
		WHERE zone_id = ?
		ORDER BY period_end DESC
		LIMIT ?`, zoneID, limit)
	if err != nil {
		return nil, fmt.Errorf("persistence: query history for %s: %w", zoneID, err)
	}
	defer rows.Close()

	var out []zone.Stats
	for rows.Next() {
		var (
			startUnix, endUnix int64
			perClassJSON       string
			totalCount         int
			totalAvgSpeed      float64
			avgHeadwaySec      float64
		)
		if err := rows.Scan(&startUnix, &endUnix, &perClassJSON, &totalCount, &totalAvgSpeed, &avgHeadwaySec); err != nil {
			return nil, fmt.Errorf("persistence: scan history row: %w", err)
		}
		start, end := time.Unix(startUnix, 0).UTC(), time.Unix(endUnix, 0).UTC()

		var perClass map[string]zone.ClassStats
		if err := json.Unmarshal([]byte(perClassJSON), &perClass); err != nil {
			return nil, fmt.Errorf("persistence: unmarshal per-class stats: %w", err)
		}

		out = append(out, zone.Stats{
			PeriodStart:   start,
			PeriodEnd:     end,
			PerClass:      perClass,
			TotalCount:    totalCount,
			TotalAvgSpeed: totalAvgSpeed,
			AvgHeadwaySec: avgHeadwaySec,
		})
	}
	return out, rows.Err()
}
