package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/itinera/pkg/models"
	"github.com/dukex/itinera/pkg/persistence"
)

// SegmentRepository stores segment definitions with their condition groups
// in a JSONB column.
type SegmentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSegmentRepository creates a segment repository.
func NewSegmentRepository(db *sql.DB, logger *slog.Logger) *SegmentRepository {
	return &SegmentRepository{
		db:     db,
		logger: logger.With("module", "postgresql", "repository", "segment"),
	}
}

func (r *SegmentRepository) scanSegment(s interface{ Scan(dest ...any) error }) (*models.Segment, error) {
	var (
		segment    models.Segment
		groupsJSON []byte
	)

	err := s.Scan(&segment.ID, &segment.Name, &groupsJSON)
	if err != nil {
		return nil, err
	}

	if len(groupsJSON) > 0 {
		err = json.Unmarshal(groupsJSON, &segment.Groups)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal segment groups: %w", err)
		}
	}

	return &segment, nil
}

// All returns every stored segment ordered by id.
func (r *SegmentRepository) All(ctx context.Context) ([]*models.Segment, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT id, name, groups FROM segments ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query segments: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.Error("failed to close rows", "error", err)
		}
	}()

	segments := []*models.Segment{}

	for rows.Next() {
		segment, err := r.scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}

		segments = append(segments, segment)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate segments: %w", err)
	}

	return segments, nil
}

// ByID loads one segment.
func (r *SegmentRepository) ByID(ctx context.Context, id string) (*models.Segment, error) {
	row := r.db.QueryRowContext(ctx, "SELECT id, name, groups FROM segments WHERE id = $1", id)

	segment, err := r.scanSegment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("segment %s: %w", id, persistence.ErrSegmentNotFound)
		}

		return nil, fmt.Errorf("failed to scan segment: %w", err)
	}

	return segment, nil
}

// Save upserts the segment.
func (r *SegmentRepository) Save(ctx context.Context, segment *models.Segment) error {
	groupsJSON, err := json.Marshal(segment.Groups)
	if err != nil {
		return fmt.Errorf("failed to marshal segment groups: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO segments (id, name, groups)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			groups = EXCLUDED.groups
	`, segment.ID, segment.Name, groupsJSON)
	if err != nil {
		return fmt.Errorf("failed to save segment %s: %w", segment.ID, err)
	}

	return nil
}
