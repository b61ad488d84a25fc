package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dukex/itinera/pkg/models"
)

// ActivityRepository stores the append-only enrollment audit log.
type ActivityRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewActivityRepository creates an activity repository.
func NewActivityRepository(db *sql.DB, logger *slog.Logger) *ActivityRepository {
	return &ActivityRepository{
		db:     db,
		logger: logger.With("module", "postgresql", "repository", "activity"),
	}
}

// Append inserts one audit entry.
func (r *ActivityRepository) Append(ctx context.Context, entry *models.ActivityEntry) error {
	if entry.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate activity id: %w", err)
		}

		entry.ID = id.String()
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	metadataJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal activity metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO activity_entries (id, enrollment_id, journey_id, node_id, kind, timestamp, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.EnrollmentID, entry.JourneyID, entry.NodeID, entry.Kind, entry.Timestamp, metadataJSON)
	if err != nil {
		return fmt.Errorf("failed to append activity entry: %w", err)
	}

	return nil
}

// ByEnrollment returns an enrollment's audit entries in append order.
func (r *ActivityRepository) ByEnrollment(ctx context.Context, enrollmentID string) ([]*models.ActivityEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, enrollment_id, journey_id, node_id, kind, timestamp, metadata
		FROM activity_entries
		WHERE enrollment_id = $1
		ORDER BY timestamp, id
	`, enrollmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity entries: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.Error("failed to close rows", "error", err)
		}
	}()

	entries := []*models.ActivityEntry{}

	for rows.Next() {
		var (
			entry        models.ActivityEntry
			metadataJSON []byte
		)

		err = rows.Scan(&entry.ID, &entry.EnrollmentID, &entry.JourneyID, &entry.NodeID, &entry.Kind, &entry.Timestamp, &metadataJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity entry: %w", err)
		}

		if len(metadataJSON) > 0 && string(metadataJSON) != "null" {
			err = json.Unmarshal(metadataJSON, &entry.Metadata)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal activity metadata: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate activity entries: %w", err)
	}

	return entries, nil
}
