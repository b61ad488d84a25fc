package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/itinera/pkg/models"
	"github.com/dukex/itinera/pkg/persistence"
)

const enrollmentSelect = `
	SELECT id, journey_id, customer_id, current_node_id, status,
	       waiting_type, waiting_timeout_at, metadata, version,
	       started_at, last_activity_at, completed_at
	FROM enrollments
`

// EnrollmentRepository stores enrollments with a version column backing
// optimistic concurrency.
type EnrollmentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewEnrollmentRepository creates an enrollment repository.
func NewEnrollmentRepository(db *sql.DB, logger *slog.Logger) *EnrollmentRepository {
	return &EnrollmentRepository{
		db:     db,
		logger: logger.With("module", "postgresql", "repository", "enrollment"),
	}
}

// enrollmentRow holds the nullable and serialized column values derived from
// an enrollment.
type enrollmentRow struct {
	waitingType      sql.NullString
	waitingTimeoutAt sql.NullTime
	messageID        sql.NullString
	metadataJSON     []byte
	completedAt      sql.NullTime
}

func newEnrollmentRow(enrollment *models.Enrollment) (*enrollmentRow, error) {
	row := &enrollmentRow{}

	if enrollment.WaitingFor != nil {
		row.waitingType = sql.NullString{String: string(enrollment.WaitingFor.Type), Valid: true}

		if !enrollment.WaitingFor.TimeoutAt.IsZero() {
			row.waitingTimeoutAt = sql.NullTime{Time: enrollment.WaitingFor.TimeoutAt, Valid: true}
		}
	}

	if enrollment.Metadata.MessageID != "" {
		row.messageID = sql.NullString{String: enrollment.Metadata.MessageID, Valid: true}
	}

	if enrollment.CompletedAt != nil {
		row.completedAt = sql.NullTime{Time: *enrollment.CompletedAt, Valid: true}
	}

	metadataJSON, err := json.Marshal(enrollment.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal enrollment metadata: %w", err)
	}

	row.metadataJSON = metadataJSON

	return row, nil
}

func (r *EnrollmentRepository) scanEnrollment(s interface{ Scan(dest ...any) error }) (*models.Enrollment, error) {
	var (
		enrollment       models.Enrollment
		waitingType      sql.NullString
		waitingTimeoutAt sql.NullTime
		metadataJSON     []byte
		completedAt      sql.NullTime
	)

	err := s.Scan(
		&enrollment.ID,
		&enrollment.JourneyID,
		&enrollment.CustomerID,
		&enrollment.CurrentNodeID,
		&enrollment.Status,
		&waitingType,
		&waitingTimeoutAt,
		&metadataJSON,
		&enrollment.Version,
		&enrollment.StartedAt,
		&enrollment.LastActivityAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if waitingType.Valid {
		waiting := &models.WaitingFor{Type: models.WaitType(waitingType.String)}
		if waitingTimeoutAt.Valid {
			waiting.TimeoutAt = waitingTimeoutAt.Time.UTC()
		}

		enrollment.WaitingFor = waiting
	}

	if completedAt.Valid {
		completed := completedAt.Time.UTC()
		enrollment.CompletedAt = &completed
	}

	if len(metadataJSON) > 0 {
		err = json.Unmarshal(metadataJSON, &enrollment.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal enrollment metadata: %w", err)
		}
	}

	return &enrollment, nil
}

func (r *EnrollmentRepository) query(ctx context.Context, query string, args ...any) ([]*models.Enrollment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query enrollments: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.Error("failed to close rows", "error", err)
		}
	}()

	enrollments := []*models.Enrollment{}

	for rows.Next() {
		enrollment, err := r.scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}

		enrollments = append(enrollments, enrollment)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate enrollments: %w", err)
	}

	return enrollments, nil
}

// ByID loads one enrollment.
func (r *EnrollmentRepository) ByID(ctx context.Context, id string) (*models.Enrollment, error) {
	row := r.db.QueryRowContext(ctx, enrollmentSelect+" WHERE id = $1", id)

	enrollment, err := r.scanEnrollment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEnrollmentError("ByID", id, persistence.ErrEnrollmentNotFound)
		}

		return nil, fmt.Errorf("failed to scan enrollment: %w", err)
	}

	return enrollment, nil
}

// ByJourney returns every enrollment of a journey.
func (r *EnrollmentRepository) ByJourney(ctx context.Context, journeyID string) ([]*models.Enrollment, error) {
	return r.query(ctx, enrollmentSelect+" WHERE journey_id = $1 ORDER BY started_at", journeyID)
}

// ByJourneyAndCustomer returns a customer's enrollments in one journey,
// oldest first.
func (r *EnrollmentRepository) ByJourneyAndCustomer(ctx context.Context, journeyID, customerID string) ([]*models.Enrollment, error) {
	return r.query(ctx, enrollmentSelect+" WHERE journey_id = $1 AND customer_id = $2 ORDER BY started_at", journeyID, customerID)
}

// ActiveByJourney returns the enrollments a sweep can advance.
func (r *EnrollmentRepository) ActiveByJourney(ctx context.Context, journeyID string) ([]*models.Enrollment, error) {
	return r.query(ctx, enrollmentSelect+" WHERE journey_id = $1 AND status = $2 ORDER BY started_at", journeyID, models.EnrollmentStatusActive)
}

// WaitingElapsed returns waiting enrollments whose timeout passed. Waits
// without a deadline never show up here.
func (r *EnrollmentRepository) WaitingElapsed(ctx context.Context, before time.Time) ([]*models.Enrollment, error) {
	return r.query(ctx, enrollmentSelect+`
		WHERE status = $1 AND waiting_timeout_at IS NOT NULL AND waiting_timeout_at <= $2
		ORDER BY waiting_timeout_at
	`, models.EnrollmentStatusWaiting, before)
}

// ByMessageID finds the enrollment waiting on an outbound message id,
// preferring the most recently touched when ids were ever reused.
func (r *EnrollmentRepository) ByMessageID(ctx context.Context, messageID string) (*models.Enrollment, error) {
	row := r.db.QueryRowContext(ctx, enrollmentSelect+" WHERE message_id = $1 ORDER BY last_activity_at DESC LIMIT 1", messageID)

	enrollment, err := r.scanEnrollment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEnrollmentError("ByMessageID", messageID, persistence.ErrEnrollmentNotFound)
		}

		return nil, fmt.Errorf("failed to scan enrollment: %w", err)
	}

	return enrollment, nil
}

// Create inserts a new enrollment at version zero.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	row, err := newEnrollmentRow(enrollment)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO enrollments (
			id, journey_id, customer_id, current_node_id, status,
			waiting_type, waiting_timeout_at, message_id, metadata, version,
			started_at, last_activity_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		enrollment.ID, enrollment.JourneyID, enrollment.CustomerID, enrollment.CurrentNodeID, enrollment.Status,
		row.waitingType, row.waitingTimeoutAt, row.messageID, row.metadataJSON, enrollment.Version,
		enrollment.StartedAt, enrollment.LastActivityAt, row.completedAt,
	)
	if err != nil {
		return persistence.NewEnrollmentError("Create", enrollment.ID, err)
	}

	return nil
}

// Update writes the enrollment only when the stored version still matches.
// A zero-row update against an existing record means another writer got
// there first and surfaces as ErrEnrollmentConflict.
func (r *EnrollmentRepository) Update(ctx context.Context, enrollment *models.Enrollment) error {
	row, err := newEnrollmentRow(enrollment)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE enrollments SET
			current_node_id = $3,
			status = $4,
			waiting_type = $5,
			waiting_timeout_at = $6,
			message_id = $7,
			metadata = $8,
			version = version + 1,
			last_activity_at = $9,
			completed_at = $10
		WHERE id = $1 AND version = $2
	`,
		enrollment.ID, enrollment.Version,
		enrollment.CurrentNodeID, enrollment.Status,
		row.waitingType, row.waitingTimeoutAt, row.messageID, row.metadataJSON,
		enrollment.LastActivityAt, row.completedAt,
	)
	if err != nil {
		return persistence.NewEnrollmentError("Update", enrollment.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		var exists bool

		err = r.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM enrollments WHERE id = $1)", enrollment.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check enrollment existence: %w", err)
		}

		if !exists {
			return persistence.NewEnrollmentError("Update", enrollment.ID, persistence.ErrEnrollmentNotFound)
		}

		return persistence.NewEnrollmentError("Update", enrollment.ID, persistence.ErrEnrollmentConflict)
	}

	enrollment.Version++

	return nil
}
