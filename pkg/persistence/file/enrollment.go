package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dukex/itinera/pkg/models"
	"github.com/dukex/itinera/pkg/persistence"
)

const enrollmentsDir = "enrollments"

// EnrollmentRepository stores one JSON document per enrollment. The shared
// mutex makes the read-compare-write of Update atomic within the process,
// mirroring the SQL store's conditional UPDATE.
type EnrollmentRepository struct {
	root string
	mu   *sync.Mutex
}

// ByID loads one enrollment.
func (r *EnrollmentRepository) ByID(_ context.Context, id string) (*models.Enrollment, error) {
	return r.read(id)
}

func (r *EnrollmentRepository) read(id string) (*models.Enrollment, error) {
	filePath := filepath.Clean(path.Join(r.root, enrollmentsDir, id+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewEnrollmentError("ByID", id, persistence.ErrEnrollmentNotFound)
		}

		return nil, fmt.Errorf("failed to read enrollment %s: %w", id, err)
	}

	var enrollment models.Enrollment

	err = json.Unmarshal(body, &enrollment)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal enrollment %s: %w", id, err)
	}

	return &enrollment, nil
}

func (r *EnrollmentRepository) all(ctx context.Context) ([]*models.Enrollment, error) {
	dir := path.Join(r.root, enrollmentsDir)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return []*models.Enrollment{}, nil
	}

	files, err := fs.Glob(os.DirFS(dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollment files: %w", err)
	}

	enrollments := make([]*models.Enrollment, 0, len(files))

	for _, file := range files {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		enrollment, err := r.read(file[:len(file)-5])
		if err != nil {
			return nil, err
		}

		enrollments = append(enrollments, enrollment)
	}

	sort.Slice(enrollments, func(i, j int) bool {
		return enrollments[i].StartedAt.Before(enrollments[j].StartedAt)
	})

	return enrollments, nil
}

// ByJourney returns every enrollment of a journey.
func (r *EnrollmentRepository) ByJourney(ctx context.Context, journeyID string) ([]*models.Enrollment, error) {
	all, err := r.all(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Enrollment, 0)

	for _, e := range all {
		if e.JourneyID == journeyID {
			out = append(out, e)
		}
	}

	return out, nil
}

// ByJourneyAndCustomer returns a customer's enrollment history in a journey.
func (r *EnrollmentRepository) ByJourneyAndCustomer(ctx context.Context, journeyID, customerID string) ([]*models.Enrollment, error) {
	byJourney, err := r.ByJourney(ctx, journeyID)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Enrollment, 0)

	for _, e := range byJourney {
		if e.CustomerID == customerID {
			out = append(out, e)
		}
	}

	return out, nil
}

// ActiveByJourney returns the journey's enrollments in active status.
func (r *EnrollmentRepository) ActiveByJourney(ctx context.Context, journeyID string) ([]*models.Enrollment, error) {
	byJourney, err := r.ByJourney(ctx, journeyID)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Enrollment, 0)

	for _, e := range byJourney {
		if e.Status == models.EnrollmentStatusActive {
			out = append(out, e)
		}
	}

	return out, nil
}

// WaitingElapsed returns waiting enrollments whose timeout has passed.
// Waits without a deadline (zero TimeoutAt) never show up here.
func (r *EnrollmentRepository) WaitingElapsed(ctx context.Context, before time.Time) ([]*models.Enrollment, error) {
	all, err := r.all(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Enrollment, 0)

	for _, e := range all {
		if e.Status != models.EnrollmentStatusWaiting || e.WaitingFor == nil {
			continue
		}

		if e.WaitingFor.TimeoutAt.IsZero() || e.WaitingFor.TimeoutAt.After(before) {
			continue
		}

		out = append(out, e)
	}

	return out, nil
}

// ByMessageID resolves the enrollment holding an outbound message id.
func (r *EnrollmentRepository) ByMessageID(ctx context.Context, messageID string) (*models.Enrollment, error) {
	all, err := r.all(ctx)
	if err != nil {
		return nil, err
	}

	for _, e := range all {
		if e.Metadata.MessageID == messageID {
			return e, nil
		}
	}

	return nil, persistence.NewEnrollmentError("ByMessageID", messageID, persistence.ErrEnrollmentNotFound)
}

// Create writes a new enrollment document at version zero.
func (r *EnrollmentRepository) Create(_ context.Context, enrollment *models.Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	enrollment.Version = 0

	return r.write(enrollment)
}

// Update persists the enrollment only when the stored version still equals
// the caller's version, then bumps the version.
func (r *EnrollmentRepository) Update(_ context.Context, enrollment *models.Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.read(enrollment.ID)
	if err != nil {
		return err
	}

	if current.Version != enrollment.Version {
		return persistence.NewEnrollmentError("Update", enrollment.ID, persistence.ErrEnrollmentConflict)
	}

	enrollment.Version++

	err = r.write(enrollment)
	if err != nil {
		enrollment.Version--

		return err
	}

	return nil
}

func (r *EnrollmentRepository) write(enrollment *models.Enrollment) error {
	err := os.MkdirAll(path.Join(r.root, enrollmentsDir), 0750)
	if err != nil {
		return fmt.Errorf("failed to create enrollments directory: %w", err)
	}

	data, err := json.MarshalIndent(enrollment, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal enrollment %s: %w", enrollment.ID, err)
	}

	return os.WriteFile(path.Join(r.root, enrollmentsDir, enrollment.ID+".json"), data, 0600)
}
