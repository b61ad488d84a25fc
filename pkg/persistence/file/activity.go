package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/dukex/itinera/pkg/models"
)

const activitiesDir = "activities"

// ActivityRepository stores the audit trail as one JSON array per
// enrollment. Entries are append-only.
type ActivityRepository struct {
	root string
	mu   *sync.Mutex
}

// Append adds one entry to the enrollment's audit file.
func (r *ActivityRepository) Append(_ context.Context, entry *models.ActivityEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load(entry.EnrollmentID)
	if err != nil {
		return err
	}

	entries = append(entries, entry)

	err = os.MkdirAll(path.Join(r.root, activitiesDir), 0750)
	if err != nil {
		return fmt.Errorf("failed to create activities directory: %w", err)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal activity log for %s: %w", entry.EnrollmentID, err)
	}

	return os.WriteFile(path.Join(r.root, activitiesDir, entry.EnrollmentID+".json"), data, 0600)
}

// ByEnrollment returns an enrollment's audit entries in append order.
func (r *ActivityRepository) ByEnrollment(_ context.Context, enrollmentID string) ([]*models.ActivityEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.load(enrollmentID)
}

func (r *ActivityRepository) load(enrollmentID string) ([]*models.ActivityEntry, error) {
	filePath := filepath.Clean(path.Join(r.root, activitiesDir, enrollmentID+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.ActivityEntry{}, nil
		}

		return nil, fmt.Errorf("failed to read activity log for %s: %w", enrollmentID, err)
	}

	var entries []*models.ActivityEntry

	err = json.Unmarshal(body, &entries)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal activity log for %s: %w", enrollmentID, err)
	}

	return entries, nil
}
