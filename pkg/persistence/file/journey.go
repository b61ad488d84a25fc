package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/dukex/itinera/pkg/models"
	"github.com/dukex/itinera/pkg/persistence"
)

const journeysDir = "journeys"

// JourneyRepository stores one JSON document per journey.
type JourneyRepository struct {
	root string
}

// All returns every stored journey.
func (r *JourneyRepository) All(ctx context.Context) ([]*models.Journey, error) {
	dir := path.Join(r.root, journeysDir)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return []*models.Journey{}, nil
	}

	files, err := fs.Glob(os.DirFS(dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list journey files: %w", err)
	}

	journeys := make([]*models.Journey, 0, len(files))

	for _, file := range files {
		journey, err := r.ByID(ctx, file[:len(file)-5])
		if err != nil {
			return nil, err
		}

		journeys = append(journeys, journey)
	}

	return journeys, nil
}

// ByStatus returns journeys filtered by lifecycle status.
func (r *JourneyRepository) ByStatus(ctx context.Context, status models.JourneyStatus) ([]*models.Journey, error) {
	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.Journey, 0, len(all))

	for _, journey := range all {
		if journey.Status == status {
			filtered = append(filtered, journey)
		}
	}

	return filtered, nil
}

// ByID loads one journey document.
func (r *JourneyRepository) ByID(_ context.Context, id string) (*models.Journey, error) {
	filePath := filepath.Clean(path.Join(r.root, journeysDir, id+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewJourneyError("ByID", id, persistence.ErrJourneyNotFound)
		}

		return nil, fmt.Errorf("failed to read journey %s: %w", id, err)
	}

	var journey models.Journey

	err = json.Unmarshal(body, &journey)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal journey %s: %w", id, err)
	}

	return &journey, nil
}

// Save writes the journey document, stamping timestamps.
func (r *JourneyRepository) Save(_ context.Context, journey *models.Journey) error {
	err := os.MkdirAll(path.Join(r.root, journeysDir), 0750)
	if err != nil {
		return fmt.Errorf("failed to create journeys directory: %w", err)
	}

	now := time.Now().UTC()
	if journey.CreatedAt.IsZero() {
		journey.CreatedAt = now
	}

	journey.UpdatedAt = now

	data, err := json.MarshalIndent(journey, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal journey %s: %w", journey.ID, err)
	}

	return os.WriteFile(path.Join(r.root, journeysDir, journey.ID+".json"), data, 0600)
}

// Delete removes the journey document. Missing documents are not an error.
func (r *JourneyRepository) Delete(_ context.Context, id string) error {
	err := os.Remove(path.Join(r.root, journeysDir, id+".json"))
	if err != nil && os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to delete journey %s: %w", id, err)
	}

	return nil
}
