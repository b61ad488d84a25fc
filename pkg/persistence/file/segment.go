package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/dukex/itinera/pkg/models"
	"github.com/dukex/itinera/pkg/persistence"
)

const segmentsDir = "segments"

// SegmentRepository stores one JSON document per segment.
type SegmentRepository struct {
	root string
}

// All returns every stored segment.
func (r *SegmentRepository) All(ctx context.Context) ([]*models.Segment, error) {
	dir := path.Join(r.root, segmentsDir)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return []*models.Segment{}, nil
	}

	files, err := fs.Glob(os.DirFS(dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list segment files: %w", err)
	}

	segments := make([]*models.Segment, 0, len(files))

	for _, file := range files {
		segment, err := r.ByID(ctx, file[:len(file)-5])
		if err != nil {
			return nil, err
		}

		segments = append(segments, segment)
	}

	return segments, nil
}

// ByID loads one segment document.
func (r *SegmentRepository) ByID(_ context.Context, id string) (*models.Segment, error) {
	filePath := filepath.Clean(path.Join(r.root, segmentsDir, id+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("segment %s: %w", id, persistence.ErrSegmentNotFound)
		}

		return nil, fmt.Errorf("failed to read segment %s: %w", id, err)
	}

	var segment models.Segment

	err = json.Unmarshal(body, &segment)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal segment %s: %w", id, err)
	}

	return &segment, nil
}

// Save writes the segment document.
func (r *SegmentRepository) Save(_ context.Context, segment *models.Segment) error {
	err := os.MkdirAll(path.Join(r.root, segmentsDir), 0750)
	if err != nil {
		return fmt.Errorf("failed to create segments directory: %w", err)
	}

	data, err := json.MarshalIndent(segment, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal segment %s: %w", segment.ID, err)
	}

	return os.WriteFile(path.Join(r.root, segmentsDir, segment.ID+".json"), data, 0600)
}
