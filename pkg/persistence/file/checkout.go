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
)

const checkoutsDir = "checkouts"

// CheckoutRepository stores one JSON document per checkout.
type CheckoutRepository struct {
	root string
}

// ListOpen returns checkouts still in the open state.
func (r *CheckoutRepository) ListOpen(_ context.Context) ([]*models.Checkout, error) {
	dir := path.Join(r.root, checkoutsDir)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return []*models.Checkout{}, nil
	}

	files, err := fs.Glob(os.DirFS(dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list checkout files: %w", err)
	}

	checkouts := make([]*models.Checkout, 0, len(files))

	for _, file := range files {
		filePath := filepath.Clean(path.Join(dir, file))

		body, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read checkout %s: %w", file, err)
		}

		var checkout models.Checkout

		err = json.Unmarshal(body, &checkout)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkout %s: %w", file, err)
		}

		if checkout.Status == models.CheckoutStatusOpen {
			checkouts = append(checkouts, &checkout)
		}
	}

	return checkouts, nil
}

// Save writes the checkout document, stamping timestamps.
func (r *CheckoutRepository) Save(_ context.Context, checkout *models.Checkout) error {
	err := os.MkdirAll(path.Join(r.root, checkoutsDir), 0750)
	if err != nil {
		return fmt.Errorf("failed to create checkouts directory: %w", err)
	}

	now := time.Now().UTC()
	if checkout.CreatedAt.IsZero() {
		checkout.CreatedAt = now
	}

	if checkout.UpdatedAt.IsZero() {
		checkout.UpdatedAt = now
	}

	data, err := json.MarshalIndent(checkout, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkout %s: %w", checkout.ID, err)
	}

	return os.WriteFile(path.Join(r.root, checkoutsDir, checkout.ID+".json"), data, 0600)
}
