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
	"time"

	"github.com/dukex/itinera/pkg/models"
	"github.com/dukex/itinera/pkg/persistence"
)

const customersDir = "customers"

// CustomerRepository stores one JSON document per customer.
type CustomerRepository struct {
	root string
}

// All returns every stored customer ordered by id.
func (r *CustomerRepository) All(ctx context.Context) ([]*models.Customer, error) {
	dir := path.Join(r.root, customersDir)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return []*models.Customer{}, nil
	}

	files, err := fs.Glob(os.DirFS(dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list customer files: %w", err)
	}

	customers := make([]*models.Customer, 0, len(files))

	for _, file := range files {
		customer, err := r.ByID(ctx, file[:len(file)-5])
		if err != nil {
			return nil, err
		}

		customers = append(customers, customer)
	}

	sort.Slice(customers, func(i, j int) bool { return customers[i].ID < customers[j].ID })

	return customers, nil
}

// ByID loads one customer document.
func (r *CustomerRepository) ByID(_ context.Context, id string) (*models.Customer, error) {
	filePath := filepath.Clean(path.Join(r.root, customersDir, id+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("customer %s: %w", id, persistence.ErrCustomerNotFound)
		}

		return nil, fmt.Errorf("failed to read customer %s: %w", id, err)
	}

	var customer models.Customer

	err = json.Unmarshal(body, &customer)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal customer %s: %w", id, err)
	}

	return &customer, nil
}

// Save writes the customer document, stamping timestamps.
func (r *CustomerRepository) Save(_ context.Context, customer *models.Customer) error {
	err := os.MkdirAll(path.Join(r.root, customersDir), 0750)
	if err != nil {
		return fmt.Errorf("failed to create customers directory: %w", err)
	}

	now := time.Now().UTC()
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = now
	}

	customer.UpdatedAt = now

	data, err := json.MarshalIndent(customer, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal customer %s: %w", customer.ID, err)
	}

	return os.WriteFile(path.Join(r.root, customersDir, customer.ID+".json"), data, 0600)
}
