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

const customerSelect = `
	SELECT id, phone, email, name, attributes, created_at, updated_at
	FROM customers
`

// CustomerRepository stores customer profiles with free-form attributes.
type CustomerRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewCustomerRepository creates a customer repository.
func NewCustomerRepository(db *sql.DB, logger *slog.Logger) *CustomerRepository {
	return &CustomerRepository{
		db:     db,
		logger: logger.With("module", "postgresql", "repository", "customer"),
	}
}

func (r *CustomerRepository) scanCustomer(s interface{ Scan(dest ...any) error }) (*models.Customer, error) {
	var (
		customer       models.Customer
		attributesJSON []byte
	)

	err := s.Scan(
		&customer.ID,
		&customer.Phone,
		&customer.Email,
		&customer.Name,
		&attributesJSON,
		&customer.CreatedAt,
		&customer.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(attributesJSON) > 0 {
		err = json.Unmarshal(attributesJSON, &customer.Attributes)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal customer attributes: %w", err)
		}
	}

	return &customer, nil
}

// All returns every stored customer ordered by id.
func (r *CustomerRepository) All(ctx context.Context) ([]*models.Customer, error) {
	rows, err := r.db.QueryContext(ctx, customerSelect+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.Error("failed to close rows", "error", err)
		}
	}()

	customers := []*models.Customer{}

	for rows.Next() {
		customer, err := r.scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}

		customers = append(customers, customer)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate customers: %w", err)
	}

	return customers, nil
}

// ByID loads one customer.
func (r *CustomerRepository) ByID(ctx context.Context, id string) (*models.Customer, error) {
	row := r.db.QueryRowContext(ctx, customerSelect+" WHERE id = $1", id)

	customer, err := r.scanCustomer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("customer %s: %w", id, persistence.ErrCustomerNotFound)
		}

		return nil, fmt.Errorf("failed to scan customer: %w", err)
	}

	return customer, nil
}

// Save upserts the customer, stamping timestamps.
func (r *CustomerRepository) Save(ctx context.Context, customer *models.Customer) error {
	now := time.Now().UTC()
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = now
	}

	customer.UpdatedAt = now

	attributesJSON, err := json.Marshal(customer.Attributes)
	if err != nil {
		return fmt.Errorf("failed to marshal customer attributes: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO customers (id, phone, email, name, attributes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			phone = EXCLUDED.phone,
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			attributes = EXCLUDED.attributes,
			updated_at = EXCLUDED.updated_at
	`, customer.ID, customer.Phone, customer.Email, customer.Name, attributesJSON, customer.CreatedAt, customer.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save customer %s: %w", customer.ID, err)
	}

	return nil
}
