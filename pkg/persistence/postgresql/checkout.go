package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/itinera/pkg/models"
)

// CheckoutRepository stores the checkout snapshots abandoned-cart triggers read.
type CheckoutRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewCheckoutRepository creates a checkout repository.
func NewCheckoutRepository(db *sql.DB, logger *slog.Logger) *CheckoutRepository {
	return &CheckoutRepository{
		db:     db,
		logger: logger.With("module", "postgresql", "repository", "checkout"),
	}
}

// ListOpen returns checkouts still in the open state, oldest change first.
func (r *CheckoutRepository) ListOpen(ctx context.Context) ([]*models.Checkout, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, customer_id, status, total, created_at, updated_at
		FROM checkouts
		WHERE status = $1
		ORDER BY updated_at
	`, models.CheckoutStatusOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkouts: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.Error("failed to close rows", "error", err)
		}
	}()

	checkouts := []*models.Checkout{}

	for rows.Next() {
		var checkout models.Checkout

		err = rows.Scan(&checkout.ID, &checkout.CustomerID, &checkout.Status, &checkout.Total, &checkout.CreatedAt, &checkout.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkout: %w", err)
		}

		checkouts = append(checkouts, &checkout)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate checkouts: %w", err)
	}

	return checkouts, nil
}

// Save upserts the checkout. UpdatedAt is stamped only when unset so
// synchronization jobs can carry the upstream change time through.
func (r *CheckoutRepository) Save(ctx context.Context, checkout *models.Checkout) error {
	now := time.Now().UTC()
	if checkout.CreatedAt.IsZero() {
		checkout.CreatedAt = now
	}

	if checkout.UpdatedAt.IsZero() {
		checkout.UpdatedAt = now
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO checkouts (id, customer_id, status, total, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			customer_id = EXCLUDED.customer_id,
			status = EXCLUDED.status,
			total = EXCLUDED.total,
			updated_at = EXCLUDED.updated_at
	`, checkout.ID, checkout.CustomerID, checkout.Status, checkout.Total, checkout.CreatedAt, checkout.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save checkout %s: %w", checkout.ID, err)
	}

	return nil
}
