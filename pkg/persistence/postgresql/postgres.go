// Package postgresql implements persistence on PostgreSQL with JSONB columns
// for nested journey structures and versioned enrollment updates.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/dukex/itinera/pkg/persistence"
	"github.com/dukex/itinera/pkg/persistence/sqlbase"
)

// Persistence wires all PostgreSQL-backed repositories over one connection pool.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	journeyRepo    *JourneyRepository
	enrollmentRepo *EnrollmentRepository
	activityRepo   *ActivityRepository
	customerRepo   *CustomerRepository
	checkoutRepo   *CheckoutRepository
	segmentRepo    *SegmentRepository
}

// NewPersistence opens the database, runs pending migrations and returns the store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	p := &Persistence{
		db:             db,
		logger:         logger.With("module", "postgresql"),
		journeyRepo:    NewJourneyRepository(db, logger),
		enrollmentRepo: NewEnrollmentRepository(db, logger),
		activityRepo:   NewActivityRepository(db, logger),
		customerRepo:   NewCustomerRepository(db, logger),
		checkoutRepo:   NewCheckoutRepository(db, logger),
		segmentRepo:    NewSegmentRepository(db, logger),
	}

	migrationManager := sqlbase.NewMigrationManager(logger, db, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return p, nil
}

// Journeys returns the journey repository.
func (p *Persistence) Journeys() persistence.JourneyRepository {
	return p.journeyRepo
}

// Enrollments returns the enrollment repository.
func (p *Persistence) Enrollments() persistence.EnrollmentRepository {
	return p.enrollmentRepo
}

// Activities returns the activity repository.
func (p *Persistence) Activities() persistence.ActivityRepository {
	return p.activityRepo
}

// Customers returns the customer repository.
func (p *Persistence) Customers() persistence.CustomerRepository {
	return p.customerRepo
}

// Checkouts returns the checkout repository.
func (p *Persistence) Checkouts() persistence.CheckoutRepository {
	return p.checkoutRepo
}

// Segments returns the segment repository.
func (p *Persistence) Segments() persistence.SegmentRepository {
	return p.segmentRepo
}

// HealthCheck verifies the database connection is alive.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (p *Persistence) Close(_ context.Context) error {
	return p.db.Close()
}
