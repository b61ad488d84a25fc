// Package file provides file-based persistence for local development and
// tests. One JSON document per entity, grouped in per-type directories.
package file

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/dukex/itinera/pkg/persistence"
)

// Persistence implements persistence.Persistence on the local file system.
// A single mutex serializes enrollment writes so the version check behaves
// like the conditional UPDATE of the SQL store.
type Persistence struct {
	root        string
	mu          sync.Mutex
	journeys    *JourneyRepository
	enrollments *EnrollmentRepository
	activities  *ActivityRepository
	customers   *CustomerRepository
	checkouts   *CheckoutRepository
	segments    *SegmentRepository
}

// NewPersistence creates a file persistence rooted at the given directory.
// Accepts plain paths and file:// URLs.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.journeys = &JourneyRepository{root: cleanRoot}
	p.enrollments = &EnrollmentRepository{root: cleanRoot, mu: &p.mu}
	p.activities = &ActivityRepository{root: cleanRoot, mu: &p.mu}
	p.customers = &CustomerRepository{root: cleanRoot}
	p.checkouts = &CheckoutRepository{root: cleanRoot}
	p.segments = &SegmentRepository{root: cleanRoot}

	return p
}

// Journeys returns the journey repository.
func (p *Persistence) Journeys() persistence.JourneyRepository {
	return p.journeys
}

// Enrollments returns the enrollment repository.
func (p *Persistence) Enrollments() persistence.EnrollmentRepository {
	return p.enrollments
}

// Activities returns the activity repository.
func (p *Persistence) Activities() persistence.ActivityRepository {
	return p.activities
}

// Customers returns the customer repository.
func (p *Persistence) Customers() persistence.CustomerRepository {
	return p.customers
}

// Checkouts returns the checkout repository.
func (p *Persistence) Checkouts() persistence.CheckoutRepository {
	return p.checkouts
}

// Segments returns the segment repository.
func (p *Persistence) Segments() persistence.SegmentRepository {
	return p.segments
}

// HealthCheck verifies the root directory exists.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close is a no-op for file persistence.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}
