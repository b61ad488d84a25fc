package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/dukex/itinera/pkg/models"
	"github.com/dukex/itinera/pkg/persistence"
	"github.com/dukex/itinera/pkg/persistence/postgresql"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Drop tables in reverse dependency order (children first, parents last)
	for _, table := range []string{"journey_edges", "journey_nodes", "activity_entries", "enrollments", "checkouts", "segments", "customers", "journeys", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("itinera_test"),
			postgres.WithUsername("itinera"),
			postgres.WithPassword("itinera"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = store.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return store, ctx, databaseURL
}

func testJourney(id string) *models.Journey {
	return &models.Journey{
		ID:     id,
		Name:   "Welcome Flow",
		Status: models.JourneyStatusActive,
		Nodes: []*models.JourneyNode{
			{
				ID:      "n-trigger",
				Type:    models.NodeTypeTrigger,
				Name:    "VIP joined",
				Trigger: &models.TriggerConfig{Kind: models.TriggerKindSegmentJoined, SegmentID: "seg-vip"},
			},
			{
				ID:   "n-send",
				Type: models.NodeTypeAction,
				Name: "Welcome message",
				Action: &models.ActionConfig{
					Kind: models.ActionKindSendMessage,
					Template: models.MessageTemplate{
						Name: "welcome",
						Body: "Hi there!",
						Buttons: []models.MessageButton{
							{ID: "btn-yes", Title: "Yes please"},
						},
					},
					ExitPaths: models.ExitPathSet{
						Read: &models.ExitPath{
							Enabled: true,
							Action:  models.ExitAction{Type: models.ExitActionBranch, BranchID: "engaged"},
						},
						Failed: &models.ExitPath{
							Enabled: true,
							Action:  models.ExitAction{Type: models.ExitActionExit},
						},
					},
				},
			},
			{
				ID:    "n-wait",
				Type:  models.NodeTypeDelay,
				Delay: &models.DelayConfig{Duration: 60, Unit: models.DelayUnitMinutes},
			},
			{
				ID:   "n-split",
				Type: models.NodeTypeABTest,
				ABTest: &models.ABTestConfig{
					Variants: []models.Variant{
						{ID: "a", Weight: 70},
						{ID: "b", Weight: 30},
					},
				},
			},
			{ID: "n-goal", Type: models.NodeTypeGoal},
		},
		Edges: []*models.JourneyEdge{
			{ID: "e1", From: "n-trigger", To: "n-send"},
			{ID: "e2", From: "n-send", To: "n-wait"},
			{ID: "e3", From: "n-send", To: "n-goal", Branch: "engaged"},
			{ID: "e4", From: "n-wait", To: "n-split"},
			{ID: "e5", From: "n-split", To: "n-goal", Branch: "a"},
			{ID: "e6", From: "n-split", To: "n-goal", Branch: "b"},
		},
		Settings: models.JourneySettings{
			AllowReentry:        true,
			ReentryCooldownDays: 3,
			Entry:               models.EntrySettings{SegmentID: "seg-vip"},
		},
	}
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	var exists bool

	err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = 'journeys')`).Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists, "journeys table should exist")

	err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = 'enrollments')`).Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists, "enrollments table should exist")

	var version int

	err = db.QueryRowContext(ctx, "SELECT version FROM schema_migrations WHERE version = 1").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	err := p.HealthCheck(ctx)
	assert.NoError(t, err)
}

func TestJourneyRepository_SaveAndRetrieve(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	journey := testJourney("journey-welcome")

	err := p.Journeys().Save(ctx, journey)
	require.NoError(t, err)
	assert.False(t, journey.CreatedAt.IsZero())
	assert.False(t, journey.UpdatedAt.IsZero())

	retrieved, err := p.Journeys().ByID(ctx, journey.ID)
	require.NoError(t, err)
	require.NotNil(t, retrieved)

	assert.Equal(t, journey.ID, retrieved.ID)
	assert.Equal(t, journey.Name, retrieved.Name)
	assert.Equal(t, journey.Status, retrieved.Status)
	assert.Equal(t, journey.Settings, retrieved.Settings)
	require.Len(t, retrieved.Nodes, len(journey.Nodes))
	require.Len(t, retrieved.Edges, len(journey.Edges))

	for _, node := range retrieved.Nodes {
		switch node.ID {
		case "n-trigger":
			require.NotNil(t, node.Trigger)
			assert.Equal(t, models.TriggerKindSegmentJoined, node.Trigger.Kind)
			assert.Equal(t, "seg-vip", node.Trigger.SegmentID)
		case "n-send":
			require.NotNil(t, node.Action)
			assert.Equal(t, "welcome", node.Action.Template.Name)
			require.NotNil(t, node.Action.ExitPaths.Read)
			assert.Equal(t, models.ExitActionBranch, node.Action.ExitPaths.Read.Action.Type)
			assert.Equal(t, "engaged", node.Action.ExitPaths.Read.Action.BranchID)
		case "n-wait":
			require.NotNil(t, node.Delay)
			assert.Equal(t, 60, node.Delay.Duration)
			assert.Equal(t, models.DelayUnitMinutes, node.Delay.Unit)
		case "n-split":
			require.NotNil(t, node.ABTest)
			require.Len(t, node.ABTest.Variants, 2)
			assert.Equal(t, 70, node.ABTest.Variants[0].Weight)
		case "n-goal":
			assert.Nil(t, node.Trigger)
			assert.Nil(t, node.Action)
		}
	}

	// Node order is the definition order
	assert.Equal(t, "n-trigger", retrieved.Nodes[0].ID)
	assert.Equal(t, "n-goal", retrieved.Nodes[4].ID)

	_, err = p.Journeys().ByID(ctx, uuid.NewString())
	require.Error(t, err)
	assert.True(t, persistence.IsJourneyNotFound(err))
}

func TestJourneyRepository_Update(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	journey := testJourney("journey-update")

	err := p.Journeys().Save(ctx, journey)
	require.NoError(t, err)

	initialUpdatedAt := journey.UpdatedAt

	time.Sleep(10 * time.Millisecond)

	journey.Name = "Welcome Flow v2"
	journey.Status = models.JourneyStatusPaused
	journey.Nodes = journey.Nodes[:2]
	journey.Edges = journey.Edges[:1]

	err = p.Journeys().Save(ctx, journey)
	require.NoError(t, err)

	retrieved, err := p.Journeys().ByID(ctx, journey.ID)
	require.NoError(t, err)

	assert.Equal(t, "Welcome Flow v2", retrieved.Name)
	assert.Equal(t, models.JourneyStatusPaused, retrieved.Status)
	assert.Len(t, retrieved.Nodes, 2)
	assert.Len(t, retrieved.Edges, 1)
	assert.True(t, retrieved.UpdatedAt.After(initialUpdatedAt))
}

func TestJourneyRepository_ByStatus(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	active := testJourney("journey-active")
	draft := testJourney("journey-draft")
	draft.Status = models.JourneyStatusDraft

	require.NoError(t, p.Journeys().Save(ctx, active))
	require.NoError(t, p.Journeys().Save(ctx, draft))

	journeys, err := p.Journeys().ByStatus(ctx, models.JourneyStatusActive)
	require.NoError(t, err)
	require.Len(t, journeys, 1)
	assert.Equal(t, "journey-active", journeys[0].ID)

	all, err := p.Journeys().All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestJourneyRepository_Delete(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	journey := testJourney("journey-delete")

	err := p.Journeys().Save(ctx, journey)
	require.NoError(t, err)

	err = p.Journeys().Delete(ctx, journey.ID)
	require.NoError(t, err)

	_, err = p.Journeys().ByID(ctx, journey.ID)
	assert.True(t, persistence.IsJourneyNotFound(err))

	// Deleting a missing journey is not an error
	err = p.Journeys().Delete(ctx, uuid.NewString())
	assert.NoError(t, err)
}
