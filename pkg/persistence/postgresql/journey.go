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

const journeySelect = `
	SELECT id, name, description, status, settings, created_at, updated_at
	FROM journeys
`

// JourneyRepository stores journeys as a base row plus node and edge child rows.
type JourneyRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewJourneyRepository creates a journey repository.
func NewJourneyRepository(db *sql.DB, logger *slog.Logger) *JourneyRepository {
	return &JourneyRepository{
		db:     db,
		logger: logger.With("module", "postgresql", "repository", "journey"),
	}
}

func (r *JourneyRepository) scanJourneyBase(s interface{ Scan(dest ...any) error }) (*models.Journey, error) {
	var (
		journey      models.Journey
		settingsJSON []byte
	)

	err := s.Scan(
		&journey.ID,
		&journey.Name,
		&journey.Description,
		&journey.Status,
		&settingsJSON,
		&journey.CreatedAt,
		&journey.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(settingsJSON) > 0 {
		err = json.Unmarshal(settingsJSON, &journey.Settings)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal journey settings: %w", err)
		}
	}

	return &journey, nil
}

// All returns every stored journey with its graph loaded.
func (r *JourneyRepository) All(ctx context.Context) ([]*models.Journey, error) {
	return r.query(ctx, journeySelect+" ORDER BY created_at")
}

// ByStatus returns journeys filtered by lifecycle status.
func (r *JourneyRepository) ByStatus(ctx context.Context, status models.JourneyStatus) ([]*models.Journey, error) {
	return r.query(ctx, journeySelect+" WHERE status = $1 ORDER BY created_at", status)
}

func (r *JourneyRepository) query(ctx context.Context, query string, args ...any) ([]*models.Journey, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journeys: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.Error("failed to close rows", "error", err)
		}
	}()

	var journeys []*models.Journey

	for rows.Next() {
		journey, err := r.scanJourneyBase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journey: %w", err)
		}

		journeys = append(journeys, journey)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate journeys: %w", err)
	}

	for _, journey := range journeys {
		err = r.loadGraph(ctx, journey)
		if err != nil {
			return nil, err
		}
	}

	return journeys, nil
}

// ByID loads one journey with its graph.
func (r *JourneyRepository) ByID(ctx context.Context, id string) (*models.Journey, error) {
	row := r.db.QueryRowContext(ctx, journeySelect+" WHERE id = $1", id)

	journey, err := r.scanJourneyBase(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewJourneyError("ByID", id, persistence.ErrJourneyNotFound)
		}

		return nil, fmt.Errorf("failed to scan journey: %w", err)
	}

	err = r.loadGraph(ctx, journey)
	if err != nil {
		return nil, err
	}

	return journey, nil
}

func (r *JourneyRepository) loadGraph(ctx context.Context, journey *models.Journey) error {
	nodes, err := r.loadNodes(ctx, journey.ID)
	if err != nil {
		return err
	}

	edges, err := r.loadEdges(ctx, journey.ID)
	if err != nil {
		return err
	}

	journey.Nodes = nodes
	journey.Edges = edges

	return nil
}

func (r *JourneyRepository) loadNodes(ctx context.Context, journeyID string) ([]*models.JourneyNode, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, type, name, config
		FROM journey_nodes
		WHERE journey_id = $1
		ORDER BY position
	`, journeyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query journey nodes: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.Error("failed to close rows", "error", err)
		}
	}()

	nodes := []*models.JourneyNode{}

	for rows.Next() {
		var (
			node       models.JourneyNode
			configJSON []byte
		)

		err = rows.Scan(&node.ID, &node.Type, &node.Name, &configJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journey node: %w", err)
		}

		err = applyNodeConfig(&node, configJSON)
		if err != nil {
			return nil, err
		}

		nodes = append(nodes, &node)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate journey nodes: %w", err)
	}

	return nodes, nil
}

func (r *JourneyRepository) loadEdges(ctx context.Context, journeyID string) ([]*models.JourneyEdge, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, from_node, to_node, branch
		FROM journey_edges
		WHERE journey_id = $1
		ORDER BY position
	`, journeyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query journey edges: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.Error("failed to close rows", "error", err)
		}
	}()

	edges := []*models.JourneyEdge{}

	for rows.Next() {
		var edge models.JourneyEdge

		err = rows.Scan(&edge.ID, &edge.From, &edge.To, &edge.Branch)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journey edge: %w", err)
		}

		edges = append(edges, &edge)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate journey edges: %w", err)
	}

	return edges, nil
}

// Save upserts the journey base row and replaces its node and edge rows in
// one transaction.
func (r *JourneyRepository) Save(ctx context.Context, journey *models.Journey) error {
	now := time.Now().UTC()
	if journey.CreatedAt.IsZero() {
		journey.CreatedAt = now
	}

	journey.UpdatedAt = now

	settingsJSON, err := json.Marshal(journey.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal journey settings: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO journeys (id, name, description, status, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			settings = EXCLUDED.settings,
			updated_at = EXCLUDED.updated_at
	`, journey.ID, journey.Name, journey.Description, journey.Status, settingsJSON, journey.CreatedAt, journey.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save journey %s: %w", journey.ID, err)
	}

	err = r.replaceNodes(ctx, tx, journey)
	if err != nil {
		return err
	}

	err = r.replaceEdges(ctx, tx, journey)
	if err != nil {
		return err
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit journey save: %w", err)
	}

	return nil
}

func (r *JourneyRepository) replaceNodes(ctx context.Context, tx *sql.Tx, journey *models.Journey) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM journey_nodes WHERE journey_id = $1", journey.ID)
	if err != nil {
		return fmt.Errorf("failed to clear journey nodes: %w", err)
	}

	for i, node := range journey.Nodes {
		configJSON, err := nodeConfigJSON(node)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO journey_nodes (journey_id, id, type, name, config, position)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, journey.ID, node.ID, node.Type, node.Name, configJSON, i)
		if err != nil {
			return fmt.Errorf("failed to insert journey node %s: %w", node.ID, err)
		}
	}

	return nil
}

func (r *JourneyRepository) replaceEdges(ctx context.Context, tx *sql.Tx, journey *models.Journey) error {
	_, err := tx.ExecContext(ctx, "DELETE FROM journey_edges WHERE journey_id = $1", journey.ID)
	if err != nil {
		return fmt.Errorf("failed to clear journey edges: %w", err)
	}

	for i, edge := range journey.Edges {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO journey_edges (journey_id, id, from_node, to_node, branch, position)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, journey.ID, edge.ID, edge.From, edge.To, edge.Branch, i)
		if err != nil {
			return fmt.Errorf("failed to insert journey edge %s: %w", edge.ID, err)
		}
	}

	return nil
}

// Delete removes the journey and, via cascade, its graph rows. Missing
// journeys are not an error.
func (r *JourneyRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM journeys WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete journey %s: %w", id, err)
	}

	return nil
}

// nodeConfigJSON marshals the config matching the node's type for the JSONB
// column. Terminal nodes carry no config.
func nodeConfigJSON(node *models.JourneyNode) ([]byte, error) {
	switch node.Type {
	case models.NodeTypeTrigger:
		return json.Marshal(node.Trigger)
	case models.NodeTypeAction:
		return json.Marshal(node.Action)
	case models.NodeTypeCondition:
		return json.Marshal(node.Condition)
	case models.NodeTypeDelay:
		return json.Marshal(node.Delay)
	case models.NodeTypeABTest:
		return json.Marshal(node.ABTest)
	case models.NodeTypeGoal, models.NodeTypeExit:
		return []byte("{}"), nil
	default:
		return nil, fmt.Errorf("node %s: unknown type %q: %w", node.ID, node.Type, models.ErrInvalidNode)
	}
}

// applyNodeConfig unmarshals the JSONB config into the pointer matching the
// node's type.
func applyNodeConfig(node *models.JourneyNode, raw []byte) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	switch node.Type {
	case models.NodeTypeTrigger:
		var config models.TriggerConfig
		if err := json.Unmarshal(raw, &config); err != nil {
			return fmt.Errorf("failed to unmarshal trigger config for node %s: %w", node.ID, err)
		}

		node.Trigger = &config
	case models.NodeTypeAction:
		var config models.ActionConfig
		if err := json.Unmarshal(raw, &config); err != nil {
			return fmt.Errorf("failed to unmarshal action config for node %s: %w", node.ID, err)
		}

		node.Action = &config
	case models.NodeTypeCondition:
		var config models.ConditionConfig
		if err := json.Unmarshal(raw, &config); err != nil {
			return fmt.Errorf("failed to unmarshal condition config for node %s: %w", node.ID, err)
		}

		node.Condition = &config
	case models.NodeTypeDelay:
		var config models.DelayConfig
		if err := json.Unmarshal(raw, &config); err != nil {
			return fmt.Errorf("failed to unmarshal delay config for node %s: %w", node.ID, err)
		}

		node.Delay = &config
	case models.NodeTypeABTest:
		var config models.ABTestConfig
		if err := json.Unmarshal(raw, &config); err != nil {
			return fmt.Errorf("failed to unmarshal abtest config for node %s: %w", node.ID, err)
		}

		node.ABTest = &config
	case models.NodeTypeGoal, models.NodeTypeExit:
	default:
		return fmt.Errorf("node %s: unknown type %q: %w", node.ID, node.Type, models.ErrInvalidNode)
	}

	return nil
}
