package postgresql

// migrations returns the ordered schema migrations for the PostgreSQL store.
func migrations() map[int]string {
	return map[int]string{
		1: `
		-- Journey definitions
		CREATE TABLE IF NOT EXISTS journeys (
			id VARCHAR(255) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status VARCHAR(50) NOT NULL DEFAULT 'draft' CHECK (status IN ('draft', 'active', 'paused')),
			settings JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_journeys_status ON journeys(status);

		-- Journey graph nodes, one row per node, config holds the per-type payload
		CREATE TABLE IF NOT EXISTS journey_nodes (
			journey_id VARCHAR(255) NOT NULL REFERENCES journeys(id) ON DELETE CASCADE,
			id VARCHAR(255) NOT NULL,
			type VARCHAR(50) NOT NULL CHECK (type IN ('trigger', 'action', 'condition', 'delay', 'goal', 'exit', 'abtest')),
			name VARCHAR(255) NOT NULL DEFAULT '',
			config JSONB NOT NULL DEFAULT '{}',
			position INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (journey_id, id)
		);

		-- Journey graph edges
		CREATE TABLE IF NOT EXISTS journey_edges (
			journey_id VARCHAR(255) NOT NULL REFERENCES journeys(id) ON DELETE CASCADE,
			id VARCHAR(255) NOT NULL,
			from_node VARCHAR(255) NOT NULL,
			to_node VARCHAR(255) NOT NULL,
			branch VARCHAR(255) NOT NULL DEFAULT '',
			position INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (journey_id, id)
		);

		CREATE INDEX IF NOT EXISTS idx_journey_edges_from ON journey_edges(journey_id, from_node);

		-- Enrollments walk the graph; version backs optimistic concurrency
		CREATE TABLE IF NOT EXISTS enrollments (
			id VARCHAR(255) PRIMARY KEY,
			journey_id VARCHAR(255) NOT NULL,
			customer_id VARCHAR(255) NOT NULL,
			current_node_id VARCHAR(255) NOT NULL,
			status VARCHAR(50) NOT NULL CHECK (status IN ('active', 'waiting', 'completed', 'exited', 'failed')),
			waiting_type VARCHAR(50),
			waiting_timeout_at TIMESTAMP WITH TIME ZONE,
			message_id VARCHAR(255),
			metadata JSONB NOT NULL DEFAULT '{}',
			version BIGINT NOT NULL DEFAULT 0,
			started_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			last_activity_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			completed_at TIMESTAMP WITH TIME ZONE
		);

		CREATE INDEX IF NOT EXISTS idx_enrollments_journey ON enrollments(journey_id);
		CREATE INDEX IF NOT EXISTS idx_enrollments_journey_customer ON enrollments(journey_id, customer_id);
		CREATE INDEX IF NOT EXISTS idx_enrollments_journey_status ON enrollments(journey_id, status);
		CREATE INDEX IF NOT EXISTS idx_enrollments_message_id ON enrollments(message_id) WHERE message_id IS NOT NULL;
		CREATE INDEX IF NOT EXISTS idx_enrollments_waiting_timeout ON enrollments(waiting_timeout_at) WHERE status = 'waiting' AND waiting_timeout_at IS NOT NULL;

		-- One live enrollment per customer per journey
		CREATE UNIQUE INDEX IF NOT EXISTS idx_enrollments_one_live ON enrollments(journey_id, customer_id) WHERE status IN ('active', 'waiting');

		-- Append-only enrollment activity log
		CREATE TABLE IF NOT EXISTS activity_entries (
			id VARCHAR(255) PRIMARY KEY,
			enrollment_id VARCHAR(255) NOT NULL,
			journey_id VARCHAR(255) NOT NULL,
			node_id VARCHAR(255) NOT NULL DEFAULT '',
			kind VARCHAR(100) NOT NULL,
			timestamp TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			metadata JSONB
		);

		CREATE INDEX IF NOT EXISTS idx_activity_enrollment ON activity_entries(enrollment_id, timestamp);

		-- Customer profiles
		CREATE TABLE IF NOT EXISTS customers (
			id VARCHAR(255) PRIMARY KEY,
			phone VARCHAR(50) NOT NULL DEFAULT '',
			email VARCHAR(255) NOT NULL DEFAULT '',
			name VARCHAR(255) NOT NULL DEFAULT '',
			attributes JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		-- Checkouts feed the abandoned cart trigger
		CREATE TABLE IF NOT EXISTS checkouts (
			id VARCHAR(255) PRIMARY KEY,
			customer_id VARCHAR(255) NOT NULL,
			status VARCHAR(50) NOT NULL CHECK (status IN ('open', 'completed', 'abandoned')),
			total DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_checkouts_status ON checkouts(status);
		CREATE INDEX IF NOT EXISTS idx_checkouts_customer ON checkouts(customer_id);

		-- Segment definitions
		CREATE TABLE IF NOT EXISTS segments (
			id VARCHAR(255) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			groups JSONB NOT NULL DEFAULT '[]'
		);
		`,
	}
}
