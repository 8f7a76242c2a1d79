package postgresql

// migrations returns the versioned schema migrations, applied in order by
// sqlbase.MigrationManager.
func migrations() map[int]string {
	return map[int]string{
		1: migrationV1,
	}
}

const migrationV1 = `
	CREATE TABLE IF NOT EXISTS node_types (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		icon TEXT NOT NULL DEFAULT '',
		color TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		config_schema JSONB,
		requires_user_action BOOLEAN NOT NULL DEFAULT FALSE,
		allows_multiple_outputs BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS workflows (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		trigger_type TEXT NOT NULL DEFAULT 'manual',
		schedule_config JSONB,
		template_id TEXT,
		owner TEXT NOT NULL DEFAULT '',
		assigned_users JSONB,
		total_runs BIGINT NOT NULL DEFAULT 0,
		successful_runs BIGINT NOT NULL DEFAULT 0,
		failed_runs BIGINT NOT NULL DEFAULT 0,
		avg_duration_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
		last_run_at TIMESTAMP WITH TIME ZONE,
		deleted_at TIMESTAMP WITH TIME ZONE
	);

	CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows(status) WHERE deleted_at IS NULL;

	CREATE TABLE IF NOT EXISTS workflow_nodes (
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
		node_type_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		position_x DOUBLE PRECISION NOT NULL DEFAULT 0,
		position_y DOUBLE PRECISION NOT NULL DEFAULT 0,
		config JSONB,
		is_required BOOLEAN NOT NULL DEFAULT TRUE,
		timeout_seconds INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER,
		assigned_user TEXT,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
		UNIQUE (workflow_id, node_id)
	);

	CREATE TABLE IF NOT EXISTS workflow_edges (
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
		source_node TEXT NOT NULL,
		target_node TEXT NOT NULL,
		condition TEXT NOT NULL,
		condition_config JSONB,
		label TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		UNIQUE (workflow_id, source_node, target_node, condition)
	);

	CREATE TABLE IF NOT EXISTS workflow_executions (
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL,
		status TEXT NOT NULL,
		triggered_by TEXT NOT NULL DEFAULT '',
		trigger_payload JSONB,
		context_data JSONB,
		current_node TEXT,
		snapshot JSONB,
		started_at TIMESTAMP WITH TIME ZONE NOT NULL,
		completed_at TIMESTAMP WITH TIME ZONE,
		duration_seconds DOUBLE PRECISION,
		error_message TEXT NOT NULL DEFAULT '',
		error_details JSONB
	);

	CREATE INDEX IF NOT EXISTS idx_workflow_executions_workflow ON workflow_executions(workflow_id, started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_workflow_executions_status ON workflow_executions(status);

	CREATE TABLE IF NOT EXISTS workflow_node_executions (
		id TEXT PRIMARY KEY,
		execution_id TEXT NOT NULL REFERENCES workflow_executions(id) ON DELETE CASCADE,
		node_id TEXT NOT NULL,
		status TEXT NOT NULL,
		input_data JSONB,
		output_data JSONB,
		started_at TIMESTAMP WITH TIME ZONE,
		completed_at TIMESTAMP WITH TIME ZONE,
		duration_seconds DOUBLE PRECISION,
		error_message TEXT NOT NULL DEFAULT '',
		retry_count INTEGER NOT NULL DEFAULT 0,
		approved_by TEXT,
		approval_notes TEXT NOT NULL DEFAULT '',
		approval_expires_at TIMESTAMP WITH TIME ZONE,
		UNIQUE (execution_id, node_id)
	);

	CREATE INDEX IF NOT EXISTS idx_node_executions_waiting
		ON workflow_node_executions(approval_expires_at)
		WHERE status = 'waiting_approval' AND approval_expires_at IS NOT NULL;

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		workflow_id TEXT,
		execution_id TEXT,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		metadata JSONB,
		recorded_at TIMESTAMP WITH TIME ZONE NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_log_workflow ON audit_log(workflow_id, recorded_at DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_log_execution ON audit_log(execution_id, recorded_at DESC);

	CREATE TABLE IF NOT EXISTS workflow_templates (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL,
		definition JSONB NOT NULL,
		setup_time_minutes INTEGER NOT NULL DEFAULT 0,
		complexity_level INTEGER NOT NULL DEFAULT 1,
		tags JSONB,
		usage_count BIGINT NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL
	);
`
