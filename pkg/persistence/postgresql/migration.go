package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Workflow definitions read by the scheduler
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				default_inputs JSONB,
				graph_definition JSONB,
				input_schema JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_deleted_at ON workflows(deleted_at);
		`,
		2: `
			CREATE TABLE schedules (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id),
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				schedule_type VARCHAR(20) NOT NULL CHECK (schedule_type IN ('cron', 'interval', 'once', 'manual')),
				cron_expression VARCHAR(255),
				interval_seconds INTEGER CHECK (interval_seconds > 0),
				timezone VARCHAR(64) NOT NULL DEFAULT '',
				inputs JSONB,
				start_time TIMESTAMP WITH TIME ZONE,
				end_time TIMESTAMP WITH TIME ZONE,
				status VARCHAR(20) NOT NULL CHECK (status IN ('enabled', 'disabled', 'expired')),
				next_run_at TIMESTAMP WITH TIME ZONE,
				last_run_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			-- Hot path of every scan cycle
			CREATE INDEX idx_schedules_due ON schedules(next_run_at)
				WHERE status = 'enabled' AND deleted_at IS NULL AND next_run_at IS NOT NULL;
			CREATE INDEX idx_schedules_workflow_id ON schedules(workflow_id);
			CREATE INDEX idx_schedules_end_time ON schedules(end_time) WHERE status = 'enabled';
		`,
		3: `
			CREATE TABLE runs (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id),
				schedule_id VARCHAR(255) REFERENCES schedules(id),
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'running', 'success', 'failed', 'cancelled')),
				graph_snapshot JSONB,
				inputs JSONB,
				outputs JSONB,
				node_states JSONB,
				error JSONB,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				duration_ms BIGINT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_runs_workflow_id_created_at ON runs(workflow_id, created_at DESC);
			CREATE INDEX idx_runs_schedule_id ON runs(schedule_id);
			CREATE INDEX idx_runs_status_created_at ON runs(status, created_at);
		`,
	}
}
