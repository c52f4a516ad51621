package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				component_id VARCHAR(255) NOT NULL,
				id VARCHAR(255) NOT NULL,
				schedule VARCHAR(255) NOT NULL,
				docker_image TEXT NOT NULL,
				docker_args JSONB NOT NULL DEFAULT '[]',
				docker_termination_logging BOOLEAN NOT NULL DEFAULT false,
				secret JSONB,
				service_account VARCHAR(255),
				commit_sha CHAR(40),
				env JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (component_id, id)
			);

			CREATE TABLE active_states (
				instance_key TEXT PRIMARY KEY,
				component_id VARCHAR(255) NOT NULL,
				workflow_id VARCHAR(255) NOT NULL,
				parameter TEXT NOT NULL,
				state VARCHAR(32) NOT NULL,
				counter BIGINT NOT NULL,
				state_timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
				payload JSONB NOT NULL
			);

			CREATE TABLE run_events (
				instance_key TEXT NOT NULL,
				counter BIGINT NOT NULL,
				event_type VARCHAR(32) NOT NULL,
				payload JSONB NOT NULL,
				occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (instance_key, counter)
			);
		`,
		2: `
			CREATE INDEX idx_active_states_state ON active_states(state);
			CREATE INDEX idx_active_states_workflow ON active_states(component_id, workflow_id);
			CREATE INDEX idx_run_events_occurred_at ON run_events(occurred_at);
		`,
	}
}
