package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE activities (
				id VARCHAR(26) PRIMARY KEY,
				platform VARCHAR(32) NOT NULL CHECK (platform IN ('mattermost', 'trello', 'flock')),
				event_type VARCHAR(255) NOT NULL,
				user_id VARCHAR(255),
				channel_id VARCHAR(255),
				source_key VARCHAR(512) NOT NULL,
				data JSONB NOT NULL DEFAULT '{}',
				timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
				dispatch_status VARCHAR(20) NOT NULL DEFAULT 'pending'
					CHECK (dispatch_status IN ('pending', 'dispatched', 'failed')),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				UNIQUE (platform, source_key)
			);

			CREATE INDEX idx_activities_timestamp ON activities(timestamp DESC);
			CREATE INDEX idx_activities_platform_event ON activities(platform, event_type);
			CREATE INDEX idx_activities_channel ON activities(channel_id);

			CREATE TABLE workflow_triggers (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				platform VARCHAR(32) NOT NULL,
				event_type VARCHAR(255) NOT NULL,
				conditions JSONB NOT NULL DEFAULT '{}',
				ai_agent_config JSONB NOT NULL DEFAULT '{}',
				enabled BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_triggers_lookup ON workflow_triggers(platform, event_type) WHERE enabled;

			CREATE TABLE workflow_executions (
				id UUID PRIMARY KEY,
				trigger_id UUID NOT NULL,
				activity_id VARCHAR(26) NOT NULL REFERENCES activities(id),
				status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed')),
				execution_time_ms BIGINT,
				error_message TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_executions_trigger ON workflow_executions(trigger_id);
			CREATE INDEX idx_workflow_executions_activity ON workflow_executions(activity_id);
			CREATE INDEX idx_workflow_executions_status ON workflow_executions(status);
			CREATE INDEX idx_workflow_executions_created_at ON workflow_executions(created_at DESC);
		`,
	}
}
