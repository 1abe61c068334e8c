package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Versioned templates; a revision is a new row, never an update of spec
			CREATE TABLE workflow_templates (
				id VARCHAR(255) NOT NULL,
				version INTEGER NOT NULL CHECK (version > 0),
				name VARCHAR(255) NOT NULL,
				domain VARCHAR(255) NOT NULL DEFAULT '',
				spec JSONB NOT NULL,
				variables_schema JSONB,
				is_active BOOLEAN NOT NULL DEFAULT true,
				created_by VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (id, version)
			);

			CREATE INDEX idx_workflow_templates_name ON workflow_templates(name);

			CREATE TABLE workflow_instances (
				id UUID PRIMARY KEY,
				template_id VARCHAR(255) NOT NULL,
				template_version INTEGER NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('running', 'paused', 'done', 'canceled')),
				variables JSONB NOT NULL DEFAULT '{}',
				client_id VARCHAR(255) NOT NULL DEFAULT '',
				service_id VARCHAR(255) NOT NULL DEFAULT '',
				created_by VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				FOREIGN KEY (template_id, template_version) REFERENCES workflow_templates(id, version)
			);

			CREATE INDEX idx_workflow_instances_status ON workflow_instances(status);
			CREATE INDEX idx_workflow_instances_template ON workflow_instances(template_id, template_version);
		`,
		2: `
			CREATE TABLE tasks (
				id UUID PRIMARY KEY,
				workflow_instance_id UUID NOT NULL REFERENCES workflow_instances(id) ON DELETE CASCADE,
				node_id VARCHAR(255) NOT NULL,
				type VARCHAR(50) NOT NULL,
				title VARCHAR(500) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('open', 'in_progress', 'blocked', 'done', 'rejected')),
				priority VARCHAR(50) NOT NULL DEFAULT 'normal',
				assigned_role VARCHAR(255) NOT NULL DEFAULT '',
				assignee_user_id VARCHAR(255) NOT NULL DEFAULT '',
				due_at TIMESTAMP WITH TIME ZONE,
				sla_hours INTEGER,
				fields JSONB NOT NULL DEFAULT '{}',
				created_by VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			-- At most one task per template node; ad-hoc tasks are exempt
			CREATE UNIQUE INDEX idx_tasks_instance_node ON tasks(workflow_instance_id, node_id)
				WHERE node_id NOT LIKE 'adhoc:%';

			CREATE INDEX idx_tasks_instance ON tasks(workflow_instance_id, created_at);
			CREATE INDEX idx_tasks_due_open ON tasks(due_at) WHERE status NOT IN ('done', 'rejected');
		`,
		3: `
			CREATE TABLE role_members (
				role_name VARCHAR(255) NOT NULL,
				user_id VARCHAR(255) NOT NULL,
				is_active BOOLEAN NOT NULL DEFAULT true,
				order_index INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (role_name, user_id)
			);

			CREATE INDEX idx_role_members_order ON role_members(role_name, order_index);

			CREATE TABLE assignment_rules (
				role_name VARCHAR(255) PRIMARY KEY,
				strategy VARCHAR(50) NOT NULL CHECK (strategy IN ('manual', 'round_robin')),
				last_assigned_user_id VARCHAR(255) NOT NULL DEFAULT '',
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);
		`,
	}
}
