package mysql

import "fmt"

const taskSchemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id CHAR(36) NOT NULL,
	format VARCHAR(32) NOT NULL,
	input_path VARCHAR(1024) NOT NULL,
	mimetype VARCHAR(255) NOT NULL DEFAULT '',
	file_size BIGINT NOT NULL,
	status VARCHAR(16) NOT NULL DEFAULT 'pending',
	priority INT NULL,
	created_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
	updated_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),
	queued_at TIMESTAMP(6) NULL,
	PRIMARY KEY (id),
	INDEX idx_status_created (status, created_at)
)`

const eventSchemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id CHAR(36) NOT NULL,
	aggregate_id CHAR(36) NOT NULL,
	event_type VARCHAR(128) NOT NULL,
	event_data JSON NOT NULL,
	status VARCHAR(16) NOT NULL DEFAULT 'pending',
	attempt_count INT NOT NULL DEFAULT 0,
	error_message VARCHAR(1024) NULL,
	created_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
	processed_at TIMESTAMP(6) NULL,
	failed_at TIMESTAMP(6) NULL,
	claimed_until TIMESTAMP(6) NULL,
	PRIMARY KEY (id),
	INDEX idx_status_created (status, created_at),
	INDEX idx_aggregate (aggregate_id)
)`

// Schema returns the CREATE TABLE statements for the task and event tables.
// The statements are returned separately because the driver does not enable
// multi-statement execution by default.
func Schema(taskTable, eventTable string) ([]string, error) {
	tasks, err := sanitizeTableName(taskTable)
	if err != nil {
		return nil, err
	}
	events, err := sanitizeTableName(eventTable)
	if err != nil {
		return nil, err
	}

	return []string{
		fmt.Sprintf(taskSchemaTemplate, tasks),
		fmt.Sprintf(eventSchemaTemplate, events),
	}, nil
}
