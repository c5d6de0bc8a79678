package mysql

import (
	"fmt"

	"github.com/velmie/convdispatch"
)

const eventColumns = "id, aggregate_id, event_type, event_data, status, created_at, processed_at, error_message, attempt_count"

type queries struct {
	insertTask    string
	insertEvent   string
	selectPending string
	markQueued    string
	markProcessed string
	markFailed    string
	countPending  string

	deleteProcessed string
	deleteFailed    string
}

func newQueries(tasks, events string) queries {
	return queries{
		insertTask: fmt.Sprintf(
			"INSERT INTO %s (id, format, input_path, mimetype, file_size, status, priority) VALUES (?, ?, ?, ?, ?, ?, ?)",
			tasks,
		),
		insertEvent: fmt.Sprintf(
			"INSERT INTO %s (id, aggregate_id, event_type, event_data, status) VALUES (?, ?, ?, ?, ?)",
			events,
		),
		// args: pending status, failed status, max attempts, failed before, claim cutoff, limit
		selectPending: fmt.Sprintf(
			"SELECT %s FROM %s "+
				"WHERE (status = ? OR (status = ? AND attempt_count < ? AND failed_at <= ?)) "+
				"AND (claimed_until IS NULL OR claimed_until <= ?) "+
				"ORDER BY created_at ASC, id ASC LIMIT ? FOR UPDATE SKIP LOCKED",
			eventColumns,
			events,
		),
		markQueued: fmt.Sprintf(
			"UPDATE %s SET status = '%s', queued_at = ? WHERE id = ? AND status = '%s'",
			tasks,
			convdispatch.TaskQueued,
			convdispatch.TaskPending,
		),
		markProcessed: fmt.Sprintf(
			"UPDATE %s SET status = '%s', processed_at = ?, claimed_until = NULL WHERE id = ? AND status <> '%s'",
			events,
			convdispatch.EventProcessed,
			convdispatch.EventProcessed,
		),
		markFailed: fmt.Sprintf(
			"UPDATE %s SET status = '%s', error_message = ?, attempt_count = attempt_count + 1, "+
				"failed_at = ?, claimed_until = NULL WHERE id = ? AND status <> '%s'",
			events,
			convdispatch.EventFailed,
			convdispatch.EventProcessed,
		),
		countPending: fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE status = '%s'", events, convdispatch.EventPending),
		// args: before, limit
		deleteProcessed: fmt.Sprintf(
			"DELETE FROM %s WHERE status = '%s' AND processed_at <= ? ORDER BY processed_at LIMIT ?",
			events,
			convdispatch.EventProcessed,
		),
		// args: max attempts, before, limit
		deleteFailed: fmt.Sprintf(
			"DELETE FROM %s WHERE status = '%s' AND attempt_count >= ? AND failed_at <= ? ORDER BY failed_at LIMIT ?",
			events,
			convdispatch.EventFailed,
		),
	}
}

func buildClaimQuery(table string, count int) string {
	return fmt.Sprintf("UPDATE %s SET claimed_until = ? WHERE id IN (%s)", table, makePlaceholders(count))
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}

	buf := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '?')
	}

	return string(buf)
}
