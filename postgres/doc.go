// Package postgres implements the conversion event store on PostgreSQL with pgx/v5.
//
// The store talks to the database through stored functions
// (get_pending_conversion_events, mark_task_queued, mark_outbox_event_processed,
// mark_outbox_event_failed) so the upstream API and the dispatcher share one
// definition of each transition. Migrate installs the tables and functions.
package postgres
