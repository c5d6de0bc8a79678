// Package convdispatch relays conversion requests from a transactional outbox to a job queue.
//
// Typical flow:
//  1. The API creates a conversion task and its outbox event in one transaction.
//  2. A Dispatcher polls the EventStore, decodes each pending event and hands the job to a Router.
//  3. The Router picks the light or heavy lane by file size, attaches the lane policy and submits the job to a Backend.
//  4. On success the task is marked queued and the event processed; on failure the event is marked failed with the error message.
//
// Delivery is at-least-once. Consumers of the queue must deduplicate on the task id.
//
// Store implementations live in the postgres and mysql packages, the Redis backend in redisqueue.
package convdispatch
