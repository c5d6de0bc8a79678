// Package redisqueue implements convdispatch.Backend on Redis using the key layout
// the conversion worker reads. The layout follows BullMQ's key names but is not a
// full BullMQ implementation: there is no "prioritized" set and no job counter.
//
// Keys live under "<prefix>:<lane>:". A job is a hash at "<prefix>:<lane>:<id>".
// Immediate jobs are pushed to the "wait" list whatever their priority, because the
// worker only pops that list. Delayed jobs are added to the "delayed" sorted set
// scored by their due time in unix milliseconds.
package redisqueue
