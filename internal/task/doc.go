// Package task implements the durable job queue: a persistence-backed
// queue service for enqueueing work, a handler registry keyed by task ID,
// and a polling runner whose workers claim due jobs atomically so multiple
// worker processes can share one queue without double execution.
package task
