// Package scheduler turns cron expressions into workflow runs. A poll loop
// finds due schedules, resolves or creates their workflow, and enqueues a
// high-priority execution job. Schedules bound to a locked workflow are
// skipped without advancing, so a trigger is deferred rather than lost.
package scheduler
