// Package store defines the persistence interfaces for the report engine.
// Each interface maps to one table owned by the external persistence
// collaborator (imap_filters, failed_emails, health_checks, jobs, workflows,
// schedules, email_logs); the engine performs plain CRUD against them and
// does not own production migrations.
package store
