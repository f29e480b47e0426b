// Package domain defines the core business entities for the report
// ingestion and workflow pipeline: vendor mail filters, fetched messages,
// failed-email archive rows, health check records, durable jobs,
// workflows with ordered steps, and cron schedules.
package domain
