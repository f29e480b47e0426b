// Package ingest implements the IMAP ingestion pipeline: resolving vendor
// filters into search criteria, fetching and deduplicating report emails,
// writing matching attachments to disk, archiving unprocessable messages,
// and recording subsystem health. All mail I/O runs through the shared
// rate limiter, circuit breaker and retry stack so a flaky mail server is
// neither hammered nor fatal.
package ingest
