// Package imap wraps the IMAP4-over-TLS mail transport behind a narrow
// Session interface so the ingestion engine and its tests never touch the
// wire protocol directly. Only the commands the engine needs are exposed:
// search, peek-fetch of full raw messages, and marking seen.
package imap
