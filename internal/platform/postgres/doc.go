// Package postgres provides PostgreSQL implementations of the store
// interfaces. Every store accepts a store.DBTX so the same implementation
// runs against the pooled database or inside a transaction, and maps
// driver errors onto the sentinel errors defined in the store package.
package postgres
