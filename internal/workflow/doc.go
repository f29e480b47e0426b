// Package workflow implements the durable workflow state machine: a
// persisted sequence of typed steps executed one at a time under a leased
// advisory lock. Progress is saved after every step, so a workflow resumed
// after a crash or restart continues exactly where it left off.
package workflow
