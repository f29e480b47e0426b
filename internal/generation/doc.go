// Package generation defines the insight-generation boundary. The
// LLM-backed content logic is an external collaborator consumed through
// the Generator interface, following the hexagonal architecture pattern:
// the workflow engine passes parsed records in and persists whatever
// insight comes back, with no knowledge of how it was produced.
package generation
