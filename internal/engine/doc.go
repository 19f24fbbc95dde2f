// Package engine implements the record-versioning engine: the save pipeline
// for aggregated (content deduplicated) and tracked (append-only versioned)
// entity types, the repository that runs it inside a transaction, and the
// association guards built on top of it.
//
// A save runs a fixed pipeline of strategies:
//
//	AggregatedSave (aggregated types) -> TrackedSave (tracked types) -> PlainSave
//
// Each strategy may short-circuit or delegate to the next one.
package engine
