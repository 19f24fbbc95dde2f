// Package types defines the record model, entity type configuration, the
// Store and Repository interfaces, and the standard errors for keepsake.
//
// A Record is bound to a Schema, a static capability descriptor resolved once
// when the entity type is declared. EntityType layers aggregated (content
// deduplicated) and tracked (append-only versioned) behavior on top of it.
package types
