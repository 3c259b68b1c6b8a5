// Package domain defines the core business types for the ProspectAI pipeline.
//
// Types in this package are pure value objects with no behavior beyond
// validation, no storage dependencies, and no HTTP concerns. They are the
// shared language between scrapers, AI enrichment, the orchestrator, and
// store backends.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No clients, no http.Request, no context.Context in struct fields
//   - JSON tags are allowed (they're metadata, not behavior)
//   - Validation and normalization methods are allowed (pure functions)
//   - Constants and enums belong here
package domain
