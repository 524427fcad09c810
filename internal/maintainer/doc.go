// Package maintainer implements the Book Maintainer component.
//
// The Book Maintainer:
//   - Owns the registry mapping (venue, symbol) to book, sync state,
//     and feature window; entries are installed atomically
//   - Starts one feed ingestor per subscription and routes parsed feed
//     messages to it
//   - Answers snapshot, aggregate, and feature queries from
//     already-materialized state; queries never block on feed I/O
package maintainer
