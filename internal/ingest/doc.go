// Package ingest implements the Feed Ingestor component.
//
// One ingestor runs per (venue, symbol) and is the sole writer of that
// key's book. It drives the sync state machine:
//
//	unsynced -> syncing  on activation (snapshot requested)
//	syncing  -> live     when a snapshot lands; buffered deltas replay
//	live     -> syncing  on a sequence gap or crossed book
//	any      -> stale    when no message arrives within the timeout
//
// Deltas received while syncing are held in a bounded drop-oldest
// buffer and replayed in sequence order once the snapshot applies;
// anything at or below the snapshot's sequence is discarded. A gap is
// never skipped silently: the cost of a full resync is preferred over
// serving a book with an undetected hole.
package ingest
