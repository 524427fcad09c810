// Package connector implements venue connectivity.
//
// The connector:
//   - Maintains one WebSocket stream per venue with ping/pong liveness
//     and exponential-backoff reconnect
//   - Re-subscribes tracked symbols after every reconnect
//   - Serves point-in-time book snapshots over the venue REST API for
//     the ingestors' resynchronization path
package connector
