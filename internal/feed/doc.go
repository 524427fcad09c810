// Package feed implements the ingestion boundary.
//
// The feed layer:
//   - Parses raw venue wire messages into a closed set of typed
//     variants (snapshot, delta, trade, quote)
//   - Validates venue, symbol, side, and numeric fields before anything
//     reaches book logic
//   - Routes parsed messages to the book maintainer, dropping and
//     counting malformed input
package feed
