// Package book implements the Book Store component.
//
// The Book Store:
//   - Owns one L2 order book per (venue, symbol)
//   - Applies snapshots and gapless sequenced deltas
//   - Publishes each new state copy-on-write, so readers never block
//     writers and always observe a complete book
//   - Flags crossed books without ever publishing them
package book
