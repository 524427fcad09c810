// Package model defines shared data types used across bookfeed.
//
// Conventions:
//   - Prices and quantities: shopspring decimal, exact arithmetic
//   - Timestamps: time.Time, UTC
//   - Books are keyed by (venue, symbol); feature windows by symbol, or
//     by (venue, symbol) when per-venue feature scope is configured
package model
