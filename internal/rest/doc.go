// Package rest exposes the HTTP query API.
//
// Endpoints:
//   - GET    /v1/book          current book snapshot for a venue/symbol
//   - GET    /v1/aggregates    spread, mid, and depth imbalance
//   - GET    /v1/features      fast-path microstructure features
//   - GET    /v1/state         ingestion sync state
//   - GET    /v1/stats         runtime counters
//   - POST   /v1/subscriptions start maintaining a book
//   - DELETE /v1/subscriptions stop maintaining a book
//
// Books are addressed by venue and symbol query parameters. Features
// are keyed by symbol; venue is optional there and only disambiguates
// per-venue feature windows. All
// responses are JSON; decimals are serialized as strings to keep full
// precision on the wire.
package rest
