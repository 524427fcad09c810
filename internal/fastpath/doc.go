// Package fastpath implements the Fast Path feature engine.
//
// The Fast Path engine:
//   - Keeps a short rolling window of trade/quote events per symbol
//   - Maintains order-flow imbalance, trade intensity, and a realized
//     variance proxy as running sums, so recording an event is O(1)
//     plus O(events evicted)
//   - Serves the latest feature set without touching the feed path
//
// Feature scope is configurable: windows are keyed by bare symbol
// (aggregating across venues) or by (venue, symbol).
package fastpath
