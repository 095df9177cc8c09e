// Package fills owns the raw Fill fact and its idempotent bulk insert into
// hl_fills_raw.
package fills

import "strings"

// ClassPredicate decides whether a coin symbol names a spot or perpetual
// instrument. Exposed as a swappable value, not a hardcoded call, because
// the spot/perp boundary is an upstream convention this module does not
// control and may need to evolve independently of the rest of the Fetcher.
type ClassPredicate func(coin string) (isSpot, isPerp bool)

// ClassifyCoin is the default predicate: a coin name containing "/" or
// starting with "@" is spot; everything else is perp.
func ClassifyCoin(coin string) (isSpot, isPerp bool) {
	if strings.Contains(coin, "/") || strings.HasPrefix(coin, "@") {
		return true, false
	}
	return false, true
}
