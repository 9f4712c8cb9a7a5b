package exchange

import (
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/johnayoung/cexdata/internal/errors"
)

// Profile is the static description of one exchange: how many candles a single
// request may return, which catalog intervals it lists and under which native
// code, and how canonical pairs map to its listed symbols.
type Profile struct {
	Name      string
	Limit     int               // max candles per request
	Intervals map[string]string // catalog label -> exchange interval code
	Symbols   SymbolPolicy
}

var profiles = map[string]Profile{
	"binance": {
		Name:  "binance",
		Limit: 1000,
		Intervals: map[string]string{
			"1m": "1m", "5m": "5m", "15m": "15m", "30m": "30m",
			"1h": "1h", "2h": "2h", "4h": "4h", "12h": "12h",
			"1d": "1d", "1w": "1w", "1M": "1M",
		},
		Symbols: SymbolPolicy{QuoteRewrites: map[string]string{"USD": "USDT"}},
	},
	"ftx": {
		Name:  "ftx",
		Limit: 5000,
		Intervals: map[string]string{
			"1m": "60", "5m": "300", "15m": "900",
			"1h": "3600", "4h": "14400", "1d": "86400",
		},
	},
	"kucoin": {
		Name:  "kucoin",
		Limit: 1500,
		Intervals: map[string]string{
			"1m": "1min", "5m": "5min", "15m": "15min", "30m": "30min",
			"1h": "1hour", "2h": "2hour", "4h": "4hour", "12h": "12hour",
			"1d": "1day", "1w": "1week",
		},
	},
	"hitbtc": {
		Name:  "hitbtc",
		Limit: 1000,
		Intervals: map[string]string{
			"1m": "M1", "5m": "M5", "15m": "M15", "30m": "M30",
			"1h": "H1", "4h": "H4", "1d": "D1", "1w": "D7", "1M": "1M",
		},
	},
	"bitfinex": {
		Name:  "bitfinex",
		Limit: 10000,
		Intervals: map[string]string{
			"1m": "1m", "5m": "5m", "15m": "15m", "30m": "30m",
			"1h": "1h", "12h": "12h", "1d": "1D", "1w": "1W", "1M": "1M",
		},
	},
}

// LookupProfile returns the profile registered under name, case insensitively.
func LookupProfile(name string) (Profile, error) {
	profile, ok := profiles[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Profile{}, fmt.Errorf("unknown exchange %q (known: %s)", name, strings.Join(ProfileNames(), ", "))
	}
	return profile, nil
}

// ProfileNames returns the registered exchange names, sorted.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExchangeInterval returns the exchange's code for a catalog label. Labels the
// exchange does not list yield an UnknownIntervalError naming the exchange.
func (p Profile) ExchangeInterval(label string) (string, error) {
	code, ok := p.Intervals[label]
	if !ok {
		return "", &apperrors.UnknownIntervalError{Interval: label, Exchange: p.Name}
	}
	return code, nil
}

// SupportsInterval reports whether the exchange lists the catalog label.
func (p Profile) SupportsInterval(label string) bool {
	_, ok := p.Intervals[label]
	return ok
}

// SymbolPolicy maps a canonical pair onto the symbol an exchange lists it
// under. Only the quote asset is ever rewritten; the base asset is left alone.
type SymbolPolicy struct {
	QuoteRewrites map[string]string // canonical quote -> listed quote
}

// Apply returns the exchange symbol for a canonical "BASE/QUOTE" pair.
func (p SymbolPolicy) Apply(pair string) string {
	base, quote, ok := strings.Cut(pair, "/")
	if !ok {
		return pair
	}
	if listed, found := p.QuoteRewrites[quote]; found {
		quote = listed
	}
	return base + "/" + quote
}

// CanonicalPair normalizes user input such as "btc-usd" or " ETH/BTC " to the
// upper case "BASE/QUOTE" form used for storage keys.
func CanonicalPair(pair string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(pair))
	normalized = strings.ReplaceAll(normalized, "-", "/")

	base, quote, ok := strings.Cut(normalized, "/")
	if !ok || base == "" || quote == "" || strings.Contains(quote, "/") {
		return "", fmt.Errorf("invalid pair %q: expected BASE/QUOTE or BASE-QUOTE", pair)
	}
	return normalized, nil
}
