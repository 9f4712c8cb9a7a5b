package exchange

import "fmt"

// clients maps profile names to adapter constructors. Profiles without an
// entry can size windows but cannot fetch.
var clients = map[string]func(Options) ExchangeAdapter{
	"binance": func(opts Options) ExchangeAdapter { return NewBinanceAdapter(opts) },
}

// HasClient reports whether the named exchange has a client implementation.
func HasClient(name string) bool {
	profile, err := LookupProfile(name)
	if err != nil {
		return false
	}
	_, ok := clients[profile.Name]
	return ok
}

// New constructs the adapter for the named exchange.
func New(name string, opts Options) (ExchangeAdapter, error) {
	profile, err := LookupProfile(name)
	if err != nil {
		return nil, err
	}

	newClient, ok := clients[profile.Name]
	if !ok {
		return nil, fmt.Errorf("exchange %s has no client implementation", profile.Name)
	}
	return newClient(opts), nil
}
