package config

// Asset classes understood by the trading calendar.
const (
	ClassCrypto = "CRYPTO"
	ClassForex  = "FOREX"
	ClassStock  = "STOCK"
)

// Feed provider names resolvable by the feed registry.
const (
	ProviderStatic = "static"
	ProviderReplay = "replay"
	ProviderHTTP   = "http"
)

// ValidClasses lists the accepted asset classes
var ValidClasses = map[string]bool{
	ClassCrypto: true,
	ClassForex:  true,
	ClassStock:  true,
}

// ValidProviders lists the accepted feed providers
var ValidProviders = map[string]bool{
	ProviderStatic: true,
	ProviderReplay: true,
	ProviderHTTP:   true,
}

// ValidReplayModes mirrors the replay index behavior
var ValidReplayModes = map[string]bool{
	"exhaust":  true,
	"rotation": true,
}

// MaxBps is 100% in basis points.
const MaxBps = 10000
