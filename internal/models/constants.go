package models

const (
	TaskKindIndex   = "index"
	TaskKindListing = "listing"
	TaskKindDetail  = "detail"
)

const (
	// DefaultMaxRetries attempts before a task is marked failed
	DefaultMaxRetries = 3

	// DefaultPollInterval seconds to wait while only delayed retries remain
	DefaultPollInterval = 2

	// DefaultFetchTimeout seconds per HTTP request
	DefaultFetchTimeout = 30

	// DefaultCacheTTL seconds a fetched page stays in the cache
	DefaultCacheTTL = 60 * 60

	// DefaultUserAgent sent with every fetch
	DefaultUserAgent = "scrapeq/1.0"
)
