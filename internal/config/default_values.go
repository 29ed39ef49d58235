package config

const (
	DefaultBaseDir       = "~/.taskbot"
	DefaultStorageDriver = "sqlite"
	DefaultMongoDatabase = "taskbot"

	DefaultSchedulerFallbackMS = 60_000
	DefaultSchedulerFloorMS    = 1_000

	DefaultIdleTimeoutMS   = 30 * 60 * 1000
	DefaultSweepIntervalMS = 60 * 1000

	DefaultTransport     = TransportREPL
	DefaultConsoleUserID = "local"
	DefaultHTTPAddr      = "127.0.0.1:8080"

	DefaultDeliveryTimeoutMS          = 10_000
	DefaultBreakerMaxRequests         = 1
	DefaultBreakerOpenMS              = 30_000
	DefaultBreakerConsecutiveFailures = 5

	DefaultLogLevel      = "info"
	DefaultLogMaxSizeMB  = 20
	DefaultLogMaxBackups = 5
	DefaultLogMaxAgeDays = 28
)

// Transport kinds.
const (
	TransportREPL = "repl"
	TransportTUI  = "tui"
	TransportHTTP = "http"
)
