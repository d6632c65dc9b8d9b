package params

import "time"

// Service-wide defaults. Operators override these through the TOML
// configuration file or command line flags; the values here are the
// fallbacks applied when an option is left unset.
const (
	// DefaultServerPort is the port the HTTP listener binds when no
	// explicit port is configured.
	DefaultServerPort = 8085

	// DefaultJWTMaxLifetime bounds the exp-iat window of every signed
	// envelope, inbound and outbound. Tokens declaring a longer lifetime
	// are rejected outright.
	DefaultJWTMaxLifetime = 300 * time.Second

	// DefaultMonitorInterval is the reconciliation cadence for
	// non-terminal refill transactions.
	DefaultMonitorInterval = 30 * time.Second

	// DefaultPendingAlertThreshold is how long a transaction may dwell in
	// a non-terminal status before it is included in the per-cycle
	// operator alert.
	DefaultPendingAlertThreshold = 30 * time.Minute

	// DefaultMonitorConcurrency bounds how many provider lookups a single
	// reconciliation cycle runs in parallel.
	DefaultMonitorConcurrency = 4

	// DefaultProviderTimeout is the per-call deadline applied to custody
	// provider requests (balance reads, transfer creation, status reads).
	DefaultProviderTimeout = 30 * time.Second

	// DefaultAlertTimeout is the deadline for delivering one webhook
	// alert message.
	DefaultAlertTimeout = 10 * time.Second

	// DefaultHandlerDrainTimeout bounds how long shutdown waits for
	// in-flight HTTP handlers before closing the listener forcefully.
	DefaultHandlerDrainTimeout = 5 * time.Second
)

// NativeAssetSentinel marks an asset entry as the chain's native coin rather
// than a contract token. Contract address comparisons treat it specially.
const NativeAssetSentinel = "native"
