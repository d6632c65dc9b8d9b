package node

import (
	"time"

	"github.com/tos-network/refilld/params"
	"github.com/tos-network/refilld/provider/fireblocks"
	"github.com/tos-network/refilld/provider/liminal"
)

// ProviderConfigs names the custody backends the registry may build. A nil
// entry leaves that provider unregistered; assets routed to it are rejected
// at admission.
type ProviderConfigs struct {
	Liminal    *liminal.Config    `toml:",omitempty"`
	Fireblocks *fireblocks.Config `toml:",omitempty"`
}

// Config collects the daemon options. File keys bind case-insensitively, so
// the snake_case names operators write in TOML land on these fields.
type Config struct {
	// DataDir holds the catalog database. Empty keeps the catalog in
	// memory, for tests and local runs.
	DataDir string `toml:",omitempty"`

	// ServerHost and ServerPort form the HTTP bind address.
	ServerHost string `toml:",omitempty"`
	ServerPort int    `toml:",omitempty"`

	// HTTPCors is the list of allowed CORS origins; empty disables CORS
	// processing entirely.
	HTTPCors []string `toml:",omitempty"`

	// HTTPVirtualHosts is the list of hostnames the listener answers to.
	// Requests for other hosts are rejected to block DNS rebinding.
	HTTPVirtualHosts []string `toml:",omitempty"`

	// AuthEnabled toggles the signed envelope on every request and
	// response.
	AuthEnabled bool

	// AuthPublicKey is the PEM key verifying inbound tokens. Required
	// when AuthEnabled is set.
	AuthPublicKey string `toml:",omitempty"`

	// CallbackPrivateKey is the PEM key signing outbound responses.
	CallbackPrivateKey string `toml:",omitempty"`

	// JWTMaxLifetimeInSeconds caps the exp-iat window of every token.
	JWTMaxLifetimeInSeconds int `toml:",omitempty"`

	// CronEnabled starts the reconciliation monitor with the node.
	CronEnabled bool

	// CronIntervalInMS is the reconciliation cadence.
	CronIntervalInMS int `toml:",omitempty"`

	// PendingAlertThresholdInSeconds is the dwell time before a
	// non-terminal transaction joins the cycle alert.
	PendingAlertThresholdInSeconds int `toml:",omitempty"`

	// MonitorConcurrency bounds parallel provider polls per cycle.
	MonitorConcurrency int64 `toml:",omitempty"`

	// ProviderTimeoutInSeconds is the per-call custody provider deadline.
	ProviderTimeoutInSeconds int `toml:",omitempty"`

	// SlackWebhookURL receives the grouped pending alerts. Empty disables
	// alert delivery.
	SlackWebhookURL string `toml:",omitempty"`

	Providers ProviderConfigs `toml:",omitempty"`
}

// DefaultConfig carries the documented option defaults. Loaders unmarshal
// the config file over a copy of it.
var DefaultConfig = Config{
	ServerHost:                     "localhost",
	ServerPort:                     params.DefaultServerPort,
	HTTPVirtualHosts:               []string{"localhost"},
	AuthEnabled:                    true,
	JWTMaxLifetimeInSeconds:        int(params.DefaultJWTMaxLifetime / time.Second),
	CronEnabled:                    true,
	CronIntervalInMS:               int(params.DefaultMonitorInterval / time.Millisecond),
	PendingAlertThresholdInSeconds: int(params.DefaultPendingAlertThreshold / time.Second),
	MonitorConcurrency:             params.DefaultMonitorConcurrency,
	ProviderTimeoutInSeconds:       int(params.DefaultProviderTimeout / time.Second),
}

// sanitize fills invalid numeric options from the defaults.
func (c Config) sanitize() Config {
	if c.ServerPort < 0 || c.ServerPort > 65535 {
		c.ServerPort = DefaultConfig.ServerPort
	}
	if c.JWTMaxLifetimeInSeconds <= 0 {
		c.JWTMaxLifetimeInSeconds = DefaultConfig.JWTMaxLifetimeInSeconds
	}
	if c.CronIntervalInMS <= 0 {
		c.CronIntervalInMS = DefaultConfig.CronIntervalInMS
	}
	if c.PendingAlertThresholdInSeconds <= 0 {
		c.PendingAlertThresholdInSeconds = DefaultConfig.PendingAlertThresholdInSeconds
	}
	if c.MonitorConcurrency <= 0 {
		c.MonitorConcurrency = DefaultConfig.MonitorConcurrency
	}
	if c.ProviderTimeoutInSeconds <= 0 {
		c.ProviderTimeoutInSeconds = DefaultConfig.ProviderTimeoutInSeconds
	}
	return c
}

func (c *Config) jwtMaxLifetime() time.Duration {
	return time.Duration(c.JWTMaxLifetimeInSeconds) * time.Second
}

func (c *Config) cronInterval() time.Duration {
	return time.Duration(c.CronIntervalInMS) * time.Millisecond
}

func (c *Config) pendingAlertThreshold() time.Duration {
	return time.Duration(c.PendingAlertThresholdInSeconds) * time.Second
}

func (c *Config) providerTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutInSeconds) * time.Second
}
